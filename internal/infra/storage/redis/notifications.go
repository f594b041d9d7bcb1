package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/notification"
)

const itemsKey = "notif:items"

// NotificationRepository keeps notification bodies in one hash and a
// per-recipient sorted set scored by creation time.
type NotificationRepository struct {
	rdb redis.UniversalClient
}

func NewNotificationRepository(rdb redis.UniversalClient) *NotificationRepository {
	return &NotificationRepository{rdb: rdb}
}

// Open dials addr and pings it once.
func Open(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

func recipientKey(ref domainchat.MemberRef) string {
	ref = ref.Normalized()
	return fmt.Sprintf("notif:recipient:%s:%s", ref.Type, ref.ID)
}

func score(n notification.Notification) float64 {
	return float64(n.CreatedAt.UnixMilli())
}

func (r *NotificationRepository) Create(ctx context.Context, n notification.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, itemsKey, n.ID, raw)
	pipe.ZAdd(ctx, recipientKey(n.Recipient), redis.Z{Score: score(n), Member: n.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// ListByRecipient returns the newest notifications first. Index entries
// whose body is gone are pruned.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipient domainchat.MemberRef, limit int) ([]notification.Notification, error) {
	limit = notification.NormalizeLimit(limit)
	key := recipientKey(recipient)
	ids, err := r.rdb.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []notification.Notification{}, nil
	}
	vals, err := r.rdb.HMGet(ctx, itemsKey, ids...).Result()
	if err != nil {
		return nil, err
	}
	out, stale := decodeItems(ids, vals)
	if len(stale) > 0 {
		members := make([]any, len(stale))
		for i, id := range stale {
			members[i] = id
		}
		_ = r.rdb.ZRem(ctx, key, members...).Err()
	}
	return out, nil
}

func decodeItems(ids []string, vals []any) ([]notification.Notification, []string) {
	out := make([]notification.Notification, 0, len(vals))
	var stale []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var n notification.Notification
		if err := json.Unmarshal([]byte(s), &n); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, n)
	}
	return out, stale
}

func (r *NotificationRepository) get(ctx context.Context, id string) (notification.Notification, error) {
	raw, err := r.rdb.HGet(ctx, itemsKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return notification.Notification{}, notification.ErrNotFound
	}
	if err != nil {
		return notification.Notification{}, err
	}
	var n notification.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return notification.Notification{}, fmt.Errorf("redis: decode notification %s: %w", id, err)
	}
	return n, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (notification.Notification, error) {
	n, err := r.get(ctx, id)
	if err != nil {
		return notification.Notification{}, err
	}
	if n.Read {
		return n, nil
	}
	n.Read = true
	raw, err := json.Marshal(n)
	if err != nil {
		return notification.Notification{}, err
	}
	if err := r.rdb.HSet(ctx, itemsKey, id, raw).Err(); err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

func (r *NotificationRepository) Remove(ctx context.Context, id string) error {
	n, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, itemsKey, id)
	pipe.ZRem(ctx, recipientKey(n.Recipient), id)
	_, err = pipe.Exec(ctx)
	return err
}

var _ notification.Repository = (*NotificationRepository)(nil)
