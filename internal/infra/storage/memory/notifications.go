package memory

import (
	"context"
	"sort"
	"sync"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/notification"
)

type NotificationRepository struct {
	mu    sync.RWMutex
	items map[string]notification.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[string]notification.Notification)}
}

func (r *NotificationRepository) Create(ctx context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[n.ID] = n
	return nil
}

// ListByRecipient returns the newest notifications first.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipient domainchat.MemberRef, limit int) ([]notification.Notification, error) {
	limit = notification.NormalizeLimit(limit)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []notification.Notification{}
	for _, n := range r.items {
		if domainchat.Equal(n.Recipient, recipient) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return notification.Notification{}, notification.ErrNotFound
	}
	n.Read = true
	r.items[id] = n
	return n, nil
}

func (r *NotificationRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return notification.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

var _ notification.Repository = (*NotificationRepository)(nil)
