package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
	"chatgate/internal/domain/notification"
)

// Service relays presence signals, notifications and user search. It holds
// no state of its own.
type Service struct {
	Notifications   notification.Repository
	Directory       identity.Directory
	Logger          *slog.Logger
	IdentityTimeout time.Duration
	Now             func() time.Time
	NewID           func() string
}

// TypingSignal tells other clients that Sender is typing.
type TypingSignal struct {
	Sender         domainchat.MemberRef `json:"sender"`
	ConversationID string               `json:"conversationId,omitempty"`
	IsTyping       bool                 `json:"isTyping"`
}

func (s *Service) Typing(ctx context.Context, signal TypingSignal) (TypingSignal, error) {
	if err := signal.Sender.Validate(); err != nil {
		return TypingSignal{}, err
	}
	signal.Sender = signal.Sender.Normalized()
	signal.ConversationID = strings.TrimSpace(signal.ConversationID)
	return signal, nil
}

func (s *Service) ListNotifications(ctx context.Context, recipient domainchat.MemberRef, limit int) ([]notification.Notification, error) {
	if err := recipient.Validate(); err != nil {
		return nil, err
	}
	items, err := s.notifications().ListByRecipient(ctx, recipient.Normalized(), limit)
	if err != nil {
		return nil, upstream("list notifications", err)
	}
	return items, nil
}

func (s *Service) MarkRead(ctx context.Context, id string) (notification.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return notification.Notification{}, notification.ErrIDRequired
	}
	n, err := s.notifications().MarkRead(ctx, id)
	if err != nil {
		return notification.Notification{}, upstream("mark notification read", err)
	}
	return n, nil
}

func (s *Service) Remove(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", notification.ErrIDRequired
	}
	if err := s.notifications().Remove(ctx, id); err != nil {
		return "", upstream("remove notification", err)
	}
	return id, nil
}

// SearchUsers looks up profiles whose name contains fragment.
func (s *Service) SearchUsers(ctx context.Context, fragment string) ([]identity.Profile, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, fmt.Errorf("%w: name is required", domainchat.ErrValidation)
	}
	if s.Directory == nil {
		return nil, fmt.Errorf("%w: identity directory not configured", domainchat.ErrUpstream)
	}
	ictx := ctx
	if s.IdentityTimeout > 0 {
		var cancel context.CancelFunc
		ictx, cancel = context.WithTimeout(ctx, s.IdentityTimeout)
		defer cancel()
	}
	profiles, err := s.Directory.SearchByName(ictx, fragment)
	if err != nil {
		return nil, upstream("search users", err)
	}
	if profiles == nil {
		profiles = []identity.Profile{}
	}
	return profiles, nil
}

const previewRunes = 80

// NotifyMessage creates a message notification for every member except the
// sender. Store failures are logged and skipped.
func (s *Service) NotifyMessage(ctx context.Context, conversationID string, members []domainchat.MemberRef, msg domainchat.Message) int {
	if s.Notifications == nil {
		return 0
	}
	created := 0
	for _, m := range domainchat.Dedupe(members) {
		if domainchat.Equal(m, msg.Sender) {
			continue
		}
		n, err := notification.New(notification.CreateParams{
			ID:        s.newID(),
			Recipient: m,
			Kind:      notification.KindMessage,
			Title:     "New message",
			Body:      preview(msg.Body),
			Meta: map[string]any{
				"conversationId": conversationID,
				"messageId":      msg.ID,
				"sender":         msg.Sender.String(),
			},
			CreatedAt: s.now(),
		})
		if err == nil {
			err = s.Notifications.Create(ctx, n)
		}
		if err != nil {
			s.logger().WarnContext(ctx, "create notification", "recipient", m.String(), "conversation_id", conversationID, "error", err)
			continue
		}
		created++
	}
	return created
}

func preview(b domainchat.Body) string {
	text := strings.TrimSpace(b.Text)
	if text == "" && len(b.Attachments) > 0 {
		return fmt.Sprintf("%d attachment(s)", len(b.Attachments))
	}
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "…"
}

func (s *Service) notifications() notification.Repository {
	if s.Notifications == nil {
		return unavailable{}
	}
	return s.Notifications
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func upstream(op string, err error) error {
	if errors.Is(err, domainchat.ErrValidation) || errors.Is(err, domainchat.ErrNotFound) || errors.Is(err, domainchat.ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domainchat.ErrUpstream, op, err)
}

var errNoStore = fmt.Errorf("%w: notification store not configured", domainchat.ErrUpstream)

type unavailable struct{}

func (unavailable) Create(context.Context, notification.Notification) error { return errNoStore }
func (unavailable) ListByRecipient(context.Context, domainchat.MemberRef, int) ([]notification.Notification, error) {
	return nil, errNoStore
}
func (unavailable) MarkRead(context.Context, string) (notification.Notification, error) {
	return notification.Notification{}, errNoStore
}
func (unavailable) Remove(context.Context, string) error { return errNoStore }
