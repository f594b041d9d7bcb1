package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatgate/internal/domain/chat"
)

var (
	ErrNotFound    = fmt.Errorf("notification: %w", chat.ErrNotFound)
	ErrIDRequired  = fmt.Errorf("notification: %w: id is required", chat.ErrValidation)
	ErrEmptyRecord = fmt.Errorf("notification: %w: title or body is required", chat.ErrValidation)
)

type Kind string

const (
	KindMessage Kind = "message"
	KindSystem  Kind = "system"
)

type Notification struct {
	ID        string         `json:"id"`
	Recipient chat.MemberRef `json:"recipient"`
	Kind      Kind           `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Meta      map[string]any `json:"meta,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Repository interface {
	Create(ctx context.Context, n Notification) error
	ListByRecipient(ctx context.Context, recipient chat.MemberRef, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id string) (Notification, error)
	Remove(ctx context.Context, id string) error
}

type CreateParams struct {
	ID        string
	Recipient chat.MemberRef
	Kind      Kind
	Title     string
	Body      string
	Meta      map[string]any
	CreatedAt time.Time
}

func New(params CreateParams) (Notification, error) {
	if strings.TrimSpace(params.ID) == "" {
		return Notification{}, ErrIDRequired
	}
	if err := params.Recipient.Validate(); err != nil {
		return Notification{}, err
	}
	title := strings.TrimSpace(params.Title)
	body := strings.TrimSpace(params.Body)
	if title == "" && body == "" {
		return Notification{}, ErrEmptyRecord
	}
	kind := params.Kind
	if kind == "" {
		kind = KindSystem
	}
	at := params.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Notification{
		ID:        params.ID,
		Recipient: params.Recipient.Normalized(),
		Kind:      kind,
		Title:     title,
		Body:      body,
		Meta:      params.Meta,
		CreatedAt: at.UTC(),
	}, nil
}

// DefaultLimit caps list queries when the caller passes no limit.
const DefaultLimit = 50

func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return DefaultLimit
	}
	return limit
}
