package chat

import (
	"context"
	"time"
)

// Filter selects conversations. Zero values mean "no constraint", except
// that deleted conversations are skipped unless IncludeDeleted is set.
type Filter struct {
	ID             string
	Members        []MemberRef // every listed member must be present
	Size           int         // exact member count when > 0
	IncludeDeleted bool
}

// Match applies the filter to an in-memory conversation.
func (f Filter) Match(c *Conversation) bool {
	if c == nil {
		return false
	}
	if !f.IncludeDeleted && c.IsDeleted {
		return false
	}
	if f.ID != "" && c.ID != f.ID {
		return false
	}
	if f.Size > 0 && len(c.Members) != f.Size {
		return false
	}
	for _, m := range f.Members {
		if !Contains(c.Members, m) {
			return false
		}
	}
	return true
}

// Repository is the persistence contract for conversations. Every mutation
// is a single-document update that either lands entirely or not at all.
// Mutations only target non-deleted conversations and return ErrNotFound
// when nothing matched. Insert fails with ErrDuplicateMembers when a live
// conversation with the same member set is already stored.
type Repository interface {
	FindOne(ctx context.Context, filter Filter) (*Conversation, error)
	FindMany(ctx context.Context, filter Filter) ([]*Conversation, error)
	Insert(ctx context.Context, conversation *Conversation) error
	AppendMessage(ctx context.Context, conversationID string, message Message) error
	UpdateMessageBody(ctx context.Context, conversationID, messageID string, body Body, at time.Time) error
	MarkMessageDeleted(ctx context.Context, conversationID, messageID string, at time.Time) error
	MarkConversationDeleted(ctx context.Context, conversationID string, at time.Time) error
}
