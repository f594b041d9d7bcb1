package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainchat "chatgate/internal/domain/chat"
)

// ConversationRepository keeps conversations in memory. Each mutation runs
// under the write lock, which gives the same all-or-nothing update the Mongo
// adapter gets from single-document writes.
type ConversationRepository struct {
	mu    sync.RWMutex
	order []string
	items map[string]*domainchat.Conversation
}

// NewConversationRepository builds an empty repository.
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{items: make(map[string]*domainchat.Conversation)}
}

// FindOne returns the first conversation matching filter in insertion order.
func (r *ConversationRepository) FindOne(ctx context.Context, filter domainchat.Filter) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if c := r.items[id]; filter.Match(c) {
			return c.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: conversation %q", domainchat.ErrNotFound, filter.ID)
}

func (r *ConversationRepository) FindMany(ctx context.Context, filter domainchat.Filter) ([]*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domainchat.Conversation
	for _, id := range r.order {
		if c := r.items[id]; filter.Match(c) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (r *ConversationRepository) Insert(ctx context.Context, conversation *domainchat.Conversation) error {
	if conversation == nil {
		return fmt.Errorf("%w: nil conversation", domainchat.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[conversation.ID]; ok {
		return fmt.Errorf("%w: conversation %s already stored", domainchat.ErrConsistency, conversation.ID)
	}
	key := domainchat.MemberSetKey(conversation.Members)
	for _, c := range r.items {
		if !c.IsDeleted && domainchat.MemberSetKey(c.Members) == key {
			return domainchat.ErrDuplicateMembers
		}
	}
	r.items[conversation.ID] = conversation.Clone()
	r.order = append(r.order, conversation.ID)
	return nil
}

// Seed stores conversations as given, skipping the member set check. Tests
// use it to reproduce legacy data.
func (r *ConversationRepository) Seed(conversations ...*domainchat.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conversations {
		if _, ok := r.items[c.ID]; !ok {
			r.order = append(r.order, c.ID)
		}
		r.items[c.ID] = c.Clone()
	}
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID string, message domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.live(conversationID)
	if err != nil {
		return err
	}
	c.Messages = append(c.Messages, message)
	c.UpdatedAt = message.CreatedAt
	return nil
}

func (r *ConversationRepository) UpdateMessageBody(ctx context.Context, conversationID, messageID string, body domainchat.Body, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.live(conversationID)
	if err != nil {
		return err
	}
	i, err := messageIndex(c, messageID)
	if err != nil {
		return err
	}
	if c.Messages[i].IsDeleted {
		return fmt.Errorf("%w: message %s", domainchat.ErrNotFound, messageID)
	}
	c.Messages[i].Body = domainchat.Body{
		Text:        body.Text,
		Attachments: append([]domainchat.Attachment(nil), body.Attachments...),
	}
	c.Messages[i].UpdatedAt = at.UTC()
	c.UpdatedAt = at.UTC()
	return nil
}

func (r *ConversationRepository) MarkMessageDeleted(ctx context.Context, conversationID, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.live(conversationID)
	if err != nil {
		return err
	}
	i, err := messageIndex(c, messageID)
	if err != nil {
		return err
	}
	if c.Messages[i].IsDeleted {
		return nil
	}
	c.Messages[i].IsDeleted = true
	c.Messages[i].UpdatedAt = at.UTC()
	c.UpdatedAt = at.UTC()
	return nil
}

func (r *ConversationRepository) MarkConversationDeleted(ctx context.Context, conversationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[conversationID]
	if !ok {
		return fmt.Errorf("%w: conversation %s", domainchat.ErrNotFound, conversationID)
	}
	if c.IsDeleted {
		return nil
	}
	c.IsDeleted = true
	c.UpdatedAt = at.UTC()
	return nil
}

func (r *ConversationRepository) live(id string) (*domainchat.Conversation, error) {
	c, ok := r.items[id]
	if !ok || c.IsDeleted {
		return nil, fmt.Errorf("%w: conversation %s", domainchat.ErrNotFound, id)
	}
	return c, nil
}

func messageIndex(c *domainchat.Conversation, messageID string) (int, error) {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: message %s in conversation %s", domainchat.ErrNotFound, messageID, c.ID)
}

var _ domainchat.Repository = (*ConversationRepository)(nil)
