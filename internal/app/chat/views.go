package chat

import (
	"time"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
)

// MessageView is a message rendered for clients. Deleted messages keep their
// position and flag but carry no body.
type MessageView struct {
	ID            string               `json:"id"`
	Sender        domainchat.MemberRef `json:"sender"`
	SenderProfile *identity.Profile    `json:"senderProfile,omitempty"`
	Body          domainchat.Body      `json:"body"`
	IsDeleted     bool                 `json:"isDeleted"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// ConversationView is a conversation rendered for clients. Members holds the
// hydrated profiles; MemberRefs keeps every member, resolved or not.
type ConversationView struct {
	ConversationID string                 `json:"conversationId"`
	Name           string                 `json:"name"`
	Members        []identity.Profile     `json:"members"`
	MemberRefs     []domainchat.MemberRef `json:"-"`
	Messages       []MessageView          `json:"messages"`
	Created        bool                   `json:"created,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// ContactListEntry is one conversation of a participant's contact list.
type ContactListEntry struct {
	ConversationID string              `json:"conversationId"`
	Name           string              `json:"name"`
	Members        []identity.Profile  `json:"members"`
	LastMessage    *domainchat.Message `json:"lastMessage"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// MessageRef identifies the message touched by an edit or delete.
type MessageRef struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func viewMessage(m domainchat.Message, idx identity.Index) MessageView {
	view := MessageView{
		ID:        m.ID,
		Sender:    m.Sender,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if !m.IsDeleted {
		view.Body = m.Body
	}
	if p, ok := idx.Lookup(m.Sender); ok {
		view.SenderProfile = &p
	}
	return view
}

func viewConversation(c *domainchat.Conversation, idx identity.Index) ConversationView {
	messages := make([]MessageView, 0, len(c.Messages))
	for _, m := range c.Messages {
		messages = append(messages, viewMessage(m, idx))
	}
	return ConversationView{
		ConversationID: c.ID,
		Name:           c.Name,
		Members:        idx.Resolve(c.Members),
		MemberRefs:     append([]domainchat.MemberRef(nil), c.Members...),
		Messages:       messages,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
