package chat

import (
	"time"

	"chatgate/internal/domain/shared/events"
)

const (
	EventConversationCreated = "conversation.created"
	EventConversationDeleted = "conversation.deleted"
	EventMessageSent         = "message.sent"
	EventMessageEdited       = "message.edited"
	EventMessageDeleted      = "message.deleted"
)

type ConversationCreated struct {
	events.BaseEvent
	Members []MemberRef `json:"members"`
}

type ConversationDeleted struct {
	events.BaseEvent
}

type MessageSent struct {
	events.BaseEvent
	MessageID string    `json:"messageId"`
	Sender    MemberRef `json:"sender"`
}

type MessageEdited struct {
	events.BaseEvent
	MessageID string `json:"messageId"`
}

type MessageDeleted struct {
	events.BaseEvent
	MessageID string `json:"messageId"`
}

func NewConversationCreated(c *Conversation) ConversationCreated {
	return ConversationCreated{
		BaseEvent: events.New(EventConversationCreated, c.ID, c.CreatedAt),
		Members:   append([]MemberRef(nil), c.Members...),
	}
}

func NewConversationDeleted(conversationID string, at time.Time) ConversationDeleted {
	return ConversationDeleted{BaseEvent: events.New(EventConversationDeleted, conversationID, at)}
}

func NewMessageSent(conversationID string, m Message) MessageSent {
	return MessageSent{
		BaseEvent: events.New(EventMessageSent, conversationID, m.CreatedAt),
		MessageID: m.ID,
		Sender:    m.Sender,
	}
}

func NewMessageEdited(conversationID, messageID string, at time.Time) MessageEdited {
	return MessageEdited{BaseEvent: events.New(EventMessageEdited, conversationID, at), MessageID: messageID}
}

func NewMessageDeleted(conversationID, messageID string, at time.Time) MessageDeleted {
	return MessageDeleted{BaseEvent: events.New(EventMessageDeleted, conversationID, at), MessageID: messageID}
}
