package gateway

import (
	domainchat "chatgate/internal/domain/chat"
)

type joinRoomRequest struct {
	RoomID string `json:"roomID" validate:"required"`
}

type messagePayload struct {
	Sender      domainchat.MemberRef    `json:"sender" validate:"required"`
	Text        string                  `json:"text"`
	Attachments []domainchat.Attachment `json:"attachments,omitempty" validate:"omitempty,max=10,dive"`
}

func (m messagePayload) draft() domainchat.Draft {
	return domainchat.Draft{
		Sender: m.Sender,
		Body:   domainchat.Body{Text: m.Text, Attachments: m.Attachments},
	}
}

type sendRoomMessageRequest struct {
	ConversationID *string                `json:"conversationID,omitempty"`
	Members        []domainchat.MemberRef `json:"members,omitempty" validate:"omitempty,dive"`
	Message        messagePayload         `json:"message" validate:"required"`
}

type requestRoomMessageRequest struct {
	ID      string                 `json:"id"`
	Members []domainchat.MemberRef `json:"members,omitempty" validate:"omitempty,min=2,dive"`
}

type editMessageRequest struct {
	ConversationID string                  `json:"conversationID" validate:"required"`
	MessageID      string                  `json:"messageID" validate:"required"`
	Text           string                  `json:"text"`
	Attachments    []domainchat.Attachment `json:"attachments,omitempty" validate:"omitempty,max=10,dive"`
}

type deleteMessageRequest struct {
	ConversationID string `json:"conversationID" validate:"required"`
	MessageID      string `json:"messageID" validate:"required"`
}

type deleteConversationRequest struct {
	ID string `json:"id" validate:"required"`
}

type typingRequest struct {
	Sender         domainchat.MemberRef `json:"sender" validate:"required"`
	ConversationID string               `json:"conversationID,omitempty"`
	IsTyping       bool                 `json:"isTyping"`
}

type searchUserRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type requestNotificationRequest struct {
	ID    string                `json:"id" validate:"required"`
	Type  domainchat.MemberType `json:"type" validate:"required"`
	Limit int                   `json:"limit,omitempty" validate:"omitempty,min=1,max=200"`
}

type notificationIDRequest struct {
	ID string `json:"id" validate:"required"`
}
