package chat

import (
	"fmt"
	"strings"
	"time"
)

// Attachment is a media item referenced from a message body.
type Attachment struct {
	URL         string `json:"url" bson:"url" validate:"required,url"`
	ContentType string `json:"contentType,omitempty" bson:"contentType,omitempty"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
}

// Body is the text and media payload of a message.
type Body struct {
	Text        string       `json:"text" bson:"text"`
	Attachments []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty" validate:"omitempty,dive"`
}

// Validate requires either text or at least one attachment.
func (b Body) Validate() error {
	if strings.TrimSpace(b.Text) == "" && len(b.Attachments) == 0 {
		return fmt.Errorf("%w: message body is empty", ErrValidation)
	}
	for _, a := range b.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: attachment url is required", ErrValidation)
		}
	}
	return nil
}

func (b Body) clone() Body {
	out := b
	out.Attachments = append([]Attachment(nil), b.Attachments...)
	return out
}

// Message is one entry of a conversation's append-only sequence.
type Message struct {
	ID        string    `json:"id"`
	Sender    MemberRef `json:"sender"`
	Body      Body      `json:"body"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Draft is an unsaved message as received from a client.
type Draft struct {
	Sender MemberRef
	Body   Body
}

// Validate runs the domain checks for a draft.
func (d Draft) Validate() error {
	if err := d.Sender.Validate(); err != nil {
		return err
	}
	return d.Body.Validate()
}

// NewMessage turns a draft into a message with the given id and timestamp.
func NewMessage(id string, draft Draft, now time.Time) Message {
	now = now.UTC()
	return Message{
		ID:        id,
		Sender:    draft.Sender.Normalized(),
		Body:      draft.Body.clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Conversation is a persisted thread among a fixed member set.
type Conversation struct {
	ID        string
	Name      string
	Members   []MemberRef
	Messages  []Message
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams describes a conversation opened by its first message.
type CreateParams struct {
	ID      string
	Name    string
	Members []MemberRef
	First   Message
	Now     time.Time
}

// OpenConversation builds a conversation holding a single message. The sender
// of the first message must be one of the members.
func OpenConversation(params CreateParams) (*Conversation, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	members, err := NormalizeMembers(params.Members)
	if err != nil {
		return nil, err
	}
	if !Contains(members, params.First.Sender) {
		return nil, fmt.Errorf("%w: sender %s is not a member", ErrValidation, params.First.Sender)
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Conversation{
		ID:        params.ID,
		Name:      strings.TrimSpace(params.Name),
		Members:   members,
		Messages:  []Message{params.First},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MessageByID returns the message with the given id.
func (c *Conversation) MessageByID(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// LastVisibleMessage returns the most recently appended message that is not
// soft-deleted, or nil.
func (c *Conversation) LastVisibleMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if !c.Messages[i].IsDeleted {
			m := c.Messages[i]
			return &m
		}
	}
	return nil
}

// Senders lists the distinct senders in message order.
func (c *Conversation) Senders() []MemberRef {
	refs := make([]MemberRef, 0, len(c.Messages))
	for _, m := range c.Messages {
		refs = append(refs, m.Sender)
	}
	return Dedupe(refs)
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Members = append([]MemberRef(nil), c.Members...)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Body = m.Body.clone()
		out.Messages[i] = m
	}
	return &out
}
