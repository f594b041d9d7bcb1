package mongo

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	domainchat "chatgate/internal/domain/chat"
)

// memberID accepts the id representations found in stored conversations
// (strings, ObjectIDs and numbers) and keeps the canonical string form.
type memberID string

func (m *memberID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	id, err := normalizeRawID(bson.RawValue{Type: t, Value: data})
	if err != nil {
		return err
	}
	*m = memberID(id)
	return nil
}

func normalizeRawID(raw bson.RawValue) (string, error) {
	switch raw.Type {
	case bson.TypeString:
		return domainchat.NormalizeID(raw.StringValue()), nil
	case bson.TypeObjectID:
		return raw.ObjectID().Hex(), nil
	case bson.TypeInt32:
		return strconv.FormatInt(int64(raw.Int32()), 10), nil
	case bson.TypeInt64:
		return strconv.FormatInt(raw.Int64(), 10), nil
	case bson.TypeDouble:
		f := raw.Double()
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case bson.TypeNull, bson.TypeUndefined:
		return "", nil
	default:
		return "", fmt.Errorf("mongo: unsupported member id type %s", raw.Type)
	}
}

type memberDocument struct {
	ID   memberID `bson:"id"`
	Type string   `bson:"type"`
}

func (d memberDocument) toDomain() domainchat.MemberRef {
	return domainchat.MemberRef{ID: string(d.ID), Type: domainchat.MemberType(d.Type)}.Normalized()
}

func newMemberDocument(ref domainchat.MemberRef) memberDocument {
	n := ref.Normalized()
	return memberDocument{ID: memberID(n.ID), Type: string(n.Type)}
}

type messageDocument struct {
	ID        string          `bson:"id"`
	Sender    memberDocument  `bson:"sender"`
	Body      domainchat.Body `bson:"body"`
	IsDeleted bool            `bson:"isDeleted"`
	CreatedAt time.Time       `bson:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

func newMessageDocument(m domainchat.Message) messageDocument {
	return messageDocument{
		ID:        m.ID,
		Sender:    newMemberDocument(m.Sender),
		Body:      m.Body,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func (d messageDocument) toDomain() domainchat.Message {
	return domainchat.Message{
		ID:        d.ID,
		Sender:    d.Sender.toDomain(),
		Body:      d.Body,
		IsDeleted: d.IsDeleted,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type conversationDocument struct {
	ID        string            `bson:"id"`
	Name      string            `bson:"name"`
	Members   []memberDocument  `bson:"members"`
	MemberKey string            `bson:"memberKey,omitempty"`
	Messages  []messageDocument `bson:"messages"`
	IsDeleted bool              `bson:"isDeleted"`
	CreatedAt time.Time         `bson:"createdAt"`
	UpdatedAt time.Time         `bson:"updatedAt"`
}

func newConversationDocument(c *domainchat.Conversation) conversationDocument {
	doc := conversationDocument{
		ID:        c.ID,
		Name:      c.Name,
		Members:   make([]memberDocument, len(c.Members)),
		MemberKey: domainchat.MemberSetKey(c.Members),
		Messages:  make([]messageDocument, len(c.Messages)),
		IsDeleted: c.IsDeleted,
		CreatedAt: c.CreatedAt.UTC(),
		UpdatedAt: c.UpdatedAt.UTC(),
	}
	for i, m := range c.Members {
		doc.Members[i] = newMemberDocument(m)
	}
	for i, m := range c.Messages {
		doc.Messages[i] = newMessageDocument(m)
	}
	return doc
}

func (d conversationDocument) toDomain() *domainchat.Conversation {
	c := &domainchat.Conversation{
		ID:        d.ID,
		Name:      d.Name,
		Members:   make([]domainchat.MemberRef, len(d.Members)),
		Messages:  make([]domainchat.Message, len(d.Messages)),
		IsDeleted: d.IsDeleted,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	for i, m := range d.Members {
		c.Members[i] = m.toDomain()
	}
	for i, m := range d.Messages {
		c.Messages[i] = m.toDomain()
	}
	return c
}
