package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainchat "chatgate/internal/domain/chat"
)

const (
	conversationsCollection = "conversations"
	memberKeyIndex          = "uniq_live_member_set"
)

// ConversationRepository stores each conversation, messages included, as a
// single document so every mutation is one atomic update.
type ConversationRepository struct {
	col *mongo.Collection
}

func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(conversationsCollection)}
}

// EnsureIndexes creates the lookup indexes and the partial unique index that
// allows one live conversation per member set.
func (r *ConversationRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_id")},
		{Keys: bson.D{{Key: "members.id", Value: 1}, {Key: "members.type", Value: 1}}, Options: options.Index().SetName("members")},
		{
			Keys: bson.D{{Key: "memberKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(memberKeyIndex).SetPartialFilterExpression(bson.M{
				"isDeleted": false,
				"memberKey": bson.M{"$exists": true},
			}),
		},
	}
	_, err := r.col.Indexes().CreateMany(ctx, models)
	return err
}

func (r *ConversationRepository) FindOne(ctx context.Context, filter domainchat.Filter) (*domainchat.Conversation, error) {
	var doc conversationDocument
	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	if err := r.col.FindOne(ctx, buildFilter(filter), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: conversation %q", domainchat.ErrNotFound, filter.ID)
		}
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ConversationRepository) FindMany(ctx context.Context, filter domainchat.Filter) ([]*domainchat.Conversation, error) {
	cur, err := r.col.Find(ctx, buildFilter(filter), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*domainchat.Conversation
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cur.Err()
}

func (r *ConversationRepository) Insert(ctx context.Context, conversation *domainchat.Conversation) error {
	if conversation == nil {
		return fmt.Errorf("%w: nil conversation", domainchat.ErrValidation)
	}
	_, err := r.col.InsertOne(ctx, newConversationDocument(conversation))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), memberKeyIndex) {
			return domainchat.ErrDuplicateMembers
		}
		return fmt.Errorf("%w: conversation %s already stored", domainchat.ErrConsistency, conversation.ID)
	}
	return err
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID string, message domainchat.Message) error {
	update := bson.M{
		"$push": bson.M{"messages": newMessageDocument(message)},
		"$set":  bson.M{"updatedAt": message.CreatedAt.UTC()},
	}
	res, err := r.col.UpdateOne(ctx, liveByID(conversationID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: conversation %s", domainchat.ErrNotFound, conversationID)
	}
	return nil
}

func (r *ConversationRepository) UpdateMessageBody(ctx context.Context, conversationID, messageID string, body domainchat.Body, at time.Time) error {
	filter := liveByID(conversationID)
	filter["messages"] = bson.M{"$elemMatch": bson.M{"id": messageID, "isDeleted": bson.M{"$ne": true}}}
	update := bson.M{"$set": bson.M{
		"messages.$.body":      body,
		"messages.$.updatedAt": at.UTC(),
		"updatedAt":            at.UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: message %s in conversation %s", domainchat.ErrNotFound, messageID, conversationID)
	}
	return nil
}

func (r *ConversationRepository) MarkMessageDeleted(ctx context.Context, conversationID, messageID string, at time.Time) error {
	filter := liveByID(conversationID)
	filter["messages.id"] = messageID
	update := bson.M{"$set": bson.M{
		"messages.$.isDeleted": true,
		"messages.$.updatedAt": at.UTC(),
		"updatedAt":            at.UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: message %s in conversation %s", domainchat.ErrNotFound, messageID, conversationID)
	}
	return nil
}

func (r *ConversationRepository) MarkConversationDeleted(ctx context.Context, conversationID string, at time.Time) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"id": conversationID}, bson.M{"$set": bson.M{
		"isDeleted": true,
		"updatedAt": at.UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: conversation %s", domainchat.ErrNotFound, conversationID)
	}
	return nil
}

func liveByID(id string) bson.M {
	return bson.M{"id": id, "isDeleted": bson.M{"$ne": true}}
}

// buildFilter translates a domain filter. Member ids are matched against
// every stored representation they may have.
func buildFilter(f domainchat.Filter) bson.M {
	filter := bson.M{}
	if !f.IncludeDeleted {
		filter["isDeleted"] = bson.M{"$ne": true}
	}
	if f.ID != "" {
		filter["id"] = f.ID
	}
	members := bson.M{}
	if f.Size > 0 {
		members["$size"] = f.Size
	}
	switch len(f.Members) {
	case 0:
	case 1:
		members["$elemMatch"] = memberMatch(f.Members[0])
	default:
		all := make(bson.A, len(f.Members))
		for i, m := range f.Members {
			all[i] = bson.M{"$elemMatch": memberMatch(m)}
		}
		members["$all"] = all
	}
	if len(members) > 0 {
		filter["members"] = members
	}
	return filter
}

func memberMatch(ref domainchat.MemberRef) bson.M {
	n := ref.Normalized()
	return bson.M{"id": bson.M{"$in": idCandidates(n.ID)}, "type": string(n.Type)}
}

func idCandidates(id string) bson.A {
	out := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		out = append(out, oid)
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		out = append(out, n)
	}
	return out
}

var _ domainchat.Repository = (*ConversationRepository)(nil)
