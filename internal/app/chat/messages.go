package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
)

// Send routes draft by target. The returned view has Created set when a new
// conversation was stored.
func (s *Service) Send(ctx context.Context, target domainchat.SendTarget, draft domainchat.Draft) (ConversationView, error) {
	switch t := target.(type) {
	case domainchat.ExistingConversation:
		return s.SendToExisting(ctx, t.ConversationID, draft)
	case domainchat.NewConversation:
		view, created, err := s.SendAsNewConversation(ctx, t.Members, draft)
		view.Created = created
		return view, err
	default:
		return ConversationView{}, fmt.Errorf("%w: unknown send target %T", domainchat.ErrValidation, target)
	}
}

// SendToExisting appends draft to a live conversation.
func (s *Service) SendToExisting(ctx context.Context, conversationID string, draft domainchat.Draft) (ConversationView, error) {
	if err := draft.Validate(); err != nil {
		return ConversationView{}, err
	}
	conv, err := s.FindByID(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	return s.appendTo(ctx, conv, draft)
}

// SendAsNewConversation stores draft in the live conversation for members,
// creating it when none exists. The bool reports whether it was created.
func (s *Service) SendAsNewConversation(ctx context.Context, members []domainchat.MemberRef, draft domainchat.Draft) (ConversationView, bool, error) {
	if err := draft.Validate(); err != nil {
		return ConversationView{}, false, err
	}
	set, err := domainchat.NormalizeMembers(members)
	if err != nil {
		return ConversationView{}, false, err
	}
	if !domainchat.Contains(set, draft.Sender) {
		return ConversationView{}, false, fmt.Errorf("%w: sender %s is not a member", domainchat.ErrValidation, draft.Sender)
	}

	existing, err := s.FindByMembers(ctx, set)
	switch {
	case err == nil:
		view, err := s.appendTo(ctx, existing, draft)
		return view, false, err
	case !errors.Is(err, domainchat.ErrNotFound):
		return ConversationView{}, false, err
	}

	now := s.now()
	conv, err := domainchat.OpenConversation(domainchat.CreateParams{
		ID:      s.newID(),
		Members: set,
		First:   domainchat.NewMessage(s.newID(), draft, now),
		Now:     now,
	})
	if err != nil {
		return ConversationView{}, false, err
	}

	sctx, cancel := s.storeCtx(ctx)
	err = s.Repo.Insert(sctx, conv)
	cancel()
	if errors.Is(err, domainchat.ErrDuplicateMembers) {
		// lost a race with a concurrent create for the same members
		existing, ferr := s.FindByMembers(ctx, set)
		if ferr != nil {
			return ConversationView{}, false, ferr
		}
		view, err := s.appendTo(ctx, existing, draft)
		return view, false, err
	}
	if err != nil {
		return ConversationView{}, false, upstream("insert conversation", err)
	}

	s.record(ctx, domainchat.NewConversationCreated(conv), domainchat.NewMessageSent(conv.ID, conv.Messages[0]))
	s.logger().InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "members", len(conv.Members))

	view := s.viewCommitted(ctx, conv)
	view.Created = true
	return view, true, nil
}

func (s *Service) appendTo(ctx context.Context, conv *domainchat.Conversation, draft domainchat.Draft) (ConversationView, error) {
	if !domainchat.Contains(conv.Members, draft.Sender) {
		return ConversationView{}, fmt.Errorf("%w: sender %s is not a member of %s", domainchat.ErrValidation, draft.Sender, conv.ID)
	}
	msg := domainchat.NewMessage(s.newID(), draft, s.now())
	sctx, cancel := s.storeCtx(ctx)
	err := s.Repo.AppendMessage(sctx, conv.ID, msg)
	cancel()
	if err != nil {
		return ConversationView{}, upstream("append message", err)
	}
	s.record(ctx, domainchat.NewMessageSent(conv.ID, msg))
	s.logger().DebugContext(ctx, "message appended", "conversation_id", conv.ID, "message_id", msg.ID)

	stored, err := s.FindByID(ctx, conv.ID)
	if err != nil {
		s.logger().WarnContext(ctx, "reload after append", "conversation_id", conv.ID, "error", err)
		conv.Messages = append(conv.Messages, msg)
		conv.UpdatedAt = msg.CreatedAt
		stored = conv
	}
	return s.viewCommitted(ctx, stored), nil
}

// viewCommitted renders conv after a write has been stored. The write must
// not be reported as failed, so members the directory cannot resolve are
// dropped from the view instead.
func (s *Service) viewCommitted(ctx context.Context, conv *domainchat.Conversation) ConversationView {
	refs := append(append([]domainchat.MemberRef(nil), conv.Members...), conv.Senders()...)
	idx, err := s.hydrate(ctx, refs)
	if err != nil {
		s.logger().WarnContext(ctx, "hydrate after write", "conversation_id", conv.ID, "error", err)
		idx = identity.Index{}
	}
	return viewConversation(conv, idx)
}

// EditMessage replaces the body of a live message.
func (s *Service) EditMessage(ctx context.Context, conversationID, messageID string, body domainchat.Body) (MessageRef, error) {
	ref, err := messageRef(conversationID, messageID)
	if err != nil {
		return MessageRef{}, err
	}
	if err := body.Validate(); err != nil {
		return MessageRef{}, err
	}
	conv, err := s.FindByID(ctx, ref.ConversationID)
	if err != nil {
		return MessageRef{}, err
	}
	msg, ok := conv.MessageByID(ref.MessageID)
	if !ok {
		return MessageRef{}, fmt.Errorf("%w: message %s in conversation %s", domainchat.ErrNotFound, ref.MessageID, ref.ConversationID)
	}
	if msg.IsDeleted {
		return MessageRef{}, fmt.Errorf("%w: message %s is deleted", domainchat.ErrValidation, ref.MessageID)
	}
	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.Repo.UpdateMessageBody(sctx, ref.ConversationID, ref.MessageID, body, now); err != nil {
		return MessageRef{}, upstream("edit message", err)
	}
	s.record(ctx, domainchat.NewMessageEdited(ref.ConversationID, ref.MessageID, now))
	return ref, nil
}

// SoftDeleteMessage flags a message as deleted. Deleting twice succeeds.
func (s *Service) SoftDeleteMessage(ctx context.Context, conversationID, messageID string) (MessageRef, error) {
	ref, err := messageRef(conversationID, messageID)
	if err != nil {
		return MessageRef{}, err
	}
	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.Repo.MarkMessageDeleted(sctx, ref.ConversationID, ref.MessageID, now); err != nil {
		return MessageRef{}, upstream("delete message", err)
	}
	s.record(ctx, domainchat.NewMessageDeleted(ref.ConversationID, ref.MessageID, now))
	return ref, nil
}

// SoftDeleteConversation flags a conversation as deleted. Its messages are
// left untouched.
func (s *Service) SoftDeleteConversation(ctx context.Context, conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return "", fmt.Errorf("%w: conversation id is required", domainchat.ErrValidation)
	}
	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.Repo.MarkConversationDeleted(sctx, id, now); err != nil {
		return "", upstream("delete conversation", err)
	}
	s.record(ctx, domainchat.NewConversationDeleted(id, now))
	s.logger().InfoContext(ctx, "conversation deleted", "conversation_id", id)
	return id, nil
}

// FetchOrderedMessages renders the whole message sequence of a live
// conversation in insertion order, with members and senders hydrated in one
// directory call.
func (s *Service) FetchOrderedMessages(ctx context.Context, conversationID string) (ConversationView, error) {
	conv, err := s.FindByID(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	refs := append(append([]domainchat.MemberRef(nil), conv.Members...), conv.Senders()...)
	idx, err := s.hydrate(ctx, refs)
	if err != nil {
		return ConversationView{}, err
	}
	return viewConversation(conv, idx), nil
}

// FetchByMembers renders the live conversation for members. Without one the
// view carries only the hydrated members.
func (s *Service) FetchByMembers(ctx context.Context, members []domainchat.MemberRef) (ConversationView, error) {
	conv, err := s.FindByMembers(ctx, members)
	if err == nil {
		return s.FetchOrderedMessages(ctx, conv.ID)
	}
	if !errors.Is(err, domainchat.ErrNotFound) {
		return ConversationView{}, err
	}
	set, err := domainchat.NormalizeMembers(members)
	if err != nil {
		return ConversationView{}, err
	}
	idx, err := s.hydrate(ctx, set)
	if err != nil {
		return ConversationView{}, err
	}
	return ConversationView{Members: idx.Resolve(set), Messages: []MessageView{}}, nil
}

func messageRef(conversationID, messageID string) (MessageRef, error) {
	ref := MessageRef{
		ConversationID: strings.TrimSpace(conversationID),
		MessageID:      strings.TrimSpace(messageID),
	}
	if ref.ConversationID == "" || ref.MessageID == "" {
		return MessageRef{}, fmt.Errorf("%w: conversation id and message id are required", domainchat.ErrValidation)
	}
	return ref, nil
}
