package chat

import (
	"context"
	"fmt"
	"strings"

	domainchat "chatgate/internal/domain/chat"
)

// FindByMembers returns the single live conversation whose member set equals
// members. More than one match is reported as ErrConsistency and left as is.
func (s *Service) FindByMembers(ctx context.Context, members []domainchat.MemberRef) (*domainchat.Conversation, error) {
	set, err := domainchat.NormalizeMembers(members)
	if err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	candidates, err := s.Repo.FindMany(sctx, domainchat.Filter{Members: set, Size: len(set)})
	if err != nil {
		return nil, upstream("find conversations by members", err)
	}
	var matches []*domainchat.Conversation
	for _, c := range candidates {
		if !c.IsDeleted && domainchat.SetEquals(c.Members, set) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: no conversation for members %v", domainchat.ErrNotFound, set)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, c := range matches {
			ids[i] = c.ID
		}
		s.logger().ErrorContext(ctx, "duplicate live conversations for member set",
			"members", domainchat.MemberSetKey(set), "conversation_ids", ids)
		return nil, fmt.Errorf("%w: %d live conversations for members %v", domainchat.ErrConsistency, len(matches), set)
	}
}

// FindByID returns a live conversation.
func (s *Service) FindByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: conversation id is required", domainchat.ErrValidation)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	c, err := s.Repo.FindOne(sctx, domainchat.Filter{ID: id})
	if err != nil {
		return nil, upstream("find conversation", err)
	}
	return c, nil
}
