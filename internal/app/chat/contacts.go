package chat

import (
	"context"

	domainchat "chatgate/internal/domain/chat"
)

// BuildContactList lists every live conversation of requester in fetch
// order. Members of all conversations are hydrated with a single directory
// call; members the directory cannot resolve are dropped and counted.
func (s *Service) BuildContactList(ctx context.Context, requester domainchat.MemberRef) ([]ContactListEntry, error) {
	if err := requester.Validate(); err != nil {
		return nil, err
	}
	requester = requester.Normalized()

	sctx, cancel := s.storeCtx(ctx)
	convs, err := s.Repo.FindMany(sctx, domainchat.Filter{Members: []domainchat.MemberRef{requester}})
	cancel()
	if err != nil {
		return nil, upstream("find contact conversations", err)
	}

	var all []domainchat.MemberRef
	for _, c := range convs {
		all = append(all, c.Members...)
	}
	unique := domainchat.Dedupe(all)

	idx, err := s.hydrate(ctx, unique)
	if err != nil {
		return nil, err
	}

	if missing := idx.Missing(unique); len(missing) > 0 {
		if s.Metrics != nil {
			s.Metrics.MembersDropped(len(missing))
		}
		keys := make([]string, len(missing))
		for i, m := range missing {
			keys[i] = m.String()
		}
		s.logger().WarnContext(ctx, "contact list members unresolved",
			"requester", requester.String(), "dropped", len(missing), "members", keys)
	}

	entries := make([]ContactListEntry, 0, len(convs))
	for _, c := range convs {
		if c.IsDeleted {
			continue
		}
		entries = append(entries, ContactListEntry{
			ConversationID: c.ID,
			Name:           c.Name,
			Members:        idx.Resolve(c.Members),
			LastMessage:    c.LastVisibleMessage(),
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.UpdatedAt,
		})
	}
	return entries, nil
}
