package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "chatgate/internal/domain/chat"
	"chatgate/internal/domain/identity"
	"chatgate/internal/infra/storage/memory"
)

func local(id string) domainchat.MemberRef {
	return domainchat.MemberRef{ID: id, Type: domainchat.MemberTypeLocal}
}

func profile(id, name string) identity.Profile {
	return identity.Profile{ID: id, Type: domainchat.MemberTypeLocal, Name: name}
}

type countingDirectory struct {
	mu       sync.Mutex
	inner    identity.Directory
	requests [][]domainchat.MemberRef
	err      error
}

func (d *countingDirectory) Hydrate(ctx context.Context, refs []domainchat.MemberRef) ([]identity.Profile, error) {
	d.mu.Lock()
	d.requests = append(d.requests, append([]domainchat.MemberRef(nil), refs...))
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.inner.Hydrate(ctx, refs)
}

func (d *countingDirectory) SearchByName(ctx context.Context, fragment string) ([]identity.Profile, error) {
	return d.inner.SearchByName(ctx, fragment)
}

type dropCounter struct{ n int }

func (c *dropCounter) MembersDropped(n int) { c.n += n }

type fixture struct {
	svc     *Service
	repo    *memory.ConversationRepository
	dir     *countingDirectory
	outbox  *memory.Outbox
	dropped *dropCounter
}

func newFixture(profiles ...identity.Profile) *fixture {
	if len(profiles) == 0 {
		profiles = []identity.Profile{profile("u1", "Ann"), profile("u2", "Bob"), profile("u3", "Cid")}
	}
	repo := memory.NewConversationRepository()
	dir := &countingDirectory{inner: memory.NewDirectory(profiles...)}
	box := memory.NewOutbox(nil)
	dropped := &dropCounter{}
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	svc := &Service{
		Repo:      repo,
		Directory: dir,
		Outbox:    box,
		Metrics:   dropped,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
	return &fixture{svc: svc, repo: repo, dir: dir, outbox: box, dropped: dropped}
}

func draft(sender domainchat.MemberRef, text string) domainchat.Draft {
	return domainchat.Draft{Sender: sender, Body: domainchat.Body{Text: text}}
}

func TestSend_FirstMessageCreatesConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	target, err := domainchat.TargetFor(nil, []domainchat.MemberRef{local("u1"), local("u2")})
	require.NoError(t, err)
	view, err := f.svc.Send(ctx, target, draft(local("u1"), "hi"))
	require.NoError(t, err)

	assert.True(t, view.Created)
	assert.NotEmpty(t, view.ConversationID)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hi", view.Messages[0].Body.Text)
	require.NotNil(t, view.Messages[0].SenderProfile)
	assert.Equal(t, "Ann", view.Messages[0].SenderProfile.Name)
	assert.Len(t, view.Members, 2)

	names := []string{}
	for _, rec := range f.outbox.Pending() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{domainchat.EventConversationCreated, domainchat.EventMessageSent}, names)
}

func TestSend_SecondMessageSamePairAppends(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Send(ctx, domainchat.NewConversation{Members: []domainchat.MemberRef{local("u1"), local("u2")}}, draft(local("u1"), "hi"))
	require.NoError(t, err)

	id := first.ConversationID
	target, err := domainchat.TargetFor(&id, nil)
	require.NoError(t, err)
	second, err := f.svc.Send(ctx, target, draft(local("u2"), "hello"))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	require.Len(t, second.Messages, 2)
	assert.Equal(t, "hello", second.Messages[1].Body.Text)

	all, err := f.repo.FindMany(ctx, domainchat.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSendAsNewConversation_IsIdempotentPerMemberSet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	members := []domainchat.MemberRef{local("u1"), local("u2")}
	reversed := []domainchat.MemberRef{local("u2"), local("u1")}

	_, created, err := f.svc.SendAsNewConversation(ctx, members, draft(local("u1"), "one"))
	require.NoError(t, err)
	assert.True(t, created)

	view, created, err := f.svc.SendAsNewConversation(ctx, reversed, draft(local("u2"), "two"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, view.Messages, 2)

	conv, err := f.svc.FindByMembers(ctx, members)
	require.NoError(t, err)
	assert.Equal(t, view.ConversationID, conv.ID)
}

func TestSendAsNewConversation_ConcurrentCallsKeepOneConversation(t *testing.T) {
	f := newFixture()
	f.svc.NewID = nil
	f.svc.Now = nil
	ctx := context.Background()
	members := []domainchat.MemberRef{local("u1"), local("u2")}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.svc.SendAsNewConversation(ctx, members, draft(local("u1"), fmt.Sprintf("m%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := f.repo.FindMany(ctx, domainchat.Filter{Members: members, Size: 2})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Messages, 8)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u1")}, draft(local("u1"), "hi"))
	assert.ErrorIs(t, err, domainchat.ErrValidation, "deduped set is too small")

	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u3"), "hi"))
	assert.ErrorIs(t, err, domainchat.ErrValidation, "sender outside member set")

	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "  "))
	assert.ErrorIs(t, err, domainchat.ErrValidation, "empty body")

	_, err = f.svc.SendToExisting(ctx, "missing", draft(local("u1"), "hi"))
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestSendToExisting_AppendDurability(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	view, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "a"))
	require.NoError(t, err)

	before, err := f.svc.FetchOrderedMessages(ctx, view.ConversationID)
	require.NoError(t, err)

	_, err = f.svc.SendToExisting(ctx, view.ConversationID, draft(local("u2"), "b"))
	require.NoError(t, err)

	after, err := f.svc.FetchOrderedMessages(ctx, view.ConversationID)
	require.NoError(t, err)
	require.Len(t, after.Messages, len(before.Messages)+1)
	last := after.Messages[len(after.Messages)-1]
	assert.Equal(t, "b", last.Body.Text)
	assert.False(t, last.IsDeleted)
}

func TestSoftDeleteMessage_ExcludedFromLastMessageButKeptInHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	members := []domainchat.MemberRef{local("u1"), local("u2")}
	view, _, err := f.svc.SendAsNewConversation(ctx, members, draft(local("u1"), "m1"))
	require.NoError(t, err)
	view, err = f.svc.SendToExisting(ctx, view.ConversationID, draft(local("u2"), "m2"))
	require.NoError(t, err)
	m1, m2 := view.Messages[0].ID, view.Messages[1].ID

	_, err = f.svc.SoftDeleteMessage(ctx, view.ConversationID, m2)
	require.NoError(t, err)
	_, err = f.svc.SoftDeleteMessage(ctx, view.ConversationID, m2)
	require.NoError(t, err, "deleting twice is safe")

	fetched, err := f.svc.FetchOrderedMessages(ctx, view.ConversationID)
	require.NoError(t, err)
	require.Len(t, fetched.Messages, 2)
	assert.True(t, fetched.Messages[1].IsDeleted)
	assert.Empty(t, fetched.Messages[1].Body.Text)

	contacts, err := f.svc.BuildContactList(ctx, local("u1"))
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.NotNil(t, contacts[0].LastMessage)
	assert.Equal(t, m1, contacts[0].LastMessage.ID)

	_, err = f.svc.SoftDeleteMessage(ctx, view.ConversationID, m1)
	require.NoError(t, err)
	contacts, err = f.svc.BuildContactList(ctx, local("u1"))
	require.NoError(t, err)
	assert.Nil(t, contacts[0].LastMessage)
}

func TestEditMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	view, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "typo"))
	require.NoError(t, err)
	msgID := view.Messages[0].ID

	ref, err := f.svc.EditMessage(ctx, view.ConversationID, msgID, domainchat.Body{Text: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, msgID, ref.MessageID)

	fetched, err := f.svc.FetchOrderedMessages(ctx, view.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "fixed", fetched.Messages[0].Body.Text)

	_, err = f.svc.EditMessage(ctx, view.ConversationID, "missing", domainchat.Body{Text: "x"})
	assert.ErrorIs(t, err, domainchat.ErrNotFound)

	_, err = f.svc.SoftDeleteMessage(ctx, view.ConversationID, msgID)
	require.NoError(t, err)
	_, err = f.svc.EditMessage(ctx, view.ConversationID, msgID, domainchat.Body{Text: "again"})
	assert.ErrorIs(t, err, domainchat.ErrValidation)
}

func TestSoftDeleteConversation_HidesFromDiscovery(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	members := []domainchat.MemberRef{local("u1"), local("u2")}
	view, _, err := f.svc.SendAsNewConversation(ctx, members, draft(local("u1"), "hi"))
	require.NoError(t, err)

	_, err = f.svc.SoftDeleteConversation(ctx, view.ConversationID)
	require.NoError(t, err)

	_, err = f.svc.FindByID(ctx, view.ConversationID)
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
	_, err = f.svc.FindByMembers(ctx, members)
	assert.ErrorIs(t, err, domainchat.ErrNotFound)

	contacts, err := f.svc.BuildContactList(ctx, local("u1"))
	require.NoError(t, err)
	assert.Empty(t, contacts)

	stored, err := f.repo.FindOne(ctx, domainchat.Filter{ID: view.ConversationID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1, "messages are not cascaded")

	_, err = f.svc.SoftDeleteConversation(ctx, "missing")
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestFindByMembers_SurfacesConsistencyViolation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	now := time.Now()
	mk := func(id string) *domainchat.Conversation {
		c, err := domainchat.OpenConversation(domainchat.CreateParams{
			ID:      id,
			Members: []domainchat.MemberRef{local("u1"), local("u2")},
			First:   domainchat.NewMessage(id+"-m", draft(local("u1"), "x"), now),
			Now:     now,
		})
		require.NoError(t, err)
		return c
	}
	f.repo.Seed(mk("c1"), mk("c2"))

	_, err := f.svc.FindByMembers(ctx, []domainchat.MemberRef{local("u2"), local("u1")})
	assert.ErrorIs(t, err, domainchat.ErrConsistency)

	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "y"))
	assert.ErrorIs(t, err, domainchat.ErrConsistency)

	for _, id := range []string{"c1", "c2"} {
		c, err := f.repo.FindOne(ctx, domainchat.Filter{ID: id})
		require.NoError(t, err)
		assert.Len(t, c.Messages, 1, "nothing merged")
	}
}

func TestFindByMembers_IgnoresSupersets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2"), local("u3")}, draft(local("u1"), "group"))
	require.NoError(t, err)

	_, err = f.svc.FindByMembers(ctx, []domainchat.MemberRef{local("u1"), local("u2")})
	assert.ErrorIs(t, err, domainchat.ErrNotFound)
}

func TestBuildContactList_HydratesEachMemberOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, b, c := local("u1"), local("u2"), local("u3")
	_, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{a, b}, draft(a, "to b"))
	require.NoError(t, err)
	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{a, c}, draft(a, "to c"))
	require.NoError(t, err)
	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{b, c}, draft(b, "not mine"))
	require.NoError(t, err)

	f.dir.requests = nil
	entries, err := f.svc.BuildContactList(ctx, a)
	require.NoError(t, err)

	require.Len(t, f.dir.requests, 1, "one batched hydrate call")
	batch := f.dir.requests[0]
	assert.Len(t, batch, 3)
	for _, ref := range []domainchat.MemberRef{a, b, c} {
		n := 0
		for _, got := range batch {
			if domainchat.Equal(got, ref) {
				n++
			}
		}
		assert.Equal(t, 1, n, "member %s", ref)
	}

	require.Len(t, entries, 2)
	assert.Equal(t, []string{"Ann", "Bob"}, []string{entries[0].Members[0].Name, entries[0].Members[1].Name})
	assert.Equal(t, []string{"Ann", "Cid"}, []string{entries[1].Members[0].Name, entries[1].Members[1].Name})
	assert.Equal(t, "to c", entries[1].LastMessage.Body.Text)
}

func TestBuildContactList_DropsUnresolvedMembers(t *testing.T) {
	f := newFixture(profile("u1", "Ann"), profile("u2", "Bob"))
	ctx := context.Background()
	_, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("ghost")}, draft(local("u1"), "anyone?"))
	require.NoError(t, err)
	_, _, err = f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2"), local("ghost")}, draft(local("u2"), "group"))
	require.NoError(t, err)

	entries, err := f.svc.BuildContactList(ctx, local("u1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Len(t, entries[0].Members, 1)
	assert.Len(t, entries[1].Members, 2)
	assert.Equal(t, 1, f.dropped.n)
}

func TestBuildContactList_MemberTypeMatters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	external := domainchat.MemberRef{ID: "u1", Type: domainchat.MemberTypeExternal}
	_, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "hi"))
	require.NoError(t, err)

	entries, err := f.svc.BuildContactList(ctx, external)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDirectoryFailureIsUpstream(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	view, _, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "hi"))
	require.NoError(t, err)

	f.dir.err = errors.New("connection refused")
	_, err = f.svc.FetchOrderedMessages(ctx, view.ConversationID)
	assert.ErrorIs(t, err, domainchat.ErrUpstream)

	_, err = f.svc.BuildContactList(ctx, local("u1"))
	assert.ErrorIs(t, err, domainchat.ErrUpstream)
}

func TestFetchByMembers_WithoutConversation(t *testing.T) {
	f := newFixture()
	view, err := f.svc.FetchByMembers(context.Background(), []domainchat.MemberRef{local("u1"), local("u2")})
	require.NoError(t, err)
	assert.Empty(t, view.ConversationID)
	assert.Empty(t, view.Messages)
	assert.Len(t, view.Members, 2)
}

func TestSend_DirectoryFailureAfterWriteKeepsMessage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.dir.err = errors.New("connection refused")

	view, created, err := f.svc.SendAsNewConversation(ctx, []domainchat.MemberRef{local("u1"), local("u2")}, draft(local("u1"), "hi"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, view.Members)
	assert.Len(t, view.MemberRefs, 2)
	require.Len(t, view.Messages, 1)
	assert.Nil(t, view.Messages[0].SenderProfile)

	id := view.ConversationID
	next, err := f.svc.SendToExisting(ctx, id, draft(local("u2"), "hello"))
	require.NoError(t, err)
	assert.Len(t, next.Messages, 2)

	f.dir.err = nil
	all, err := f.repo.FindMany(ctx, domainchat.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Messages, 2)
}

func TestSend_UnresolvedMemberKeptInRefs(t *testing.T) {
	f := newFixture(profile("u1", "Ann"))
	view, _, err := f.svc.SendAsNewConversation(context.Background(), []domainchat.MemberRef{local("u1"), local("u9")}, draft(local("u1"), "hi"))
	require.NoError(t, err)
	assert.Len(t, view.Members, 1)
	assert.ElementsMatch(t, []domainchat.MemberRef{local("u1"), local("u9")}, view.MemberRefs)
}

func TestFetchByMembers_InvalidMemberSet(t *testing.T) {
	f := newFixture()
	_, err := f.svc.FetchByMembers(context.Background(), []domainchat.MemberRef{local("u1")})
	assert.ErrorIs(t, err, domainchat.ErrValidation)
	assert.Empty(t, f.dir.requests)
}
