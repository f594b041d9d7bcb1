package identity

import (
	"context"
	"errors"

	"chatgate/internal/domain/chat"
)

var ErrDirectoryUnavailable = errors.New("identity: directory unavailable")

// Profile is a hydrated member record from the identity service.
type Profile struct {
	ID     string          `json:"id"`
	Type   chat.MemberType `json:"type"`
	Name   string          `json:"name"`
	Avatar string          `json:"avatar,omitempty"`
	Email  string          `json:"email,omitempty"`
}

// Ref returns the member identity of the profile.
func (p Profile) Ref() chat.MemberRef {
	return chat.MemberRef{ID: p.ID, Type: p.Type}.Normalized()
}

// Directory resolves member identities to profiles. Hydrate is batched:
// callers pass every ref they need in one call. Refs the directory cannot
// resolve are simply absent from the result.
type Directory interface {
	Hydrate(ctx context.Context, refs []chat.MemberRef) ([]Profile, error)
	SearchByName(ctx context.Context, fragment string) ([]Profile, error)
}

// Index maps member keys to profiles.
type Index map[string]Profile

// NewIndex builds an Index from hydrated profiles.
func NewIndex(profiles []Profile) Index {
	idx := make(Index, len(profiles))
	for _, p := range profiles {
		p.ID = chat.NormalizeID(p.ID)
		idx[p.Ref().Key()] = p
	}
	return idx
}

// Lookup finds the profile for ref.
func (idx Index) Lookup(ref chat.MemberRef) (Profile, bool) {
	p, ok := idx[ref.Key()]
	return p, ok
}

// Resolve maps refs onto profiles in order, dropping unresolved refs.
func (idx Index) Resolve(refs []chat.MemberRef) []Profile {
	out := make([]Profile, 0, len(refs))
	for _, ref := range refs {
		if p, ok := idx.Lookup(ref); ok {
			out = append(out, p)
		}
	}
	return out
}

// Missing lists the refs that have no profile.
func (idx Index) Missing(refs []chat.MemberRef) []chat.MemberRef {
	var out []chat.MemberRef
	for _, ref := range refs {
		if _, ok := idx.Lookup(ref); !ok {
			out = append(out, ref)
		}
	}
	return out
}
