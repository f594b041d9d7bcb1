package chat

import (
	"fmt"
	"sort"
	"strings"
)

// MemberType names the identity source a member id belongs to.
type MemberType string

const (
	MemberTypeLocal    MemberType = "local"
	MemberTypeExternal MemberType = "external"
)

// MemberRef identifies a participant. The id alone is not unique across
// identity sources, so equality always includes the type.
type MemberRef struct {
	ID   string     `json:"id" bson:"id" validate:"required"`
	Type MemberType `json:"type" bson:"type" validate:"required"`
}

// NormalizeID returns the canonical string form used for comparisons.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// Normalized returns a copy with id and type in canonical form.
func (m MemberRef) Normalized() MemberRef {
	return MemberRef{
		ID:   NormalizeID(m.ID),
		Type: MemberType(strings.TrimSpace(string(m.Type))),
	}
}

// Key is a stable map key for the member identity.
func (m MemberRef) Key() string {
	n := m.Normalized()
	return string(n.Type) + "\x00" + n.ID
}

func (m MemberRef) String() string {
	n := m.Normalized()
	return fmt.Sprintf("%s:%s", n.Type, n.ID)
}

// Validate checks that both parts of the identity are present.
func (m MemberRef) Validate() error {
	n := m.Normalized()
	if n.ID == "" {
		return fmt.Errorf("%w: member id is required", ErrValidation)
	}
	if n.Type == "" {
		return fmt.Errorf("%w: member type is required for %q", ErrValidation, n.ID)
	}
	return nil
}

// Equal reports whether a and b denote the same participant.
func Equal(a, b MemberRef) bool {
	an, bn := a.Normalized(), b.Normalized()
	return an.ID == bn.ID && an.Type == bn.Type
}

// Contains reports whether ref is part of set.
func Contains(set []MemberRef, ref MemberRef) bool {
	for _, m := range set {
		if Equal(m, ref) {
			return true
		}
	}
	return false
}

// SetEquals compares two member sets independent of order. Member sets are
// small, so the quadratic scan is fine.
func SetEquals(a, b []MemberRef) bool {
	if len(a) != len(b) {
		return false
	}
	for _, m := range a {
		if !Contains(b, m) {
			return false
		}
	}
	for _, m := range b {
		if !Contains(a, m) {
			return false
		}
	}
	return true
}

// Dedupe drops repeated identities, keeping the first occurrence.
func Dedupe(refs []MemberRef) []MemberRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]MemberRef, 0, len(refs))
	for _, ref := range refs {
		n := ref.Normalized()
		key := n.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}

// NormalizeMembers validates and dedupes a member set for a conversation.
func NormalizeMembers(refs []MemberRef) ([]MemberRef, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	members := Dedupe(refs)
	if len(members) < MinMembers {
		return nil, fmt.Errorf("%w: a conversation needs at least %d distinct members", ErrValidation, MinMembers)
	}
	return members, nil
}

// MinMembers is the smallest valid conversation member set.
const MinMembers = 2

// MemberSetKey is an order-independent fingerprint of a member set. Stores
// use it to enforce one live conversation per exact member set.
func MemberSetKey(refs []MemberRef) string {
	members := Dedupe(refs)
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, "\x01")
}
