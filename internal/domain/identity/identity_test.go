package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgate/internal/domain/chat"
)

func ref(id string, typ chat.MemberType) chat.MemberRef {
	return chat.MemberRef{ID: id, Type: typ}
}

func TestNewIndex_NormalizesProfileIDs(t *testing.T) {
	idx := NewIndex([]Profile{
		{ID: " u1 ", Type: chat.MemberTypeLocal, Name: "Ann"},
		{ID: "u1", Type: chat.MemberTypeExternal, Name: "Ann elsewhere"},
	})
	require.Len(t, idx, 2)

	p, ok := idx.Lookup(ref("u1", chat.MemberTypeLocal))
	require.True(t, ok)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "Ann", p.Name)

	p, ok = idx.Lookup(ref(" u1", " external "))
	require.True(t, ok)
	assert.Equal(t, "Ann elsewhere", p.Name)
}

func TestIndex_ResolveKeepsOrderAndDropsUnknown(t *testing.T) {
	idx := NewIndex([]Profile{
		{ID: "u1", Type: chat.MemberTypeLocal, Name: "Ann"},
		{ID: "u2", Type: chat.MemberTypeLocal, Name: "Bob"},
	})
	refs := []chat.MemberRef{
		ref("u2", chat.MemberTypeLocal),
		ref("u9", chat.MemberTypeLocal),
		ref("u1", chat.MemberTypeExternal),
		ref("u1", chat.MemberTypeLocal),
	}

	resolved := idx.Resolve(refs)
	require.Len(t, resolved, 2)
	assert.Equal(t, "Bob", resolved[0].Name)
	assert.Equal(t, "Ann", resolved[1].Name)

	assert.Equal(t, []chat.MemberRef{ref("u9", chat.MemberTypeLocal), ref("u1", chat.MemberTypeExternal)}, idx.Missing(refs))
}

func TestIndex_Empty(t *testing.T) {
	var idx Index
	_, ok := idx.Lookup(ref("u1", chat.MemberTypeLocal))
	assert.False(t, ok)
	assert.Empty(t, idx.Resolve([]chat.MemberRef{ref("u1", chat.MemberTypeLocal)}))
	assert.Len(t, idx.Missing([]chat.MemberRef{ref("u1", chat.MemberTypeLocal)}), 1)
	assert.Nil(t, Index{}.Missing(nil))
}

func TestProfile_Ref(t *testing.T) {
	p := Profile{ID: " u1 ", Type: chat.MemberTypeLocal, Name: "Ann"}
	assert.Equal(t, ref("u1", chat.MemberTypeLocal), p.Ref())
}
