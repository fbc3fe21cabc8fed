package entity

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCompleteness(t *testing.T) {
	parent := IDKey("User", 1, nil)

	assert.True(t, parent.Complete())
	assert.True(t, NameKey("Post", "hello", parent).Complete())

	inc := IncompleteKey("Post", parent)
	assert.True(t, inc.Incomplete())
	assert.False(t, inc.Complete())

	// a complete leaf under an incomplete parent is still not complete
	assert.False(t, IDKey("Comment", 3, inc).Complete())
}

func TestKeyEqual(t *testing.T) {
	a := NameKey("Post", "x", IDKey("User", 1, nil))
	b := NameKey("Post", "x", IDKey("User", 1, nil))
	c := NameKey("Post", "x", IDKey("User", 2, nil))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(a.Parent()))
	assert.False(t, a.Equal(a.WithNamespace("other")))
	assert.True(t, (*Key)(nil).Equal(nil))
}

func TestKeyNamespaceInherited(t *testing.T) {
	root := IDKey("User", 1, nil).WithNamespace("tenant")
	child := IDKey("Post", 2, root)
	assert.Equal(t, "tenant", child.Namespace())
	assert.Equal(t, "tenant", child.Parent().Namespace())
}

func TestKeyOrderMatchesEncoding(t *testing.T) {
	root1 := IDKey("A", 1, nil)
	keys := []*Key{
		root1,
		IDKey("A", 2, nil),
		IDKey("A", -5, nil),
		NameKey("A", "a", nil),
		NameKey("A", "a\x00b", nil),
		NameKey("A", "ab", nil),
		IDKey("B", 1, nil),
		IDKey("C", 1, root1),
		NameKey("C", "z", root1),
		IncompleteKey("A", nil),
		IDKey("A", 1, nil).WithNamespace("ns"),
		NameKey("", "empty-kind", nil),
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		a := keys[r.Intn(len(keys))]
		b := keys[r.Intn(len(keys))]
		want := sign(Compare(a, b))
		got := sign(bytes.Compare(a.Encode(), b.Encode()))
		assert.Equalf(t, want, got, "Compare(%s, %s)", a, b)
	}
}

func TestKeyOrdering(t *testing.T) {
	parent := IDKey("A", 1, nil)
	sorted := []*Key{
		IDKey("A", -1, nil),
		parent,
		IDKey("B", 1, parent),
		NameKey("B", "x", parent),
		IDKey("A", 2, nil),
		NameKey("A", "a", nil),
	}
	shuffled := append([]*Key(nil), sorted...)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	sort.Slice(shuffled, func(i, j int) bool { return Compare(shuffled[i], shuffled[j]) < 0 })

	for i := range sorted {
		assert.Truef(t, sorted[i].Equal(shuffled[i]), "position %d: want %s got %s", i, sorted[i], shuffled[i])
	}
}

func TestKeyEncodeDecode(t *testing.T) {
	tests := []*Key{
		IDKey("User", 42, nil),
		NameKey("Post", "with/slash and \x00 zero", IDKey("User", 42, nil)),
		IncompleteKey("Post", IDKey("User", -3, nil)),
		NameKey("Doc", "x", nil).WithNamespace("tenant-1"),
	}
	for _, k := range tests {
		t.Run(k.String(), func(t *testing.T) {
			decoded, err := DecodeKey(k.Encode())
			require.NoError(t, err)
			assert.True(t, k.Equal(decoded))
		})
	}

	_, err := DecodeKey([]byte{'A', 0x00})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAncestorPrefix(t *testing.T) {
	parent := IDKey("User", 7, nil)
	child := NameKey("Post", "p", parent)
	other := IDKey("User", 8, nil)

	prefix := EncodePrefix("", parent)
	assert.True(t, bytes.HasPrefix(child.Encode(), prefix))
	assert.False(t, bytes.HasPrefix(other.Encode(), prefix))
	assert.True(t, child.HasAncestor(parent))
	assert.True(t, child.HasAncestor(child))
	assert.False(t, child.HasAncestor(other))

	end := PrefixEnd(prefix)
	assert.Less(t, bytes.Compare(child.Encode(), end), 0)
	assert.Nil(t, PrefixEnd([]byte{0xFF, 0xFF}))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want *Key
	}{
		{`User:12`, IDKey("User", 12, nil)},
		{`User:12/Post:"a/b"`, NameKey("Post", "a/b", IDKey("User", 12, nil))},
		{`User:12/Post`, IncompleteKey("Post", IDKey("User", 12, nil))},
		{`ns@User:"x"`, NameKey("User", "x", nil).WithNamespace("ns")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKey(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(k), "got %s", k)
			assert.Equal(t, tt.in, k.String())
		})
	}

	for _, bad := range []string{`User/Post:1`, `User:abc`, `:1`, `User:"x`} {
		_, err := ParseKey(bad)
		assert.ErrorIsf(t, err, ErrInvalidKey, "input %q", bad)
	}
}

func sign(c int) int {
	switch {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}
