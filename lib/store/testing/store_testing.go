package testing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory creates a new, empty store.
type StoreFactory func() store.IStore

// RunStoreTests runs the conformance suite of the store.IStore contract.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("PutIncompleteKey", func(t *testing.T) {
			testPutIncompleteKey(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("QueryKeyOrder", func(t *testing.T) {
			testQueryKeyOrder(t, factory())
		})

		t.Run("QueryAncestor", func(t *testing.T) {
			testQueryAncestor(t, factory())
		})

		t.Run("QueryFilterOrder", func(t *testing.T) {
			testQueryFilterOrder(t, factory())
		})

		t.Run("QueryOffsetLimit", func(t *testing.T) {
			testQueryOffsetLimit(t, factory())
		})

		t.Run("QueryProjection", func(t *testing.T) {
			testQueryProjection(t, factory())
		})

		t.Run("QueryCursor", func(t *testing.T) {
			testQueryCursor(t, factory())
		})

		t.Run("Namespaces", func(t *testing.T) {
			testNamespaces(t, factory())
		})

		t.Run("Exhausted", func(t *testing.T) {
			testExhausted(t, factory())
		})

		t.Run("AllocateIDs", func(t *testing.T) {
			testAllocateIDs(t, factory())
		})

		t.Run("Info", func(t *testing.T) {
			testInfo(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func seed(t testing.TB, s store.IStore, entities ...*entity.Entity) {
	t.Helper()
	_, err := s.Put(context.Background(), nil, entities)
	require.NoError(t, err)
}

func run(t testing.TB, s store.IStore, q query.Query) []*entity.Entity {
	t.Helper()
	it, err := s.Run(context.Background(), nil, q)
	require.NoError(t, err)
	items, err := query.Drain(context.Background(), it)
	require.NoError(t, err)
	return items
}

func keyStrings(items []*entity.Entity) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Key.String()
	}
	return out
}

func numbered(kind string, n int, parent *entity.Key) []*entity.Entity {
	out := make([]*entity.Entity, n)
	for i := range out {
		out[i] = entity.MustNew(entity.IDKey(kind, int64(i+1), parent), map[string]any{
			"n":    i + 1,
			"even": (i+1)%2 == 0,
		})
	}
	return out
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	a := entity.MustNew(entity.NameKey("User", "alice", nil), map[string]any{"age": 31})
	b := entity.MustNew(entity.IDKey("User", 7, nil), map[string]any{"age": 40, "name": "bob"})

	keys, err := s.Put(ctx, nil, []*entity.Entity{a, b})
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.True(t, keys[0].Equal(a.Key))
	assert.True(t, keys[1].Equal(b.Key))

	missing := entity.NameKey("User", "nobody", nil)
	got, err := s.Get(ctx, nil, []*entity.Key{a.Key, b.Key, missing})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, a.Equal(got[a.Key.MapKey()]), "got %s", got[a.Key.MapKey()])
	assert.True(t, b.Equal(got[b.Key.MapKey()]))
	assert.NotContains(t, got, missing.MapKey())

	// overwrite
	a2 := entity.MustNew(a.Key, map[string]any{"age": 32})
	seed(t, s, a2)
	got, err = s.Get(ctx, nil, []*entity.Key{a.Key})
	require.NoError(t, err)
	assert.Equal(t, int64(32), got[a.Key.MapKey()].Properties["age"])

	got, err = s.Get(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// Plain stores reject incomplete keys, layering stores may complete them.
func testPutIncompleteKey(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	e := entity.MustNew(entity.IncompleteKey("Note", nil), map[string]any{"text": "hi"})
	keys, err := s.Put(ctx, nil, []*entity.Entity{e})
	if err != nil {
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
		return
	}
	require.Len(t, keys, 1)
	require.True(t, keys[0].Complete())
	got, err := s.Get(ctx, nil, keys)
	require.NoError(t, err)
	assert.Contains(t, got, keys[0].MapKey())
}

func testDelete(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	items := numbered("Item", 3, nil)
	seed(t, s, items...)

	require.NoError(t, s.Delete(ctx, nil, []*entity.Key{items[1].Key, entity.IDKey("Item", 99, nil)}))

	got, err := s.Get(ctx, nil, []*entity.Key{items[0].Key, items[1].Key, items[2].Key})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NotContains(t, got, items[1].Key.MapKey())

	assert.Equal(t, []string{"Item:1", "Item:3"}, keyStrings(run(t, s, query.New("Item"))))
}

func testQueryKeyOrder(t *testing.T, s store.IStore) {
	defer s.Close()

	seed(t, s,
		entity.MustNew(entity.NameKey("K", "b", nil), nil),
		entity.MustNew(entity.IDKey("K", 10, nil), nil),
		entity.MustNew(entity.NameKey("K", "a", nil), nil),
		entity.MustNew(entity.IDKey("K", 2, nil), nil),
		entity.MustNew(entity.IDKey("Other", 1, nil), nil),
	)

	assert.Equal(t, []string{`K:2`, `K:10`, `K:"a"`, `K:"b"`}, keyStrings(run(t, s, query.New("K"))))
	assert.Equal(t, []string{`K:"b"`, `K:"a"`, `K:10`, `K:2`}, keyStrings(run(t, s, query.New("K").OrderDesc(entity.KeyProperty))))
	assert.Len(t, run(t, s, query.New("")), 5)
}

func testQueryAncestor(t *testing.T, s store.IStore) {
	defer s.Close()

	u1 := entity.IDKey("User", 1, nil)
	u2 := entity.IDKey("User", 2, nil)
	seed(t, s, entity.MustNew(u1, nil), entity.MustNew(u2, nil))
	seed(t, s, numbered("Post", 3, u1)...)
	seed(t, s, numbered("Post", 2, u2)...)

	assert.Equal(t, []string{"User:1/Post:1", "User:1/Post:2", "User:1/Post:3"},
		keyStrings(run(t, s, query.New("Post").WithAncestor(u1))))
	assert.Len(t, run(t, s, query.New("Post")), 5)

	// kindless ancestor queries include the ancestor itself
	assert.Equal(t, []string{"User:2", "User:2/Post:1", "User:2/Post:2"},
		keyStrings(run(t, s, query.New("").WithAncestor(u2))))
}

func testQueryFilterOrder(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	seed(t, s, numbered("Item", 10, nil)...)

	q := query.New("Item").Filter("even", query.OpEqual, true).OrderDesc("n")
	assert.Equal(t, []string{"Item:10", "Item:8", "Item:6", "Item:4", "Item:2"}, keyStrings(run(t, s, q)))

	q = query.New("Item").Filter("n", query.OpGreater, 3).Filter("n", query.OpLessEqual, 5)
	assert.Equal(t, []string{"Item:4", "Item:5"}, keyStrings(run(t, s, q)))

	n, err := s.Count(ctx, nil, query.New("Item").Filter("even", query.OpEqual, false))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func testQueryOffsetLimit(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	seed(t, s, numbered("Item", 10, nil)...)

	tests := []struct {
		offset, limit int
		want          int
	}{
		{0, -1, 10},
		{3, -1, 7},
		{3, 4, 4},
		{8, 5, 2},
		{12, 5, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("offset=%d,limit=%d", tt.offset, tt.limit), func(t *testing.T) {
			q := query.New("Item").OrderDesc("n").WithOffset(tt.offset).WithLimit(tt.limit)
			items := run(t, s, q)
			require.Len(t, items, tt.want)
			if tt.want > 0 {
				assert.Equal(t, int64(10-tt.offset), items[0].Properties["n"])
			}

			n, err := s.Count(ctx, nil, q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func testQueryProjection(t *testing.T, s store.IStore) {
	defer s.Close()

	seed(t, s, numbered("Item", 2, nil)...)

	for _, e := range run(t, s, query.New("Item").KeysOnlyQuery()) {
		assert.Empty(t, e.Properties)
	}
	for _, e := range run(t, s, query.New("Item").Project("n")) {
		assert.Len(t, e.Properties, 1)
		assert.Contains(t, e.Properties, "n")
	}
}

func testQueryCursor(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	seed(t, s, numbered("Item", 5, nil)...)

	it, err := s.Run(ctx, nil, query.New("Item").WithOffset(1))
	require.NoError(t, err)
	first, err := query.NextList(ctx, it, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	cursor, err := it.Cursor()
	require.NoError(t, it.Close())
	if errors.Is(err, store.ErrUnsupportedOperation) {
		t.Skip("store does not support cursors")
	}
	require.NoError(t, err)

	rest := run(t, s, query.New("Item").WithStart(cursor))
	assert.Equal(t, []string{"Item:4", "Item:5"}, keyStrings(rest))
}

func testNamespaces(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	plain := entity.IDKey("Doc", 1, nil)
	scoped := plain.WithNamespace("tenant")
	seed(t, s,
		entity.MustNew(plain, map[string]any{"ns": ""}),
		entity.MustNew(scoped, map[string]any{"ns": "tenant"}),
	)

	got, err := s.Get(ctx, nil, []*entity.Key{scoped})
	require.NoError(t, err)
	assert.Equal(t, "tenant", got[scoped.MapKey()].Properties["ns"])

	items := run(t, s, query.New("Doc").InNamespace("tenant"))
	require.Len(t, items, 1)
	assert.Equal(t, "tenant", items[0].Key.Namespace())
	assert.Len(t, run(t, s, query.New("Doc")), 1)
}

func testExhausted(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	seed(t, s, numbered("Item", 1, nil)...)

	it, err := s.Run(ctx, nil, query.New("Item"))
	require.NoError(t, err)
	defer it.Close()

	items, err := query.NextList(ctx, it, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	ok, err := it.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, query.ErrNoSuchElement)
}

func testAllocateIDs(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	parent := entity.IDKey("User", 1, nil)

	r1, err := s.AllocateIDs(ctx, parent, "Post", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, r1.Count)
	assert.Positive(t, r1.Start)

	r2, err := s.AllocateIDs(ctx, parent, "Post", 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r2.Start, r1.Start+int64(r1.Count), "ranges must not overlap")

	other, err := s.AllocateIDs(ctx, nil, "Post", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, other.Count)

	_, err = s.AllocateIDs(ctx, nil, "", 1)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func testInfo(t *testing.T, s store.IStore) {
	defer s.Close()

	seed(t, s, numbered("Item", 3, nil)...)
	_, err := s.GetDBInfo()
	assert.NoError(t, err)
}
