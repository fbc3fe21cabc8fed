package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator hands out ranges from per-kind counters and records every call.
type countingAllocator struct {
	mu    sync.Mutex
	next  map[string]int64
	calls []allocCall
	short bool  // return one id less than requested
	err   error // fail every call
}

type allocCall struct {
	parent string
	kind   string
	n      int
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{next: map[string]int64{}}
}

func (a *countingAllocator) AllocateIDs(_ context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := ""
	if parent != nil {
		p = parent.String()
	}
	a.calls = append(a.calls, allocCall{parent: p, kind: kind, n: n})
	if a.err != nil {
		return entity.IDRange{}, a.err
	}
	if a.short {
		n--
	}
	start := a.next[kind] + 1
	a.next[kind] += int64(n)
	return entity.IDRange{Start: start, Count: n}, nil
}

func TestGroupByParentKind(t *testing.T) {
	u1 := entity.IDKey("User", 1, nil)
	u2 := entity.IDKey("User", 2, nil)
	entities := []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("Post", u1), nil),
		entity.MustNew(entity.IDKey("Post", 5, u1), nil), // complete, ignored
		entity.MustNew(entity.IncompleteKey("Post", u2), nil),
		entity.MustNew(entity.IncompleteKey("Post", u1), nil),
		entity.MustNew(entity.IncompleteKey("User", nil), nil),
	}

	b, err := groupByParentKind(entities)
	require.NoError(t, err)
	require.Len(t, b.order, 3)
	assert.Equal(t, group{parent: u1.MapKey(), kind: "Post"}, b.order[0])
	assert.Equal(t, group{parent: u2.MapKey(), kind: "Post"}, b.order[1])
	assert.Equal(t, group{kind: "User"}, b.order[2])
	assert.Equal(t, 2, b.counts[b.order[0]])
	assert.Equal(t, 1, b.counts[b.order[1]])
	assert.True(t, u1.Equal(b.parents[b.order[0]]))
	assert.Nil(t, b.parents[b.order[2]])
}

func TestGroupByParentKindRejects(t *testing.T) {
	_, err := groupByParentKind([]*entity.Entity{
		entity.MustNew(entity.IncompleteKey("", nil), nil),
	})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = groupByParentKind([]*entity.Entity{
		entity.MustNew(entity.IncompleteKey("Post", entity.IncompleteKey("User", nil)), nil),
	})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestCompleteKeysSameGroup(t *testing.T) {
	ctx := context.Background()
	a := newCountingAllocator()
	parent := entity.IDKey("P", 1, nil)

	entities := []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("B", parent), map[string]any{"i": 0}),
		entity.MustNew(entity.IncompleteKey("B", parent), map[string]any{"i": 1}),
	}
	out, err := completeKeys(ctx, a, entities, 0)
	require.NoError(t, err)

	require.Len(t, a.calls, 1, "one allocation per group")
	assert.Equal(t, allocCall{parent: parent.String(), kind: "B", n: 2}, a.calls[0])

	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].Key.ID())
	assert.Equal(t, int64(2), out[1].Key.ID())
	for i, e := range out {
		assert.True(t, parent.Equal(e.Key.Parent()))
		assert.Equal(t, int64(i), e.Properties["i"])
	}

	// inputs are not modified
	assert.True(t, entities[0].Key.Incomplete())
}

func TestCompleteKeysInputOrder(t *testing.T) {
	ctx := context.Background()
	a := newCountingAllocator()

	fixed := entity.MustNew(entity.NameKey("A", "fixed", nil), nil)
	entities := []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("A", nil), nil),
		fixed,
		entity.MustNew(entity.IncompleteKey("C", nil), nil),
		entity.MustNew(entity.IncompleteKey("A", nil), nil),
		entity.MustNew(entity.IncompleteKey("A", nil).WithNamespace("ns"), nil),
	}
	out, err := completeKeys(ctx, a, entities, 2)
	require.NoError(t, err)

	assert.Same(t, fixed, out[1])
	assert.Equal(t, "A:1", out[0].Key.String())
	assert.Equal(t, "C:1", out[2].Key.String())
	assert.Equal(t, "A:2", out[3].Key.String())
	// root keys keep their namespace
	assert.Equal(t, "ns", out[4].Key.Namespace())
	assert.Equal(t, int64(3), out[4].Key.ID())
}

func TestCompleteKeysNothingToDo(t *testing.T) {
	a := newCountingAllocator()
	entities := []*entity.Entity{entity.MustNew(entity.IDKey("A", 1, nil), nil)}
	out, err := completeKeys(context.Background(), a, entities, 0)
	require.NoError(t, err)
	assert.Equal(t, entities, out)
	assert.Empty(t, a.calls)
}

func TestAllocationMismatch(t *testing.T) {
	ctx := context.Background()
	entities := []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("A", nil), nil),
		entity.MustNew(entity.IncompleteKey("A", nil), nil),
	}

	t.Run("ShortRange", func(t *testing.T) {
		a := newCountingAllocator()
		a.short = true
		_, err := completeKeys(ctx, a, entities, 0)
		assert.ErrorIs(t, err, store.ErrAllocationMismatch)
	})

	t.Run("Shortfall", func(t *testing.T) {
		_, err := complete(entities, map[group][]int64{{kind: "A"}: {1}})
		assert.ErrorIs(t, err, store.ErrAllocationMismatch)
	})

	t.Run("Leftover", func(t *testing.T) {
		_, err := complete(entities, map[group][]int64{{kind: "A"}: {1, 2, 3}})
		assert.ErrorIs(t, err, store.ErrAllocationMismatch)
	})

	t.Run("UnusedGroup", func(t *testing.T) {
		_, err := complete(entities, map[group][]int64{{kind: "A"}: {1, 2}, {kind: "Z"}: {1}})
		assert.ErrorIs(t, err, store.ErrAllocationMismatch)
	})
}

func TestAllocateErrorPassesThrough(t *testing.T) {
	boom := errors.New("base unreachable")
	a := newCountingAllocator()
	a.err = boom

	_, err := completeKeys(context.Background(), a, []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("A", nil), nil),
	}, 0)
	assert.ErrorIs(t, err, boom)
}

func TestAllocateConcurrentGroups(t *testing.T) {
	a := newCountingAllocator()
	var entities []*entity.Entity
	for p := int64(1); p <= 20; p++ {
		parent := entity.IDKey("P", p, nil)
		for i := 0; i < 3; i++ {
			entities = append(entities, entity.MustNew(entity.IncompleteKey("K", parent), nil))
		}
	}

	out, err := completeKeys(context.Background(), a, entities, 4)
	require.NoError(t, err)
	assert.Len(t, a.calls, 20)

	// ids of one group are consecutive in input order, whatever order the
	// requests completed in
	for i := 0; i < len(out); i += 3 {
		first := out[i].Key.ID()
		assert.Equal(t, first+1, out[i+1].Key.ID())
		assert.Equal(t, first+2, out[i+2].Key.ID())
	}
	seen := map[int64]bool{}
	for _, e := range out {
		assert.False(t, seen[e.Key.ID()])
		seen[e.Key.ID()] = true
	}
}
