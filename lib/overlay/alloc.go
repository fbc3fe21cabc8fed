package overlay

import (
	"context"
	"sync"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/store"
	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------
// Identifier Allocation Batcher
// --------------------------------------------------------------------------

// group identifies the id space of an incomplete key: its parent and kind.
type group struct {
	parent string // MapKey of the parent, empty for root keys
	kind   string
}

func groupOf(k *entity.Key) group {
	var parent string
	if p := k.Parent(); p != nil {
		parent = p.MapKey()
	}
	return group{parent: parent, kind: k.Kind()}
}

// allocBatch holds the number of ids every group needs.
type allocBatch struct {
	order   []group // first-seen order
	counts  map[group]int
	parents map[group]*entity.Key
}

// idAllocator is the part of a store the batcher needs.
type idAllocator interface {
	AllocateIDs(ctx context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error)
}

// groupByParentKind counts the ids needed per (parent, kind) group.
// Entities with complete keys are ignored.
func groupByParentKind(entities []*entity.Entity) (*allocBatch, error) {
	b := &allocBatch{
		counts:  make(map[group]int),
		parents: make(map[group]*entity.Key),
	}
	for _, e := range entities {
		if !e.Key.Incomplete() {
			continue
		}
		if e.Key.Kind() == "" {
			return nil, store.NewError(store.RetCInvalidArgument, "incomplete key without kind")
		}
		if p := e.Key.Parent(); p != nil && !p.Complete() {
			return nil, store.Errorf(store.RetCInvalidArgument, "parent of %s is incomplete", e.Key)
		}
		g := groupOf(e.Key)
		if _, seen := b.counts[g]; !seen {
			b.order = append(b.order, g)
			b.parents[g] = e.Key.Parent()
		}
		b.counts[g]++
	}
	return b, nil
}

// allocate requests one id range per group. The requests are independent and
// run concurrently (at most limit at a time, unlimited if limit <= 0); the
// result is keyed by group, never by completion order.
func allocate(ctx context.Context, a idAllocator, b *allocBatch, limit int) (map[group][]int64, error) {
	var mu sync.Mutex
	out := make(map[group][]int64, len(b.order))

	eg, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for _, g := range b.order {
		n := b.counts[g]
		eg.Go(func() error {
			r, err := a.AllocateIDs(ctx, b.parents[g], g.kind, n)
			if err != nil {
				return err
			}
			if r.Count != n {
				return store.Errorf(store.RetCAllocationMismatch,
					"requested %d ids of kind %q, got %d", n, g.kind, r.Count)
			}
			mu.Lock()
			out[g] = r.IDs()
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// complete assigns the allocated ids in input order. Entities with complete
// keys pass through unchanged. Every allocated id must be used exactly once.
func complete(entities []*entity.Entity, allocated map[group][]int64) ([]*entity.Entity, error) {
	used := make(map[group]int, len(allocated))
	out := make([]*entity.Entity, len(entities))
	for i, e := range entities {
		if !e.Key.Incomplete() {
			out[i] = e
			continue
		}
		g := groupOf(e.Key)
		ids, next := allocated[g], used[g]
		if next >= len(ids) {
			return nil, store.Errorf(store.RetCAllocationMismatch, "no id left for %s", e.Key)
		}
		key := entity.IDKey(e.Key.Kind(), ids[next], e.Key.Parent())
		if e.Key.Parent() == nil {
			key = key.WithNamespace(e.Key.Namespace())
		}
		out[i] = e.WithKey(key)
		used[g] = next + 1
	}
	for g, ids := range allocated {
		if used[g] != len(ids) {
			return nil, store.Errorf(store.RetCAllocationMismatch,
				"%d of %d ids of kind %q left unused", len(ids)-used[g], len(ids), g.kind)
		}
	}
	return out, nil
}

// completeKeys runs the batcher: it returns the entities with every
// incomplete key replaced by a freshly allocated one.
func completeKeys(ctx context.Context, a idAllocator, entities []*entity.Entity, limit int) ([]*entity.Entity, error) {
	b, err := groupByParentKind(entities)
	if err != nil {
		return nil, err
	}
	if len(b.order) == 0 {
		return entities, nil
	}
	allocated, err := allocate(ctx, a, b, limit)
	if err != nil {
		return nil, err
	}
	return complete(entities, allocated)
}
