package overlay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/db/engines/memory"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/lib/store/lstore"
	storetesting "github.com/ValentinKolb/layerkv/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newLocal() *lstore.Store {
	return lstore.New(memory.NewMemoryDB(nil))
}

// newTestOverlay returns an overlay over a fresh base, plus the raw stores.
func newTestOverlay(t *testing.T, opts ...Option) (*Store, *lstore.Store, *lstore.Store) {
	t.Helper()
	layer, base := newLocal(), newLocal()
	t.Cleanup(func() {
		_ = layer.Close()
		_ = base.Close()
	})
	return New(layer, base, opts...), layer, base
}

func put(t testing.TB, s store.IStore, entities ...*entity.Entity) []*entity.Key {
	t.Helper()
	keys, err := s.Put(context.Background(), nil, entities)
	require.NoError(t, err)
	return keys
}

func runAll(t testing.TB, s store.IStore, q query.Query) []*entity.Entity {
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

// recordingStore records the tx token of every call.
type recordingStore struct {
	store.IStore
	mu  sync.Mutex
	txs []*store.Tx
}

func (r *recordingStore) record(tx *store.Tx) {
	r.mu.Lock()
	r.txs = append(r.txs, tx)
	r.mu.Unlock()
}

func (r *recordingStore) Get(ctx context.Context, tx *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	r.record(tx)
	return r.IStore.Get(ctx, tx, keys)
}

func (r *recordingStore) Put(ctx context.Context, tx *store.Tx, entities []*entity.Entity) ([]*entity.Key, error) {
	r.record(tx)
	return r.IStore.Put(ctx, tx, entities)
}

func (r *recordingStore) Delete(ctx context.Context, tx *store.Tx, keys []*entity.Key) error {
	r.record(tx)
	return r.IStore.Delete(ctx, tx, keys)
}

func (r *recordingStore) Run(ctx context.Context, tx *store.Tx, q query.Query) (query.Iterator, error) {
	r.record(tx)
	return r.IStore.Run(ctx, tx, q)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestOverlayConformance(t *testing.T) {
	storetesting.RunStoreTests(t, "OverlayOverEmptyBase", func() store.IStore {
		return New(newLocal(), newLocal())
	})
	storetesting.RunStoreTests(t, "StackedOverlay", func() store.IStore {
		return New(newLocal(), New(newLocal(), newLocal()))
	})
	storetesting.RunStoreTests(t, "ChunkSize3", func() store.IStore {
		return New(newLocal(), newLocal(), WithDefaultChunkSize(3))
	})
}

func TestPutClearsTombstone(t *testing.T) {
	o, layer, base := newTestOverlay(t)
	ctx := context.Background()

	k := entity.IDKey("A", 1, nil)
	put(t, base, entity.MustNew(k, map[string]any{"v": "base"}))

	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{k}))
	_, err := o.GetOne(ctx, nil, k)
	assert.ErrorIs(t, err, store.ErrNotFound)

	put(t, o, entity.MustNew(k, map[string]any{"v": "overlay"}))
	e, err := o.GetOne(ctx, nil, k)
	require.NoError(t, err)
	assert.Equal(t, "overlay", e.Properties["v"])

	// no tombstone left behind
	raw, err := layer.Get(ctx, nil, []*entity.Key{TombstoneKeyOf(k)})
	require.NoError(t, err)
	assert.Empty(t, raw)

	// delete again, put again: the state machine never gets stuck
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{k}))
	assert.Empty(t, runAll(t, o, query.New("A")))
	put(t, o, entity.MustNew(k, map[string]any{"v": "again"}))
	assert.Equal(t, []string{"A:1"}, keyStrings(runAll(t, o, query.New("A"))))
}

func TestDeleteIsOverlayOnly(t *testing.T) {
	o, layer, base := newTestOverlay(t)
	ctx := context.Background()

	k := entity.IDKey("A", 1, nil)
	orig := entity.MustNew(k, map[string]any{"name": "x"})
	put(t, base, orig)
	put(t, o, entity.MustNew(k, map[string]any{"name": "y"}))

	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{k}))

	got, err := base.Get(ctx, nil, []*entity.Key{k})
	require.NoError(t, err)
	assert.True(t, orig.Equal(got[k.MapKey()]))

	// the layer holds the tombstone and nothing else
	raw, err := layer.Get(ctx, nil, []*entity.Key{k, TombstoneKeyOf(k)})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.True(t, IsTombstone(raw[TombstoneKeyOf(k).MapKey()]))
}

func TestScenarioDeletedBaseRecord(t *testing.T) {
	o, _, base := newTestOverlay(t)
	ctx := context.Background()

	k := entity.IDKey("A", 1, nil)
	put(t, base, entity.MustNew(k, map[string]any{"name": "x"}))
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{k}))

	_, err := o.GetOne(ctx, nil, k)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, runAll(t, o, query.New("A")))

	n, err := o.Count(ctx, nil, query.New("A"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScenarioMergedOrder(t *testing.T) {
	o, _, base := newTestOverlay(t)

	put(t, base, entity.MustNew(entity.IDKey("A", 1, nil), nil), entity.MustNew(entity.IDKey("A", 2, nil), nil))
	put(t, o, entity.MustNew(entity.IDKey("A", 3, nil), nil))

	assert.Equal(t, []string{"A:1", "A:2", "A:3"}, keyStrings(runAll(t, o, query.New("A").Order(entity.KeyProperty))))
}

func TestScenarioIncompleteKeysSameParent(t *testing.T) {
	o, layer, base := newTestOverlay(t)
	ctx := context.Background()

	parent := entity.IDKey("P", 1, nil)
	keys := put(t, o,
		entity.MustNew(entity.IncompleteKey("B", parent), map[string]any{"n": 1}),
		entity.MustNew(entity.IncompleteKey("B", parent), map[string]any{"n": 2}),
	)
	require.Len(t, keys, 2)
	assert.Less(t, keys[0].ID(), keys[1].ID())
	assert.True(t, parent.Equal(keys[0].Parent()))

	// ids come from the base's id space, the data lives in the layer
	next, err := base.AllocateIDs(ctx, parent, "B", 1)
	require.NoError(t, err)
	assert.Equal(t, keys[1].ID()+1, next.Start)

	got, err := layer.Get(ctx, nil, keys)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	got, err = base.Get(ctx, nil, keys)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetComposesLayers(t *testing.T) {
	o, _, base := newTestOverlay(t)
	ctx := context.Background()

	onlyBase := entity.IDKey("A", 1, nil)
	both := entity.IDKey("A", 2, nil)
	onlyOverlay := entity.IDKey("A", 3, nil)
	deleted := entity.IDKey("A", 4, nil)
	missing := entity.IDKey("A", 5, nil)

	put(t, base,
		entity.MustNew(onlyBase, map[string]any{"from": "base"}),
		entity.MustNew(both, map[string]any{"from": "base"}),
		entity.MustNew(deleted, map[string]any{"from": "base"}),
	)
	put(t, o,
		entity.MustNew(both, map[string]any{"from": "overlay"}),
		entity.MustNew(onlyOverlay, map[string]any{"from": "overlay"}),
	)
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{deleted}))

	got, err := o.Get(ctx, nil, []*entity.Key{onlyBase, both, onlyOverlay, deleted, missing})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "base", got[onlyBase.MapKey()].Properties["from"])
	assert.Equal(t, "overlay", got[both.MapKey()].Properties["from"])
	assert.Equal(t, "overlay", got[onlyOverlay.MapKey()].Properties["from"])

	_, err = o.GetOne(ctx, nil, missing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetFromOverlayOnly(t *testing.T) {
	o, _, base := newTestOverlay(t)
	ctx := context.Background()

	a, b := entity.IDKey("A", 1, nil), entity.IDKey("A", 2, nil)
	put(t, base, entity.MustNew(a, nil), entity.MustNew(b, nil))
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{a}))

	got, err := o.GetFromOverlayOnly(ctx, nil, []*entity.Key{a, b, TombstoneKeyOf(a)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got, TombstoneKeyOf(a).MapKey())
}

func TestPutRejectsReservedKinds(t *testing.T) {
	o, _, _ := newTestOverlay(t)

	_, err := o.Put(context.Background(), nil, []*entity.Entity{
		entity.MustNew(TombstoneKeyOf(entity.IDKey("A", 1, nil)), nil),
	})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = o.Put(context.Background(), nil, []*entity.Entity{{}})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestReservedKeysRejected(t *testing.T) {
	o, layer, base := newTestOverlay(t)
	ctx := context.Background()

	k := entity.IDKey("A", 1, nil)
	put(t, base, entity.MustNew(k, map[string]any{"name": "x"}))
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{k}))

	marker := TombstoneKeyOf(k)
	nested := entity.IDKey("B", 1, marker)

	err := o.Delete(ctx, nil, []*entity.Key{marker})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	err = o.Delete(ctx, nil, []*entity.Key{nested})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = o.GetOne(ctx, nil, marker)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
	_, err = o.Get(ctx, nil, []*entity.Key{k, nested})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = o.Put(ctx, nil, []*entity.Entity{entity.MustNew(nested, nil)})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	// the deleted record stays deleted and its marker is untouched
	_, err = o.GetOne(ctx, nil, k)
	assert.ErrorIs(t, err, store.ErrNotFound)
	raw, err := layer.Get(ctx, nil, []*entity.Key{marker, TombstoneKeyOf(marker), nested})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.True(t, IsTombstone(raw[marker.MapKey()]))
}

func TestRunSingle(t *testing.T) {
	o, _, base := newTestOverlay(t)
	ctx := context.Background()

	put(t, base,
		entity.MustNew(entity.IDKey("U", 1, nil), map[string]any{"mail": "a@x"}),
		entity.MustNew(entity.IDKey("U", 2, nil), map[string]any{"mail": "b@x"}),
	)
	put(t, o, entity.MustNew(entity.IDKey("U", 3, nil), map[string]any{"mail": "b@x"}))

	e, err := o.RunSingle(ctx, nil, query.New("U").Filter("mail", query.OpEqual, "a@x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Key.ID())

	_, err = o.RunSingle(ctx, nil, query.New("U").Filter("mail", query.OpEqual, "b@x"))
	assert.ErrorIs(t, err, store.ErrTooManyResults)

	_, err = o.RunSingle(ctx, nil, query.New("U").Filter("mail", query.OpEqual, "c@x"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// after deleting one of the duplicates the result is unique again
	require.NoError(t, o.Delete(ctx, nil, []*entity.Key{entity.IDKey("U", 2, nil)}))
	e, err = o.RunSingle(ctx, nil, query.New("U").Filter("mail", query.OpEqual, "b@x"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Key.ID())
}

func TestTransactionForwarding(t *testing.T) {
	layer := &recordingStore{IStore: newLocal()}
	base := &recordingStore{IStore: newLocal()}
	o := New(layer, base)
	ctx := context.Background()
	tx := store.NewTx()

	k := entity.IDKey("A", 1, nil)
	_, err := o.Put(ctx, tx, []*entity.Entity{entity.MustNew(k, nil)})
	require.NoError(t, err)
	_, err = o.Get(ctx, tx, []*entity.Key{k, entity.IDKey("A", 2, nil)})
	require.NoError(t, err)
	require.NoError(t, o.Delete(ctx, tx, []*entity.Key{k}))
	runAll(t, o.WithTx(tx), query.New("A"))

	require.NotEmpty(t, layer.txs)
	require.NotEmpty(t, base.txs)
	for _, got := range append(layer.txs, base.txs...) {
		assert.Same(t, tx, got)
	}
}

func TestBoundViewRejectsExplicitTx(t *testing.T) {
	o, _, _ := newTestOverlay(t)
	ctx := context.Background()
	bound := o.WithTx(store.NewTx())
	other := store.NewTx()
	k := entity.IDKey("A", 1, nil)

	_, err := bound.Get(ctx, other, []*entity.Key{k})
	assert.ErrorIs(t, err, store.ErrUnsupportedOperation)
	_, err = bound.Put(ctx, other, []*entity.Entity{entity.MustNew(k, nil)})
	assert.ErrorIs(t, err, store.ErrUnsupportedOperation)
	assert.ErrorIs(t, bound.Delete(ctx, other, []*entity.Key{k}), store.ErrUnsupportedOperation)
	_, err = bound.Run(ctx, other, query.New("A"))
	assert.ErrorIs(t, err, store.ErrUnsupportedOperation)
	_, err = bound.Count(ctx, other, query.New("A"))
	assert.ErrorIs(t, err, store.ErrUnsupportedOperation)

	// implicit use of the bound token works, the unbound overlay is unaffected
	_, err = bound.Put(ctx, nil, []*entity.Entity{entity.MustNew(k, nil)})
	require.NoError(t, err)
	_, err = o.GetOne(ctx, other, k)
	require.NoError(t, err)
}

func TestCollaboratorErrorsPassThrough(t *testing.T) {
	boom := errors.New("disk on fire")
	layer := &flakyStore{IStore: newLocal(), getErr: boom}
	o := New(layer, newLocal())

	_, err := o.Get(context.Background(), nil, []*entity.Key{entity.IDKey("A", 1, nil)})
	assert.ErrorIs(t, err, boom)
}

// TestComposedReadModel compares reads through the overlay with a plain
// map model over random sequences of base seeds, puts and deletes.
func TestComposedReadModel(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			o, _, base := newTestOverlay(t, WithDefaultChunkSize(1+rng.Intn(4)))
			ctx := context.Background()

			const keySpace = 12
			keys := make([]*entity.Key, keySpace)
			for i := range keys {
				keys[i] = entity.IDKey("M", int64(i+1), nil)
			}

			baseModel := map[int]int{}
			overlayModel := map[int]int{}
			deletedModel := map[int]bool{}

			for step := 0; step < 60; step++ {
				i := rng.Intn(keySpace)
				v := rng.Intn(1000)
				switch rng.Intn(3) {
				case 0:
					put(t, base, entity.MustNew(keys[i], map[string]any{"v": v}))
					baseModel[i] = v
				case 1:
					put(t, o, entity.MustNew(keys[i], map[string]any{"v": v}))
					overlayModel[i] = v
					delete(deletedModel, i)
				case 2:
					require.NoError(t, o.Delete(ctx, nil, []*entity.Key{keys[i]}))
					delete(overlayModel, i)
					deletedModel[i] = true
				}
			}

			var want []string
			got, err := o.Get(ctx, nil, keys)
			require.NoError(t, err)
			for i, k := range keys {
				expected, ok := -1, false
				switch {
				case deletedModel[i]:
				case hasKey(overlayModel, i):
					expected, ok = overlayModel[i], true
				default:
					expected, ok = baseModel[i]
				}

				e, found := got[k.MapKey()]
				require.Equal(t, ok, found, "key %s", k)
				if ok {
					assert.Equal(t, int64(expected), e.Properties["v"], "key %s", k)
					want = append(want, k.String())
				}
			}

			// the merged query agrees with the single key reads
			assert.Equal(t, want, keyStrings(runAll(t, o, query.New("M"))))
			n, err := o.Count(ctx, nil, query.New("M"))
			require.NoError(t, err)
			assert.Equal(t, len(want), n)
		})
	}
}

func hasKey(m map[int]int, k int) bool {
	_, ok := m[k]
	return ok
}
