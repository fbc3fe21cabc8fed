package overlay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureIsLazyAndMemoized(t *testing.T) {
	calls := 0
	f := newFuture(func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	assert.Zero(t, calls, "nothing runs before Await")

	for i := 0; i < 3; i++ {
		v, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, calls)
}

func TestFutureErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	f := newFuture(func(context.Context) (string, error) {
		return "", boom
	})
	_, err := f.Await(context.Background())
	assert.Same(t, boom, err)
	_, err = f.Await(context.Background())
	assert.Same(t, boom, err)
}

func TestFutureConcurrentAwait(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	f := newFuture(func(context.Context) (int, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 7, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.Await(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 7, v)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}

func TestAsyncMatchesBlocking(t *testing.T) {
	o, _, base := newTestOverlay(t)
	ctx := context.Background()

	seedKey := entity.NameKey("A", "seed", nil)
	put(t, base, entity.MustNew(seedKey, map[string]any{"n": 1}))

	putF := o.PutAsync(nil, []*entity.Entity{
		entity.MustNew(entity.IncompleteKey("A", nil), map[string]any{"n": 2}),
	})
	keys, err := putF.Await(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	got, err := o.GetAsync(nil, []*entity.Key{seedKey, keys[0]}).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err := o.CountAsync(nil, query.New("A")).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = o.DeleteAsync(nil, []*entity.Key{seedKey}).Await(ctx)
	require.NoError(t, err)

	_, err = o.GetOneAsync(nil, seedKey).Await(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	it, err := o.RunAsync(nil, query.New("A")).Await(ctx)
	require.NoError(t, err)
	items, err := query.Drain(ctx, it)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, keys[0].Equal(items[0].Key))

	single, err := o.RunSingleAsync(nil, query.New("A")).Await(ctx)
	require.NoError(t, err)
	assert.True(t, keys[0].Equal(single.Key))

	// errors of the blocking path surface unchanged
	_, err = o.WithTx(store.NewTx()).PutAsync(store.NewTx(), nil).Await(ctx)
	assert.ErrorIs(t, err, store.ErrUnsupportedOperation)
}
