package overlay

import (
	"context"
	"sync"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
)

// --------------------------------------------------------------------------
// Futures
// --------------------------------------------------------------------------

// Future is the deferred result of an overlay operation. The operation runs
// once, on the first call to Await, with the same code path as its blocking
// counterpart. Later calls return the memoized result and error unchanged.
type Future[T any] struct {
	once sync.Once
	fn   func(ctx context.Context) (T, error)
	val  T
	err  error
}

func newFuture[T any](fn func(ctx context.Context) (T, error)) *Future[T] {
	return &Future[T]{fn: fn}
}

// Await runs the operation (first call only) and returns its outcome. The
// context of the first call is the one the operation runs with.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	f.once.Do(func() {
		f.val, f.err = f.fn(ctx)
		f.fn = nil
	})
	return f.val, f.err
}

func (s *Store) GetAsync(tx *store.Tx, keys []*entity.Key) *Future[map[string]*entity.Entity] {
	return newFuture(func(ctx context.Context) (map[string]*entity.Entity, error) {
		return s.Get(ctx, tx, keys)
	})
}

func (s *Store) GetOneAsync(tx *store.Tx, key *entity.Key) *Future[*entity.Entity] {
	return newFuture(func(ctx context.Context) (*entity.Entity, error) {
		return s.GetOne(ctx, tx, key)
	})
}

func (s *Store) PutAsync(tx *store.Tx, entities []*entity.Entity) *Future[[]*entity.Key] {
	return newFuture(func(ctx context.Context) ([]*entity.Key, error) {
		return s.Put(ctx, tx, entities)
	})
}

func (s *Store) DeleteAsync(tx *store.Tx, keys []*entity.Key) *Future[struct{}] {
	return newFuture(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.Delete(ctx, tx, keys)
	})
}

func (s *Store) RunAsync(tx *store.Tx, q query.Query) *Future[query.Iterator] {
	return newFuture(func(ctx context.Context) (query.Iterator, error) {
		return s.Run(ctx, tx, q)
	})
}

func (s *Store) RunSingleAsync(tx *store.Tx, q query.Query) *Future[*entity.Entity] {
	return newFuture(func(ctx context.Context) (*entity.Entity, error) {
		return s.RunSingle(ctx, tx, q)
	})
}

func (s *Store) CountAsync(tx *store.Tx, q query.Query) *Future[int] {
	return newFuture(func(ctx context.Context) (int, error) {
		return s.Count(ctx, tx, q)
	})
}
