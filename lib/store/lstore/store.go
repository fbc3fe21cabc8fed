package lstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// Store is the local entity store. It is exported (in addition to the
// store.IStore constructor) for the raft state machine, which needs access
// to the database for snapshots.
type Store struct {
	db db.KVDB

	// one lock per id counter
	allocLocks *xsync.MapOf[string, *sync.Mutex]
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
func NewLocalStore(factory store.DBFactory) (store.IStore, error) {
	d, err := factory()
	if err != nil {
		return nil, err
	}
	return New(d), nil
}

// New creates a local store on an open database.
func New(d db.KVDB) *Store {
	return &Store{
		db:         d,
		allocLocks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// DB returns the underlying database.
func (s *Store) DB() db.KVDB {
	return s.db
}

func (s *Store) require(feature db.Feature, op string) error {
	if !s.db.SupportsFeature(feature) {
		return store.Errorf(store.RetCUnsupportedOperation, "%s operation is not supported", op)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Get(_ context.Context, _ *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	if err := s.require(db.FeatureGet, "Get"); err != nil {
		return nil, err
	}
	out := make(map[string]*entity.Entity, len(keys))
	for _, k := range keys {
		if k == nil {
			return nil, store.NewError(store.RetCInvalidArgument, "nil key")
		}
		raw, ok, err := s.db.Get(entityRowKey(k))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		e, err := entity.Unmarshal(raw)
		if err != nil {
			return nil, store.Errorf(store.RetCInternalError, "corrupt entity %s: %v", k, err)
		}
		out[k.MapKey()] = e
	}
	return out, nil
}

func (s *Store) Put(_ context.Context, _ *store.Tx, entities []*entity.Entity) ([]*entity.Key, error) {
	if err := s.require(db.FeatureBatch, "Put"); err != nil {
		return nil, err
	}
	keys := make([]*entity.Key, len(entities))
	rows := make([][]byte, len(entities))
	for i, e := range entities {
		if e == nil || e.Key == nil {
			return nil, store.NewError(store.RetCInvalidArgument, "entity without key")
		}
		if !e.Key.Complete() {
			return nil, store.Errorf(store.RetCInvalidArgument, "incomplete key %s", e.Key)
		}
		raw, err := entity.Marshal(e)
		if err != nil {
			return nil, store.Errorf(store.RetCInvalidArgument, "encode %s: %v", e.Key, err)
		}
		keys[i], rows[i] = e.Key, raw
	}

	err := s.db.Batch(func(w db.Writer) error {
		for i, k := range keys {
			if err := w.Set(entityRowKey(k), rows[i]); err != nil {
				return err
			}
			if err := w.Set(indexKey(k), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) Delete(_ context.Context, _ *store.Tx, keys []*entity.Key) error {
	if err := s.require(db.FeatureBatch, "Delete"); err != nil {
		return err
	}
	for _, k := range keys {
		if k == nil {
			return store.NewError(store.RetCInvalidArgument, "nil key")
		}
	}
	return s.db.Batch(func(w db.Writer) error {
		for _, k := range keys {
			if err := w.Delete(entityRowKey(k)); err != nil {
				return err
			}
			if err := w.Delete(indexKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Run(ctx context.Context, _ *store.Tx, q query.Query) (query.Iterator, error) {
	items, origin, err := s.execute(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, e := range items {
		items[i] = q.Apply(e)
	}
	return query.NewSliceIterator(items, origin), nil
}

func (s *Store) Count(ctx context.Context, _ *store.Tx, q query.Query) (int, error) {
	items, _, err := s.execute(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *Store) AllocateIDs(_ context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error) {
	if err := s.require(db.FeatureGet|db.FeatureSet, "AllocateIDs"); err != nil {
		return entity.IDRange{}, err
	}
	if kind == "" || n < 0 {
		return entity.IDRange{}, store.Errorf(store.RetCInvalidArgument, "cannot allocate %d ids for kind %q", n, kind)
	}
	if parent != nil && !parent.Complete() {
		return entity.IDRange{}, store.Errorf(store.RetCInvalidArgument, "incomplete parent %s", parent)
	}

	ck := counterKey(parent, kind)
	mu, _ := s.allocLocks.LoadOrCompute(string(ck), func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()

	last, err := s.lastID(ck)
	if err != nil {
		return entity.IDRange{}, err
	}
	if n > 0 {
		if err := s.db.Set(ck, binary.BigEndian.AppendUint64(nil, uint64(last)+uint64(n))); err != nil {
			return entity.IDRange{}, err
		}
	}
	return entity.IDRange{Start: last + 1, Count: n}, nil
}

func (s *Store) lastID(ck []byte) (int64, error) {
	raw, ok, err := s.db.Get(ck)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, store.Errorf(store.RetCInternalError, "corrupt id counter (%d bytes)", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func (s *Store) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --------------------------------------------------------------------------
// Query Execution
// --------------------------------------------------------------------------

// execute materializes the page of results selected by q (before
// projection) and returns it with its absolute position in the result set.
func (s *Store) execute(ctx context.Context, q query.Query) ([]*entity.Entity, int, error) {
	if err := s.require(db.FeatureIterate, "Query"); err != nil {
		return nil, 0, err
	}
	if err := q.Validate(); err != nil {
		return nil, 0, store.NewError(store.RetCInvalidArgument, err.Error())
	}
	skip := q.Offset
	if len(q.Start) > 0 {
		pos, err := q.Start.Position()
		if err != nil {
			return nil, 0, store.NewError(store.RetCInvalidArgument, err.Error())
		}
		skip = pos
	}

	// without sort orders the scan order is the result order and the scan
	// can stop as soon as the page is complete
	scanOrdered := len(q.Orders) == 0
	want := -1
	if scanOrdered && q.Limited() {
		want = skip + q.Limit
	}

	var matches []*entity.Entity
	start, end, fromIndex := scanRange(q.Namespace, q.Kind, q.Ancestor)
	prefixLen := len(kindPrefix(q.Kind))

	err := s.db.Iterate(start, end, func(k, v []byte) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		raw := v
		if fromIndex {
			var ok bool
			var err error
			raw, ok, err = s.db.Get(append([]byte{prefixEntity}, k[prefixLen:]...))
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
		e, err := entity.Unmarshal(raw)
		if err != nil {
			return false, store.Errorf(store.RetCInternalError, "corrupt entity row: %v", err)
		}
		if q.Matches(e) {
			matches = append(matches, e)
		}
		return want < 0 || len(matches) < want, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("query %s: %w", q, err)
	}

	if !scanOrdered {
		sort.SliceStable(matches, func(i, j int) bool {
			return q.Compare(matches[i], matches[j]) < 0
		})
	}

	if skip >= len(matches) {
		return nil, skip, nil
	}
	matches = matches[skip:]
	if q.Limited() && q.Limit < len(matches) {
		matches = matches[:q.Limit]
	}
	return matches, skip, nil
}
