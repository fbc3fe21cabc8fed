package overlay

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("overlay")

var (
	tombstoneHits          = metrics.NewCounter(`layerkv_overlay_tombstones_hit_total`)
	conflictCheckFailures  = metrics.NewCounter(`layerkv_overlay_conflict_check_failures_total`)
	allocatedIDs           = metrics.NewCounter(`layerkv_overlay_allocated_ids_total`)
	baseRowsShadowed       = metrics.NewCounter(`layerkv_overlay_base_rows_shadowed_total`)
	conflictChecksExecuted = metrics.NewCounter(`layerkv_overlay_conflict_checks_total`)
)

func countOp(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`layerkv_overlay_ops_total{op=%q}`, op)).Inc()
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configure an overlay.
type Options struct {
	// StrictConflictCheck makes a failed overlay lookup during a query fail
	// the query. By default the lookup degrades to "no overlay records",
	// which can surface stale base rows while the overlay store is failing.
	StrictConflictCheck bool

	// MaxConcurrentAllocations bounds the parallel id range requests of a
	// single put (<= 0: one request per group at once).
	MaxConcurrentAllocations int

	// DefaultChunkSize is used for queries without a chunk size.
	DefaultChunkSize int
}

// Option changes the default Options.
type Option func(*Options)

// WithStrictConflictCheck makes a failed conflict check abort the query
// instead of treating the overlay as empty for that chunk.
func WithStrictConflictCheck(strict bool) Option {
	return func(o *Options) { o.StrictConflictCheck = strict }
}

// WithMaxConcurrentAllocations bounds the parallel id range requests of a put.
func WithMaxConcurrentAllocations(n int) Option {
	return func(o *Options) { o.MaxConcurrentAllocations = n }
}

// WithDefaultChunkSize sets the chunk size for queries that do not set one.
func WithDefaultChunkSize(n int) Option {
	return func(o *Options) { o.DefaultChunkSize = n }
}

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// Store composes a writable overlay store (the layer) with a base store that
// is never written. Store implements store.IStore, so overlays can be stacked.
type Store struct {
	layer store.IStore
	base  store.IStore
	opts  Options

	// bound is the transaction of a WithTx view, nil otherwise
	bound *store.Tx
}

var _ store.IStore = (*Store)(nil)

// New creates an overlay that records all mutations in layer and falls back
// to base for everything the layer has no record of.
func New(layer, base store.IStore, opts ...Option) *Store {
	o := Options{DefaultChunkSize: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.DefaultChunkSize < 1 {
		o.DefaultChunkSize = 1
	}
	return &Store{layer: layer, base: base, opts: o}
}

// WithTx returns a view of the overlay bound to tx. All calls of the view
// forward tx to both stores; passing another token explicitly is rejected
// with RetCUnsupportedOperation.
func (s *Store) WithTx(tx *store.Tx) *Store {
	view := *s
	view.bound = tx
	return &view
}

// Layer returns the store holding the overlay records.
func (s *Store) Layer() store.IStore {
	return s.layer
}

// Base returns the store the overlay reads through to.
func (s *Store) Base() store.IStore {
	return s.base
}

func (s *Store) txFor(tx *store.Tx) (*store.Tx, error) {
	if s.bound == nil {
		return tx, nil
	}
	if tx != nil {
		return nil, store.Errorf(store.RetCUnsupportedOperation,
			"view is bound to transaction %s, got explicit transaction %s", s.bound, tx)
	}
	return s.bound, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the composed view of the given keys, indexed by Key.MapKey().
// Keys deleted in the overlay and keys present in neither store are absent.
func (s *Store) Get(ctx context.Context, tx *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	countOp("get")
	tx, err := s.txFor(tx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k == nil {
			return nil, store.NewError(store.RetCInvalidArgument, "nil key")
		}
		if err := checkUserKey(k); err != nil {
			return nil, err
		}
	}
	out := make(map[string]*entity.Entity, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	found, err := s.layer.Get(ctx, tx, withTombstoneKeys(keys))
	if err != nil {
		return nil, err
	}

	var remaining []*entity.Key
	for _, k := range keys {
		if _, deleted := found[TombstoneKeyOf(k).MapKey()]; deleted {
			tombstoneHits.Inc()
			continue
		}
		if e, ok := found[k.MapKey()]; ok {
			out[k.MapKey()] = e
			continue
		}
		remaining = append(remaining, k)
	}
	if len(remaining) == 0 {
		return out, nil
	}

	fromBase, err := s.base.Get(ctx, tx, remaining)
	if err != nil {
		return nil, err
	}
	for mk, e := range fromBase {
		out[mk] = e
	}
	return out, nil
}

// GetOne returns the composed view of a single key. It fails with
// RetCNotFound if the key is deleted in the overlay or present in neither store.
func (s *Store) GetOne(ctx context.Context, tx *store.Tx, key *entity.Key) (*entity.Entity, error) {
	found, err := s.Get(ctx, tx, []*entity.Key{key})
	if err != nil {
		return nil, err
	}
	e, ok := found[key.MapKey()]
	if !ok {
		return nil, store.Errorf(store.RetCNotFound, "no entity %s", key)
	}
	return e, nil
}

// GetFromOverlayOnly reads the layer alone. Tombstones are returned like any
// other record.
func (s *Store) GetFromOverlayOnly(ctx context.Context, tx *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	tx, err := s.txFor(tx)
	if err != nil {
		return nil, err
	}
	return s.overlayOnly(ctx, tx, keys)
}

func (s *Store) overlayOnly(ctx context.Context, tx *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	return s.layer.Get(ctx, tx, keys)
}

func withTombstoneKeys(keys []*entity.Key) []*entity.Key {
	out := make([]*entity.Key, 0, 2*len(keys))
	out = append(out, keys...)
	for _, k := range keys {
		out = append(out, TombstoneKeyOf(k))
	}
	return out
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put writes the entities to the overlay and returns their keys in input
// order. Incomplete keys get ids from the base store's id space. A put
// clears any tombstone of the written keys, so deleted keys become visible again.
func (s *Store) Put(ctx context.Context, tx *store.Tx, entities []*entity.Entity) ([]*entity.Key, error) {
	countOp("put")
	tx, err := s.txFor(tx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if e == nil || e.Key == nil {
			return nil, store.NewError(store.RetCInvalidArgument, "entity without key")
		}
		if err := checkUserKey(e.Key); err != nil {
			return nil, err
		}
	}
	if len(entities) == 0 {
		return []*entity.Key{}, nil
	}

	completed, err := completeKeys(ctx, s.base, entities, s.opts.MaxConcurrentAllocations)
	if err != nil {
		return nil, err
	}

	keys, err := s.layer.Put(ctx, tx, completed)
	if err != nil {
		return nil, err
	}
	tombstones := make([]*entity.Key, len(keys))
	for i, k := range keys {
		tombstones[i] = TombstoneKeyOf(k)
	}
	if err := s.layer.Delete(ctx, tx, tombstones); err != nil {
		return nil, fmt.Errorf("clear tombstones: %w", err)
	}
	log.Debugf("put %d entities (tx %s)", len(keys), tx)
	return keys, nil
}

// Delete hides the keys in the composed view. The tombstones are written
// before the overlay records are removed, so an interrupted delete leaves
// the keys deleted rather than alive. The base store is never touched.
func (s *Store) Delete(ctx context.Context, tx *store.Tx, keys []*entity.Key) error {
	countOp("delete")
	tx, err := s.txFor(tx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	tombstones := make([]*entity.Entity, len(keys))
	for i, k := range keys {
		if k == nil {
			return store.NewError(store.RetCInvalidArgument, "nil key")
		}
		if !k.Complete() {
			return store.Errorf(store.RetCInvalidArgument, "incomplete key %s", k)
		}
		if err := checkUserKey(k); err != nil {
			return err
		}
		tombstones[i] = newTombstone(k)
	}
	if _, err := s.layer.Put(ctx, tx, tombstones); err != nil {
		return fmt.Errorf("write tombstones: %w", err)
	}
	return s.layer.Delete(ctx, tx, keys)
}

// AllocateIDs is forwarded to the base store: ids are global, never local
// to an overlay.
func (s *Store) AllocateIDs(ctx context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error) {
	countOp("allocate")
	r, err := s.base.AllocateIDs(ctx, parent, kind, n)
	if err == nil {
		allocatedIDs.Add(r.Count)
	}
	return r, err
}

// --------------------------------------------------------------------------
// Queries (see merge.go)
// --------------------------------------------------------------------------

// RunSingle runs a query that is expected to match exactly one entity. It
// fails with RetCNotFound on no result and RetCTooManyResults on more than one.
func (s *Store) RunSingle(ctx context.Context, tx *store.Tx, q query.Query) (*entity.Entity, error) {
	if !q.Limited() || q.Limit > 2 {
		q = q.WithLimit(2)
	}
	it, err := s.Run(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	items, err := query.Drain(ctx, it)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, store.Errorf(store.RetCNotFound, "no result for %s", q)
	case 1:
		return items[0], nil
	default:
		return nil, store.Errorf(store.RetCTooManyResults, "more than one result for %s", q)
	}
}

// Count returns the number of results of the composed query, honoring offset and limit.
func (s *Store) Count(ctx context.Context, tx *store.Tx, q query.Query) (int, error) {
	countOp("count")
	it, err := s.run(ctx, tx, countQuery(q))
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		if _, err := it.Next(ctx); err != nil {
			return 0, err
		}
		n++
	}
}

// countQuery reduces q to what counting needs: keys and the sort properties.
func countQuery(q query.Query) query.Query {
	q = q.KeysOnlyQuery()
	q.Projection = nil
	return q
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// OverlayInfo is the metadata of an overlay's GetDBInfo.
type OverlayInfo struct {
	Base db.DatabaseInfo `json:"base"`
}

// GetDBInfo returns the info of the layer, with the base's info as metadata.
func (s *Store) GetDBInfo() (db.DatabaseInfo, error) {
	info, err := s.layer.GetDBInfo()
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	baseInfo, err := s.base.GetDBInfo()
	if err != nil {
		log.Warningf("base store info unavailable: %v", err)
		return info, nil
	}
	info.Metadata = OverlayInfo{Base: baseInfo}
	return info, nil
}

// Close closes the layer. The base store is owned by the caller that
// created it and stays open.
func (s *Store) Close() error {
	return s.layer.Close()
}
