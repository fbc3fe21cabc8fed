package pebble

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/db/util"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const infoSampleEntries = 1024

// DBOptions configures the pebble engine.
type DBOptions struct {
	Dir      string // data directory
	InMemory bool   // keep all files in memory (tests, scratch layers)
	Sync     bool   // fsync every write
}

// DefaultOptions returns options for an in-memory pebble instance.
func DefaultOptions() *DBOptions {
	return &DBOptions{InMemory: true}
}

type pebbleImpl struct {
	db     *pebble.DB
	dir    string
	wo     *pebble.WriteOptions
	closed atomic.Bool
}

// NewPebbleDB opens (or creates) a pebble database.
func NewPebbleDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
	} else if opts.Dir == "" {
		return nil, fmt.Errorf("pebble: a data directory is required")
	}

	p, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %q: %w", opts.Dir, err)
	}

	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &pebbleImpl{db: p, dir: opts.Dir, wo: wo}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (p *pebbleImpl) Set(key, value []byte) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	return p.db.Set(key, value, p.wo)
}

func (p *pebbleImpl) Delete(key []byte) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	return p.db.Delete(key, p.wo)
}

type batchWriter struct {
	b *pebble.Batch
}

func (w batchWriter) Set(key, value []byte) error {
	return w.b.Set(key, value, nil)
}

func (w batchWriter) Delete(key []byte) error {
	return w.b.Delete(key, nil)
}

func (p *pebbleImpl) Batch(fn func(w db.Writer) error) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	b := p.db.NewBatch()
	defer b.Close()
	if err := fn(batchWriter{b}); err != nil {
		return err
	}
	return b.Commit(p.wo)
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (p *pebbleImpl) Get(key []byte) ([]byte, bool, error) {
	if p.closed.Load() {
		return nil, false, db.ErrClosed
	}
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return bytes.Clone(v), true, nil
}

func (p *pebbleImpl) Has(key []byte) (bool, error) {
	_, ok, err := p.Get(key)
	return ok, err
}

// reader is implemented by *pebble.DB and *pebble.Snapshot.
type reader interface {
	NewIter(o *pebble.IterOptions) *pebble.Iterator
}

func iterate(r reader, start, end []byte, fn func(key, value []byte) (bool, error)) (err error) {
	iter := r.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	for valid := iter.First(); valid; valid = iter.Next() {
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return iter.Error()
}

// Iterate runs on a snapshot, so fn may write to the database.
func (p *pebbleImpl) Iterate(start, end []byte, fn func(key, value []byte) (bool, error)) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return iterate(snap, start, end, fn)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

func (p *pebbleImpl) Save(w io.Writer) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return db.SaveView(w, func(fn func(key, value []byte) (bool, error)) error {
		return iterate(snap, nil, nil, fn)
	})
}

// Load replaces all entries in one batch.
func (p *pebbleImpl) Load(r io.Reader) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	b := p.db.NewBatch()
	defer b.Close()

	if err := iterate(p.db, nil, nil, func(key, _ []byte) (bool, error) {
		return true, b.Delete(key, nil)
	}); err != nil {
		return err
	}
	if err := db.ReadSnapshot(r, func(key, value []byte) error {
		return b.Set(key, value, nil)
	}); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// --------------------------------------------------------------------------
// Info and Features
// --------------------------------------------------------------------------

const supportedFeatures = db.FeatureSet |
	db.FeatureGet |
	db.FeatureDelete |
	db.FeatureHas |
	db.FeatureBatch |
	db.FeatureIterate |
	db.FeatureSave |
	db.FeatureLoad |
	db.FeaturePersistent

func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplPebble,
		SupportedFeatures: db.Features(supportedFeatures),
	}
	if p.closed.Load() {
		info.Metadata = map[string]string{"error": db.ErrClosed.Error()}
		return info
	}

	snap := p.db.NewSnapshot()
	defer snap.Close()
	stats, keys, _, _ := util.SampleSizes(func(fn func(key, value []byte) (bool, error)) error {
		return iterate(snap, nil, nil, fn)
	}, infoSampleEntries)

	m := p.db.Metrics()
	info.Keys = keys
	info.SizeBytes = int(m.DiskSpaceUsage())
	info.Metadata = struct {
		Dir        string         `json:"dir"`
		ValueSizes util.SizeStats `json:"value_sizes"`
		Levels     int            `json:"levels"`
		Compacts   int64          `json:"compactions"`
	}{
		Dir:        p.dir,
		ValueSizes: stats,
		Levels:     len(m.Levels),
		Compacts:   m.Compact.Count,
	}
	return info
}

func (p *pebbleImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}
