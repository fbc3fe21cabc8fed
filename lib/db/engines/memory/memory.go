package memory

import (
	"bytes"
	"io"
	"sync"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/db/util"
	"github.com/google/btree"
)

const (
	defaultDegree     = 32
	infoSampleEntries = 1024
)

type item struct {
	key   []byte
	value []byte
}

func lessItem(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// memoryImpl is an ordered in-memory engine on a copy-on-write B-tree.
// Writers hold the write lock, readers and saves work on the tree (or a clone
// of it) under the read lock.
type memoryImpl struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	degree int
	closed bool
}

// DBOptions configures the memory engine.
type DBOptions struct {
	Degree int // B-tree degree (0 = use default: 32)
}

// DefaultOptions returns the default memory engine options
func DefaultOptions() *DBOptions {
	return &DBOptions{Degree: defaultDegree}
}

// NewMemoryDB creates a new in-memory database with the specified options (optional)
func NewMemoryDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Degree < 2 {
		opts.Degree = defaultDegree
	}
	return &memoryImpl{
		tree:   btree.NewG[item](opts.Degree, lessItem),
		degree: opts.Degree,
	}
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (m *memoryImpl) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return db.ErrClosed
	}
	m.tree.ReplaceOrInsert(item{key: bytes.Clone(key), value: cloneValue(value)})
	return nil
}

func (m *memoryImpl) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return db.ErrClosed
	}
	m.tree.Delete(item{key: key})
	return nil
}

type pendingWrite struct {
	key    []byte
	value  []byte
	delete bool
}

type batchWriter struct {
	writes []pendingWrite
}

func (b *batchWriter) Set(key, value []byte) error {
	b.writes = append(b.writes, pendingWrite{key: bytes.Clone(key), value: cloneValue(value)})
	return nil
}

func (b *batchWriter) Delete(key []byte) error {
	b.writes = append(b.writes, pendingWrite{key: bytes.Clone(key), delete: true})
	return nil
}

// Batch collects the writes of fn and applies them under one write lock.
func (m *memoryImpl) Batch(fn func(w db.Writer) error) error {
	b := &batchWriter{}
	if err := fn(b); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return db.ErrClosed
	}
	for _, w := range b.writes {
		if w.delete {
			m.tree.Delete(item{key: w.key})
		} else {
			m.tree.ReplaceOrInsert(item{key: w.key, value: w.value})
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (m *memoryImpl) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, db.ErrClosed
	}
	it, ok := m.tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (m *memoryImpl) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, db.ErrClosed
	}
	return m.tree.Has(item{key: key}), nil
}

// Iterate walks a clone of the tree, so fn may write to the database.
func (m *memoryImpl) Iterate(start, end []byte, fn func(key, value []byte) (bool, error)) error {
	tree, err := m.snapshot()
	if err != nil {
		return err
	}
	return iterateTree(tree, start, end, fn)
}

func (m *memoryImpl) snapshot() (*btree.BTreeG[item], error) {
	// Clone modifies internal copy-on-write state of the source tree and
	// therefore needs the write lock.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, db.ErrClosed
	}
	return m.tree.Clone(), nil
}

func iterateTree(tree *btree.BTreeG[item], start, end []byte, fn func(key, value []byte) (bool, error)) error {
	var cbErr error
	visit := func(it item) bool {
		if end != nil && bytes.Compare(it.key, end) >= 0 {
			return false
		}
		cont, err := fn(it.key, it.value)
		if err != nil {
			cbErr = err
			return false
		}
		return cont
	}
	if start == nil {
		tree.Ascend(visit)
	} else {
		tree.AscendGreaterOrEqual(item{key: start}, visit)
	}
	return cbErr
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists a clone of the tree, concurrent writes are allowed during Save.
func (m *memoryImpl) Save(w io.Writer) error {
	tree, err := m.snapshot()
	if err != nil {
		return err
	}
	return db.SaveView(w, func(fn func(key, value []byte) (bool, error)) error {
		return iterateTree(tree, nil, nil, fn)
	})
}

// Load replaces the content of the database. The snapshot is read into a new
// tree first, so a broken snapshot leaves the database untouched.
func (m *memoryImpl) Load(r io.Reader) error {
	tree := btree.NewG[item](m.degree, lessItem)
	if err := db.ReadSnapshot(r, func(key, value []byte) error {
		tree.ReplaceOrInsert(item{key: key, value: value})
		return nil
	}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return db.ErrClosed
	}
	m.tree = tree
	return nil
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
	db.FeatureLoad

func (m *memoryImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// GetInfo returns statistics about the database
func (m *memoryImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplMemory,
		SupportedFeatures: db.Features(supportedFeatures),
	}
	tree, err := m.snapshot()
	if err != nil {
		info.Metadata = map[string]string{"error": err.Error()}
		return info
	}
	stats, keys, size, _ := util.SampleSizes(func(fn func(key, value []byte) (bool, error)) error {
		return iterateTree(tree, nil, nil, fn)
	}, infoSampleEntries)
	info.Keys = keys
	info.SizeBytes = size
	info.Metadata = struct {
		ValueSizes util.SizeStats `json:"value_sizes"`
		Info       string         `json:"info"`
	}{
		ValueSizes: stats,
		Info:       "SizeBytes is estimated from a sample of the value sizes.",
	}
	return info
}

func (m *memoryImpl) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tree = nil
	return nil
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return bytes.Clone(v)
}
