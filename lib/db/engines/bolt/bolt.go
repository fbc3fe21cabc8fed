package bolt

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/db/util"
	bolt "go.etcd.io/bbolt"
)

const (
	infoSampleEntries = 1024
	iteratePageSize   = 256
)

var bucketName = []byte("kv")

// DBOptions configures the bolt engine.
type DBOptions struct {
	Path    string        // database file
	Timeout time.Duration // time to wait for the file lock (0 = use default: 1 sec)
	NoSync  bool          // skip fsync after each commit
}

type boltImpl struct {
	db   *bolt.DB
	path string
}

// NewBoltDB opens (or creates) a bolt database file.
func NewBoltDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil || opts.Path == "" {
		return nil, fmt.Errorf("bolt: a database file is required")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second
	}

	b, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: timeout, NoSync: opts.NoSync})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %q: %w", opts.Path, err)
	}
	if err := b.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = b.Close()
		return nil, err
	}
	return &boltImpl{db: b, path: opts.Path}, nil
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (b *boltImpl) Set(key, value []byte) error {
	return b.Batch(func(w db.Writer) error { return w.Set(key, value) })
}

func (b *boltImpl) Delete(key []byte) error {
	return b.Batch(func(w db.Writer) error { return w.Delete(key) })
}

type bucketWriter struct {
	bucket *bolt.Bucket
}

func (w bucketWriter) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return w.bucket.Put(key, value)
}

func (w bucketWriter) Delete(key []byte) error {
	return w.bucket.Delete(key)
}

// Batch runs fn inside one read-write transaction.
func (b *boltImpl) Batch(fn func(w db.Writer) error) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return fn(bucketWriter{tx.Bucket(bucketName)})
	})
	return mapErr(err)
}

// --------------------------------------------------------------------------
// Query Operations
// --------------------------------------------------------------------------

func (b *boltImpl) Get(key []byte) (value []byte, loaded bool, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(key); v != nil {
			value, loaded = bytes.Clone(v), true
		}
		return nil
	})
	return value, loaded, mapErr(err)
}

func (b *boltImpl) Has(key []byte) (bool, error) {
	_, ok, err := b.Get(key)
	return ok, err
}

type pair struct {
	key, value []byte
}

// Iterate reads the range in pages of copied entries, each page in its own
// read transaction. fn runs outside of any transaction and may write.
func (b *boltImpl) Iterate(start, end []byte, fn func(key, value []byte) (bool, error)) error {
	from := start
	for {
		page := make([]pair, 0, iteratePageSize)
		err := b.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(bucketName).Cursor()
			var k, v []byte
			if from == nil {
				k, v = c.First()
			} else {
				k, v = c.Seek(from)
			}
			for ; k != nil && len(page) < iteratePageSize; k, v = c.Next() {
				if end != nil && bytes.Compare(k, end) >= 0 {
					break
				}
				page = append(page, pair{bytes.Clone(k), bytes.Clone(v)})
			}
			return nil
		})
		if err != nil {
			return mapErr(err)
		}

		for _, p := range page {
			cont, err := fn(p.key, p.value)
			if err != nil || !cont {
				return err
			}
		}
		if len(page) < iteratePageSize {
			return nil
		}
		// smallest key after the last one of the page
		from = append(page[len(page)-1].key, 0x00)
	}
}

func viewIterate(tx *bolt.Tx) db.IterateFunc {
	return func(fn func(key, value []byte) (bool, error)) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			cont, err := fn(k, v)
			if err != nil || !cont {
				return err
			}
		}
		return nil
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes the snapshot from a single read transaction.
func (b *boltImpl) Save(w io.Writer) error {
	return mapErr(b.db.View(func(tx *bolt.Tx) error {
		return db.SaveView(w, viewIterate(tx))
	}))
}

// Load recreates the bucket inside one transaction.
func (b *boltImpl) Load(r io.Reader) error {
	return mapErr(b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(bucketName)
		if err != nil {
			return err
		}
		return db.ReadSnapshot(r, func(key, value []byte) error {
			return bucket.Put(key, value)
		})
	}))
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

func (b *boltImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

func (b *boltImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplBolt,
		SupportedFeatures: db.Features(supportedFeatures),
	}
	err := b.db.View(func(tx *bolt.Tx) error {
		stats, keys, _, err := util.SampleSizes(viewIterate(tx), infoSampleEntries)
		if err != nil {
			return err
		}
		info.Keys = keys
		info.SizeBytes = int(tx.Size())
		info.Metadata = struct {
			Path       string         `json:"path"`
			ValueSizes util.SizeStats `json:"value_sizes"`
			Depth      int            `json:"depth"`
		}{
			Path:       b.path,
			ValueSizes: stats,
			Depth:      tx.Bucket(bucketName).Stats().Depth,
		}
		return nil
	})
	if err != nil {
		info.Metadata = map[string]string{"error": mapErr(err).Error()}
	}
	return info
}

func (b *boltImpl) Close() error {
	return b.db.Close()
}

func mapErr(err error) error {
	if err == bolt.ErrDatabaseNotOpen {
		return db.ErrClosed
	}
	return err
}
