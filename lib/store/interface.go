package store

import (
	"context"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// Tx is an opaque transaction token. Stores that do not implement
// transactions ignore it, layering stores forward it unchanged to their
// collaborators. A nil *Tx means "no transaction".
type Tx struct {
	ID uuid.UUID
}

// NewTx creates a token with a fresh random id.
func NewTx() *Tx {
	return &Tx{ID: uuid.New()}
}

func (tx *Tx) String() string {
	if tx == nil {
		return "<no tx>"
	}
	return tx.ID.String()
}

// IStore is the generic interface for interacting with an entity store.
// All operations return a *Error (nil on success) for failures the store
// detects itself. Errors of collaborators (network, disk) are passed through.
type IStore interface {
	// Get returns the entities stored under the given keys, indexed by
	// Key.MapKey(). Missing keys are absent from the result, this is not an error.
	Get(ctx context.Context, tx *Tx, keys []*entity.Key) (map[string]*entity.Entity, error)

	// Put inserts or replaces the entities and returns their keys in input
	// order. Stores assign nothing: every key must be complete, otherwise the
	// call fails with RetCInvalidArgument.
	Put(ctx context.Context, tx *Tx, entities []*entity.Entity) ([]*entity.Key, error)

	// Delete removes the entities with the given keys. Missing keys are ignored.
	Delete(ctx context.Context, tx *Tx, keys []*entity.Key) error

	// Run starts a query and returns a stream of results in query order.
	// The caller must close the iterator.
	Run(ctx context.Context, tx *Tx, q query.Query) (query.Iterator, error)

	// Count returns the number of results of a query, honoring offset and limit.
	Count(ctx context.Context, tx *Tx, q query.Query) (int, error)

	// AllocateIDs reserves n consecutive numeric ids for keys of the given
	// kind below parent (nil for root keys). Ids are never handed out twice.
	AllocateIDs(ctx context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error)

	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)

	// Close releases the resources of the store.
	Close() error
}
