package db

import (
	"errors"
	"io"
)

// ErrClosed is returned by every operation on a closed database.
var ErrClosed = errors.New("db: database closed")

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplPebble Implementation = "pebble"
	ImplBolt   Implementation = "bolt"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet        Feature = 1 << iota // Support for Set operations
	FeatureGet                            // Support for Get operations
	FeatureDelete                         // Support for Delete operations
	FeatureHas                            // Support for Has operations
	FeatureBatch                          // Support for atomic Batch writes
	FeatureIterate                        // Support for ordered range iteration
	FeatureSave                           // Support for Save operations
	FeatureLoad                           // Support for Load operations
	FeaturePersistent                     // Data survives a restart of the process
)

var allFeatures = []Feature{
	FeatureSet, FeatureGet, FeatureDelete, FeatureHas, FeatureBatch,
	FeatureIterate, FeatureSave, FeatureLoad, FeaturePersistent,
}

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureHas:
		return "Has"
	case FeatureBatch:
		return "Batch"
	case FeatureIterate:
		return "Iterate"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

// Features splits a feature mask into its single flags.
func Features(mask Feature) []Feature {
	var out []Feature
	for _, f := range allFeatures {
		if mask&f == f {
			out = append(out, f)
		}
	}
	return out
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Keys              int            `json:"keys"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Writer collects the writes of a batch.
type Writer interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

// KVDB defines an interface for ordered key-value database implementations.
// Keys and values are raw bytes, keys are ordered by bytes.Compare.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
//
// Implementations copy keys and values passed in. Slices handed out by Get
// belong to the caller, slices passed to an Iterate callback are only valid
// during the callback.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry. If the key already exists, the old value is overwritten.
	Set(key, value []byte) error

	// Delete removes the entry with the specified key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Batch runs fn and applies all writes made through the Writer atomically
	// once fn returns nil. If fn returns an error, nothing is written.
	Batch(fn func(w Writer) error) error

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key []byte) (value []byte, loaded bool, err error)

	// Has checks whether a key exists in the database.
	Has(key []byte) (loaded bool, err error)

	// Iterate calls fn for every entry with start <= key < end in key order.
	// A nil end means no upper bound. Iteration stops when fn returns false or an error.
	Iterate(start, end []byte, fn func(key, value []byte) (bool, error)) error

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer
	// using the snapshot format of this package (see WriteSnapshot).
	Save(w io.Writer) (err error)

	// Load replaces the database state with the snapshot provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}
