// Package db provides a standardized interface for ordered key-value database implementations.
// It defines the KVDB interface that the entity stores (lib/store/lstore) are built on,
// so that the storage backend can be swapped without touching the store logic.
//
// The package focuses on:
//   - A unified interface for byte key-value operations with ordered range iteration
//   - Atomic multi-key writes through Batch
//   - Feature discovery through capability flags
//   - A shared snapshot format used by all engines for Save and Load
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides methods for basic operations (Set, Get, Has, Delete), atomic batches (Batch),
//     ordered scans (Iterate), metadata retrieval (GetInfo) and persistence (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Implementation Identifiers: The Implementation type provides string constants
//     for the database backends ("memory", "pebble", "bolt").
//
//   - Snapshot Format: WriteSnapshot / ReadSnapshot / SaveView implement the binary
//     snapshot layout. Because the layout is shared, snapshots are portable between engines.
//
// Related Packages:
//
// The engines/memory package provides an in-memory engine on a copy-on-write B-tree
// (github.com/google/btree). Saves run against a cheap clone of the tree and do not block writers.
//
// The engines/pebble package provides a persistent LSM engine on github.com/cockroachdb/pebble.
//
// The engines/bolt package provides a persistent B+tree engine on go.etcd.io/bbolt.
//
// The testing package (github.com/ValentinKolb/layerkv/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
