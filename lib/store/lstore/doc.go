// Package lstore implements a local, single-node entity store based on the
// store.IStore interface. It maps entities, a kind index and id counters onto
// any ordered db.KVDB implementation, so it runs in memory or persistent
// depending on the engine the store.DBFactory creates.
//
// Key Features:
//   - Atomic multi-entity Put and Delete through db.KVDB.Batch
//   - Kind and ancestor queries as prefix scans in native key order
//   - Property filters, sort orders, projection, offset/limit and offset cursors
//   - Monotonic per (parent, kind) id allocation starting at 1
//   - Feature detection to handle unsupported engine operations gracefully
//
// Implementation Details:
//
//   - Storage Layout: see layout.go. Entity rows and the kind index are keyed
//     by the order preserving key encoding, so no sort is needed for queries
//     without sort orders and such queries stop scanning once the page is full.
//
//   - Queries with sort orders are materialized and sorted with the query's
//     comparator before offset and limit are applied.
//
//   - Id Allocation: every (parent, kind) counter has its own mutex (kept in an
//     xsync.MapOf), allocations for different groups do not contend.
//
// Transactions are not implemented: the tx token is accepted and ignored.
//
// Usage Example:
//
//	s, err := lstore.NewLocalStore(func() (db.KVDB, error) {
//		return pebble.NewPebbleDB(&pebble.DBOptions{Dir: "/var/lib/lkv"})
//	})
//
//	keys, err := s.Put(ctx, nil, []*entity.Entity{user})
//	it, err := s.Run(ctx, nil, query.New("Post").WithAncestor(user.Key))
//
// For replicated scenarios, use the dstore package, which runs this store
// inside a raft state machine.
package lstore
