// Package overlay implements a copy-on-write layer over an entity store. An
// overlay combines two store.IStore collaborators: the layer, which receives
// every mutation, and the base, which is read but never written. Callers see
// the composed view:
//
//	view(K) = tombstone(K) in layer ? absent : K in layer ? layer[K] : base[K]
//
// The overlay is itself a store.IStore, so it can be served like any other
// store or used as the base of another overlay.
//
// Components:
//
//   - Tombstone Codec (tombstone.go): a delete is recorded as a marker record
//     stored at a reserved child key of the deleted key. Tombstones are
//     permanent, a later put of the key removes the marker again.
//
//   - Identifier Allocation Batcher (alloc.go): entities with incomplete keys
//     are grouped by (parent, kind), one id range is requested from the base
//     store per group (the groups concurrently), and the ids are assigned in
//     input order. Ids always come from the base store's id space, so ids of
//     different overlays over the same base never collide.
//
//   - Mutation Coordinator (overlay.go): Get, Put, Delete and the transaction
//     bound views created by WithTx.
//
//   - Merge Query Engine (merge.go): a query runs unpaged against both stores
//     and the two sorted streams are merged chunk by chunk. Base rows that the
//     layer has a record or a tombstone for are dropped, so the overlay always
//     wins. Offset and limit are applied to the merged stream.
//
//   - Futures (future.go): lazy, memoized non-blocking variants of the
//     operations. They run exactly the blocking code path on first Await.
//
// Conflict Check:
//
//	Dropping shadowed base rows needs a lookup in the layer for every chunk
//	pulled from the base. If that lookup fails the query continues as if the
//	layer had no records for the chunk (logged and counted in
//	layerkv_overlay_conflict_check_failures_total), which may surface stale
//	base rows. WithStrictConflictCheck(true) turns the failure into a query error.
//
// Limitations:
//
//   - Merged iterators have no cursor. Cursor() and queries with a start
//     cursor fail with store.RetCUnsupportedOperation.
//   - Tombstones are never compacted.
//   - A single put or delete issues several calls to the layer. The layer's
//     own transaction support (via the forwarded tx token) decides whether
//     they are atomic. Without it, an interrupted delete leaves the key
//     deleted and an interrupted put may leave the tombstone in place.
//
// Usage Example:
//
//	base := lstore.New(pebbleDB)
//	o := overlay.New(lstore.New(memory.NewMemoryDB(nil)), base)
//
//	keys, err := o.Put(ctx, nil, []*entity.Entity{draft})
//	err = o.Delete(ctx, nil, []*entity.Key{obsolete})
//
//	it, err := o.Run(ctx, nil, query.New("Post").Order("created").WithLimit(20))
//	posts, err := query.Drain(ctx, it)
package overlay
