// Package dstore implements a raft replicated entity store on top of
// Dragonboat. Every replica runs an EntityStateMachine that owns a local
// store (lstore) on its own db.KVDB, the store returned by
// NewDistributedStore turns store.IStore calls into proposals and reads.
//
// Writes:
//
//	Put, Delete and AllocateIDs are encoded as an internal.Command (msgpack)
//	and proposed with SyncPropose. Once committed every replica applies the
//	command in EntityStateMachine.Update. Put needs complete keys: the state
//	machine can not allocate ids on its own, since every replica has to end
//	up with the same keys. Callers complete keys through AllocateIDs first,
//	which is itself a command, so counters advance identically everywhere
//	and an id is never handed out twice across leader changes.
//
// Reads:
//
//	Get, Run and Count are an internal.Query passed to SyncRead, which waits
//	until the local replica has applied everything committed before the read.
//	Run materializes the page on the replica, the returned iterator is a
//	query.SliceIterator with offset cursors. GetDBInfo uses StaleRead.
//
// Busy shards:
//
//	ErrSystemBusy from dragonboat is retried a few times, pausing a tenth of
//	the store's timeout in between. Other errors become a *store.Error.
//
// Snapshots:
//
//	The state machine snapshots by streaming its db.KVDB through the engine's
//	Save and Load (see db.WriteSnapshot), so any engine works as replica storage.
//
// Usage:
//
//	nh, _ := dragonboat.NewNodeHost(nhConfig)
//	_ = nh.StartConcurrentReplica(members, false, dstore.CreateStateMachineFactory(factory), rc)
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
