// Package testing provides the conformance suite for store.IStore
// implementations. Every store (local, raft replicated, remote and the
// overlay itself) runs the same suite:
//
//	storetesting.RunStoreTests(t, "LocalStore", func() store.IStore {
//		return lstore.New(memory.NewMemoryDB(nil))
//	})
package testing
