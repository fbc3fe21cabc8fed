// Package client implements store.IStore on top of the RPC layer, so a
// remote shard can be used wherever a store is expected. In particular a
// remote store can serve as the read-only base of a local overlay:
//
//	base, _ := client.NewRPCStore(100, common.ClientConfig{
//		Endpoints:     []string{"http://localhost:8080"},
//		TimeoutSecond: 5,
//		RetryCount:    3,
//	}, http.NewHttpClientTransport(), serializer.NewMsgpackSerializer())
//
//	o := overlay.New(lstore.New(memory.NewMemoryDB(nil)), base)
//
// Failures reported by the server come back as *store.Error with the
// original return code, so errors.Is(err, store.ErrNotFound) and friends work
// across the network.
//
// Queries are paged: Run fetches the first page eagerly (so errors show up
// at Run) and the iterator requests the next page once the buffer is empty.
// The page size is the chunk size of the query, else ClientConfig.PageSize
// (default 100). Pages are addressed by offset, or by cursor position if the
// query was started at a cursor. Iterator cursors are available if the
// remote store supports them.
//
// Thread Safety:
//
//	The store is safe for concurrent use. Iterators are not.
package client
