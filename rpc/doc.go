// Package rpc makes entity stores reachable over the network. A client built
// with rpc/client implements store.IStore, so a remote store can be used
// wherever a local one can, including as the base of an overlay.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, the server and client configuration and
//     the logger factory.
//
//   - transport: network abstractions. The http implementation serves one
//     POST endpoint per shard and the Prometheus metrics.
//
//   - serializer: Message encodings (msgpack, JSON, GOB).
//
//   - client: the store.IStore implementation that forwards calls to a
//     server and pages query results.
//
//   - server: creates the configured shards and dispatches messages to them.
package rpc
