// Package common provides the data structures shared by the RPC server and
// client: the message protocol, the configuration structs and the logger
// factory installed into dragonboat.
//
// Key Components:
//
//   - Message: the single request/response structure of the protocol. Keys,
//     entities and queries are carried in their msgpack encoding (see the
//     entity and query packages) so that every serializer moves them as opaque
//     bytes. Failed operations keep their store.RetCode in the Code field and
//     Message.Failure turns it back into a *store.Error on the client side.
//
//   - MessageType: the operations of the entity store protocol (Get, Put,
//     Delete, Query, Count, Allocate, Info) plus control messages.
//
//   - ServerConfig / ServerShard: the shards a server exposes. A shard is a
//     local store (lstore), a raft replicated store (dstore), or an overlay
//     that layers a fresh in-memory store over another shard:
//
//     100=lstore(pebble:data/100),200=overlay(100)
//
//   - ClientConfig: endpoints, timeout, retries and the query page size.
//
//   - Logger: CreateLogger is a dragonboat logger.Factory with a fixed
//     "LEVEL | name | message" format, InitLoggers installs it and sets the
//     level of the dragonboat and application loggers.
package common
