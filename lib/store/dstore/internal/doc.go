// Package internal provides the communication protocol structures for the
// dstore package. It defines the format used to transmit operations between
// the store client and the replicated state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Defines write operations (Put, Delete, Allocate) that modify the
//     state of the store. Commands are serialized with msgpack and proposed to the RAFT
//     cluster, executed on the state machine, and produce results that are returned to
//     the client. Entities and keys inside a command use the binary encoding of the
//     entity package, so the RAFT log does not depend on Go types.
//
//   - Query System: Defines read operations (Get, Run, Count, GetDBInfo) that retrieve
//     data without modifying it. Queries are executed locally on the state machine
//     and therefore do not require serialization.
//
// Type Mapping:
//
//	The package maps command types to the db.Feature flags they require, which the
//	state machine checks before applying a command.
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization. However, this is not
//	typically an issue as the RAFT protocol ensures sequential processing of
//	commands on the state machine.
package internal
