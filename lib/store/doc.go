// Package store provides the high-level interface for entity storage: batched
// get, put and delete by key, queries that stream results through an
// iterator, query counts and numeric id allocation. It is the contract every
// layer of the system speaks, from a single local database up to the overlay
// that composes two stores into one.
//
// Key Components:
//
//   - IStore Interface: The core abstraction. All implementations share it, so
//     an overlay can be stacked on a local store, on a raft replicated store or
//     on a remote store served by another process without code changes.
//
//   - Tx: An opaque transaction token. Stores without transaction support
//     accept and ignore it, layering stores forward it to their collaborators.
//
//   - Error System: A structured error type carrying a RetCode and a message.
//     Errors can be matched with errors.Is against the exported sentinels
//     (ErrNotFound, ErrInvalidArgument, ...), which compare by code only, and
//     RetCodes survive the trip over the network unchanged.
//
//   - DBFactory: A function type that abstracts the creation of the underlying
//     db.KVDB, so the storage engine is picked at configuration time.
//
// Implementations:
//
//	- Local Store (lstore): maps entities onto one ordered db.KVDB.
//
//	- Distributed Store (dstore): runs a local store inside a dragonboat raft
//	  state machine, replicated and linearizable.
//
//	- Remote Store (rpc/client): forwards every call to a server over the
//	  configured transport.
//
//	- Overlay (lib/overlay): a copy-on-write layer that combines a writable
//	  overlay store with a read-only base store.
//
// Implementations are verified against the shared conformance suite in the
// store/testing package.
package store
