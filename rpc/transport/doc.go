// Package transport defines the contract between the RPC server/client and
// the wire. A transport moves opaque byte payloads addressed to a shard id;
// it knows nothing about messages or stores.
//
// Key Components:
//
//   - IRPCClientTransport: connection management and request sending.
//
//   - IRPCServerTransport: receives requests and hands them to the registered
//     ServerHandleFunc together with the shard id and the request context.
//
// The only implementation is the HTTP transport in the http subpackage.
package transport
