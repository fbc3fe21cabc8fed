// Package server implements the RPC server of the entity store. It creates
// the stores of every configured shard and routes incoming messages to them.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a decoded common.Message into a call on a
//     store.IStore and builds the response message. NewIStoreServerAdapter is
//     the only adapter, it is used for every shard type.
//
//   - RPCServer: owns the shards, the optional dragonboat NodeHost and the
//     transport. Handle is the transport handler; unknown shards and messages
//     that cannot be decoded are answered with an error message.
//
// The server supports three types of shards, which can be mixed within a single server:
//
//   - lstore: a local store on a memory, pebble or bolt engine.
//
//   - dstore: a raft replicated store. The RAFT parameters (RTTMillisecond,
//     SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and
//     ClusterMembers) must be set when such a shard is configured.
//
//   - overlay(BASE): a fresh in-memory overlay over another shard of the same
//     server. Writes go to the overlay, reads merge the overlay with the base.
//     Overlays are created after all other shards and closed before them.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocal, Engine: common.EngineMemory},
//	    {ShardID: 200, Type: common.ShardTypeOverlay, Base: 100},
//	  },
//	  Endpoint:      "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, http.NewHttpServerTransport(), serializer.NewMsgpackSerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Query results are returned as a single page per request. The client pages
// by offset, so the server holds no iterator state between requests.
package server
