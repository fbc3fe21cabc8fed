package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/layerkv/lib/db/engines/memory"
	"github.com/ValentinKolb/layerkv/lib/overlay"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/lib/store/dstore"
	"github.com/ValentinKolb/layerkv/lib/store/lstore"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/serializer"
	"github.com/ValentinKolb/layerkv/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the store it encapsulates and the adapter
// that handles requests for the store
type serverShard struct {
	Config  common.ServerShard
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewMsgpackSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost
}

// Handle decodes a request, lets the adapter of the addressed shard handle it
// and encodes the response. Failures that happen before a shard is reached
// are answered with a MsgTError message.
func (s *RPCServer) Handle(ctx context.Context, shardId uint64, req []byte) []byte {
	var respMsg *common.Message

	if shard, ok := s.shards.Load(shardId); !ok {
		respMsg = common.NewFailureResponse(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardId))
	} else {
		var msg common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewFailureResponse(store.RetCInvalidArgument, fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = shard.Adapter.Handle(ctx, &msg, shard.Store)
		}
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response for shard %d: %v", shardId, err)
		val, _ = s.serializer.Serialize(*common.NewFailureResponse(store.RetCInternalError, fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// Start creates the stores of all configured shards and registers Handle with
// the transport. Overlay shards are created last since they read through to
// another shard.
func (s *RPCServer) Start() error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	// Only create the NodeHost if we have raft shards
	if s.config.HasRaftShard() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	for _, shardConfig := range s.config.Shards {
		var st store.IStore
		switch shardConfig.Type {
		case common.ShardTypeLocal:
			factory, err := dbFactoryFor(shardConfig)
			if err != nil {
				return err
			}
			if st, err = lstore.NewLocalStore(factory); err != nil {
				return fmt.Errorf("failed to create store for shard %d: %w", shardConfig.ShardID, err)
			}

		case common.ShardTypeRaft:
			factory, err := dbFactoryFor(shardConfig)
			if err != nil {
				return err
			}
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, dstore.CreateStateMachineFactory(factory), s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return fmt.Errorf("failed to start shard %d: %w", shardConfig.ShardID, err)
			}
			st = dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, timeout)

		case common.ShardTypeOverlay:
			continue

		default:
			return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		s.register(shardConfig, st)
	}

	for _, shardConfig := range s.config.Shards {
		if shardConfig.Type != common.ShardTypeOverlay {
			continue
		}
		base, ok := s.shards.Load(shardConfig.Base)
		if !ok {
			return fmt.Errorf("base shard %d of overlay %d is not served", shardConfig.Base, shardConfig.ShardID)
		}
		s.register(shardConfig, overlay.New(
			lstore.New(memory.NewMemoryDB(nil)),
			base.Store,
			overlay.WithStrictConflictCheck(s.config.StrictConflictCheck),
			overlay.WithMaxConcurrentAllocations(s.config.MaxAllocations),
		))
	}

	Logger.Infof("layerKV setup completed successfully")

	// Configure the transport layer
	s.transport.RegisterHandler(s.Handle)

	return nil
}

func (s *RPCServer) register(config common.ServerShard, st store.IStore) {
	s.shards.Store(config.ShardID, serverShard{
		Config:  config,
		Store:   st,
		Adapter: NewIStoreServerAdapter(),
	})
	Logger.Infof("created %s for shard %d", config.String(), config.ShardID)
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards (see Start) and start the transport layer
func (s *RPCServer) Serve() error {
	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", s.config.String())

	if err := s.Start(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Close closes the stores of all shards (overlays first) and stops the node host.
func (s *RPCServer) Close() error {
	var errs []error
	closeShards := func(overlays bool) {
		s.shards.Range(func(id uint64, shard serverShard) bool {
			if (shard.Config.Type == common.ShardTypeOverlay) == overlays {
				if err := shard.Store.Close(); err != nil {
					errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
				}
				s.shards.Delete(id)
			}
			return true
		})
	}
	closeShards(true)
	closeShards(false)
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}
