package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/serializer"
	"github.com/ValentinKolb/layerkv/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a store.IStore that forwards every operation to the shard
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Get(ctx context.Context, tx *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	resp, err := s.invoke(ctx, common.NewGetRequest(tx, keys))
	if err != nil {
		return nil, err
	}
	entities, err := resp.DecodeEntities()
	if err != nil {
		return nil, err
	}
	found := make(map[string]*entity.Entity, len(entities))
	for _, e := range entities {
		found[e.Key.MapKey()] = e
	}
	return found, nil
}

func (s *rpcStore) Put(ctx context.Context, tx *store.Tx, entities []*entity.Entity) ([]*entity.Key, error) {
	req, err := common.NewPutRequest(tx, entities)
	if err != nil {
		return nil, store.AsError(err)
	}
	resp, err := s.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.DecodeKeys()
}

func (s *rpcStore) Delete(ctx context.Context, tx *store.Tx, keys []*entity.Key) error {
	_, err := s.invoke(ctx, common.NewDeleteRequest(tx, keys))
	return err
}

// Run validates the query and fetches the first page, so errors of the
// remote store surface here. Later pages are fetched on demand.
func (s *rpcStore) Run(ctx context.Context, tx *store.Tx, q query.Query) (query.Iterator, error) {
	if err := q.Validate(); err != nil {
		return nil, store.NewError(store.RetCInvalidArgument, err.Error())
	}
	it, err := newPagingIterator(s, tx, q)
	if err != nil {
		return nil, err
	}
	if err := it.fetch(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *rpcStore) Count(ctx context.Context, tx *store.Tx, q query.Query) (int, error) {
	req, err := common.NewCountRequest(tx, q)
	if err != nil {
		return 0, store.AsError(err)
	}
	resp, err := s.invoke(ctx, req)
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (s *rpcStore) AllocateIDs(ctx context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error) {
	resp, err := s.invoke(ctx, common.NewAllocateRequest(parent, kind, n))
	if err != nil {
		return entity.IDRange{}, err
	}
	return entity.IDRange{Start: resp.Start, Count: int(resp.Count)}, nil
}

// GetDBInfo returns the info of the database behind the remote shard
func (s *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	timeout := time.Duration(max(s.config.TimeoutSecond, 1)) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := s.invoke(ctx, common.NewInfoRequest())
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	return resp.DecodeInfo()
}

// Close closes the transport, the remote store stays open
func (s *rpcStore) Close() error {
	return s.transport.Close()
}
