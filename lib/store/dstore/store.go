package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the store.IStore interface.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write serializes a Command and sends it via SyncPropose.
// It returns the data of the state machine result, or a *store.Error.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) ([]byte, error) {
	data, err := cmd.Serialize()
	if err != nil {
		return nil, store.NewError(store.RetCInvalidArgument, err.Error())
	}

	for i := 0; i < retries; i++ {
		tctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(tctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if err := sleep(ctx, s.timeout/10); err != nil {
				return nil, err
			}
			continue
		}

		if err != nil {
			return nil, store.NewError(store.RetCInternalError, err.Error())
		}
		if res.Value != uint64(store.RetCSuccess) {
			return nil, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		return res.Data, nil
	}
	return nil, store.NewError(store.RetCInternalError, "timeout")
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](ctx context.Context, r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			tctx, cancel := context.WithTimeout(ctx, r.timeout)
			res, err = r.nh.SyncRead(tctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if err := sleep(ctx, r.timeout/10); err != nil {
				return zero, err
			}
			continue
		}

		if err != nil {
			var se *store.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, store.NewError(store.CodeOf(err), err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCInternalError, "timeout")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(ctx context.Context, _ *store.Tx, keys []*entity.Key) (map[string]*entity.Entity, error) {
	return read[map[string]*entity.Entity](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Keys: keys,
	}, false)
}

func (s *storeImpl) Put(ctx context.Context, _ *store.Tx, entities []*entity.Entity) ([]*entity.Key, error) {
	keys := make([]*entity.Key, len(entities))
	for i, e := range entities {
		if e == nil || e.Key == nil {
			return nil, store.NewError(store.RetCInvalidArgument, "entity without key")
		}
		if !e.Key.Complete() {
			return nil, store.Errorf(store.RetCInvalidArgument, "incomplete key %s", e.Key)
		}
		keys[i] = e.Key
	}
	cmd, err := internal.NewPutCommand(entities)
	if err != nil {
		return nil, store.NewError(store.RetCInvalidArgument, err.Error())
	}
	if _, err := s.write(ctx, cmd); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *storeImpl) Delete(ctx context.Context, _ *store.Tx, keys []*entity.Key) error {
	cmd, err := internal.NewDeleteCommand(keys)
	if err != nil {
		return store.NewError(store.RetCInvalidArgument, err.Error())
	}
	_, err = s.write(ctx, cmd)
	return err
}

func (s *storeImpl) Run(ctx context.Context, _ *store.Tx, q query.Query) (query.Iterator, error) {
	res, err := read[internal.RunResult](ctx, s, internal.Query{
		Type:  internal.QueryTRun,
		Query: q,
	}, false)
	if err != nil {
		return nil, err
	}
	return query.NewSliceIterator(res.Items, res.Origin), nil
}

func (s *storeImpl) Count(ctx context.Context, _ *store.Tx, q query.Query) (int, error) {
	return read[int](ctx, s, internal.Query{
		Type:  internal.QueryTCount,
		Query: q,
	}, false)
}

func (s *storeImpl) AllocateIDs(ctx context.Context, parent *entity.Key, kind string, n int) (entity.IDRange, error) {
	data, err := s.write(ctx, internal.NewAllocateCommand(parent, kind, n))
	if err != nil {
		return entity.IDRange{}, err
	}
	if len(data) != 8 {
		return entity.IDRange{}, store.Errorf(store.RetCInternalError, "malformed allocation result (%d bytes)", len(data))
	}
	return entity.IDRange{Start: int64(binary.BigEndian.Uint64(data)), Count: n}, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		context.Background(),
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close is a no-op: the node host and its replicas are owned by the server
// that started them.
func (s *storeImpl) Close() error {
	return nil
}
