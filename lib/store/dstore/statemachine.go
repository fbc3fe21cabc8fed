package dstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/lib/store/dstore/internal"
	"github.com/ValentinKolb/layerkv/lib/store/lstore"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// EntityStateMachine is a state machine implementation for Dragonboat RAFT.
// Every replica holds a local store; committed commands are applied to it in
// log order, lookups read from it directly.
type EntityStateMachine struct {
	replicaID uint64
	shardID   uint64
	store     *lstore.Store
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory.
// Dragonboat offers no way to report a failed creation, so a failing factory panics.
func CreateStateMachineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		fsm, err := NewStateMachine(dbFactory, shardID, replicaID)
		if err != nil {
			panic(fmt.Sprintf("shard %d replica %d: %v", shardID, replicaID, err))
		}
		return fsm
	}
}

// NewStateMachine creates the state machine of a single replica.
func NewStateMachine(dbFactory store.DBFactory, shardID, replicaID uint64) (*EntityStateMachine, error) {
	d, err := dbFactory()
	if err != nil {
		return nil, fmt.Errorf("create database: %w", err)
	}
	return &EntityStateMachine{
		replicaID: replicaID,
		shardID:   shardID,
		store:     lstore.New(d),
	}, nil
}

// Lookup handles read-only queries by mapping each Query operation to the local store.
func (fsm *EntityStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	ctx := context.Background()

	// Handle different Query types
	switch q.Type {
	case internal.QueryTGet:
		return fsm.store.Get(ctx, nil, q.Keys)
	case internal.QueryTRun:
		it, err := fsm.store.Run(ctx, nil, q.Query)
		if err != nil {
			return nil, err
		}
		cursor, err := it.Cursor()
		if err != nil {
			it.Close()
			return nil, err
		}
		origin, err := cursor.Position()
		if err != nil {
			it.Close()
			return nil, err
		}
		items, err := query.Drain(ctx, it)
		if err != nil {
			return nil, err
		}
		return internal.RunResult{Items: items, Origin: origin}, nil
	case internal.QueryTCount:
		return fsm.store.Count(ctx, nil, q.Query)
	case internal.QueryTGetDBInfo:
		return fsm.store.GetDBInfo()
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update handles write commands on the local store.
// All write operations are serialized into []byte and are accessible via the entries struct.
func (fsm *EntityStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		entries[idx].Result = fsm.apply(e.Cmd)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes a single raft log entry. Failures are reported to the
// proposer through the result and never stop the state machine.
func (fsm *EntityStateMachine) apply(data []byte) sm.Result {
	cmd := internal.Command{}
	if err := cmd.Deserialize(data); err != nil {
		return failure(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize command: %v", err))
	}

	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
	if !fsm.store.DB().SupportsFeature(feat) {
		return failure(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not supported", cmd.Type))
	}

	ctx := context.Background()
	switch cmd.Type {
	case internal.CommandTPut:
		entities, err := entity.UnmarshalAll(cmd.Entities)
		if err != nil {
			return failure(store.RetCInvalidArgument, err.Error())
		}
		if _, err := fsm.store.Put(ctx, nil, entities); err != nil {
			return failureOf(err)
		}
		return sm.Result{Value: uint64(store.RetCSuccess)}
	case internal.CommandTDelete:
		keys, err := entity.DecodeKeys(cmd.Keys)
		if err != nil {
			return failure(store.RetCInvalidArgument, err.Error())
		}
		if err := fsm.store.Delete(ctx, nil, keys); err != nil {
			return failureOf(err)
		}
		return sm.Result{Value: uint64(store.RetCSuccess)}
	case internal.CommandTAllocate:
		parent, err := cmd.ParentKey()
		if err != nil {
			return failure(store.RetCInvalidArgument, err.Error())
		}
		r, err := fsm.store.AllocateIDs(ctx, parent, cmd.Kind, cmd.Count)
		if err != nil {
			return failureOf(err)
		}
		return sm.Result{
			Value: uint64(store.RetCSuccess),
			Data:  binary.BigEndian.AppendUint64(nil, uint64(r.Start)),
		}
	default:
		return failure(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

func failure(code store.RetCode, msg string) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(msg)}
}

func failureOf(err error) sm.Result {
	return failure(store.CodeOf(err), err.Error())
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *EntityStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *EntityStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.store.DB().SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implementation does not support Save() operations")
	}
	return fsm.store.DB().Save(writer)
}

// RecoverFromSnapshot replaces the replica's data with the snapshot content.
func (fsm *EntityStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.store.DB().SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implementation does not support Load() operations")
	}
	return fsm.store.DB().Load(r)
}

// Close performs any necessary cleanup.
func (fsm *EntityStateMachine) Close() error {
	return fsm.store.Close()
}
