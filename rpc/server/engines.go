package server

import (
	"fmt"

	"github.com/ValentinKolb/layerkv/lib/db"
	"github.com/ValentinKolb/layerkv/lib/db/engines/bolt"
	"github.com/ValentinKolb/layerkv/lib/db/engines/memory"
	"github.com/ValentinKolb/layerkv/lib/db/engines/pebble"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/common"
)

// dbFactoryFor returns the factory of the database configured for a shard
func dbFactoryFor(shard common.ServerShard) (store.DBFactory, error) {
	switch shard.Engine {
	case common.EngineMemory, "":
		return func() (db.KVDB, error) { return memory.NewMemoryDB(nil), nil }, nil
	case common.EnginePebble:
		return func() (db.KVDB, error) { return pebble.NewPebbleDB(&pebble.DBOptions{Dir: shard.Path}) }, nil
	case common.EngineBolt:
		return func() (db.KVDB, error) { return bolt.NewBoltDB(&bolt.DBOptions{Path: shard.Path}) }, nil
	default:
		return nil, fmt.Errorf("unknown engine %q for shard %d", shard.Engine, shard.ShardID)
	}
}
