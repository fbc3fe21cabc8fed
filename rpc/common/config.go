package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Shard configuration
// --------------------------------------------------------------------------

type ServerShardType string

const (
	// ShardTypeLocal serves a local entity store on the shard's engine
	ShardTypeLocal ServerShardType = "lstore"
	// ShardTypeRaft serves a raft replicated entity store on the shard's engine
	ShardTypeRaft ServerShardType = "dstore"
	// ShardTypeOverlay serves a fresh in-memory overlay over another shard of the same server
	ShardTypeOverlay ServerShardType = "overlay"
)

// Engine names accepted in shard definitions
const (
	EngineMemory = "memory"
	EnginePebble = "pebble"
	EngineBolt   = "bolt"
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the kind of store served for the shard
	Type ServerShardType
	// Engine selects the database of lstore and dstore shards (memory, pebble or bolt)
	Engine string
	// Path is the directory (pebble) or file (bolt) of persistent engines
	Path string
	// Base is the shard an overlay shard reads through to
	Base uint64
}

// ParseServerShard parses a shard definition of the format ID=TYPE where TYPE is
// one of lstore, lstore(ENGINE), dstore, dstore(ENGINE) or overlay(BASE_ID).
// ENGINE is memory, pebble:<dir> or bolt:<file>.
//
// Examples: 100=lstore, 101=lstore(pebble:data/101), 200=dstore, 300=overlay(100)
func ParseServerShard(def string) (ServerShard, error) {
	id, typ, ok := strings.Cut(def, "=")
	if !ok {
		return ServerShard{}, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", def)
	}

	shardID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return ServerShard{}, fmt.Errorf("invalid shard ID %s: %v", id, err)
	}
	shard := ServerShard{ShardID: shardID, Engine: EngineMemory}

	typ = strings.TrimSpace(typ)
	name, arg := typ, ""
	if open := strings.IndexByte(typ, '('); open >= 0 {
		if !strings.HasSuffix(typ, ")") {
			return ServerShard{}, fmt.Errorf("invalid shard type: %s (missing closing parenthesis)", typ)
		}
		name, arg = typ[:open], typ[open+1:len(typ)-1]
	}

	switch ServerShardType(name) {
	case ShardTypeLocal, ShardTypeRaft:
		shard.Type = ServerShardType(name)
		if arg != "" {
			engine, path, _ := strings.Cut(arg, ":")
			switch engine {
			case EngineMemory:
			case EnginePebble, EngineBolt:
				if path == "" {
					return ServerShard{}, fmt.Errorf("engine %s of shard %d needs a path (%s:<path>)", engine, shardID, engine)
				}
			default:
				return ServerShard{}, fmt.Errorf("invalid engine: %s (expected one of: memory, pebble:<dir>, bolt:<file>)", engine)
			}
			shard.Engine, shard.Path = engine, path
		}
	case ShardTypeOverlay:
		shard.Type = ShardTypeOverlay
		base, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 64)
		if err != nil {
			return ServerShard{}, fmt.Errorf("invalid base shard of overlay %d: %q", shardID, arg)
		}
		if base == shardID {
			return ServerShard{}, fmt.Errorf("overlay shard %d cannot use itself as base", shardID)
		}
		shard.Base = base
	default:
		return ServerShard{}, fmt.Errorf("invalid shard type: %s (expected one of: lstore, dstore, overlay(BASE_ID))", typ)
	}
	return shard, nil
}

// String returns the shard definition in the format accepted by ParseServerShard
func (s ServerShard) String() string {
	switch s.Type {
	case ShardTypeOverlay:
		return fmt.Sprintf("%d=overlay(%d)", s.ShardID, s.Base)
	default:
		engine := s.Engine
		if s.Path != "" {
			engine += ":" + s.Path
		}
		return fmt.Sprintf("%d=%s(%s)", s.ShardID, s.Type, engine)
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the server and the RAFT cluster.
type ServerConfig struct {
	// Shards served by this server
	Shards []ServerShard

	// Dragenboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote store parameters
	TimeoutSecond int64

	// overlay parameters
	StrictConflictCheck bool
	MaxAllocations      int

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasRaftShard checks if the configuration contains any raft replicated shards
func (c *ServerConfig) HasRaftShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeRaft {
			return true
		}
	}
	return false
}

// Validate checks that every overlay shard reads through to a non-overlay
// shard of the same server and that shard ids are unique.
func (c *ServerConfig) Validate() error {
	byID := make(map[uint64]ServerShard, len(c.Shards))
	for _, shard := range c.Shards {
		if _, dup := byID[shard.ShardID]; dup {
			return fmt.Errorf("shard %d is defined twice", shard.ShardID)
		}
		byID[shard.ShardID] = shard
	}
	for _, shard := range c.Shards {
		if shard.Type != ShardTypeOverlay {
			continue
		}
		base, ok := byID[shard.Base]
		if !ok {
			return fmt.Errorf("base shard %d of overlay %d is not served", shard.Base, shard.ShardID)
		}
		if base.Type == ShardTypeOverlay {
			return fmt.Errorf("overlay %d cannot use overlay %d as base", shard.ShardID, shard.Base)
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), shard.String())
	}

	addSection("Overlay")
	addField("Strict Conflict Check", fmt.Sprintf("%t", c.StrictConflictCheck))
	addField("Max Allocations", strconv.Itoa(c.MaxAllocations))

	if c.HasRaftShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// DefaultPageSize is the number of results a client fetches per query round trip
// when the query does not set a chunk size.
const DefaultPageSize = 100

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
	// PageSize is the number of query results fetched per request (DefaultPageSize if <= 0)
	PageSize int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Page Size", strconv.Itoa(c.EffectivePageSize()))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// EffectivePageSize returns the page size used for queries without a chunk size.
func (c *ClientConfig) EffectivePageSize() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}
