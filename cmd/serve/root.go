package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/layerkv/cmd/util"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the lkv server",
		Long:    `Start the lkv server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is LKV_<flag> (e.g. LKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnv)

	// add flags
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "100=lstore,200=overlay(100)", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: lstore, lstore(ENGINE), dstore, dstore(ENGINE), overlay(BASE_ID). ENGINE is one of: memory, pebble:<dir>, bolt:<file>"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value*1) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(dstore) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(dstore) DataDir is the directory used for storing the raft log and snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(dstore) Timeout in seconds of raft proposals and reads"))

	key = "strict-conflict-check"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(overlay) Fail writes whose conflict check against the base fails instead of treating the keys as new"))

	key = "max-allocations"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("(overlay) Maximum number of concurrent id allocation requests an overlay sends to its base (0 for the default)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse shards
	serveCmdConfig.Shards = []common.ServerShard{}
	for _, def := range strings.Split(viper.GetString("shards"), ",") {
		if strings.TrimSpace(def) == "" {
			continue
		}
		shard, err := common.ParseServerShard(def)
		if err != nil {
			return err
		}
		serveCmdConfig.Shards = append(serveCmdConfig.Shards, shard)
	}
	if len(serveCmdConfig.Shards) == 0 {
		return fmt.Errorf("at least one shard is required")
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.StrictConflictCheck = viper.GetBool("strict-conflict-check")
	serveCmdConfig.MaxAllocations = viper.GetInt("max-allocations")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = cmdUtil.HashString(id)
	} else if serveCmdConfig.HasRaftShard() {
		// error only if cluster mode
		return fmt.Errorf("ReplicaId is required for dstore shards")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			name, addr, ok := strings.Cut(member, "=")
			if !ok {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			serveCmdConfig.ClusterMembers[cmdUtil.HashString(name)] = addr
		}
	} else if serveCmdConfig.HasRaftShard() {
		// error only if cluster mode
		return fmt.Errorf("ClusterMembers is required for dstore shards")
	}

	// test if the replica id is in the cluster members (only for cluster mode)
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRaftShard() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return serveCmdConfig.Validate()
}

// run starts the lkv server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)
	defer serv.Close()

	return serv.Serve()
}
