package kv

import (
	"github.com/ValentinKolb/layerkv/cmd/util"
	"github.com/ValentinKolb/layerkv/lib/store"
	"github.com/ValentinKolb/layerkv/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore

	// EntityCommands represents the entity command group
	EntityCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform entity store operations",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitEnv)

	// Add common RPC flags to the command group
	util.SetupRPCClientFlags(EntityCommands)

	// Add subcommands
	EntityCommands.AddCommand(getCmd)
	EntityCommands.AddCommand(putCmd)
	EntityCommands.AddCommand(delCmd)
	EntityCommands.AddCommand(queryCmd)
	EntityCommands.AddCommand(countCmd)
	EntityCommands.AddCommand(allocCmd)
	EntityCommands.AddCommand(infoCmd)
	EntityCommands.AddCommand(perfTestCmd)
}

// setupClient initializes the RPC store client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	shardId := util.GetShardID()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(shardId, *config, t, s)
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcStore == nil {
		return nil
	}
	return rpcStore.Close()
}
