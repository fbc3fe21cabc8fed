package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/layerkv/cmd/kv"
	"github.com/ValentinKolb/layerkv/cmd/serve"
	"github.com/ValentinKolb/layerkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "lkv",
		Short: "layered entity store",
		Long: fmt.Sprintf(`layerKV (v%s)

An entity store with copy-on-write overlays: a writable layer over a
read-only base store that serves merged reads without touching the base.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lkv v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.EntityCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "msgpack", util.WrapString("serializer to use (msgpack, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
