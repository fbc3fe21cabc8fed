package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/ValentinKolb/layerkv/rpc/serializer"
	"github.com/ValentinKolb/layerkv/rpc/transport"
	"github.com/ValentinKolb/layerkv/rpc/transport/http"
	"github.com/cespare/xxhash/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by lkv
	EnvPrefix = "lkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// HashString maps a human readable node name (e.g. 'node-1') to a replica id
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// InitEnv loads .env files and makes viper read LKV_* environment variables
func InitEnv() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the lkv server. Multiple endpoints can be specified as a comma-separated list, requests are balanced round robin"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "page-size"
	cmd.PersistentFlags().Int(key, common.DefaultPageSize, WrapString("Number of query results fetched per request"))

	key = "shard"
	cmd.PersistentFlags().Int(key, 100, WrapString("ID of the shard to connect to"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:     strings.Split(viper.GetString("endpoints"), ","),
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("retries"),
		PageSize:      viper.GetInt("page-size"),
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return viper.GetUint64("shard")
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "msgpack":
		return serializer.NewMsgpackSerializer(), nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s (expected one of: msgpack, json, gob)", viper.GetString("serializer"))
	}
}

// GetClientTransport creates the client transport based on configuration
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected: http)", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected: http)", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
