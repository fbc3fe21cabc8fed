// Package cmd implements the command-line interface lkv. It provides
// commands for running the server and for working with a served store as a
// client.
//
// The package is organized into several subpackages:
//
//   - serve: starts the server with its lstore, dstore and overlay shards
//   - kv: entity operations against a shard (get, put, del, query, count,
//     alloc) and a load generator (perf)
//   - util: shared flag, environment and client setup helpers (internal use)
//
// Every flag can also be set as an environment variable LKV_<FLAG>, .env and
// .env.local files are loaded on start.
//
// See lkv -help for a list of all commands.
package cmd
