package kv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/layerkv/cmd/util"
	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/ValentinKolb/layerkv/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for lkv servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKindPrefix       = "PerfTest"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the blob property for the put-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different entities to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one named load pattern. setup writes the entities the
// benchmark works on, op runs one operation for the i-th call.
type benchmark struct {
	name  string
	setup bool
	op    func(ctx context.Context, keys *perfKeys, i int) error
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for lkv servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	benchmarks := []benchmark{
		{name: "put", op: func(ctx context.Context, keys *perfKeys, i int) error {
			_, err := rpcStore.Put(ctx, nil, []*entity.Entity{keys.entity(i)})
			return err
		}},
		{name: "put-large", op: func(ctx context.Context, keys *perfKeys, i int) error {
			e := keys.entity(i)
			e.Properties["blob"] = largeValue
			_, err := rpcStore.Put(ctx, nil, []*entity.Entity{e})
			return err
		}},
		{name: "put-new", op: func(ctx context.Context, keys *perfKeys, i int) error {
			e := entity.MustNew(entity.IncompleteKey(keys.kind, nil), map[string]any{"n": i})
			_, err := rpcStore.Put(ctx, nil, []*entity.Entity{e})
			return err
		}},
		{name: "get", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			_, err := rpcStore.Get(ctx, nil, []*entity.Key{keys.key(i)})
			return err
		}},
		{name: "get-missing", op: func(ctx context.Context, keys *perfKeys, i int) error {
			_, err := rpcStore.Get(ctx, nil, []*entity.Key{keys.key(i)})
			return err
		}},
		{name: "delete", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			return rpcStore.Delete(ctx, nil, []*entity.Key{keys.key(i)})
		}},
		{name: "query", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			q := query.New(keys.kind).Filter("n", query.OpGreaterEqual, int64(i%perfKeySpread)).WithLimit(10)
			it, err := rpcStore.Run(ctx, nil, q)
			if err != nil {
				return err
			}
			_, err = query.Drain(ctx, it)
			return err
		}},
		{name: "count", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			_, err := rpcStore.Count(ctx, nil, query.New(keys.kind))
			return err
		}},
		{name: "mixed", setup: true, op: func(ctx context.Context, keys *perfKeys, i int) error {
			var err error
			switch i % 4 {
			case 0: // put
				_, err = rpcStore.Put(ctx, nil, []*entity.Entity{keys.entity(i)})
			case 1: // get
				_, err = rpcStore.Get(ctx, nil, []*entity.Key{keys.key(i)})
			case 2: // delete
				err = rpcStore.Delete(ctx, nil, []*entity.Key{keys.key(i)})
			case 3: // query
				var it query.Iterator
				if it, err = rpcStore.Run(ctx, nil, query.New(keys.kind).WithLimit(10)); err == nil {
					_, err = query.Drain(ctx, it)
				}
			}
			return err
		}},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}

			keys := newPerfKeys(bm.name)
			if bm.setup {
				keys.seed(ctx)
			}

			// cleanup
			b.Cleanup(func() {
				keys.cleanup(ctx)
			})

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := bm.op(ctx, keys, counter); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// perfKeys is the set of entities a benchmark works on. Every benchmark uses
// its own kind so that queries and the cleanup only see its entities.
type perfKeys struct {
	kind string
	keys []*entity.Key
}

func newPerfKeys(test string) *perfKeys {
	kind := perfKindPrefix + "_" + strings.ReplaceAll(test, "-", "_")
	keys := make([]*entity.Key, perfKeySpread)
	for i := range keys {
		keys[i] = entity.NameKey(kind, fmt.Sprintf("e-%d", i), nil)
	}
	return &perfKeys{kind: kind, keys: keys}
}

// key returns the i-th key (with wraparound)
func (p *perfKeys) key(i int) *entity.Key {
	return p.keys[i%len(p.keys)]
}

func (p *perfKeys) entity(i int) *entity.Entity {
	return entity.MustNew(p.key(i), map[string]any{"n": i % len(p.keys), "v": "test"})
}

func (p *perfKeys) seed(ctx context.Context) {
	entities := make([]*entity.Entity, len(p.keys))
	for i := range entities {
		entities[i] = p.entity(i)
	}
	if _, err := rpcStore.Put(ctx, nil, entities); err != nil {
		log.Printf("(%s) - error seeding entities: %v\n", p.kind, err)
	}
}

// cleanup deletes all entities of the benchmark's kind
func (p *perfKeys) cleanup(ctx context.Context) {
	it, err := rpcStore.Run(ctx, nil, query.New(p.kind).KeysOnlyQuery())
	if err == nil {
		var found []*entity.Entity
		if found, err = query.Drain(ctx, it); err == nil && len(found) > 0 {
			keys := make([]*entity.Key, len(found))
			for i, e := range found {
				keys[i] = e.Key
			}
			err = rpcStore.Delete(ctx, nil, keys)
		}
	}
	if err != nil {
		log.Printf("(%s) - error deleting entities: %v\n", p.kind, err)
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "PageSize",
		"ShardID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.EffectivePageSize()),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
