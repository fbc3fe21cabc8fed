package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/layerkv/lib/entity"
	"github.com/ValentinKolb/layerkv/lib/query"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]...",
		Short: "Reads the entities with the given keys (e.g. 'User:1', 'ns@User:\"bob\"/Post:2')",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			found, err := rpcStore.Get(cmd.Context(), nil, keys)
			if err != nil {
				return err
			}
			for _, k := range keys {
				e, ok := found[k.MapKey()]
				if !ok {
					fmt.Printf("key=%s, found=false\n", k)
					continue
				}
				line, err := formatEntity(e)
				if err != nil {
					return err
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	putCmd = &cobra.Command{
		Use:   "put [key] [properties]",
		Short: "Writes an entity. The properties are a JSON object, an incomplete key (e.g. 'User') gets a new id",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entity.ParseKey(args[0])
			if err != nil {
				return err
			}
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			props, err := parseProperties(raw)
			if err != nil {
				return err
			}
			e, err := entity.New(key, props)
			if err != nil {
				return err
			}
			keys, err := rpcStore.Put(cmd.Context(), nil, []*entity.Entity{e})
			if err != nil {
				return err
			}
			fmt.Printf("put %s successfully\n", keys[0])
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]...",
		Short: "Deletes the entities with the given keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			if err := rpcStore.Delete(cmd.Context(), nil, keys); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	queryCmd = &cobra.Command{
		Use:   "query [kind]",
		Short: "Lists the entities of a kind (all kinds if omitted) matching the filters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := queryFlags.build(kindArg(args))
			if err != nil {
				return err
			}
			return printQuery(cmd.Context(), q)
		},
	}
	countCmd = &cobra.Command{
		Use:   "count [kind]",
		Short: "Counts the entities of a kind (all kinds if omitted) matching the filters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := countFlags.build(kindArg(args))
			if err != nil {
				return err
			}
			n, err := rpcStore.Count(cmd.Context(), nil, q)
			if err != nil {
				return err
			}
			fmt.Printf("count=%d\n", n)
			return nil
		},
	}
	allocCmd = &cobra.Command{
		Use:   "alloc [kind] [n]",
		Short: "Reserves n ids for entities of a kind",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("n must be a number: %w", err)
			}
			var parent *entity.Key
			if allocParent != "" {
				if parent, err = entity.ParseKey(allocParent); err != nil {
					return err
				}
			}
			r, err := rpcStore.AllocateIDs(cmd.Context(), parent, args[0], n)
			if err != nil {
				return err
			}
			fmt.Printf("allocated ids [%d, %d)\n", r.Start, r.Start+int64(r.Count))
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the database information of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetDBInfo()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	queryFlags  = queryArgs{}
	countFlags  = queryArgs{}
	allocParent string
)

func init() {
	addQueryFlags(queryCmd, &queryFlags)
	addQueryFlags(countCmd, &countFlags)
	allocCmd.Flags().StringVar(&allocParent, "parent", "", "Key of the parent of the allocated ids")
}

func addQueryFlags(cmd *cobra.Command, args *queryArgs) {
	flags := cmd.Flags()
	flags.StringVar(&args.namespace, "namespace", "", "Namespace to query")
	flags.StringVar(&args.ancestor, "ancestor", "", "Only entities below this key")
	flags.StringArrayVar(&args.filters, "filter", nil, "Property filter (repeatable), e.g. 'age>=18', 'name=bob' or 'tag in [\"a\",\"b\"]'")
	flags.StringArrayVar(&args.orders, "order", nil, "Sort property (repeatable), prefix with '-' for descending")
	flags.StringSliceVar(&args.project, "project", nil, "Comma-separated list of returned properties")
	flags.BoolVar(&args.keysOnly, "keys-only", false, "Return keys only")
	flags.IntVar(&args.limit, "limit", -1, "Maximum number of results (-1 for unlimited)")
	flags.IntVar(&args.offset, "offset", 0, "Number of results to skip")
	flags.StringVar(&args.start, "start", "", "Resume at a cursor printed by a previous query")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func kindArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func parseKeys(args []string) ([]*entity.Key, error) {
	keys := make([]*entity.Key, len(args))
	for i, arg := range args {
		k, err := entity.ParseKey(arg)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

// printQuery prints the results line by line followed by the cursor behind
// the last result, if the store supports cursors
func printQuery(ctx context.Context, q query.Query) error {
	it, err := rpcStore.Run(ctx, nil, q)
	if err != nil {
		return err
	}
	defer it.Close()

	n := 0
	for {
		ok, err := it.HasNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		e, err := it.Next(ctx)
		if err != nil {
			return err
		}
		line, err := formatEntity(e)
		if err != nil {
			return err
		}
		fmt.Println(line)
		n++
	}

	fmt.Printf("results=%d", n)
	if c, err := it.Cursor(); err == nil {
		fmt.Printf(", cursor=%s", c)
	}
	fmt.Println()
	return nil
}
