package cmd

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"indexlab/pkg/common"
	"indexlab/pkg/config"
	"indexlab/pkg/core"
	"indexlab/pkg/monitor"
)

type benchOptions struct {
	rows    int
	queries int
	kinds   []string
	bulk    bool
	dir     string
	seed    int64
}

// phase is the summed cost of one kind of operation over a run.
type phase struct {
	name    string
	ops     int
	metrics monitor.Metrics
	skipped string
}

type benchResult struct {
	kind   common.Kind
	phases []phase
}

func newBenchCmd() *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare the I/O cost of every index kind on the same workload",
		Long: `Loads the same synthetic rows into one table per index kind, then runs
equality, range and (for the R-Tree) spatial queries against each, and
prints the block reads and writes every phase cost. Kinds run in parallel,
each in its own data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kinds []common.Kind
			for _, s := range opts.kinds {
				k, err := common.ParseKind(s)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}

			dir := opts.dir
			if dir == "" {
				tmp, err := os.MkdirTemp("", "indexlab-bench-*")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				dir = tmp
			}

			results, err := runBench(cmd.Context(), cfg, dir, kinds, opts)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.rows, "rows", "n", 1000, "Rows loaded per kind")
	cmd.Flags().IntVarP(&opts.queries, "queries", "q", 100, "Queries per phase")
	cmd.Flags().StringSliceVar(&opts.kinds, "kinds", []string{"AVL", "ISAM", "BPTREE", "HASH", "RTREE"}, "Index kinds to compare")
	cmd.Flags().BoolVar(&opts.bulk, "bulk", false, "Load through the bulk path instead of one insert per row")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Keep the benchmark data under this directory (default: a removed temp dir)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "Workload random seed")

	return cmd
}

func runBench(ctx context.Context, base *config.Config, dir string, kinds []common.Kind, opts *benchOptions) ([]benchResult, error) {
	results := make([]benchResult, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			c := *base
			c.Storage.Path = filepath.Join(dir, strings.ToLower(string(kind)))
			r, err := benchKind(gctx, &c, kind, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func benchSchema(kind common.Kind) *common.Schema {
	sc := &common.Schema{
		Table:      "bench",
		PrimaryKey: "id",
		Attributes: []common.Attribute{
			{Name: "id", Type: common.TypeInt, Index: kind},
			{Name: "label", Type: common.TypeVarchar, Size: 16},
			{Name: "loc", Type: common.TypeFloatArray, Size: 2},
		},
	}
	if kind == common.KindRTree {
		sc.Attributes[0].Index = common.KindBPTree
		sc.Attributes[2].Index = common.KindRTree
	}
	return sc
}

func benchKind(ctx context.Context, c *config.Config, kind common.Kind, opts *benchOptions) (benchResult, error) {
	res := benchResult{kind: kind}
	e, err := core.Open(c, core.WithLogger(logger))
	if err != nil {
		return res, err
	}
	defer func() { _ = e.Close() }()

	if err := e.CreateTable(ctx, benchSchema(kind)); err != nil {
		return res, err
	}

	rng := rand.New(rand.NewSource(opts.seed))
	keys := rng.Perm(opts.rows)
	rows := make([]any, len(keys))
	for i, k := range keys {
		rows[i] = []any{k, fmt.Sprintf("row-%d", k), []float64{rng.Float64() * 100, rng.Float64() * 100}}
	}

	load := phase{name: "load", ops: len(rows)}
	if opts.bulk {
		resp := e.BulkLoad(ctx, "bench", rows)
		if resp.Failed() {
			return res, fmt.Errorf("%s: %s", resp.ErrorKind, resp.Message)
		}
		load.metrics = resp.Metrics
	} else {
		for _, r := range rows {
			resp := e.Dispatch(ctx, core.Plan{Operation: core.OpInsert, Table: "bench", Args: core.Args{Record: r}})
			if resp.Failed() {
				return res, fmt.Errorf("%s: %s", resp.ErrorKind, resp.Message)
			}
			load.metrics = load.metrics.Add(resp.Metrics)
		}
	}
	res.phases = append(res.phases, load)

	column := "id"
	if kind == common.KindRTree {
		column = "loc"
	}
	span := max(opts.rows/100, 1)
	plans := map[string]func() core.Plan{
		"equality": func() core.Plan {
			return core.Plan{Operation: core.OpEquality, Table: "bench", Column: "id", Args: core.Args{Key: rng.Intn(opts.rows)}}
		},
		"range": func() core.Plan {
			if kind == common.KindRTree {
				return core.Plan{Operation: core.OpRange, Table: "bench", Column: column}
			}
			lo := rng.Intn(opts.rows)
			return core.Plan{Operation: core.OpRange, Table: "bench", Column: column, Args: core.Args{Low: lo, High: lo + span}}
		},
		"knn": func() core.Plan {
			return core.Plan{Operation: core.OpKNN, Table: "bench", Column: column,
				Args: core.Args{Point: []float64{rng.Float64() * 100, rng.Float64() * 100}, K: 5}}
		},
		"spatial_range": func() core.Plan {
			return core.Plan{Operation: core.OpSpatialRange, Table: "bench", Column: column,
				Args: core.Args{Point: []float64{rng.Float64() * 100, rng.Float64() * 100}, Radius: 5}}
		},
	}
	for _, name := range []string{"equality", "range", "knn", "spatial_range"} {
		ph := phase{name: name}
		for i := 0; i < opts.queries; i++ {
			resp := e.Dispatch(ctx, plans[name]())
			if resp.Failed() {
				ph.skipped = resp.ErrorKind
				break
			}
			ph.ops++
			ph.metrics = ph.metrics.Add(resp.Metrics)
		}
		res.phases = append(res.phases, ph)
	}
	return res, nil
}

func printBench(w io.Writer, results []benchResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPHASE\tOPS\tREADS\tWRITES\tREADS/OP\tWRITES/OP\tMS")
	for _, r := range results {
		for _, ph := range r.phases {
			if ph.skipped != "" {
				fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t-\t%s\n", r.kind, ph.name, ph.skipped)
				continue
			}
			perRead, perWrite := 0.0, 0.0
			if ph.ops > 0 {
				perRead = float64(ph.metrics.Reads) / float64(ph.ops)
				perWrite = float64(ph.metrics.Writes) / float64(ph.ops)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%.1f\t%.1f\t%.2f\n",
				r.kind, ph.name, ph.ops, ph.metrics.Reads, ph.metrics.Writes, perRead, perWrite, ph.metrics.TotalTimeMs)
		}
	}
	tw.Flush()
}
