package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"indexlab/pkg/core"
)

// readInput returns the contents of path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <table> <rows.json|->",
		Short: "Bulk-load a JSON array of rows",
		Long: `Loads a JSON array whose elements are either positional arrays
([1, "Alien", 1979]) or objects keyed by column ({"id": 1, "title": "Alien"}).

An empty table is laid out in one pass per index (sorted build for ISAM and
B+Tree); a table that already holds rows goes through the insert path.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return fmt.Errorf("failed to read rows: %w", err)
			}
			var rows []any
			if err := decodeJSON(data, &rows); err != nil {
				return fmt.Errorf("rows must be a JSON array: %w", err)
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return respond(cmd.OutOrStdout(), e.BulkLoad(cmd.Context(), args[0], rows))
		},
	}
}

type queryFlags struct {
	plan   string
	op     string
	column string
	key    string
	low    string
	high   string
	point  string
	radius float64
	k      int
	record string
	limit  int
}

func parsePoint(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(strings.Trim(s, "()[] "), ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q: %w", part, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// toPlan builds a Plan from flags; string operands are coerced by the engine
// to the column's type.
func (f *queryFlags) toPlan(cmd *cobra.Command, table string) (core.Plan, error) {
	var p core.Plan
	if f.plan != "" {
		data, err := readInput(cmd, f.plan)
		if err != nil {
			return p, fmt.Errorf("failed to read plan: %w", err)
		}
		if err := decodeJSON(data, &p); err != nil {
			return p, fmt.Errorf("invalid plan: %w", err)
		}
		if table != "" {
			p.Table = table
		}
		return p, nil
	}

	p = core.Plan{
		Operation: core.Operation(strings.ToUpper(f.op)),
		Table:     table,
		Column:    f.column,
		Args: core.Args{
			Key:    optional(f.key),
			Low:    optional(f.low),
			High:   optional(f.high),
			Radius: f.radius,
			K:      f.k,
			Limit:  f.limit,
		},
	}
	if f.point != "" {
		pt, err := parsePoint(f.point)
		if err != nil {
			return p, err
		}
		p.Args.Point = pt
	}
	if f.record != "" {
		var rec any
		if err := decodeJSON([]byte(f.record), &rec); err != nil {
			return p, fmt.Errorf("invalid record: %w", err)
		}
		p.Args.Record = rec
	}
	return p, nil
}

func newQueryCmd() *cobra.Command {
	f := &queryFlags{}

	cmd := &cobra.Command{
		Use:   "query [table]",
		Short: "Run one logical plan and print rows plus I/O metrics",
		Example: `  indexlab query movies --op EQUALITY --column id --key 7
  indexlab query movies --op RANGE --column year --low 1990 --high 1999
  indexlab query places --op KNN --column loc --point 0,0 --k 3
  indexlab query movies --op INSERT --record '[8, "Heat", 1995]'
  indexlab query --plan plan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := ""
			if len(args) > 0 {
				table = args[0]
			}
			p, err := f.toPlan(cmd, table)
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return respond(cmd.OutOrStdout(), e.Dispatch(cmd.Context(), p))
		},
	}

	cmd.Flags().StringVar(&f.plan, "plan", "", "Read a JSON plan from file (- for stdin)")
	cmd.Flags().StringVar(&f.op, "op", "SCAN", "EQUALITY, RANGE, SPATIAL_RANGE, KNN, INSERT, REMOVE or SCAN")
	cmd.Flags().StringVar(&f.column, "column", "", "Indexed column the plan addresses")
	cmd.Flags().StringVar(&f.key, "key", "", "Key for EQUALITY and REMOVE")
	cmd.Flags().StringVar(&f.low, "low", "", "Inclusive lower bound for RANGE (empty: open)")
	cmd.Flags().StringVar(&f.high, "high", "", "Inclusive upper bound for RANGE (empty: open)")
	cmd.Flags().StringVar(&f.point, "point", "", "Query point for SPATIAL_RANGE and KNN, e.g. 1.5,2")
	cmd.Flags().Float64Var(&f.radius, "radius", 0, "Radius for SPATIAL_RANGE")
	cmd.Flags().IntVar(&f.k, "k", 0, "Neighbor count for KNN")
	cmd.Flags().StringVar(&f.record, "record", "", "JSON record for INSERT")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Row limit for SCAN (default index.scan_limit)")

	return cmd
}

const prompt = "indexlab> "

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt reading one JSON plan per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return runShell(cmd, e)
		},
	}
}

func runShell(cmd *cobra.Command, e *core.Engine) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "indexlab shell (data: %s). Type 'help' for commands.\n", cfg.Storage.Path)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "help":
			printShellHelp(out)
			continue
		case "tables":
			for _, t := range e.Tables() {
				fmt.Fprintln(out, t)
			}
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		var p core.Plan
		if err := decodeJSON([]byte(line), &p); err != nil {
			fmt.Fprintf(out, "Error: not a JSON plan: %v\n", err)
			continue
		}
		resp := e.Dispatch(cmd.Context(), p)
		if err := printJSON(out, resp); err != nil {
			return err
		}
	}
}

func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  tables              list tables")
	fmt.Fprintln(w, "  exit                leave the shell")
	fmt.Fprintln(w, "  {json plan}         run a plan, e.g.")
	fmt.Fprintln(w, `    {"operation":"EQUALITY","table":"movies","column":"id","args":{"key":7}}`)
	fmt.Fprintln(w, `    {"operation":"KNN","table":"places","column":"loc","args":{"point":[0,0],"k":3}}`)
}
