package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"indexlab/pkg/common"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <table> <column>",
		Short: "Run the explicit maintenance pass of one index",
		Long: `Rewrites one index without its dead records:

  AVL     compaction drops tombstoned records and rebuilds a balanced tree
  ISAM    reorganize folds overflow chains back into a sorted base area
  BPTREE  rebuild rewrites the clustered file and its node levels

Removes never trigger this on their own.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return respond(cmd.OutOrStdout(), e.Compact(cmd.Context(), args[0], args[1]))
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <table> <column>",
		Short: "Verify an index's structural invariants and print its shape",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			out := cmd.OutOrStdout()
			n, err := e.Check(args[0], args[1])
			switch {
			case errors.Is(err, common.ErrUnsupportedOperation):
				fmt.Fprintln(out, "Invariants: no checker for this kind")
			case err != nil:
				return fmt.Errorf("check failed: %w", err)
			default:
				fmt.Fprintf(out, "Invariants: ok (%d entries)\n", n)
			}

			shape, err := e.Describe(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(out, shape)
		},
	}
}
