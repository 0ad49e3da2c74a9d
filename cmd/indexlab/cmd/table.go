package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"indexlab/pkg/common"
)

func newCreateCmd() *cobra.Command {
	var pk string
	var attrs []string

	cmd := &cobra.Command{
		Use:   "create <table>",
		Short: "Create a table and lay out its indexes",
		Example: `  indexlab create movies --pk id --attr id:INT:BPTREE --attr title:VARCHAR(32):HASH --attr year:INT:AVL
  indexlab create places --attr id:INT --attr loc:ARRAY[FLOAT](2):RTREE`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := &common.Schema{Table: args[0], PrimaryKey: pk}
			for _, spec := range attrs {
				a, err := common.ParseAttribute(spec)
				if err != nil {
					return err
				}
				sc.Attributes = append(sc.Attributes, a)
			}
			if sc.PrimaryKey == "" && len(sc.Attributes) > 0 {
				sc.PrimaryKey = sc.Attributes[0].Name
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			if err := e.CreateTable(cmd.Context(), sc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created table %s (%d columns, record size %d bytes)\n",
				sc.Table, len(sc.Attributes), sc.RecordSize())
			for _, a := range sc.Attributes {
				if a.Index != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", a.Name, a.Index)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pk, "pk", "", "Primary key column (default: first attribute)")
	cmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "Attribute as name:TYPE[:KIND], repeatable")
	_ = cmd.MarkFlagRequired("attr")

	return cmd
}

func newAddIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-index <table> <column> <kind>",
		Short: "Index an existing column and fill it from the stored rows",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := common.ParseKind(args[2])
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			return respond(cmd.OutOrStdout(), e.AddIndex(cmd.Context(), args[0], args[1], kind))
		},
	}
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and delete its index files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			if err := e.DropTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped table %s\n", args[0])
			return nil
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with their schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			var schemas []*common.Schema
			for _, name := range e.Tables() {
				sc, err := e.Schema(name)
				if err != nil {
					return err
				}
				schemas = append(schemas, sc)
			}
			return printJSON(cmd.OutOrStdout(), schemas)
		},
	}
}
