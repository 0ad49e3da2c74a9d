// Package cmd provides the CLI commands for indexlab.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"indexlab/pkg/config"
	"indexlab/pkg/core"
	"indexlab/pkg/logging"
)

var (
	configPath string
	dataDir    string

	cfg    *config.Config
	logger *logging.Logger
)

// NewRootCmd creates the root command for the indexlab CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexlab",
		Short: "On-disk indexing engine: AVL, ISAM, B+Tree, extendible hash and R-Tree",
		Long: `indexlab stores fixed-size records behind five on-disk index organizations
and reports the block reads and writes every operation costs.

Tables are created with a schema, loaded, queried with logical plans and
compared side by side with 'indexlab bench'.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to indexlab.yaml (default: configs/indexlab.yaml, indexlab.yaml)")
	cmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory (overrides storage.path)")

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newAddIndexCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newTablesCmd())
	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newShellCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newBenchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dataDir != "" {
		c.Storage.Path = dataDir
	}
	cfg = c
	logger = logging.New(cmd.ErrOrStderr(), c.Log.Level, c.Log.Format)
	return nil
}

func openEngine() (*core.Engine, error) {
	e, err := core.Open(cfg, core.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Storage.Path, err)
	}
	return e, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// respond prints resp and turns a failed response into an error so the
// process exits non-zero.
func respond(w io.Writer, resp core.Response) error {
	if err := printJSON(w, resp); err != nil {
		return err
	}
	if resp.Failed() {
		return fmt.Errorf("%s: %s", resp.ErrorKind, resp.Message)
	}
	return nil
}
