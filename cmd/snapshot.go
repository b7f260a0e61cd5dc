package cmd

import (
	"fmt"
	"log/slog"

	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/saver"
	"github.com/brensch/aqingest/internal/sink"
	"github.com/spf13/cobra"
)

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var tables []string

	snapshotCmd := &cobra.Command{
		Use:   "snapshot <out-dir>",
		Short: "Copy the tables of a DuckDB sink to Parquet files",
		Long: `Writes {out-dir}/{table}.parquet for every table of the DuckDB database
named by the connection string (duckdb:<path>). Use --table to restrict the
copy to some tables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.config.ConnectionString == "" {
				return withExitCode(2, fmt.Errorf("environment variable %s not set", config.ConnectionEnv))
			}
			env := opts.env()
			defer env.Close()
			if err := env.OpenSink(cmd.Context()); err != nil {
				return err
			}
			duck, ok := env.Sink.(*sink.DuckDB)
			if !ok {
				return fmt.Errorf("snapshot needs a %s<path> connection string", sink.DuckDBScheme)
			}
			saved, err := saver.SaveTables(cmd.Context(), duck.DB(), args[0], tables, env.Logger)
			env.Logger.Info("Snapshot finished.", slog.Int("tables", len(saved)))
			return err
		},
	}
	snapshotCmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "Table to copy (repeatable, default all)")
	return snapshotCmd
}
