package cmd

import (
	"errors"
	"fmt"

	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newLoadCmd(opts *rootOptions) *cobra.Command {
	var ddlPath string
	var maxFiles int

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Load cached data into the database named by " + config.ConnectionEnv,
		Long: `Loads dimension tables and observation files into the relational sink.
The connection string is read from ` + config.ConnectionEnv + ` (a .env file in
the working directory is honoured): postgres:// and postgresql:// connect to
PostgreSQL/TimescaleDB, duckdb:<path> opens an embedded DuckDB database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.config.ConnectionString == "" {
				return withExitCode(2, fmt.Errorf("environment variable %s not set", config.ConnectionEnv))
			}
			opts.config.ObservationDDL = ddlPath
			opts.config.MaxFiles = maxFiles
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Usage()
			return withExitCode(1, errors.New("load: missing subcommand (meta or observations)"))
		},
	}
	loadCmd.PersistentFlags().StringVar(&ddlPath, "observation-ddl", config.BuiltinDDL, "SQL script creating the observation table after 'load meta' ('"+config.BuiltinDDL+"' for the embedded script, empty skips it)")
	loadCmd.PersistentFlags().IntVar(&maxFiles, "max-files", 0, "Load at most this many observation files (0 for all)")

	loadCmd.AddCommand(
		&cobra.Command{
			Use:   "meta <stations> <pollutants>",
			Short: "Replace the station and quantity tables and create the observation table",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLoad(cmd, opts, orchestrator.MetaCommand{Stations: args[0], Pollutants: args[1]})
			},
		},
		&cobra.Command{
			Use:   "observations <file-or-glob>...",
			Short: "Append observation files (compressed files and globs allowed)",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLoad(cmd, opts, orchestrator.ObservationsCommand{Patterns: args})
			},
		},
	)
	return loadCmd
}

func runLoad(cmd *cobra.Command, opts *rootOptions, lc orchestrator.LoadCommand) error {
	env := opts.env()
	defer env.Close()

	if err := env.OpenSink(cmd.Context()); err != nil {
		return err
	}
	if err := orchestrator.RunLoad(cmd.Context(), env, lc); err != nil {
		env.Logger.Error("Load failed", "error", err)
		return err
	}
	return nil
}
