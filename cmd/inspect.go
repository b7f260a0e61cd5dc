package cmd

import (
	"fmt"

	"github.com/brensch/aqingest/internal/inspector"
	"github.com/spf13/cobra"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Summarize exported Parquet files using DuckDB",
		Long:  `Groups the *.parquet files under dir by directory and prints row counts, the datetime_begin range and the schema of each group.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := inspector.Inspect(cmd.Context(), args[0], opts.logger)
			inspector.WriteReport(cmd.OutOrStdout(), summaries)
			if err != nil {
				return fmt.Errorf("inspection failed: %w", err)
			}
			return nil
		},
	}
}
