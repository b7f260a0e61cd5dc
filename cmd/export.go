package cmd

import (
	"fmt"
	"log/slog"

	"github.com/brensch/aqingest/internal/exporter"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <out-dir>",
		Short: "Convert cached raw files to Parquet",
		Long: `Writes one Parquet file per cached raw data file, mirroring the
raw/{pollutant}/{country} layout under out-dir. Outputs that already exist
are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := opts.env()
			defer env.Close()

			sum, err := exporter.Export(cmd.Context(), opts.config.CacheRoot, args[0], env.Progress, env.Logger)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			env.Logger.Info("Export completed.", slog.Any("summary", sum))
			return nil
		},
	}
}
