package cmd

import (
	"fmt"
	"log/slog"

	"github.com/brensch/aqingest/internal/orchestrator"
	"github.com/spf13/cobra"
)

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download [root]",
		Short: "Build the catalog and download every data file not cached yet",
		Long: `Fetches the metadata tables and one file list per pollutant and country,
then downloads each listed data file into root (default: --cache-dir).
Files already cached are never fetched again, so an interrupted run can
simply be restarted. Files that fail to download are logged and retried on
the next run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.config.CacheRoot = args[0]
			}
			env := opts.env()
			defer env.Close()

			if err := env.OpenJournal(cmd.Context()); err != nil {
				return err
			}
			sum, err := orchestrator.RunDownload(cmd.Context(), env)
			if err != nil {
				return fmt.Errorf("download failed: %w", err)
			}
			if sum.Failed > 0 {
				env.Logger.Warn("Some files could not be downloaded; rerun to retry.", slog.Int("failed", sum.Failed))
			}
			return nil
		},
	}
}
