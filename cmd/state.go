package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/brensch/aqingest/internal/journal"
	"github.com/spf13/cobra"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	var filter journal.Filter

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "View the fetch journal of the cache",
		Long: `Queries the fetch journal and displays the most recent events first.
Use flags to filter by cache path prefix or event type and to limit the output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config
			if cfg.JournalPath == "" {
				return fmt.Errorf("fetch journal disabled (--journal is empty)")
			}
			env := opts.env()
			defer env.Close()
			if err := env.OpenJournal(cmd.Context()); err != nil {
				return err
			}

			filter.PathPrefix = filepath.ToSlash(filter.PathPrefix)
			env.Logger.Debug("Querying fetch journal", "path", filter.PathPrefix, "event", filter.Event, "limit", filter.Limit)
			events, err := env.Journal.History(cmd.Context(), filter)
			if err != nil {
				return err
			}
			journal.WriteHistory(cmd.OutOrStdout(), events)
			return nil
		},
	}
	stateCmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Limit the number of records displayed")
	stateCmd.Flags().StringVarP(&filter.Event, "event", "e", "", "Filter records by event (cache_hit, fetched, fetch_error)")
	stateCmd.Flags().StringVarP(&filter.PathPrefix, "path", "p", "", "Filter records by cache path prefix (e.g. raw/NO2)")
	return stateCmd
}
