// Package downloader fetches every catalog entry into the raw cache.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/brensch/aqingest/internal/cache"
	"github.com/brensch/aqingest/internal/catalog"
	"github.com/brensch/aqingest/internal/progress"
	"github.com/brensch/aqingest/internal/tabular"
)

// RawDir is the cache directory holding downloaded data files.
const RawDir = "raw"

// Summary counts the outcome of one download pass.
type Summary struct {
	Total   int
	Cached  int
	Fetched int
	Failed  int
}

// RawPath is the cache location of an entry:
// raw/{pollutant}/{countryCode}/{basename(url)}.xz
func RawPath(e catalog.Entry) string {
	return path.Join(RawDir, e.Pollutant, e.CountryCode, path.Base(e.URL)+".xz")
}

// Download fetches every entry that is not cached yet. Per entry failures are
// logged with the URL and target path and do not stop the pass; only context
// cancellation does.
func Download(ctx context.Context, c *cache.Cache, src catalog.Source, entries []catalog.Entry, reporter progress.Reporter, logger *slog.Logger) (Summary, error) {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	sum := Summary{Total: len(entries)}
	var downloadErr error

	logger.Info("Starting raw download.", slog.Int("entries", len(entries)))
	reporter.Start(len(entries), "Raw data")
	defer reporter.Finish()

	for i, e := range entries {
		select {
		case <-ctx.Done():
			logger.Warn("Download cancelled.", slog.Int("done", i), slog.Int("total", len(entries)))
			return sum, errors.Join(downloadErr, ctx.Err())
		default:
		}

		rel := RawPath(e)
		l := logger.With(slog.String("url", e.URL), slog.String("path", rel))
		exists, err := c.Exists(rel)
		if err != nil {
			sum.Failed++
			l.Error("Failed to check cache.", "error", err)
			downloadErr = errors.Join(downloadErr, err)
			reporter.Advance(rel)
			continue
		}
		if exists {
			sum.Cached++
			reporter.Advance(rel)
			continue
		}

		url := e.URL
		_, err = c.Fetch(ctx, rel, func(ctx context.Context) (*tabular.Table, error) {
			return src.FetchDataFile(ctx, url)
		}, cache.WithSourceURL(url))
		if err != nil {
			if ctx.Err() != nil {
				return sum, errors.Join(downloadErr, ctx.Err())
			}
			sum.Failed++
			l.Error("Error downloading file.", "error", err)
			downloadErr = errors.Join(downloadErr, fmt.Errorf("%s: %w", url, err))
		} else {
			sum.Fetched++
			l.Debug("Downloaded.")
		}
		reporter.Advance(rel)
	}

	logger.Info("Raw download complete.",
		slog.Int("total", sum.Total),
		slog.Int("cached", sum.Cached),
		slog.Int("fetched", sum.Fetched),
		slog.Int("failed", sum.Failed),
	)
	if downloadErr != nil {
		logger.Debug("Raw download errors.", "error", downloadErr)
	}
	return sum, nil
}
