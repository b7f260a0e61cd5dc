// Package catalog discovers the downloadable air quality files: global
// metadata, then per pollutant metadata, then one file list per
// pollutant/country pair. Every lookup is cached so a rerun only fetches
// what an earlier run did not finish.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/aqingest/internal/cache"
	"github.com/brensch/aqingest/internal/progress"
	"github.com/brensch/aqingest/internal/tabular"
)

// Cache-relative locations of the catalog stages.
const (
	MetadataPath          = "metadata.csv.xz"
	PollutantMetadataPath = "metadata_pollutants.csv.xz"
	FileListDir           = "file_lists"
	fileListExt           = ".csv.xz"
)

// Entry is one downloadable data file.
type Entry struct {
	Pollutant   string
	CountryCode string
	URL         string
}

// Pair is a pollutant notation and a country code.
type Pair struct {
	Pollutant   string
	CountryCode string
}

// Builder runs the catalog stages against a cache.
type Builder struct {
	Cache    *cache.Cache
	Source   Source
	Logger   *slog.Logger
	Progress progress.Reporter
}

// Build fetches whatever part of the catalog is missing from the cache and
// returns every entry of every cached file list. Failures of individual file
// lists are logged and skipped; failures of the metadata stages are returned.
func (b *Builder) Build(ctx context.Context) ([]Entry, error) {
	l := b.Logger.With(slog.String("stage", "catalog"))
	reporter := b.Progress
	if reporter == nil {
		reporter = progress.Nop{}
	}

	l.Info("Fetching metadata.")
	meta, err := b.Cache.Fetch(ctx, MetadataPath, b.Source.FetchMetadata)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	l.Info("Fetching pollutant metadata.")
	pollutants, err := b.Cache.Fetch(ctx, PollutantMetadataPath, func(ctx context.Context) (*tabular.Table, error) {
		return b.fetchPollutantMetadata(ctx, meta, reporter)
	})
	if err != nil {
		return nil, fmt.Errorf("pollutant metadata: %w", err)
	}

	merged, err := tabular.LeftJoin(meta, pollutants, "AirPollutantCode")
	if err != nil {
		return nil, fmt.Errorf("merge metadata: %w", err)
	}
	pairs, err := Pairs(merged, l)
	if err != nil {
		return nil, err
	}

	l.Info("Fetching file lists.", slog.Int("pairs", len(pairs)))
	var failures error
	failed := 0
	reporter.Start(len(pairs), "File lists")
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			reporter.Finish()
			return nil, err
		}
		rel := FileListPath(p.Pollutant, p.CountryCode)
		_, err := b.Cache.Fetch(ctx, rel, func(ctx context.Context) (*tabular.Table, error) {
			return b.Source.FetchFileList(ctx, p.Pollutant, p.CountryCode)
		})
		if err != nil {
			failed++
			failures = errors.Join(failures, err)
			l.Warn("Skipping file list.", slog.String("pollutant", p.Pollutant), slog.String("country", p.CountryCode), "error", err)
		}
		reporter.Advance(rel)
	}
	reporter.Finish()
	if failures != nil {
		l.Warn("Some file lists could not be fetched.", slog.Int("failed", failed), slog.Int("pairs", len(pairs)))
		l.Debug("File list errors.", "error", failures)
	}

	return ReadEntries(b.Cache, l)
}

func (b *Builder) fetchPollutantMetadata(ctx context.Context, meta *tabular.Table, reporter progress.Reporter) (*tabular.Table, error) {
	codes, err := meta.Unique("AirPollutantCode")
	if err != nil {
		return nil, err
	}
	records := make([]tabular.Record, 0, len(codes))
	reporter.Start(len(codes), "Pollutant metadata")
	defer reporter.Finish()
	for _, code := range codes {
		if code == "" {
			continue
		}
		rec, err := b.Source.FetchPollutantMetadata(ctx, code)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		reporter.Advance(code)
	}
	return tabular.FromRecords(records), nil
}

// Pairs lists the distinct (Notation, Countrycode) pairs of the merged
// metadata in sorted order. Rows without a notation are skipped.
func Pairs(merged *tabular.Table, logger *slog.Logger) ([]Pair, error) {
	notations, err := merged.Column("Notation")
	if err != nil {
		return nil, fmt.Errorf("merged metadata: %w", err)
	}
	countries, err := merged.Column("Countrycode")
	if err != nil {
		return nil, fmt.Errorf("merged metadata: %w", err)
	}
	seen := make(map[Pair]bool)
	var pairs []Pair
	for i := range notations {
		p := Pair{Pollutant: strings.TrimSpace(notations[i]), CountryCode: strings.TrimSpace(countries[i])}
		if seen[p] {
			continue
		}
		seen[p] = true
		if p.Pollutant == "" || p.CountryCode == "" {
			logger.Debug("Skipping pair without notation or country.", slog.String("pollutant", p.Pollutant), slog.String("country", p.CountryCode))
			continue
		}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Pollutant != pairs[j].Pollutant {
			return pairs[i].Pollutant < pairs[j].Pollutant
		}
		return pairs[i].CountryCode < pairs[j].CountryCode
	})
	return pairs, nil
}

// FileListPath is the cache location of a pair's file list.
func FileListPath(pollutant, countryCode string) string {
	return path.Join(FileListDir, pollutant+"_"+countryCode+fileListExt)
}

// ParseFileListName recovers the pair from a file list name. The country
// code never contains an underscore, so the split is at the last one.
func ParseFileListName(name string) (Pair, error) {
	stem, ok := strings.CutSuffix(filepath.Base(name), fileListExt)
	if !ok {
		return Pair{}, fmt.Errorf("file list %q: missing %s suffix", name, fileListExt)
	}
	i := strings.LastIndex(stem, "_")
	if i <= 0 || i == len(stem)-1 {
		return Pair{}, fmt.Errorf("file list %q: expected {pollutant}_{country}", name)
	}
	return Pair{Pollutant: stem[:i], CountryCode: stem[i+1:]}, nil
}

// ReadEntries returns the union of every cached file list, in file name
// order. Unparseable names and unreadable lists are logged and skipped.
func ReadEntries(c *cache.Cache, logger *slog.Logger) ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(c.Path(FileListDir), "*"+fileListExt))
	if err != nil {
		return nil, fmt.Errorf("list file lists: %w", err)
	}
	sort.Strings(files)

	var entries []Entry
	for _, f := range files {
		pair, err := ParseFileListName(f)
		if err != nil {
			logger.Warn("Skipping file list with unexpected name.", slog.String("file", f), "error", err)
			continue
		}
		t, err := tabular.ReadFile(f, tabular.ReadOptions{Required: []string{"url"}, Logger: logger})
		if err != nil {
			logger.Warn("Skipping unreadable file list.", slog.String("file", f), "error", err)
			continue
		}
		urls, _ := t.Column("url")
		for _, u := range urls {
			if u == "" {
				continue
			}
			entries = append(entries, Entry{Pollutant: pair.Pollutant, CountryCode: pair.CountryCode, URL: u})
		}
	}
	logger.Info("Catalog read.", slog.Int("file_lists", len(files)), slog.Int("entries", len(entries)))
	return entries, nil
}
