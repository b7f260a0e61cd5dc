package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/brensch/aqingest/internal/catalog"
	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/downloader"
	"github.com/brensch/aqingest/internal/loader"
	"github.com/brensch/aqingest/scripts"
)

// RunDownload builds the catalog and downloads every file not cached yet.
func RunDownload(ctx context.Context, env *Env) (downloader.Summary, error) {
	start := time.Now()
	logger := env.Logger
	logger.Info("Starting download workflow...", slog.String("cache_root", env.Config.CacheRoot))

	c := env.Cache()
	b := &catalog.Builder{Cache: c, Source: env.source(), Logger: logger, Progress: env.reporter()}
	entries, err := b.Build(ctx)
	if err != nil {
		return downloader.Summary{}, fmt.Errorf("build catalog: %w", err)
	}

	sum, err := downloader.Download(ctx, c, env.source(), entries, env.reporter(), logger)
	if err != nil {
		return sum, err
	}
	logger.Info("Download workflow finished.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return sum, nil
}

// LoadCommand selects what RunLoad does.
type LoadCommand interface {
	isLoadCommand()
}

// MetaCommand loads both dimensions and then creates the observation table.
type MetaCommand struct {
	Stations   string
	Pollutants string
}

// ObservationsCommand loads every file matching the glob patterns.
type ObservationsCommand struct {
	Patterns []string
}

func (MetaCommand) isLoadCommand()         {}
func (ObservationsCommand) isLoadCommand() {}

// RunLoad executes a load command against env.Sink.
func RunLoad(ctx context.Context, env *Env, cmd LoadCommand) error {
	if env.Sink == nil {
		return fmt.Errorf("load: sink not open")
	}
	switch c := cmd.(type) {
	case MetaCommand:
		return runMeta(ctx, env, c)
	case ObservationsCommand:
		return runObservations(ctx, env, c)
	default:
		return fmt.Errorf("load: unknown command %T", cmd)
	}
}

func runMeta(ctx context.Context, env *Env, c MetaCommand) error {
	logger := env.Logger
	// the script is resolved first so a bad path leaves the dimensions alone
	ddl, ddlSource, err := observationDDL(env)
	if err != nil {
		return err
	}
	if _, err := loader.LoadStations(ctx, env.Sink, c.Stations, logger); err != nil {
		return fmt.Errorf("load stations: %w", err)
	}
	if _, err := loader.LoadQuantities(ctx, env.Sink, c.Pollutants, logger); err != nil {
		return fmt.Errorf("load quantities: %w", err)
	}

	if ddl == "" {
		logger.Info("No observation DDL configured; observation table left untouched.")
		return nil
	}
	if err := env.Sink.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create observation table: %w", err)
	}
	logger.Info("Created empty table `observation'.", slog.String("ddl", ddlSource))
	return nil
}

// observationDDL returns the script run after the dimensions are loaded and
// where it came from.
func observationDDL(env *Env) (string, string, error) {
	switch path := env.Config.ObservationDDL; path {
	case "":
		return "", "", nil
	case config.BuiltinDDL:
		ddl, err := scripts.ObservationDDL(env.Sink.Dialect())
		if err != nil {
			return "", "", err
		}
		return ddl, config.BuiltinDDL + ":" + env.Sink.Dialect(), nil
	default:
		b, err := os.ReadFile(path)
		if err != nil {
			return "", "", fmt.Errorf("read observation DDL: %w", err)
		}
		return string(b), path, nil
	}
}

func runObservations(ctx context.Context, env *Env, c ObservationsCommand) error {
	files, err := ExpandPatterns(c.Patterns, env.Logger)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		env.Logger.Warn("No observation files matched.", slog.Any("patterns", c.Patterns))
		return nil
	}
	_, err = loader.LoadObservations(ctx, env.Sink, files, loader.Options{
		Limit:    env.Config.MaxFiles,
		Progress: env.reporter(),
	}, env.Logger)
	return err
}

// ExpandPatterns globs every pattern and returns the sorted, de-duplicated
// union. Patterns matching nothing are logged.
func ExpandPatterns(patterns []string, logger *slog.Logger) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			logger.Warn("Pattern matched no files.", slog.String("pattern", p))
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}
