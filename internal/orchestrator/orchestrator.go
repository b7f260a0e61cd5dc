// Package orchestrator wires the stages together for one run. Everything a
// stage needs travels in an explicit Env built by the command layer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/brensch/aqingest/internal/cache"
	"github.com/brensch/aqingest/internal/catalog"
	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/journal"
	"github.com/brensch/aqingest/internal/progress"
	"github.com/brensch/aqingest/internal/sink"
	"github.com/brensch/aqingest/internal/util"
)

// Env is the run-scoped context shared by the stages.
type Env struct {
	Config   config.Config
	HTTP     *http.Client
	Source   catalog.Source // built from Config and HTTP when nil
	Sink     sink.Sink
	Journal  *journal.Journal
	Progress progress.Reporter
	Logger   *slog.Logger
}

// NewEnv returns an Env with a shared HTTP client and a progress reporter
// matching cfg.Progress. Journal and sink are opened on demand.
func NewEnv(cfg config.Config, logger *slog.Logger) *Env {
	var reporter progress.Reporter = progress.Nop{}
	if cfg.Progress {
		reporter = progress.NewBar(os.Stderr, logger)
	}
	return &Env{
		Config:   cfg,
		HTTP:     util.DefaultHTTPClient(cfg.HTTPTimeout),
		Progress: reporter,
		Logger:   logger,
	}
}

// OpenJournal opens the fetch journal when one is configured. A relative
// journal path is resolved against the cache root.
func (e *Env) OpenJournal(ctx context.Context) error {
	path := e.Config.JournalPath
	if path == "" {
		return nil
	}
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(e.Config.CacheRoot, path)
	}
	j, err := journal.Open(ctx, path, e.Logger)
	if err != nil {
		return err
	}
	e.Journal = j
	return nil
}

// OpenSink connects to the configured relational sink.
func (e *Env) OpenSink(ctx context.Context) error {
	if e.Config.ConnectionString == "" {
		return fmt.Errorf("no sink connection string (set %s)", config.ConnectionEnv)
	}
	s, err := sink.Open(ctx, e.Config.ConnectionString, e.Logger)
	if err != nil {
		return err
	}
	e.Sink = s
	return nil
}

// Cache returns the fetch cache of this run.
func (e *Env) Cache() *cache.Cache {
	return cache.New(e.Config.CacheRoot, e.Journal, e.Logger)
}

func (e *Env) source() catalog.Source {
	if e.Source != nil {
		return e.Source
	}
	cfg := e.Config
	opts := []catalog.Option{
		catalog.WithRateLimit(cfg.RequestsPerSecond),
		catalog.WithQuery(cfg.YearFrom, cfg.YearTo, cfg.Source),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, catalog.WithUserAgent(cfg.UserAgent))
	}
	if cfg.MetadataURL != "" && cfg.FileListURL != "" {
		opts = append(opts, catalog.WithEndpoints(cfg.MetadataURL, cfg.FileListURL))
	}
	e.Source = catalog.NewHTTPSource(e.HTTP, e.Logger, opts...)
	return e.Source
}

func (e *Env) reporter() progress.Reporter {
	if e.Progress == nil {
		return progress.Nop{}
	}
	return e.Progress
}

// Close releases the sink and the journal.
func (e *Env) Close() error {
	var err error
	if e.Sink != nil {
		err = errors.Join(err, e.Sink.Close())
		e.Sink = nil
	}
	if e.Journal != nil {
		err = errors.Join(err, e.Journal.Close())
		e.Journal = nil
	}
	return err
}
