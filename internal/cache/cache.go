// Package cache implements the fetch-once primitive every download stage is
// built on. A resource is addressed by a path relative to the cache root; if
// the file exists it is the answer, otherwise the fetch function produces the
// table and it is written into place atomically.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/aqingest/internal/journal"
	"github.com/brensch/aqingest/internal/tabular"
)

// FetchFunc produces a table when the cached copy is missing.
type FetchFunc func(ctx context.Context) (*tabular.Table, error)

// Cache is a directory of compressed CSV resources.
type Cache struct {
	root    string
	journal *journal.Journal
	logger  *slog.Logger
}

// New returns a cache rooted at root. j may be nil.
func New(root string, j *journal.Journal, logger *slog.Logger) *Cache {
	return &Cache{root: root, journal: j, logger: logger.With(slog.String("component", "cache"))}
}

// Root is the cache directory.
func (c *Cache) Root() string { return c.root }

// Path resolves a cache-relative path.
func (c *Cache) Path(rel string) string {
	return filepath.Join(c.root, filepath.FromSlash(rel))
}

// Exists reports whether rel has been fetched.
func (c *Cache) Exists(rel string) (bool, error) {
	_, err := os.Stat(c.Path(rel))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Fetch returns the table stored at rel, calling fn and persisting its result
// only when the file is absent. Errors from fn are returned unchanged.
func (c *Cache) Fetch(ctx context.Context, rel string, fn FetchFunc, opts ...FetchOption) (*tabular.Table, error) {
	o := fetchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	path := c.Path(rel)
	l := c.logger.With(slog.String("path", rel))

	exists, err := c.Exists(rel)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if exists {
		l.Debug("Using cached copy.")
		t, err := tabular.ReadFile(path, tabular.ReadOptions{Logger: l})
		if err != nil {
			return nil, err
		}
		c.journal.Record(ctx, journal.Event{Path: rel, Event: journal.EventCacheHit, SourceURL: o.sourceURL})
		return t, nil
	}

	start := time.Now()
	t, err := fn(ctx)
	if err != nil {
		c.journal.Record(ctx, journal.Event{Path: rel, Event: journal.EventFetchError, SourceURL: o.sourceURL, Message: err.Error(), Duration: time.Since(start)})
		return nil, err
	}
	if err := tabular.WriteFile(path, t); err != nil {
		c.journal.Record(ctx, journal.Event{Path: rel, Event: journal.EventFetchError, SourceURL: o.sourceURL, Message: err.Error(), Duration: time.Since(start)})
		return nil, fmt.Errorf("persist %s: %w", rel, err)
	}
	var size int64
	if info, statErr := os.Stat(path); statErr == nil {
		size = info.Size()
	}
	l.Debug("Fetched and cached.", slog.Int("rows", t.Len()), slog.Duration("duration", time.Since(start)))
	c.journal.Record(ctx, journal.Event{Path: rel, Event: journal.EventFetched, SourceURL: o.sourceURL, Bytes: size, Duration: time.Since(start)})
	return t, nil
}

type fetchOptions struct {
	sourceURL string
}

// FetchOption annotates a fetch for the journal.
type FetchOption func(*fetchOptions)

// WithSourceURL records where the resource came from.
func WithSourceURL(u string) FetchOption {
	return func(o *fetchOptions) { o.sourceURL = u }
}
