// Package journal keeps an append-only DuckDB log of cache fetch events.
// The log is informational: nothing consults it to decide whether a file
// needs fetching, the cache file on disk is the only source of truth.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Event types recorded by the cache.
const (
	EventCacheHit   = "cache_hit"
	EventFetched    = "fetched"
	EventFetchError = "fetch_error"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS fetch_event_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS fetch_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('fetch_event_id_seq'),
    run_id          VARCHAR NOT NULL,
    path            VARCHAR NOT NULL,      -- cache-relative path
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    source_url      VARCHAR,
    message         VARCHAR,
    bytes           BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_path ON fetch_event_log (path);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_event_time ON fetch_event_log (event, event_timestamp);
`

// Event is one fetch journal record.
type Event struct {
	Path      string
	Event     string
	SourceURL string
	Message   string
	Bytes     int64
	Duration  time.Duration
	Timestamp time.Time
	RunID     string
}

// Journal writes fetch events for a single run.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// Open opens (creating if needed) the journal database at path. ":memory:"
// gives a throwaway journal.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	} else {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// in-memory databases are per connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal %s: %w", path, err)
	}
	if err := initializeSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	j := &Journal{db: db, runID: uuid.NewString(), logger: logger}
	logger.Debug("Fetch journal opened.", slog.String("path", path), slog.String("run_id", j.runID))
	return j, nil
}

func initializeSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSequenceSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaTableSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// RunID identifies the events written through this journal.
func (j *Journal) RunID() string { return j.runID }

// Record appends an event. A nil journal ignores the call. Write failures
// are logged and never interrupt the caller's work.
func (j *Journal) Record(ctx context.Context, ev Event) {
	if j == nil {
		return
	}
	query := `
        INSERT INTO fetch_event_log (run_id, path, event, event_timestamp, source_url, message, bytes, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs sql.NullInt64
	if ev.Duration > 0 {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, query,
		j.runID,
		ev.Path,
		ev.Event,
		time.Now().UTC(),
		sql.NullString{String: ev.SourceURL, Valid: ev.SourceURL != ""},
		sql.NullString{String: ev.Message, Valid: ev.Message != ""},
		sql.NullInt64{Int64: ev.Bytes, Valid: ev.Bytes > 0},
		durationMs,
	)
	if err != nil {
		j.logger.Warn("Failed to record fetch event.", slog.String("path", ev.Path), slog.String("event", ev.Event), "error", err)
	}
}

// Filter narrows History results. Zero values mean no filter.
type Filter struct {
	PathPrefix string
	Event      string
	Limit      int
}

// History returns the most recent events first.
func (j *Journal) History(ctx context.Context, f Filter) ([]Event, error) {
	query := `
        SELECT run_id, path, event, event_timestamp, source_url, message, bytes, duration_ms
        FROM fetch_event_log
    `
	conditions := []string{}
	args := []any{}
	if f.PathPrefix != "" {
		conditions = append(conditions, "starts_with(path, ?)")
		args = append(args, f.PathPrefix)
	}
	if f.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, f.Event)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetch journal: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var sourceURL, message sql.NullString
		var size, durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &ev.Path, &ev.Event, &ev.Timestamp, &sourceURL, &message, &size, &durationMs); err != nil {
			return nil, fmt.Errorf("scan fetch journal row: %w", err)
		}
		ev.SourceURL = sourceURL.String
		ev.Message = message.String
		ev.Bytes = size.Int64
		ev.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch journal rows: %w", err)
	}
	return out, nil
}

// WriteHistory prints events as a fixed-width table.
func WriteHistory(w io.Writer, events []Event) {
	fmt.Fprintf(w, "%-60s | %-11s | %-25s | %-10s | %s\n", "Path", "Event", "Timestamp (UTC)", "DurationMS", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 140))
	for _, ev := range events {
		durationStr := ""
		if ev.Duration > 0 {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		details := ev.Message
		if ev.SourceURL != "" {
			details += fmt.Sprintf(" (Source: %s)", ev.SourceURL)
		}
		fmt.Fprintf(w, "%-60s | %-11s | %-25s | %-10s | %s\n",
			ev.Path, ev.Event, ev.Timestamp.Format(time.RFC3339), durationStr, strings.TrimSpace(details))
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
