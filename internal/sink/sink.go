// Package sink is the relational store the loaders write to. Two backends
// exist: Postgres/TimescaleDB through pgx and an embedded DuckDB database.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/aqingest/internal/tabular"
)

// ErrAlreadyLoaded is returned by AppendObservations when the batch collides
// with rows already present.
var ErrAlreadyLoaded = errors.New("observations already loaded")

// ErrDimensionInUse is returned by ReplaceTable when the observation table
// holds rows whose keys point into the dimension being replaced.
var ErrDimensionInUse = errors.New("dimension referenced by loaded observations")

// Table names.
const (
	StationTable     = "station"
	QuantityTable    = "quantity"
	ObservationTable = "observation"
)

// ObservationSchemaVersion is bumped whenever ObservationColumns changes.
const ObservationSchemaVersion = 1

// ObservationColumns is the fixed column order of the observation table.
var ObservationColumns = []string{
	"concentration",
	"datetime_begin",
	"datetime_end",
	"validity",
	"verification",
	"station_id",
	"quantity_id",
}

// Observation is one fact row. Nil pointers are NULL.
type Observation struct {
	Concentration *float64
	DatetimeBegin time.Time
	DatetimeEnd   time.Time
	Validity      *int64
	Verification  *int64
	StationID     int64
	QuantityID    int64
}

// Values returns the row in ObservationColumns order.
func (o Observation) Values() []any {
	return []any{
		nullable(o.Concentration),
		o.DatetimeBegin,
		o.DatetimeEnd,
		nullable(o.Validity),
		nullable(o.Verification),
		o.StationID,
		o.QuantityID,
	}
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// Column is one column of a dimension table.
type Column struct {
	Name string
	Type tabular.ColumnType
}

// TableSpec describes a dimension table. Key is a BIGINT surrogate key and is
// the first value of every row; Columns follow in order.
type TableSpec struct {
	Name    string
	Key     string
	Columns []Column
}

// ColumnNames returns the key followed by the data columns.
func (s TableSpec) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns)+1)
	names = append(names, s.Key)
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Sink is implemented by every backend.
type Sink interface {
	// ReplaceTable drops and recreates a dimension table, bulk writes rows and
	// then adds the primary key on spec.Key. It fails with ErrDimensionInUse
	// while the observation table holds rows.
	ReplaceTable(ctx context.Context, spec TableSpec, rows [][]any) error
	// KeyLookup maps every value of codeColumn to the surrogate keys carrying it.
	KeyLookup(ctx context.Context, table, keyColumn, codeColumn string) (map[string][]int64, error)
	// AppendObservations writes one batch atomically. A uniqueness violation
	// returns an error wrapping ErrAlreadyLoaded and leaves nothing behind.
	AppendObservations(ctx context.Context, rows []Observation) error
	// Exec runs a SQL script.
	Exec(ctx context.Context, script string) error
	// Dialect names the SQL flavour scripts must be written in.
	Dialect() string
	Close() error
}

// SQL dialects reported by Sink.Dialect.
const (
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
)

// DuckDBScheme prefixes DuckDB connection strings: "duckdb:<path>", an empty
// path is an in-memory database.
const DuckDBScheme = "duckdb:"

// Open connects to the backend named by the connection string.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (Sink, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn, logger)
	case strings.HasPrefix(dsn, DuckDBScheme):
		return OpenDuckDB(ctx, strings.TrimPrefix(dsn, DuckDBScheme), logger)
	default:
		return nil, fmt.Errorf("unsupported connection string %q (want postgres://, postgresql:// or %s<path>)", redact(dsn), DuckDBScheme)
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		return "***" + dsn[i:]
	}
	return dsn
}
