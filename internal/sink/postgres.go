package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brensch/aqingest/internal/tabular"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres writes to PostgreSQL / TimescaleDB through a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects and pings the server.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logger.With(slog.String("sink", "postgres"))}, nil
}

func pgType(t tabular.ColumnType) string {
	switch t {
	case tabular.Integer:
		return "BIGINT"
	case tabular.Float:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// ReplaceTable drops (with CASCADE, taking dependent foreign keys along),
// recreates and copies the table in one transaction, then adds the primary key.
// The observation DDL re-adds the foreign keys.
func (p *Postgres) ReplaceTable(ctx context.Context, spec TableSpec, rows [][]any) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if spec.Name != ObservationTable {
		var inUse bool
		err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ObservationTable).Scan(&inUse)
		if err != nil {
			return fmt.Errorf("look up %s: %w", ObservationTable, err)
		}
		if inUse {
			q := "SELECT EXISTS (SELECT 1 FROM " + pgx.Identifier{ObservationTable}.Sanitize() + ")"
			if err := tx.QueryRow(ctx, q).Scan(&inUse); err != nil {
				return fmt.Errorf("check %s rows: %w", ObservationTable, err)
			}
		}
		if inUse {
			return fmt.Errorf("%s: %w", spec.Name, ErrDimensionInUse)
		}
	}

	table := pgx.Identifier{spec.Name}
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table.Sanitize()+" CASCADE"); err != nil {
		return fmt.Errorf("drop %s: %w", spec.Name, err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(spec, pgType)); err != nil {
		return fmt.Errorf("create %s: %w", spec.Name, err)
	}
	n, err := tx.CopyFrom(ctx, table, spec.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", spec.Name, err)
	}
	pk := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table.Sanitize(), pgx.Identifier{spec.Key}.Sanitize())
	if _, err := tx.Exec(ctx, pk); err != nil {
		return fmt.Errorf("add key to %s: %w", spec.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", spec.Name, err)
	}
	p.logger.Debug("Table replaced.", slog.String("table", spec.Name), slog.Int64("rows", n))
	return nil
}

// KeyLookup reads the code to surrogate key mapping of a dimension table.
func (p *Postgres) KeyLookup(ctx context.Context, table, keyColumn, codeColumn string) (map[string][]int64, error) {
	query := fmt.Sprintf("SELECT %s, %s::text FROM %s ORDER BY 1",
		pgx.Identifier{keyColumn}.Sanitize(), pgx.Identifier{codeColumn}.Sanitize(), pgx.Identifier{table}.Sanitize())
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read keys of %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var code *string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("scan keys of %s: %w", table, err)
		}
		if code == nil {
			continue
		}
		out[*code] = append(out[*code], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys of %s: %w", table, err)
	}
	return out, nil
}

// AppendObservations copies the batch with COPY, which is all or nothing.
func (p *Postgres) AppendObservations(ctx context.Context, rows []Observation) error {
	_, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{ObservationTable},
		ObservationColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return rows[i].Values(), nil
		}),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrAlreadyLoaded, err)
		}
		return fmt.Errorf("copy observations: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

// Exec runs a script through the simple protocol, so it may hold several
// statements.
func (p *Postgres) Exec(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := p.pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// Dialect reports DialectPostgres.
func (p *Postgres) Dialect() string { return DialectPostgres }

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
