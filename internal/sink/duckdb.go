package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brensch/aqingest/internal/tabular"
	"github.com/marcboeker/go-duckdb"
)

// DuckDB is an embedded sink.
type DuckDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenDuckDB opens the database file at path; "" or ":memory:" is in memory.
// All pooled connections share one database instance.
func OpenDuckDB(ctx context.Context, path string, logger *slog.Logger) (*DuckDB, error) {
	if path == ":memory:" {
		path = ""
	}
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector (%s): %w", path, err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
	}
	return &DuckDB{db: db, logger: logger.With(slog.String("sink", "duckdb"))}, nil
}

// DB exposes the underlying handle for inspection.
func (d *DuckDB) DB() *sql.DB { return d.db }

func duckType(t tabular.ColumnType) string {
	return t.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func createTableSQL(spec TableSpec, typeName func(tabular.ColumnType) string) string {
	cols := make([]string, 0, len(spec.Columns)+1)
	cols = append(cols, quoteIdent(spec.Key)+" BIGINT NOT NULL")
	for _, c := range spec.Columns {
		cols = append(cols, quoteIdent(c.Name)+" "+typeName(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(spec.Name), strings.Join(cols, ", "))
}

// ReplaceTable recreates the table and fills it with the appender inside one
// transaction. DuckDB cannot add a primary key to an existing table, so the
// key is enforced with a unique index named <table>_pkey.
func (d *DuckDB) ReplaceTable(ctx context.Context, spec TableSpec, rows [][]any) (err error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if _, rbErr := conn.ExecContext(context.Background(), "ROLLBACK"); rbErr != nil {
				d.logger.Error("Rollback failed.", slog.String("table", spec.Name), "error", rbErr)
			}
		}
	}()

	if spec.Name != ObservationTable {
		inUse, err := duckHasRows(ctx, conn, ObservationTable)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%s: %w", spec.Name, ErrDimensionInUse)
		}
	}

	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(spec.Name)); err != nil {
		return fmt.Errorf("drop %s: %w", spec.Name, err)
	}
	if _, err := conn.ExecContext(ctx, createTableSQL(spec, duckType)); err != nil {
		return fmt.Errorf("create %s: %w", spec.Name, err)
	}

	err = conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", spec.Name)
		if err != nil {
			return fmt.Errorf("create appender for %s: %w", spec.Name, err)
		}
		values := make([]driver.Value, len(spec.Columns)+1)
		for i, row := range rows {
			for j := range values {
				values[j] = row[j]
			}
			if err := appender.AppendRow(values...); err != nil {
				appender.Close()
				return fmt.Errorf("append row %d to %s: %w", i, spec.Name, err)
			}
		}
		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush appender for %s: %w", spec.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	pk := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", quoteIdent(spec.Name+"_pkey"), quoteIdent(spec.Name), quoteIdent(spec.Key))
	if _, err := conn.ExecContext(ctx, pk); err != nil {
		return fmt.Errorf("add key to %s: %w", spec.Name, err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit %s: %w", spec.Name, err)
	}
	d.logger.Debug("Table replaced.", slog.String("table", spec.Name), slog.Int("rows", len(rows)))
	return nil
}

func duckHasRows(ctx context.Context, conn *sql.Conn, table string) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx, `SELECT count(*) FROM information_schema.tables WHERE table_name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", table, err)
	}
	if n == 0 {
		return false, nil
	}
	var exists bool
	if err := conn.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM "+quoteIdent(table)+")").Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s rows: %w", table, err)
	}
	return exists, nil
}

// KeyLookup reads the code to surrogate key mapping of a dimension table.
func (d *DuckDB) KeyLookup(ctx context.Context, table, keyColumn, codeColumn string) (map[string][]int64, error) {
	return keyLookup(ctx, d.db, table, keyColumn, codeColumn)
}

func keyLookup(ctx context.Context, db *sql.DB, table, keyColumn, codeColumn string) (map[string][]int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s", quoteIdent(keyColumn), quoteIdent(codeColumn), quoteIdent(table), quoteIdent(keyColumn))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read keys of %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var code sql.NullString
		if err := rows.Scan(&id, &code); err != nil {
			return nil, fmt.Errorf("scan keys of %s: %w", table, err)
		}
		if !code.Valid {
			continue
		}
		out[code.String] = append(out[code.String], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys of %s: %w", table, err)
	}
	return out, nil
}

// AppendObservations inserts the batch in one transaction.
func (d *DuckDB) AppendObservations(ctx context.Context, rows []Observation) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ObservationColumns)), ", ")
	cols := make([]string, len(ObservationColumns))
	for i, c := range ObservationColumns {
		cols[i] = quoteIdent(c)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(ObservationTable), strings.Join(cols, ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rows {
		if _, err := stmt.ExecContext(ctx, o.Values()...); err != nil {
			return classifyDuckErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyDuckErr(err)
	}
	return nil
}

func classifyDuckErr(err error) error {
	if isDuckUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrAlreadyLoaded, err)
	}
	return fmt.Errorf("insert observations: %w", err)
}

// isDuckUniqueViolation matches DuckDB's constraint message, e.g.
// `Constraint Error: Duplicate key "..." violates unique constraint`.
func isDuckUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "violates primary key constraint")
}

// Exec runs a script of one or more statements.
func (d *DuckDB) Exec(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if _, err := d.db.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("exec script: %w", err)
	}
	return nil
}

// Dialect reports DialectDuckDB.
func (d *DuckDB) Dialect() string { return DialectDuckDB }

// Close releases the database.
func (d *DuckDB) Close() error {
	return d.db.Close()
}
