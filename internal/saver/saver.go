// Package saver copies the tables of an embedded DuckDB sink to Parquet.
package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ListTables returns the user tables of db in name order.
func ListTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tableNames, nil
}

// OutputPath is where SaveTables writes table.
func OutputPath(outDir, table string) string {
	safe := strings.ReplaceAll(table, `"`, "")
	safe = strings.ReplaceAll(safe, "/", "_")
	return filepath.Join(outDir, safe+".parquet")
}

// SaveTables writes each table to {outDir}/{table}.parquet with DuckDB's
// COPY TO. An empty tables list saves every user table. Failures are logged
// per table and returned joined.
func SaveTables(ctx context.Context, db *sql.DB, outDir string, tables []string, logger *slog.Logger) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", outDir, err)
	}
	if len(tables) == 0 {
		var err error
		if tables, err = ListTables(ctx, db); err != nil {
			return nil, err
		}
	}
	if len(tables) == 0 {
		logger.Info("No user tables found in the database to save.")
		return nil, nil
	}

	var saved []string
	var saveErrors []error
	for _, tn := range tables {
		if err := ctx.Err(); err != nil {
			saveErrors = append(saveErrors, err)
			break
		}
		l := logger.With(slog.String("table", tn))

		outputFilePath := OutputPath(outDir, tn)
		duckdbFilePath := strings.ReplaceAll(outputFilePath, `\`, `/`)
		quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(tn, `"`, `""`))
		copySQL := fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET);`,
			quotedTableName,
			strings.ReplaceAll(duckdbFilePath, "'", "''"),
		)

		l.Debug("Executing COPY TO command.", slog.String("output_path", outputFilePath))
		if _, err := db.ExecContext(ctx, copySQL); err != nil {
			l.Error("Failed to save table to Parquet.", "error", err)
			saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", tn, err))
			continue
		}
		saved = append(saved, outputFilePath)
		l.Info("Saved table to Parquet.", slog.String("output_path", outputFilePath))
	}
	return saved, errors.Join(saveErrors...)
}
