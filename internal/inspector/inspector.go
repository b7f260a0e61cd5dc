// Package inspector summarizes a Parquet export with DuckDB: files and rows
// per pollutant/country group, the observation window covered, and a
// representative schema.
package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// timestampColumnName is summarized with MIN/MAX when present.
const timestampColumnName = "datetime_begin"

// GroupSummary describes all Parquet files of one pollutant/country directory.
type GroupSummary struct {
	Group         string // e.g. "SO2/AT"
	FileCount     int
	TotalRows     int64
	MinTimestamp  sql.NullString
	MaxTimestamp  sql.NullString
	Schema        string
	ColumnNames   []string
	SchemaErr     error
	StatsErr      error
	firstFilePath string
}

// Inspect summarizes every *.parquet file under dir. Per group query errors
// are recorded on the summary and joined into the returned error.
func Inspect(ctx context.Context, dir string, logger *slog.Logger) ([]GroupSummary, error) {
	logger.Info("--- Starting Parquet File Summary Inspection ---", slog.String("dir", dir))

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	// 1. Find all files, grouped by their directory relative to dir
	filesByGroup := make(map[string][]string)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".parquet") {
			return nil
		}
		rel, err := filepath.Rel(dir, filepath.Dir(p))
		if err != nil {
			return err
		}
		group := filepath.ToSlash(rel)
		filesByGroup[group] = append(filesByGroup[group], p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list parquet files in %s: %w", dir, err)
	}
	if len(filesByGroup) == 0 {
		logger.Info("No *.parquet files found.", "dir", dir)
		return nil, nil
	}

	groups := make([]string, 0, len(filesByGroup))
	for g := range filesByGroup {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	// 2. Summarize each group
	var summaries []GroupSummary
	var finalErr error
	for _, group := range groups {
		files := filesByGroup[group]
		sort.Strings(files)
		l := logger.With(slog.String("group", group))
		l.Debug("Processing group", slog.Int("file_count", len(files)))

		summary := GroupSummary{Group: group, FileCount: len(files), firstFilePath: files[0]}
		summary.Schema, summary.ColumnNames, summary.SchemaErr = getSchemaAndColumns(ctx, conn, summary.firstFilePath)
		if summary.SchemaErr != nil {
			l.Error("Failed getting schema for group", "error", summary.SchemaErr)
		}

		hasTimestampCol := false
		for _, colName := range summary.ColumnNames {
			if strings.EqualFold(colName, timestampColumnName) {
				hasTimestampCol = true
				break
			}
		}

		fileListLiteral := parquetListLiteral(files)
		var statsSQL string
		if hasTimestampCol {
			statsSQL = fmt.Sprintf(`SELECT COUNT(*), MIN(%[1]s)::VARCHAR, MAX(%[1]s)::VARCHAR FROM read_parquet(%[2]s, union_by_name = true);`, timestampColumnName, fileListLiteral)
		} else {
			statsSQL = fmt.Sprintf(`SELECT COUNT(*), NULL::VARCHAR, NULL::VARCHAR FROM read_parquet(%s, union_by_name = true);`, fileListLiteral)
		}
		l.Debug("Executing stats query", slog.String("sql", statsSQL))
		if err := conn.QueryRowContext(ctx, statsSQL).Scan(&summary.TotalRows, &summary.MinTimestamp, &summary.MaxTimestamp); err != nil {
			summary.StatsErr = fmt.Errorf("stats for %s: %w", group, err)
			l.Error("Failed getting statistics for group", "error", err)
		}
		finalErr = errors.Join(finalErr, summary.SchemaErr, summary.StatsErr)
		summaries = append(summaries, summary)
	}

	if finalErr != nil {
		logger.Warn("Inspection completed with errors.", "error", finalErr)
	}
	logger.Info("--- Parquet File Summary Inspection Finished ---", slog.Int("groups", len(summaries)))
	return summaries, finalErr
}

// WriteReport prints schemas and the aggregated statistics table.
func WriteReport(w io.Writer, summaries []GroupSummary) {
	fmt.Fprintln(w, "\n--- Parquet File Summary ---")
	for _, s := range summaries {
		fmt.Fprintf(w, "\n=== Group: %s ===\n", s.Group)
		fmt.Fprintf(w, "    (Found %d files)\n", s.FileCount)
		fmt.Fprintln(w, "\n  Representative Schema:")
		switch {
		case s.SchemaErr != nil:
			fmt.Fprintf(w, "    ERROR retrieving schema: %v\n", s.SchemaErr)
		case s.Schema == "":
			fmt.Fprintln(w, "    (Schema not found or file empty)")
		default:
			for _, line := range strings.Split(s.Schema, "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}
	fmt.Fprintln(w, "\n--- Aggregated Statistics ---")
	fmt.Fprintf(w, "%-30s | %-10s | %-15s | %-25s | %-25s | %s\n", "Group", "File Count", "Total Rows", "First Begin", "Last Begin", "Errors")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	for _, s := range summaries {
		minTs, maxTs := "N/A", "N/A"
		if s.MinTimestamp.Valid {
			minTs = s.MinTimestamp.String
		}
		if s.MaxTimestamp.Valid {
			maxTs = s.MaxTimestamp.String
		}
		errorStr := ""
		if s.SchemaErr != nil && s.StatsErr != nil {
			errorStr = "Schema & Stats Error"
		} else if s.SchemaErr != nil {
			errorStr = "Schema Error"
		} else if s.StatsErr != nil {
			errorStr = "Stats Error"
		}
		fmt.Fprintf(w, "%-30s | %-10d | %-15d | %-25s | %-25s | %s\n", s.Group, s.FileCount, s.TotalRows, minTs, maxTs, errorStr)
	}
	fmt.Fprintln(w, strings.Repeat("-", 130))
}

func escapePath(p string) string {
	return strings.ReplaceAll(filepath.ToSlash(p), "'", "''")
}

func parquetListLiteral(files []string) string {
	escaped := make([]string, len(files))
	for i, p := range files {
		escaped[i] = fmt.Sprintf("'%s'", escapePath(p))
	}
	return fmt.Sprintf("[%s]", strings.Join(escaped, ", "))
}

func getSchemaAndColumns(ctx context.Context, conn *sql.Conn, filePath string) (schemaString string, columnNames []string, err error) {
	describeSQL := fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet('%s');", escapePath(filePath))
	schemaRows, err := conn.QueryContext(ctx, describeSQL)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "No files found") {
			return "(File not found or empty)", nil, nil
		}
		return "", nil, fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer schemaRows.Close()
	var schemaBuilder strings.Builder
	schemaBuilder.WriteString(fmt.Sprintf("  %-30s | %-20s | %-5s | %-5s | %-5s | %s\n", "Column Name", "Column Type", "Null", "Key", "Default", "Extra"))
	schemaBuilder.WriteString("  " + strings.Repeat("-", 90) + "\n")
	columnCount := 0
	for schemaRows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if scanErr := schemaRows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); scanErr != nil {
			return "", nil, fmt.Errorf("scan schema row for %s: %w", filePath, scanErr)
		}
		schemaBuilder.WriteString(fmt.Sprintf("  %-30s | %-20s | %-5s | %-5s | %-5s | %s\n", colName.String, colType.String, nullVal.String, keyVal.String, defaultVal.String, extraVal.String))
		if colName.Valid {
			columnNames = append(columnNames, colName.String)
		}
		columnCount++
	}
	if err = schemaRows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	if columnCount == 0 {
		return "(No columns found)", nil, nil
	}
	return strings.TrimRight(schemaBuilder.String(), "\n"), columnNames, nil
}
