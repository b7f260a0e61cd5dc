// Package exporter mirrors the raw cache as Parquet files so it can be
// queried without a relational sink.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/aqingest/internal/downloader"
	"github.com/brensch/aqingest/internal/progress"
	"github.com/brensch/aqingest/internal/tabular"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Summary counts the outcome of an export pass.
type Summary struct {
	Total   int
	Written int
	Skipped int
	Failed  int
}

// OutputPath maps a cached raw file to its Parquet location:
// raw/{pollutant}/{country}/{name}.csv.xz -> {outDir}/{pollutant}/{country}/{name}.parquet
func OutputPath(rawRoot, src, outDir string) (string, error) {
	rel, err := filepath.Rel(rawRoot, src)
	if err != nil {
		return "", err
	}
	name := strings.TrimSuffix(rel, ".xz")
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return filepath.Join(outDir, name+".parquet"), nil
}

// Export converts every cached raw file under cacheRoot that has no Parquet
// counterpart yet. Failed files are logged and counted.
func Export(ctx context.Context, cacheRoot, outDir string, reporter progress.Reporter, logger *slog.Logger) (Summary, error) {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	rawRoot := filepath.Join(cacheRoot, downloader.RawDir)
	var sources []string
	err := filepath.WalkDir(rawRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".xz") {
			sources = append(sources, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Summary{}, fmt.Errorf("walk %s: %w", rawRoot, err)
	}
	sort.Strings(sources)

	sum := Summary{Total: len(sources)}
	logger.Info("Exporting raw cache to parquet.", slog.Int("files", len(sources)), slog.String("output_dir", outDir))
	reporter.Start(len(sources), "Parquet export")
	defer reporter.Finish()
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		dst, err := OutputPath(rawRoot, src, outDir)
		if err != nil {
			return sum, err
		}
		l := logger.With(slog.String("file", src), slog.String("output", dst))
		if _, err := os.Stat(dst); err == nil {
			sum.Skipped++
			reporter.Advance(filepath.Base(dst))
			continue
		}
		if err := ExportFile(src, dst, l); err != nil {
			sum.Failed++
			l.Error("Failed to export file.", "error", err)
		} else {
			sum.Written++
		}
		reporter.Advance(filepath.Base(dst))
	}
	logger.Info("Parquet export complete.",
		slog.Int("total", sum.Total),
		slog.Int("written", sum.Written),
		slog.Int("skipped", sum.Skipped),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// ExportFile writes one table as Parquet with an inferred schema. Column
// names are normalized; empty cells are NULL.
func ExportFile(src, dst string, logger *slog.Logger) (err error) {
	t, err := tabular.ReadFile(src, tabular.ReadOptions{Logger: logger})
	if err != nil {
		return err
	}
	t.NormalizeColumns()
	types := tabular.InferTypes(t, nil)
	meta := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if c == "" {
			c = fmt.Sprintf("column_%d", i)
		}
		meta[i] = columnMeta(c, types[i])
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	tmp := dst + ".partial"
	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	defer func() {
		if err != nil {
			fw.Close()
			os.Remove(tmp)
		}
	}()

	pw, err := writer.NewCSVWriter(meta, fw, 4)
	if err != nil {
		return fmt.Errorf("init writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rec := make([]*string, len(t.Columns))
	for n, row := range t.Rows {
		for i, cell := range row {
			rec[i] = cellValue(cell, types[i])
		}
		if err := pw.WriteString(rec); err != nil {
			return fmt.Errorf("write row %d: %w", n+1, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("move %s into place: %w", dst, err)
	}
	logger.Debug("Exported.", slog.Int("rows", t.Len()))
	return nil
}

func columnMeta(name string, typ tabular.ColumnType) string {
	switch typ {
	case tabular.Integer:
		return fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", name)
	case tabular.Float:
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", name)
	default:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", name)
	}
}

func cellValue(cell string, typ tabular.ColumnType) *string {
	if typ != tabular.Text {
		cell = strings.TrimSpace(cell)
	}
	if cell == "" {
		return nil
	}
	return &cell
}
