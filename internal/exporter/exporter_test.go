package exporter

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/aqingest/internal/tabular"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeRaw(t *testing.T, root, rel string) {
	t.Helper()
	tbl := tabular.New("AirQualityStation", "Concentration", "Validity", "DatetimeBegin")
	tbl.Append("STA-1", "3.5", "1", "2017-01-01 00:00:00 +01:00")
	tbl.Append("STA-2", "", "2", "2017-01-01 01:00:00 +01:00")
	require.NoError(t, tabular.WriteFile(filepath.Join(root, filepath.FromSlash(rel)), tbl))
}

func TestOutputPath(t *testing.T) {
	got, err := OutputPath("/cache/raw", "/cache/raw/PM2.5/DE/DE_6001_1_2017_timeseries.csv.xz", "/out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "PM2.5", "DE", "DE_6001_1_2017_timeseries.parquet"), got)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	cacheRoot, out := t.TempDir(), t.TempDir()
	writeRaw(t, cacheRoot, "raw/SO2/AT/AT_1_a.csv.xz")
	writeRaw(t, cacheRoot, "raw/SO2/AT/AT_1_b.csv.xz")

	sum, err := Export(ctx, cacheRoot, out, nil, discard())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Written: 2}, sum)

	again, err := Export(ctx, cacheRoot, out, nil, discard())
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Skipped: 2}, again)

	path := filepath.Join(out, "SO2", "AT", "AT_1_a.parquet")
	_, err = os.Stat(path + ".partial")
	assert.True(t, os.IsNotExist(err))

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()

	var n, nulls int
	var total float64
	q := "SELECT count(*), count(*) FILTER (WHERE concentration IS NULL), sum(concentration) FROM read_parquet('" + filepath.ToSlash(path) + "')"
	require.NoError(t, db.QueryRowContext(ctx, q).Scan(&n, &nulls, &total))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, nulls)
	assert.Equal(t, 3.5, total)

	var typ string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT typeof(validity) FROM read_parquet('"+filepath.ToSlash(path)+"') LIMIT 1").Scan(&typ))
	assert.Equal(t, "BIGINT", typ)
}

func TestExportWithoutRawDir(t *testing.T) {
	sum, err := Export(context.Background(), t.TempDir(), t.TempDir(), nil, discard())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
}
