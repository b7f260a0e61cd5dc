package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/aqingest/internal/config"
	"github.com/brensch/aqingest/internal/sink"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestLoadWithoutConnectionExitsTwo(t *testing.T) {
	t.Setenv(config.ConnectionEnv, "")
	code, _, stderr := execute(t, "load", "observations", "x.csv")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, config.ConnectionEnv)
}

func TestLoadWithoutSubcommandExitsOne(t *testing.T) {
	t.Setenv(config.ConnectionEnv, "duckdb:")
	code, _, stderr := execute(t, "load")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "missing subcommand")
}

func TestUnknownFlagExitsOne(t *testing.T) {
	code, _, _ := execute(t, "download", "--no-such-flag")
	assert.Equal(t, 1, code)
}

func TestLoadMeta(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aq.duckdb")
	t.Setenv(config.ConnectionEnv, "duckdb:"+dbPath)

	stations := filepath.Join(dir, "stations.csv")
	pollutants := filepath.Join(dir, "pollutants.csv")
	ddl := filepath.Join(dir, "observation.sql")
	require.NoError(t, os.WriteFile(stations, []byte("AirQualityStation,Altitude\nSTA-1,-999\nSTA-2,12.5\n"), 0o644))
	require.NoError(t, os.WriteFile(pollutants, []byte("Notation,AirPollutantCode\nSO2,http://p/1\n"), 0o644))
	require.NoError(t, os.WriteFile(ddl, []byte("CREATE TABLE observation (concentration DOUBLE, station_id BIGINT);"), 0o644))

	code, _, stderr := execute(t, "--no-progress", "--cache-dir", dir, "load", "--observation-ddl", ddl, "meta", stations, pollutants)
	require.Equal(t, 0, code, stderr)

	db, err := sql.Open("duckdb", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM station WHERE altitude IS NULL").Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow("SELECT count(*) FROM quantity").Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow("SELECT count(*) FROM observation").Scan(&n))
	assert.Equal(t, 0, n)
	require.NoError(t, db.Close())

	snap := filepath.Join(dir, "snap")
	code, _, stderr = execute(t, "snapshot", "--table", "station", snap)
	require.Equal(t, 0, code, stderr)
	assert.FileExists(t, filepath.Join(snap, "station.parquet"))
	assert.NoFileExists(t, filepath.Join(snap, "quantity.parquet"))
}

func TestLoadMetaWithEmbeddedDDL(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "aq.duckdb")
	t.Setenv(config.ConnectionEnv, "duckdb:"+dbPath)
	t.Chdir(dir)

	stations := filepath.Join(dir, "stations.csv")
	pollutants := filepath.Join(dir, "pollutants.csv")
	require.NoError(t, os.WriteFile(stations, []byte("AirQualityStation\nSTA-1\n"), 0o644))
	require.NoError(t, os.WriteFile(pollutants, []byte("AirPollutantCode\nhttp://p/1\n"), 0o644))

	for range 2 {
		code, _, stderr := execute(t, "--no-progress", "--cache-dir", dir, "load", "meta", stations, pollutants)
		require.Equal(t, 0, code, stderr)
	}

	db, err := sql.Open("duckdb", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var cols []string
	rows, err := db.Query("SELECT column_name FROM information_schema.columns WHERE table_name = 'observation' ORDER BY ordinal_position")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		cols = append(cols, c)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, sink.ObservationColumns, cols)
}

func TestStateOnEmptyJournal(t *testing.T) {
	dir := t.TempDir()
	code, stdout, stderr := execute(t, "--cache-dir", dir, "state", "--event", "fetched")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Displayed 0 records.")
}

func TestLogFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "pretty"} {
		t.Run(format, func(t *testing.T) {
			dir := t.TempDir()
			logFile := filepath.Join(dir, "run.log")
			code, _, stderr := execute(t, "--log-format", format, "--log-output", logFile, "-v", "--cache-dir", dir, "state")
			require.Equal(t, 0, code, stderr)
			b, err := os.ReadFile(logFile)
			require.NoError(t, err)
			assert.Contains(t, string(b), "Configuration loaded")
		})
	}
}
