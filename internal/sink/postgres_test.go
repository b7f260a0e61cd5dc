package sink

import (
	"context"
	"testing"
	"time"

	"github.com/brensch/aqingest/internal/tabular"
	"github.com/brensch/aqingest/scripts"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcpostgres.Run(
		ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("aq"),
		tcpostgres.WithUsername("aq"),
		tcpostgres.WithPassword("aq_dev"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, dsn, discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*Postgres)
}

func foreignKeys(t *testing.T, s *Postgres) []string {
	t.Helper()
	rows, err := s.pool.Query(context.Background(),
		`SELECT conname FROM pg_constraint WHERE conrelid = 'observation'::regclass AND contype = 'f' ORDER BY conname`)
	require.NoError(t, err)
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	require.NoError(t, err)
	return names
}

func TestPostgresSink(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	ddl, err := scripts.ObservationDDL(s.Dialect())
	require.NoError(t, err)

	station := TableSpec{Name: StationTable, Key: "station_id", Columns: []Column{{Name: "air_quality_station", Type: tabular.Text}}}
	quantity := TableSpec{Name: QuantityTable, Key: "quantity_id", Columns: []Column{{Name: "air_pollutant_code", Type: tabular.Text}}}
	require.NoError(t, s.ReplaceTable(ctx, station, [][]any{{int64(0), "STA-1"}, {int64(1), "STA-2"}}))
	require.NoError(t, s.ReplaceTable(ctx, quantity, [][]any{{int64(0), "http://p/1"}}))
	require.NoError(t, s.Exec(ctx, ddl))
	wantKeys := []string{"observation_quantity_id_fkey", "observation_station_id_fkey"}
	assert.Equal(t, wantKeys, foreignKeys(t, s))

	begin := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := []Observation{
		{Concentration: ptr(3.2), DatetimeBegin: begin, DatetimeEnd: begin.Add(time.Hour), Validity: ptr(int64(1)), StationID: 1, QuantityID: 0},
	}
	require.NoError(t, s.AppendObservations(ctx, batch))
	assert.ErrorIs(t, s.AppendObservations(ctx, batch), ErrAlreadyLoaded)

	// dimensions stay put while facts reference them
	err = s.ReplaceTable(ctx, station, [][]any{{int64(0), "STA-3"}})
	assert.ErrorIs(t, err, ErrDimensionInUse)
	assert.Equal(t, wantKeys, foreignKeys(t, s))

	// with the facts gone a second meta load renumbers and keeps the keys
	require.NoError(t, s.Exec(ctx, "DELETE FROM observation"))
	require.NoError(t, s.ReplaceTable(ctx, station, [][]any{{int64(0), "STA-3"}}))
	require.NoError(t, s.ReplaceTable(ctx, quantity, [][]any{{int64(0), "http://p/1"}}))
	require.NoError(t, s.Exec(ctx, ddl))
	assert.Equal(t, wantKeys, foreignKeys(t, s))

	keys, err := s.KeyLookup(ctx, StationTable, "station_id", "air_quality_station")
	require.NoError(t, err)
	assert.Equal(t, map[string][]int64{"STA-3": {0}}, keys)
}
