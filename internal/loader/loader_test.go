package loader

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brensch/aqingest/internal/sink"
	"github.com/brensch/aqingest/internal/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const observationDDL = `
CREATE TABLE observation (
    concentration  DOUBLE,
    datetime_begin TIMESTAMP,
    datetime_end   TIMESTAMP,
    validity       INTEGER,
    verification   INTEGER,
    station_id     BIGINT,
    quantity_id    BIGINT,
    UNIQUE (station_id, quantity_id, datetime_begin, datetime_end)
);`

const stationsCSV = `Countrycode,AirQualityStation,AirQualityStationEoICode,Altitude,Recommended unit
AT,STA-1,AT0001A,104.5,
AT,STA-2,AT0002A,-999,
DE,STA-3,DE0003A,12,
DE,STA-3,DE0003B,13,
`

const quantitiesCSV = `Concept URI,Notation,Recommended unit,AirPollutantCode
http://dd.eionet.europa.eu/vocabulary/aq/pollutant/1,SO2,ug.m-3,http://dd.eionet.europa.eu/vocabulary/aq/pollutant/1
http://dd.eionet.europa.eu/vocabulary/aq/pollutant/5,PM10,ug.m-3,http://dd.eionet.europa.eu/vocabulary/aq/pollutant/5
`

const observationHeader = "Countrycode,Namespace,AirQualityNetwork,AirQualityStation,AirQualityStationEoICode,SamplingPoint,SamplingProcess,Sample,AirPollutant,AirPollutantCode,AveragingTime,Concentration,UnitOfMeasurement,DatetimeBegin,DatetimeEnd,Validity,Verification\n"

func observationLine(station, pollutant, conc, begin, end string) string {
	return strings.Join([]string{
		"AT", "AT.0008.20.AQ", "NET.AT_BE", station, "AT0001A", "SPO", "SPP", "SAM", "SO2",
		"http://dd.eionet.europa.eu/vocabulary/aq/pollutant/" + pollutant, "hour", conc, "ug.m-3", begin, end, "1", "1",
	}, ",") + "\n"
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	dir  string
	sink *sink.DuckDB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sink.OpenDuckDB(ctx, "", discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{dir: t.TempDir(), sink: s}
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func (f *fixture) loadMeta(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	n, err := LoadStations(ctx, f.sink, f.write(t, "stations.csv", []byte(stationsCSV)), discard())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	n, err = LoadQuantities(ctx, f.sink, f.write(t, "pollutants.csv", []byte(quantitiesCSV)), discard())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, f.sink.Exec(ctx, observationDDL))
}

func (f *fixture) count(t *testing.T, query string) int {
	t.Helper()
	var n int
	require.NoError(t, f.sink.DB().QueryRowContext(context.Background(), query).Scan(&n))
	return n
}

func TestLoadDimensionSchema(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	rows, err := f.sink.DB().QueryContext(ctx, `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'station' ORDER BY ordinal_position`)
	require.NoError(t, err)
	defer rows.Close()
	got := map[string]string{}
	var order []string
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		got[name] = typ
		order = append(order, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"station_id", "countrycode", "air_quality_station", "air_quality_station_eo_i_code", "altitude", "recommended_unit"}, order)
	assert.Equal(t, "BIGINT", got["station_id"])
	assert.Equal(t, "DOUBLE", got["altitude"])
	assert.Equal(t, "VARCHAR", got["air_quality_station"])

	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM station WHERE altitude IS NULL"), "-999 is NULL")
	assert.Equal(t, 0, f.count(t, "SELECT min(station_id) FROM station"))
	assert.Equal(t, 1, f.count(t, `SELECT count(*) FROM information_schema.columns WHERE table_name = 'quantity' AND column_name = 'concept__u_r_i'`))
}

func TestLoadDimensionReplaces(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	path := f.write(t, "stations2.csv", []byte("AirQualityStation,Altitude\nSTA-9,1\n"))
	_, err := LoadStations(ctx, f.sink, path, discard())
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "SELECT count(*) FROM station"))
	assert.Equal(t, 0, f.count(t, "SELECT count(*) FROM information_schema.columns WHERE table_name = 'station' AND column_name = 'countrycode'"))
}

func TestLoadDimensionRequiresJoinColumn(t *testing.T) {
	f := newFixture(t)
	_, err := LoadStations(context.Background(), f.sink, f.write(t, "bad.csv", []byte("Name\nx\n")), discard())
	assert.Error(t, err)
}

func TestLoadObservationsJoin(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	data := observationHeader +
		observationLine("STA-1", "1", "3.5", "2017-01-01 00:00:00 +01:00", "2017-01-01 01:00:00 +01:00") +
		observationLine("STA-3", "5", "", "2017-01-01 00:00:00 +01:00", "2017-01-01 01:00:00 +01:00") +
		observationLine("STA-404", "1", "1.0", "2017-01-01 00:00:00 +01:00", "2017-01-01 01:00:00 +01:00") +
		observationLine("STA-1", "999", "1.0", "2017-01-01 00:00:00 +01:00", "2017-01-01 01:00:00 +01:00")
	path := filepath.Join(f.dir, "AT_1.csv.xz")
	tbl, err := tabular.Decode([]byte(data), tabular.ReadOptions{})
	require.NoError(t, err)
	require.NoError(t, tabular.WriteFile(path, tbl))

	sum, err := LoadObservations(ctx, f.sink, []string{path}, Options{}, discard())
	require.NoError(t, err)
	// STA-3 has two station rows, so its observation appears twice
	assert.Equal(t, Summary{Files: 1, Loaded: 1, Rows: 3, Dropped: 2}, sum)
	assert.Equal(t, 3, f.count(t, "SELECT count(*) FROM observation"))
	assert.Equal(t, 2, f.count(t, "SELECT count(DISTINCT station_id) FROM observation WHERE concentration IS NULL"))

	var begin time.Time
	require.NoError(t, f.sink.DB().QueryRowContext(ctx, "SELECT datetime_begin FROM observation WHERE station_id = 0").Scan(&begin))
	assert.True(t, begin.Equal(time.Date(2016, 12, 31, 23, 0, 0, 0, time.UTC)))
}

func TestLoadObservationsSkipsLoadedFile(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	a := f.write(t, "a.csv", []byte(observationHeader+observationLine("STA-1", "1", "1", "2017-01-01 00:00:00", "2017-01-01 01:00:00")))
	b := f.write(t, "b.csv", []byte(observationHeader+observationLine("STA-1", "1", "2", "2017-01-02 00:00:00", "2017-01-02 01:00:00")))

	_, err := LoadObservations(ctx, f.sink, []string{a}, Options{}, discard())
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	sum, err := LoadObservations(ctx, f.sink, []string{b, a}, Options{}, logger)
	require.NoError(t, err)
	assert.Equal(t, Summary{Files: 2, Loaded: 1, Skipped: 1, Rows: 1}, sum)
	assert.Equal(t, 2, f.count(t, "SELECT count(*) FROM observation"))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "a.csv")
}

func TestLoadObservationsUTF16Fallback(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	text := observationHeader + observationLine("STA-2", "1", "7.25", "2017-03-01 00:00:00 +01:00", "2017-03-01 01:00:00 +01:00")
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	path := f.write(t, "utf16.csv", encoded)

	var logs bytes.Buffer
	sum, err := LoadObservations(ctx, f.sink, []string{path}, Options{}, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rows)
	assert.Contains(t, logs.String(), "encoding=utf-8")
}

func TestLoadObservationsUndecodableAborts(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	bad := f.write(t, "a_bad.csv", []byte{0xff, 0xfe, 0x41})
	good := f.write(t, "b_good.csv", []byte(observationHeader+observationLine("STA-1", "1", "1", "2017-01-01 00:00:00", "2017-01-01 01:00:00")))

	_, err := LoadObservations(ctx, f.sink, []string{good, bad}, Options{}, discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, tabular.ErrUndecodable)
	assert.Contains(t, err.Error(), "a_bad.csv")
	assert.Equal(t, 0, f.count(t, "SELECT count(*) FROM observation"), "files after the bad one are not loaded")
}

func TestLoadObservationsLimit(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	var files []string
	for i, day := range []string{"01", "02", "03"} {
		line := observationLine("STA-1", "1", "1", "2017-01-"+day+" 00:00:00", "2017-01-"+day+" 01:00:00")
		files = append(files, f.write(t, string(rune('c'-i))+".csv", []byte(observationHeader+line)))
	}
	sum, err := LoadObservations(ctx, f.sink, files, Options{Limit: 2}, discard())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Files)
	// sorted order: a.csv (day 03) and b.csv (day 02)
	assert.Equal(t, 0, f.count(t, "SELECT count(*) FROM observation WHERE datetime_begin = TIMESTAMP '2017-01-01 00:00:00'"))
}

func TestLoadObservationsColumnOrder(t *testing.T) {
	f := newFixture(t)
	f.loadMeta(t)
	ctx := context.Background()

	// same columns, shuffled
	header := "Verification,Validity,DatetimeEnd,DatetimeBegin,UnitOfMeasurement,Concentration,AirPollutantCode,AirQualityStation\n"
	row := "2,1,2017-01-01 01:00:00,2017-01-01 00:00:00,ug.m-3,4.5,http://dd.eionet.europa.eu/vocabulary/aq/pollutant/1,STA-1\n"
	path := f.write(t, "shuffled.csv", []byte(header+row))

	_, err := LoadObservations(ctx, f.sink, []string{path}, Options{}, discard())
	require.NoError(t, err)

	var conc float64
	var validity, verification int
	require.NoError(t, f.sink.DB().QueryRowContext(ctx, "SELECT concentration, validity, verification FROM observation").Scan(&conc, &validity, &verification))
	assert.Equal(t, 4.5, conc)
	assert.Equal(t, 1, validity)
	assert.Equal(t, 2, verification)
}

func TestParseFlag(t *testing.T) {
	v, err := parseFlag(" 3 ")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *v)

	v, err = parseFlag("2.0")
	require.NoError(t, err)
	assert.Equal(t, int64(2), *v)

	v, err = parseFlag("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = parseFlag("x")
	assert.Error(t, err)
}
