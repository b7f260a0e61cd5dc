package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func utf16LE(t *testing.T, s string) []byte {
	t.Helper()
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return out
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"AirQualityStation":        "air_quality_station",
		"AirPollutantCode":         "air_pollutant_code",
		"Countrycode":              "countrycode",
		"Recommended unit":         "recommended_unit",
		"DatetimeBegin":            "datetime_begin",
		"AirQualityStationEoICode": "air_quality_station_eo_i_code",
		"Concept URI":              "concept__u_r_i",
		"Status.Modified":          "status_modified",
		"":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestDecode_UTF16Fallback(t *testing.T) {
	data := utf16LE(t, "AirQualityStation,Concentration\nSTA-1,12.5\n")

	tbl, err := Decode(data, ReadOptions{Required: []string{"AirQualityStation"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"AirQualityStation", "Concentration"}, tbl.Columns)
	assert.Equal(t, [][]string{{"STA-1", "12.5"}}, tbl.Rows)
}

func TestDecode_UTF16WithoutBOM(t *testing.T) {
	// ASCII in UTF-16LE is valid UTF-8 with NULs in between
	data := []byte{}
	for _, b := range []byte("AirQualityStation,b\n1,2\n") {
		data = append(data, b, 0)
	}
	tbl, err := Decode(data, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AirQualityStation", "b"}, tbl.Columns)
	assert.Equal(t, [][]string{{"1", "2"}}, tbl.Rows)
}

func TestDecode_Undecodable(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xfe, 0x00}, ReadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndecodable))
}

func TestWriteReadRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	tbl := New("url")
	tbl.Append("https://example.org/a.csv")
	tbl.Append("https://example.org/b,c.csv")

	for _, name := range []string{"list.csv.xz", "list.csv.gz", "list.csv"} {
		path := filepath.Join(dir, "nested", name)
		require.NoError(t, WriteFile(path, tbl))

		got, err := ReadFile(path, ReadOptions{})
		require.NoError(t, err, name)
		assert.Equal(t, tbl, got, name)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")
}

func TestWriteFileRejectsTableWithoutColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv.xz")
	err := WriteFile(path, FromRecords(nil))
	assert.ErrorIs(t, err, ErrNoColumns)
	assert.NoFileExists(t, path)
}

func TestParseLines(t *testing.T) {
	tbl := ParseLines("\ufeffhttp://a/1.csv\r\n\nhttp://a/2.csv\n", "url")
	assert.Equal(t, [][]string{{"http://a/1.csv"}, {"http://a/2.csv"}}, tbl.Rows)
}

func TestInferTypesAndConvert(t *testing.T) {
	tbl := New("id", "altitude", "name", "empty")
	tbl.Append("1", "-999", "Vienna", "")
	tbl.Append("2", "104.5", "Graz", "")
	tbl.Append("3", "", "3", "")

	nulls := NullSet{"-999": true}
	types := InferTypes(tbl, nulls)
	assert.Equal(t, []ColumnType{Integer, Float, Text, Text}, types)

	v, err := Convert("-999", Float, nulls)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Convert(" 104.5", Float, nulls)
	require.NoError(t, err)
	assert.Equal(t, 104.5, v)

	_, err = Convert("abc", Integer, nulls)
	assert.Error(t, err)
}

func TestLeftJoin(t *testing.T) {
	left := New("Countrycode", "AirPollutantCode")
	left.Append("AT", "http://p/1")
	left.Append("DE", "http://p/2")
	left.Append("FR", "http://p/9")

	right := New("Notation", "AirPollutantCode", "Countrycode")
	right.Append("SO2", "http://p/1", "xx")
	right.Append("PM10", "http://p/2", "yy")

	out, err := LeftJoin(left, right, "AirPollutantCode")
	require.NoError(t, err)
	assert.Equal(t, []string{"Countrycode_x", "AirPollutantCode", "Notation", "Countrycode_y"}, out.Columns)
	assert.Equal(t, [][]string{
		{"AT", "http://p/1", "SO2", "xx"},
		{"DE", "http://p/2", "PM10", "yy"},
		{"FR", "http://p/9", "", ""},
	}, out.Rows)
}

func TestFromRecords(t *testing.T) {
	var a, b Record
	a = a.Set("Notation", "SO2")
	a = a.Set("Status", "valid")
	b = b.Set("Notation", "PM10")
	b = b.Set("Recommended unit", "ug.m-3")

	tbl := FromRecords([]Record{a, b})
	assert.Equal(t, []string{"Notation", "Status", "Recommended unit"}, tbl.Columns)
	assert.Equal(t, [][]string{{"SO2", "valid", ""}, {"PM10", "", "ug.m-3"}}, tbl.Rows)

	uniq, err := tbl.Unique("Notation")
	require.NoError(t, err)
	assert.Equal(t, []string{"SO2", "PM10"}, uniq)
}
