// Package loader moves cached CSV files into the sink: the station and
// quantity dimensions first, then observations joined against them.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brensch/aqingest/internal/sink"
	"github.com/brensch/aqingest/internal/tabular"
)

// DimensionSpec describes how a reference file becomes a dimension table.
type DimensionSpec struct {
	Table      string
	Key        string          // generated surrogate key column
	CodeColumn string          // normalized column facts are joined on
	Nulls      tabular.NullSet // cell values read as NULL besides ""
}

// StationSpec loads the station reference file. -999 marks missing values.
var StationSpec = DimensionSpec{
	Table:      sink.StationTable,
	Key:        "station_id",
	CodeColumn: "air_quality_station",
	Nulls:      tabular.NullSet{"-999": true, "-999.0": true},
}

// QuantitySpec loads the pollutant vocabulary file.
var QuantitySpec = DimensionSpec{
	Table:      sink.QuantityTable,
	Key:        "quantity_id",
	CodeColumn: "air_pollutant_code",
}

// LoadStations replaces the station table with the contents of path.
func LoadStations(ctx context.Context, s sink.Sink, path string, logger *slog.Logger) (int, error) {
	return LoadDimension(ctx, s, path, StationSpec, logger)
}

// LoadQuantities replaces the quantity table with the contents of path.
func LoadQuantities(ctx context.Context, s sink.Sink, path string, logger *slog.Logger) (int, error) {
	return LoadDimension(ctx, s, path, QuantitySpec, logger)
}

// LoadDimension reads a reference CSV, normalizes its column names, infers
// column types and fully replaces the dimension table. Row i of the file gets
// surrogate key i. It returns the number of rows written.
func LoadDimension(ctx context.Context, s sink.Sink, path string, spec DimensionSpec, logger *slog.Logger) (int, error) {
	l := logger.With(slog.String("table", spec.Table), slog.String("file", path))

	t, err := tabular.ReadFile(path, tabular.ReadOptions{Logger: l})
	if err != nil {
		return 0, err
	}
	t.NormalizeColumns()
	if t.Index(spec.Key) >= 0 {
		return 0, fmt.Errorf("%s: column %q collides with the generated key", path, spec.Key)
	}
	if t.Index(spec.CodeColumn) < 0 {
		return 0, fmt.Errorf("%s: join column %q missing (have %v)", path, spec.CodeColumn, t.Columns)
	}
	l.Debug("Normalized columns.", slog.Any("columns", t.Columns))

	types := tabular.InferTypes(t, spec.Nulls)
	tableSpec := sink.TableSpec{Name: spec.Table, Key: spec.Key}
	for i, c := range t.Columns {
		tableSpec.Columns = append(tableSpec.Columns, sink.Column{Name: c, Type: types[i]})
	}

	rows := make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]any, 0, len(r)+1)
		row = append(row, int64(i))
		for j, cell := range r {
			v, err := tabular.Convert(cell, types[j], spec.Nulls)
			if err != nil {
				return 0, fmt.Errorf("%s row %d column %s: %w", path, i+1, t.Columns[j], err)
			}
			row = append(row, v)
		}
		rows[i] = row
	}

	if err := s.ReplaceTable(ctx, tableSpec, rows); err != nil {
		return 0, fmt.Errorf("replace %s: %w", spec.Table, err)
	}
	l.Info(fmt.Sprintf("Wrote %d rows into table `%s'.", len(rows), spec.Table))
	return len(rows), nil
}
