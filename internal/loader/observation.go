package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/brensch/aqingest/internal/progress"
	"github.com/brensch/aqingest/internal/sink"
	"github.com/brensch/aqingest/internal/tabular"
	"github.com/brensch/aqingest/internal/util"
)

// RequiredColumns must be present in every observation file.
var RequiredColumns = []string{
	"Concentration",
	"DatetimeBegin",
	"DatetimeEnd",
	"Validity",
	"Verification",
	"AirQualityStation",
	"AirPollutantCode",
	"UnitOfMeasurement",
}

// Options tune an observation load.
type Options struct {
	Limit    int // process at most this many files, 0 for all
	Progress progress.Reporter
}

// Summary counts the outcome of an observation load.
type Summary struct {
	Files   int // files attempted
	Loaded  int // files appended
	Skipped int // files already present in the sink
	Rows    int // observation rows appended
	Dropped int // input rows without a matching station or quantity
}

// LoadObservations appends every file to the observation table, one batch
// per file, in sorted order. A file that collides with already loaded rows is
// skipped with a warning. Any other failure, including a file that cannot be
// decoded, stops the load and is returned.
func LoadObservations(ctx context.Context, s sink.Sink, files []string, opts Options, logger *slog.Logger) (Summary, error) {
	var sum Summary
	reporter := opts.Progress
	if reporter == nil {
		reporter = progress.Nop{}
	}

	stations, err := s.KeyLookup(ctx, StationSpec.Table, StationSpec.Key, StationSpec.CodeColumn)
	if err != nil {
		return sum, fmt.Errorf("load station keys: %w", err)
	}
	quantities, err := s.KeyLookup(ctx, QuantitySpec.Table, QuantitySpec.Key, QuantitySpec.CodeColumn)
	if err != nil {
		return sum, fmt.Errorf("load quantity keys: %w", err)
	}
	logger.Debug("Dimension keys loaded.", slog.Int("stations", len(stations)), slog.Int("quantities", len(quantities)))

	files = append([]string(nil), files...)
	sort.Strings(files)
	if opts.Limit > 0 && len(files) > opts.Limit {
		logger.Info("Limiting observation load.", slog.Int("limit", opts.Limit), slog.Int("available", len(files)))
		files = files[:opts.Limit]
	}

	reporter.Start(len(files), "Observations")
	defer reporter.Finish()
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		l := logger.With(slog.String("file", f))
		sum.Files++

		rows, dropped, err := readObservations(f, stations, quantities, l)
		if err != nil {
			l.Error("Error occurred for file.", "error", err)
			return sum, err
		}
		sum.Dropped += dropped

		if len(rows) > 0 {
			err = s.AppendObservations(ctx, rows)
		}
		switch {
		case errors.Is(err, sink.ErrAlreadyLoaded):
			sum.Skipped++
			l.Warn("One or more rows are already in the database; skipping the entire file.")
		case err != nil:
			l.Error("Error occurred for file.", "error", err)
			return sum, fmt.Errorf("%s: %w", f, err)
		default:
			sum.Loaded++
			sum.Rows += len(rows)
			l.Debug("File loaded.", slog.Int("rows", len(rows)), slog.Int("dropped", dropped))
		}
		reporter.Advance(filepath.Base(f))
	}

	logger.Info("Observation load complete.",
		slog.Int("files", sum.Files),
		slog.Int("loaded", sum.Loaded),
		slog.Int("skipped", sum.Skipped),
		slog.Int("rows", sum.Rows),
		slog.Int("dropped", sum.Dropped),
	)
	return sum, nil
}

// readObservations reads one file and inner joins it against the dimension
// keys. A code mapped to several keys yields one row per key.
func readObservations(path string, stations, quantities map[string][]int64, logger *slog.Logger) ([]sink.Observation, int, error) {
	t, err := tabular.ReadFile(path, tabular.ReadOptions{Required: RequiredColumns, Logger: logger})
	if err != nil {
		return nil, 0, err
	}
	t.NormalizeColumns()

	idx := func(name string) int { return t.Index(tabular.NormalizeName(name)) }
	var (
		iConc    = idx("Concentration")
		iBegin   = idx("DatetimeBegin")
		iEnd     = idx("DatetimeEnd")
		iValid   = idx("Validity")
		iVerif   = idx("Verification")
		iStation = idx("AirQualityStation")
		iPoll    = idx("AirPollutantCode")
	)

	var out []sink.Observation
	dropped := 0
	for n, r := range t.Rows {
		stationIDs := stations[r[iStation]]
		quantityIDs := quantities[r[iPoll]]
		if len(stationIDs) == 0 || len(quantityIDs) == 0 {
			dropped++
			continue
		}
		line := n + 2 // header is line 1
		base, err := parseObservation(r[iConc], r[iBegin], r[iEnd], r[iValid], r[iVerif])
		if err != nil {
			return nil, 0, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		for _, sid := range stationIDs {
			for _, qid := range quantityIDs {
				o := base
				o.StationID, o.QuantityID = sid, qid
				out = append(out, o)
			}
		}
	}
	if dropped > 0 {
		logger.Debug("Rows without matching station or quantity dropped.", slog.Int("dropped", dropped), slog.Int("rows", t.Len()))
	}
	return out, dropped, nil
}

func parseObservation(conc, begin, end, validity, verification string) (sink.Observation, error) {
	var o sink.Observation
	var err error
	if conc = strings.TrimSpace(conc); conc != "" {
		v, err := strconv.ParseFloat(conc, 64)
		if err != nil {
			return o, fmt.Errorf("concentration %q: %w", conc, err)
		}
		o.Concentration = &v
	}
	if o.DatetimeBegin, err = util.ParseObservationTime(begin); err != nil {
		return o, fmt.Errorf("datetime begin: %w", err)
	}
	if o.DatetimeEnd, err = util.ParseObservationTime(end); err != nil {
		return o, fmt.Errorf("datetime end: %w", err)
	}
	if o.Validity, err = parseFlag(validity); err != nil {
		return o, fmt.Errorf("validity: %w", err)
	}
	if o.Verification, err = parseFlag(verification); err != nil {
		return o, fmt.Errorf("verification: %w", err)
	}
	return o, nil
}

func parseFlag(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// some exports write flags as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		v = int64(f)
	}
	return &v, nil
}
