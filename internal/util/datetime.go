package util

import (
	"fmt"
	"strings"
	"time"
)

// observationLayouts are tried in order. The first is what the e-Reporting
// export writes ("2018-01-01 01:00:00 +01:00").
var observationLayouts = []string{
	"2006-01-02 15:04:05 -07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseObservationTime parses a measurement window boundary, potentially
// surrounded by double quotes. Values without an offset are taken as UTC.
func ParseObservationTime(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(strings.Trim(s, `"`))
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	for _, layout := range observationLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse observation time from '%s'", s)
}
