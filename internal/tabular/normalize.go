package tabular

import (
	"strings"
	"unicode"
)

// NormalizeName maps a source column label to its sink column name:
// spaces become underscores, then the label is snake cased by lowercasing
// the first character and prefixing every later upper-case ASCII letter with
// an underscore. "-", "." and whitespace also become underscores.
//
//	"AirQualityStation" -> "air_quality_station"
//	"Recommended unit"  -> "recommended_unit"
//	"Concept URI"       -> "concept__u_r_i"
//
// The last example is intentional: existing sink tables were created with
// exactly these names.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '-' || r == '.' || unicode.IsSpace(r):
			b.WriteByte('_')
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		case r >= 'A' && r <= 'Z':
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeColumns rewrites the header in place with NormalizeName.
func (t *Table) NormalizeColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = NormalizeName(c)
	}
}
