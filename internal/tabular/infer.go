package tabular

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnType is the storage class inferred for a column.
type ColumnType int

const (
	Integer ColumnType = iota
	Float
	Text
)

func (c ColumnType) String() string {
	switch c {
	case Integer:
		return "BIGINT"
	case Float:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// NullSet is the set of cell values read as NULL. The empty string is
// always NULL.
type NullSet map[string]bool

// IsNull reports whether a trimmed cell is NULL.
func (n NullSet) IsNull(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || n[v]
}

// InferTypes scans every non-null value of every column and picks the
// narrowest type that holds all of them. Integer widens to Float; anything
// unparseable makes the column Text. Columns with no values are Text.
func InferTypes(t *Table, nulls NullSet) []ColumnType {
	types := make([]ColumnType, len(t.Columns))
	seen := make([]bool, len(t.Columns))
	for _, row := range t.Rows {
		for j, val := range row {
			if nulls.IsNull(val) || types[j] == Text && seen[j] {
				continue
			}
			current := valueType(strings.TrimSpace(val))
			if !seen[j] {
				types[j] = current
				seen[j] = true
				continue
			}
			if current > types[j] {
				types[j] = current
			}
		}
	}
	for j := range types {
		if !seen[j] {
			types[j] = Text
		}
	}
	return types
}

func valueType(v string) ColumnType {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return Integer
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return Float
	}
	return Text
}

// Convert parses one cell as typ; NULL cells become nil.
func Convert(v string, typ ColumnType, nulls NullSet) (any, error) {
	if nulls.IsNull(v) {
		return nil, nil
	}
	trimmed := strings.TrimSpace(v)
	switch typ {
	case Integer:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", v, typ, err)
		}
		return n, nil
	case Float:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q as %s: %w", v, typ, err)
		}
		return f, nil
	default:
		if strings.ContainsRune(v, 0) {
			return strings.ReplaceAll(v, "\x00", ""), nil
		}
		return v, nil
	}
}
