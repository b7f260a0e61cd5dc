// Package tabular holds the small in-memory table model every stage passes
// around: a header plus string cells, read from and written to (optionally
// compressed) CSV files.
package tabular

import "fmt"

// Table is a header and rows of raw cell text. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty table with the given header.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Append adds a row, padding or truncating it to the header width.
func (t *Table) Append(row ...string) {
	cells := make([]string, len(t.Columns))
	copy(cells, row)
	t.Rows = append(t.Rows, cells)
}

// Column returns a copy of all values of one column.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found (have %v)", name, t.Columns)
	}
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, nil
}

// Unique returns the distinct values of a column in first-appearance order.
func (t *Table) Unique(name string) ([]string, error) {
	values, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

// Missing reports which of the required columns are absent.
func (t *Table) Missing(required ...string) []string {
	var missing []string
	for _, r := range required {
		if t.Index(r) < 0 {
			missing = append(missing, r)
		}
	}
	return missing
}

// FromRecords builds a table from ordered-key records. Columns are the union
// of keys in first-appearance order; absent keys become empty cells.
func FromRecords(records []Record) *Table {
	t := New()
	pos := map[string]int{}
	for _, rec := range records {
		for _, kv := range rec {
			if _, ok := pos[kv.Key]; !ok {
				pos[kv.Key] = len(t.Columns)
				t.Columns = append(t.Columns, kv.Key)
			}
		}
	}
	for _, rec := range records {
		cells := make([]string, len(t.Columns))
		for _, kv := range rec {
			cells[pos[kv.Key]] = kv.Value
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// KV is one labelled value of a Record.
type KV struct {
	Key   string
	Value string
}

// Record is an ordered set of labelled values. Later duplicates of a key win.
type Record []KV

// Set assigns key, replacing an earlier value in place.
func (r Record) Set(key, value string) Record {
	for i := range r {
		if r[i].Key == key {
			r[i].Value = value
			return r
		}
	}
	return append(r, KV{Key: key, Value: value})
}
