package tabular

import "fmt"

// LeftJoin joins right onto left on a shared key column. Every left row is
// kept; right columns are empty when no right row matches, and a left row
// matching several right rows is repeated once per match. Non-key columns
// present on both sides get "_x" / "_y" suffixes.
func LeftJoin(left, right *Table, key string) (*Table, error) {
	li, ri := left.Index(key), right.Index(key)
	if li < 0 {
		return nil, fmt.Errorf("left join: key %q missing from left table", key)
	}
	if ri < 0 {
		return nil, fmt.Errorf("left join: key %q missing from right table", key)
	}

	rightCols := make([]int, 0, len(right.Columns))
	for i := range right.Columns {
		if i != ri {
			rightCols = append(rightCols, i)
		}
	}
	out := New()
	for _, c := range left.Columns {
		if c != key && right.Index(c) >= 0 {
			c += "_x"
		}
		out.Columns = append(out.Columns, c)
	}
	for _, i := range rightCols {
		c := right.Columns[i]
		if left.Index(c) >= 0 {
			c += "_y"
		}
		out.Columns = append(out.Columns, c)
	}

	index := make(map[string][]int, len(right.Rows))
	for i, r := range right.Rows {
		index[r[ri]] = append(index[r[ri]], i)
	}
	for _, lr := range left.Rows {
		matches := index[lr[li]]
		if len(matches) == 0 {
			row := make([]string, len(out.Columns))
			copy(row, lr)
			out.Rows = append(out.Rows, row)
			continue
		}
		for _, m := range matches {
			row := make([]string, 0, len(out.Columns))
			row = append(row, lr...)
			for _, i := range rightCols {
				row = append(row, right.Rows[m][i])
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
