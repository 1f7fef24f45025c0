// Package dataset parses uploaded tabular files and keeps the per-session
// dataset cache.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame is a rectangular table with named, heterogeneous columns. Cells are
// float64, string or nil (missing).
type Frame struct {
	Columns []string
	Rows    [][]any
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return len(f.Rows) }

// ColumnIndex returns the position of a column or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of a column.
func (f *Frame) Column(name string) ([]any, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Numeric returns the non-missing numeric values of a column.
func (f *Frame) Numeric(name string) ([]float64, error) {
	values, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if x, ok := v.(float64); ok && !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", name)
	}
	return out, nil
}

// IsNumeric reports whether every non-missing cell of a column is a number.
func (f *Frame) IsNumeric(idx int) bool {
	seen := false
	for _, row := range f.Rows {
		switch row[idx].(type) {
		case nil:
		case float64:
			seen = true
		default:
			return false
		}
	}
	return seen
}

// Slice returns rows [from, to) as a new frame sharing the column names.
func (f *Frame) Slice(from, to int) *Frame {
	from = max(0, min(from, len(f.Rows)))
	to = max(from, min(to, len(f.Rows)))
	return &Frame{Columns: f.Columns, Rows: f.Rows[from:to]}
}

// Head returns the first n rows.
func (f *Frame) Head(n int) *Frame { return f.Slice(0, n) }

// Tail returns the last n rows.
func (f *Frame) Tail(n int) *Frame { return f.Slice(len(f.Rows)-n, len(f.Rows)) }

// Records renders rows as a list of column→value maps.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, len(f.Rows))
	for i, row := range f.Rows {
		rec := make(map[string]any, len(f.Columns))
		for j, c := range f.Columns {
			rec[c] = row[j]
		}
		out[i] = rec
	}
	return out
}

// ColumnOriented renders the frame as {"col": {"0": v, "1": v}}, the shape
// the frontend preview expects.
func (f *Frame) ColumnOriented() map[string]map[string]any {
	out := make(map[string]map[string]any, len(f.Columns))
	for j, c := range f.Columns {
		col := make(map[string]any, len(f.Rows))
		for i, row := range f.Rows {
			col[strconv.Itoa(i)] = row[j]
		}
		out[c] = col
	}
	return out
}

// parseCell converts a raw text cell into a typed value.
func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(x, 0) {
		return x
	}
	return s
}

// newFrame builds a frame from a header and raw rows, padding short rows and
// naming blank headers like "Unnamed: 3".
func newFrame(header []string, raw [][]string) (*Frame, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("no columns found")
	}
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		cols[i] = h
	}

	rows := make([][]any, 0, len(raw))
	for _, r := range raw {
		row := make([]any, len(cols))
		for j := range cols {
			if j < len(r) {
				row[j] = parseCell(r[j])
			}
		}
		rows = append(rows, row)
	}
	return &Frame{Columns: cols, Rows: rows}, nil
}
