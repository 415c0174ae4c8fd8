package epochs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Frame is a flat, column-named table of string cells. Numeric access parses
// on demand; a cell that does not parse reads as NaN.
type Frame struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewFrame builds a frame, checking that column names are unique and rows are rectangular
func NewFrame(columns []string, rows [][]string) (*Frame, error) {
	index := make(map[string]int, len(columns))
	names := make([]string, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		names[i] = c
		if c == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, want %d", r, len(row), len(columns))
		}
	}
	return &Frame{Columns: names, Rows: rows, index: index}, nil
}

// Len returns the number of rows
func (f *Frame) Len() int { return len(f.Rows) }

// Has reports whether the column exists
func (f *Frame) Has(col string) bool {
	_, ok := f.index[col]
	return ok
}

// ColumnIndex returns the position of col or -1
func (f *Frame) ColumnIndex(col string) int {
	if i, ok := f.index[col]; ok {
		return i
	}
	return -1
}

// String returns the raw cell
func (f *Frame) String(row int, col string) string {
	return f.Rows[row][f.index[col]]
}

// Float returns the cell parsed as float64, NaN when it is not numeric
func (f *Frame) Float(row int, col string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(f.String(row, col)), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// IsNumeric reports whether every non-empty cell of col parses as a number
func (f *Frame) IsNumeric(col string) bool {
	i, ok := f.index[col]
	if !ok {
		return false
	}
	seen := false
	for _, row := range f.Rows {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// Unique returns the distinct values of col in first-encounter order
func (f *Frame) Unique(col string) []string {
	i := f.index[col]
	seen := make(map[string]bool)
	var out []string
	for _, row := range f.Rows {
		if !seen[row[i]] {
			seen[row[i]] = true
			out = append(out, row[i])
		}
	}
	return out
}

// Filter returns a new frame holding the rows for which keep returns true
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	rows := make([][]string, 0, len(f.Rows))
	for r, row := range f.Rows {
		if keep(r) {
			rows = append(rows, row)
		}
	}
	return &Frame{Columns: f.Columns, Rows: rows, index: f.index}
}
