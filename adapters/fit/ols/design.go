package ols

import (
	"fmt"
	"math"
	"sort"

	"lmerkit/domain/epochs"
	"lmerkit/domain/formula"
)

// column is one design matrix column: a product of numeric factors and
// categorical indicators
type column struct {
	name    string
	numeric []string          // numeric factors multiplied in
	dummies map[string]string // categorical factor -> level that sets the indicator
}

// value is NaN whenever a numeric factor is missing, whatever the indicators
// say, so incomplete rows drop out of the fit
func (c column) value(frame *epochs.Frame, row int) float64 {
	v := 1.0
	for _, f := range c.numeric {
		x := frame.Float(row, f)
		if math.IsNaN(x) {
			return math.NaN()
		}
		v *= x
	}
	for f, level := range c.dummies {
		if frame.String(row, f) != level {
			return 0
		}
	}
	return v
}

// design maps a fixed-effects formula onto frame columns. Categorical
// (non-numeric) factors use treatment coding against their first sorted
// level, except the first categorical main effect of a model without
// intercept, which gets one indicator per level.
type design struct {
	columns []column
}

func newDesign(frame *epochs.Frame, f *formula.Formula) (*design, error) {
	d := &design{}
	if f.Intercept {
		d.columns = append(d.columns, column{name: formula.InterceptName})
	}

	levels := make(map[string][]string)
	fullCoded := false
	for _, term := range f.Fixed {
		cols := []column{{}}
		for _, factor := range term.Factors {
			if !frame.Has(factor) {
				return nil, fmt.Errorf("predictor column %q not found", factor)
			}
			if frame.IsNumeric(factor) {
				for i := range cols {
					cols[i].numeric = append(cols[i].numeric, factor)
				}
				continue
			}

			lv, ok := levels[factor]
			if !ok {
				lv = frame.Unique(factor)
				sort.Strings(lv)
				levels[factor] = lv
			}
			coded := lv[1:]
			if !f.Intercept && !fullCoded && len(term.Factors) == 1 {
				coded = lv
				fullCoded = true
			}
			if len(coded) == 0 {
				return nil, fmt.Errorf("factor %q has a single level", factor)
			}

			var expanded []column
			for _, c := range cols {
				for _, level := range coded {
					next := column{numeric: c.numeric, dummies: map[string]string{}}
					for k, v := range c.dummies {
						next.dummies[k] = v
					}
					next.dummies[factor] = level
					expanded = append(expanded, next)
				}
			}
			cols = expanded
		}
		for _, c := range cols {
			c.name = columnName(term, c)
			d.columns = append(d.columns, c)
		}
	}

	if len(d.columns) == 0 {
		return nil, fmt.Errorf("formula %q has no fixed-effects columns", f.Raw)
	}
	return d, nil
}

// columnName follows R's labels: "x", "condB", "condB:x"
func columnName(term formula.Term, c column) string {
	name := ""
	for i, factor := range term.Factors {
		if i > 0 {
			name += ":"
		}
		if level, ok := c.dummies[factor]; ok {
			name += factor + level
		} else {
			name += factor
		}
	}
	return name
}

func (d *design) names() []string {
	out := make([]string, len(d.columns))
	for i, c := range d.columns {
		out[i] = c.name
	}
	return out
}

// rowValues evaluates every column at a frame row; ok is false when any
// numeric predictor is missing
func (d *design) rowValues(frame *epochs.Frame, row int, dst []float64) bool {
	for j, c := range d.columns {
		v := c.value(frame, row)
		if math.IsNaN(v) {
			return false
		}
		dst[j] = v
	}
	return true
}
