package lmer

import (
	"cmp"
	"fmt"
	"slices"

	"lmerkit/domain/formula"
)

// Row is one (time, model, param, key) row of the aggregated coefficient
// table, holding one value per channel. has_warning is stored as 0/1 and
// cells that were not fitted hold NaN.
type Row struct {
	Time   float64
	Model  string
	Param  string
	Key    StatKey
	Values []float64
}

// CoefTable is the long-format table of every formula's grid fit, indexed by
// (time, model, param, key) with one column per channel
type CoefTable struct {
	Channels []string
	Rows     []Row

	params []string
}

// NewCoefTable creates an empty table over the given channels
func NewCoefTable(channels []string) *CoefTable {
	return &CoefTable{Channels: append([]string(nil), channels...)}
}

// Append adds rows, remembering the order in which parameters first appear
func (t *CoefTable) Append(rows ...Row) error {
	for _, r := range rows {
		if len(r.Values) != len(t.Channels) {
			return fmt.Errorf("row %g/%s/%s/%s has %d values, want %d",
				r.Time, r.Model, r.Param, r.Key, len(r.Values), len(t.Channels))
		}
		if !slices.Contains(t.params, r.Param) {
			t.params = append(t.params, r.Param)
		}
	}
	t.Rows = append(t.Rows, rows...)
	return nil
}

// Sort orders rows by (time, model, param, key)
func (t *CoefTable) Sort() {
	slices.SortStableFunc(t.Rows, func(a, b Row) int {
		return cmp.Or(
			cmp.Compare(a.Time, b.Time),
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(a.Param, b.Param),
			cmp.Compare(a.Key, b.Key),
		)
	})
}

// Params returns parameter names in first-appended order
func (t *CoefTable) Params() []string {
	if t.params == nil {
		for _, r := range t.Rows {
			if !slices.Contains(t.params, r.Param) {
				t.params = append(t.params, r.Param)
			}
		}
	}
	return t.params
}

// Models returns the distinct models in row order
func (t *CoefTable) Models() []string {
	var out []string
	for _, r := range t.Rows {
		if !slices.Contains(out, r.Model) {
			out = append(out, r.Model)
		}
	}
	return out
}

// Times returns the distinct time stamps, ascending
func (t *CoefTable) Times() []float64 {
	var out []float64
	for _, r := range t.Rows {
		out = append(out, r.Time)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ChannelIndex returns the column position of channel or -1
func (t *CoefTable) ChannelIndex(channel string) int {
	return slices.Index(t.Channels, channel)
}

// Select returns rows matching param and key; an empty model matches every model
func (t *CoefTable) Select(model, param string, key StatKey) []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Param == param && r.Key == key && (model == "" || r.Model == model) {
			out = append(out, r)
		}
	}
	return out
}

// ReferenceParams maps each model to the parameter whose AIC and has_warning
// rows stand for that model's fit: its intercept when it has one, otherwise its
// first parameter in append order
func (t *CoefTable) ReferenceParams() (map[string]string, error) {
	params := t.Params()
	if len(params) == 0 {
		return nil, fmt.Errorf("coefficient table has no parameters")
	}
	has := make(map[string]map[string]bool)
	for _, r := range t.Rows {
		if has[r.Model] == nil {
			has[r.Model] = make(map[string]bool)
		}
		has[r.Model][r.Param] = true
	}
	refs := make(map[string]string, len(has))
	for model, own := range has {
		if own[formula.InterceptName] {
			refs[model] = formula.InterceptName
			continue
		}
		for _, p := range params {
			if own[p] {
				refs[model] = p
				break
			}
		}
	}
	return refs, nil
}
