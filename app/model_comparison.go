package app

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"

	"github.com/montanaflynn/stats"
)

// aicKey identifies one fit in the comparison
type aicKey struct {
	time    float64
	model   string
	channel string
}

// LMERAICs reduces an aggregated table to AICs and deltas from the best model
// at each (time, channel). refParam selects the parameter whose AIC and
// has_warning rows are read for every model; empty means each model's own
// reference parameter.
// Non-finite AICs are dropped together with their warning flags, so cells
// fitted by fewer models yield fewer rows. Otherwise AIC and warning keys must
// match exactly.
func LMERAICs(table *lmer.CoefTable, refParam string) (*lmer.AICTable, error) {
	if table == nil {
		return nil, errors.InvalidInput("coefficient table is required")
	}
	refs := make(map[string]string)
	if refParam == "" {
		var err error
		if refs, err = table.ReferenceParams(); err != nil {
			return nil, errors.WithCode(errors.CodeInvalidInput, err)
		}
	} else {
		for _, model := range table.Models() {
			refs[model] = refParam
		}
	}

	all := collectFitAttribute(table, refs, lmer.KeyAIC, func(float64) bool { return true })
	warnings := collectFitAttribute(table, refs, lmer.KeyHasWarning, func(v float64) bool {
		return !math.IsNaN(v)
	})
	if err := matchKeys(all, warnings); err != nil {
		return nil, err
	}
	aics := make(map[aicKey]float64, len(all))
	for k, v := range all {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			aics[k] = v
		}
	}
	if len(aics) == 0 {
		if refParam != "" {
			return nil, errors.InvalidInputf("no finite AIC rows for parameter %q", refParam)
		}
		return nil, errors.InvalidInput("no finite AIC rows")
	}

	// per (time, channel) minimum over models
	type cell struct {
		time    float64
		channel string
	}
	byCell := make(map[cell][]float64)
	for k, v := range aics {
		c := cell{k.time, k.channel}
		byCell[c] = append(byCell[c], v)
	}
	minima := make(map[cell]float64, len(byCell))
	for c, values := range byCell {
		m, err := stats.Min(values)
		if err != nil {
			return nil, errors.WithCode(errors.CodeInternalError, err)
		}
		minima[c] = m
	}

	out := &lmer.AICTable{Channels: slices.Clone(table.Channels), Rows: make([]lmer.AICRow, 0, len(aics))}
	for k, v := range aics {
		out.Rows = append(out.Rows, lmer.AICRow{
			Time:       k.time,
			Model:      k.model,
			Channel:    k.channel,
			AIC:        v,
			MinDelta:   v - minima[cell{k.time, k.channel}],
			HasWarning: warnings[k] > 0,
		})
	}

	slices.SortFunc(out.Rows, func(a, b lmer.AICRow) int {
		return cmp.Or(
			cmp.Compare(a.Time, b.Time),
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(table.ChannelIndex(a.Channel), table.ChannelIndex(b.Channel)),
		)
	})
	return out, nil
}

// collectFitAttribute reads key from each model's reference parameter rows
func collectFitAttribute(table *lmer.CoefTable, refs map[string]string, key lmer.StatKey, keep func(float64) bool) map[aicKey]float64 {
	out := make(map[aicKey]float64)
	for _, r := range table.Rows {
		if r.Key != key || refs[r.Model] != r.Param {
			continue
		}
		for ci, v := range r.Values {
			if keep(v) {
				out[aicKey{r.Time, r.Model, table.Channels[ci]}] = v
			}
		}
	}
	return out
}

// matchKeys requires a warning flag for every finite AIC and an AIC row for
// every warning flag; flags of failed fits (non-finite AIC) drop with them
func matchKeys(aics, warnings map[aicKey]float64) error {
	for k, v := range aics {
		if _, ok := warnings[k]; !ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return errors.StructuralMismatch(fmt.Sprintf(
				"AIC at time=%g model=%q channel=%s has no has_warning row", k.time, k.model, k.channel))
		}
	}
	for k := range warnings {
		if _, ok := aics[k]; !ok {
			return errors.StructuralMismatch(fmt.Sprintf(
				"has_warning at time=%g model=%q channel=%s has no AIC row", k.time, k.model, k.channel))
		}
	}
	return nil
}
