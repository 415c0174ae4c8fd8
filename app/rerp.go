package app

import (
	"cmp"
	"math"
	"slices"

	"lmerkit/domain/fdr"
	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"
)

// RERPs extracts one series per (channel, model, param) from an aggregated
// table and flags FDR-significant points. channels restricts the output; nil
// means every channel of the table. The FDR method is checked before any work.
func RERPs(table *lmer.CoefTable, channels []string, alpha float64, method fdr.Method) ([]lmer.RERPSeries, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}
	if !(alpha > 0 && alpha <= 1) {
		return nil, errors.InvalidInputf("alpha must be in (0, 1], got %g", alpha)
	}
	if table == nil {
		return nil, errors.InvalidInput("coefficient table is required")
	}
	if channels == nil {
		channels = table.Channels
	}
	for _, ch := range channels {
		if table.ChannelIndex(ch) < 0 {
			return nil, errors.InvalidInputf("channel %q is not in the table", ch)
		}
	}

	type seriesKey struct{ model, param string }
	var out []lmer.RERPSeries
	for _, ch := range channels {
		ci := table.ChannelIndex(ch)

		var order []seriesKey
		points := make(map[seriesKey]map[float64]*lmer.RERPPoint)
		for _, r := range table.Rows {
			k := seriesKey{r.Model, r.Param}
			byTime, ok := points[k]
			if !ok {
				byTime = make(map[float64]*lmer.RERPPoint)
				points[k] = byTime
				order = append(order, k)
			}
			p, ok := byTime[r.Time]
			if !ok {
				nan := math.NaN()
				p = &lmer.RERPPoint{Time: r.Time, Estimate: nan, SE: nan, DF: nan, PValue: nan}
				byTime[r.Time] = p
			}
			v := r.Values[ci]
			switch r.Key {
			case lmer.KeyEstimate:
				p.Estimate = v
			case lmer.KeySE:
				p.SE = v
			case lmer.KeyDF:
				p.DF = v
			case lmer.KeyPValue:
				p.PValue = v
			case lmer.KeyHasWarning:
				p.HasWarning = v > 0
			}
		}

		for _, k := range order {
			series := lmer.RERPSeries{Channel: ch, Model: k.model, Param: k.param}
			for _, p := range points[k] {
				series.Points = append(series.Points, *p)
			}
			slices.SortFunc(series.Points, func(a, b lmer.RERPPoint) int {
				return cmp.Compare(a.Time, b.Time)
			})

			pvals := make([]float64, len(series.Points))
			for i, p := range series.Points {
				pvals[i] = p.PValue
			}
			res, err := fdr.Apply(pvals, alpha, method)
			if err != nil {
				return nil, err
			}
			for i := range series.Points {
				series.Points[i].Significant = res.Flags[i]
			}
			series.FDR = res
			out = append(out, series)
		}
	}
	return out, nil
}
