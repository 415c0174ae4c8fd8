package rscript

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"

	"lmerkit/domain/lmer"
	"lmerkit/ports"
)

type result struct {
	Cells []resultCell `json:"cells"`
}

type resultCell struct {
	Time     float64      `json:"time"`
	Channel  string       `json:"channel"`
	AIC      *float64     `json:"aic"`
	Warnings []string     `json:"warnings"`
	Coefs    []resultCoef `json:"coefs"`
}

type resultCoef struct {
	Param    string   `json:"param"`
	Estimate *float64 `json:"estimate"`
	SE       *float64 `json:"se"`
	DF       *float64 `json:"df"`
	T        *float64 `json:"t"`
	P        *float64 `json:"p"`
}

func (c resultCoef) value(key lmer.StatKey) float64 {
	var v *float64
	switch key {
	case lmer.KeyEstimate:
		v = c.Estimate
	case lmer.KeySE:
		v = c.SE
	case lmer.KeyDF:
		v = c.DF
	case lmer.KeyTStat:
		v = c.T
	case lmer.KeyPValue:
		v = c.P
	}
	return orNaN(v)
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// decodeResult pivots the per-cell JSON into a grid fit. Cells the script did
// not report stay NaN, including their warning flag.
func decodeResult(r io.Reader, spec ports.FitSpec, times []float64) (*lmer.GridFit, error) {
	var res result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode fit result: %w", err)
	}

	timeIdx := make(map[float64]int, len(times))
	for i, t := range times {
		timeIdx[t] = i
	}
	chanIdx := make(map[string]int, len(spec.LHS))
	for i, ch := range spec.LHS {
		chanIdx[ch] = i
	}

	var params []string
	type slot struct{ ti, ci int }
	cells := make(map[slot]resultCell, len(res.Cells))
	for _, c := range res.Cells {
		ti, ok := timeIdx[c.Time]
		if !ok {
			return nil, fmt.Errorf("fit result has unknown time %g", c.Time)
		}
		ci, ok := chanIdx[c.Channel]
		if !ok {
			return nil, fmt.Errorf("fit result has unknown channel %q", c.Channel)
		}
		cells[slot{ti, ci}] = c
		for _, coef := range c.Coefs {
			if !slices.Contains(params, coef.Param) {
				params = append(params, coef.Param)
			}
		}
	}

	out := &lmer.GridFit{
		Formula:  spec.RHS,
		Channels: append([]string(nil), spec.LHS...),
	}
	width := len(spec.LHS)
	for ti, t := range times {
		for _, param := range params {
			for _, key := range lmer.CoefKeys {
				values := nanRow(width)
				for ci := range spec.LHS {
					c, ok := cells[slot{ti, ci}]
					if !ok {
						continue
					}
					for _, coef := range c.Coefs {
						if coef.Param == param {
							values[ci] = coef.value(key)
						}
					}
				}
				out.Coefs = append(out.Coefs, lmer.CoefRow{Time: t, Param: param, Key: key, Values: values})
			}
		}

		aic := nanRow(width)
		warned := nanRow(width)
		for ci, ch := range spec.LHS {
			c, ok := cells[slot{ti, ci}]
			if !ok {
				continue
			}
			aic[ci] = orNaN(c.AIC)
			warned[ci] = 0
			if len(c.Warnings) > 0 {
				warned[ci] = 1
				for _, w := range c.Warnings {
					out.Warnings = append(out.Warnings, fmt.Sprintf("time=%g channel=%s: %s", t, ch, w))
				}
			}
		}
		out.AIC = append(out.AIC, lmer.TimeRow{Time: t, Values: aic})
		out.HasWarning = append(out.HasWarning, lmer.TimeRow{Time: t, Values: warned})
	}
	return out, nil
}

func nanRow(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
