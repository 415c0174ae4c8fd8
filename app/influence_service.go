package app

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"lmerkit/domain/epochs"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"
	"lmerkit/ports"

	"github.com/montanaflynn/stats"
)

// InfluenceService computes leave-one-level-out DFBETAS
type InfluenceService struct {
	fitter ports.GridFitter
	logger *internal.Logger
}

// DFBetasRequest defines the inputs for DFBetas
type DFBetasRequest struct {
	Epochs   *epochs.Epochs
	Factor   string // grouping column whose levels are left out one at a time
	LHS      []string
	RHS      string
	Parallel bool
	NCores   int
}

// NewInfluenceService creates an influence service
func NewInfluenceService(fitter ports.GridFitter, logger *internal.Logger) *InfluenceService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &InfluenceService{fitter: fitter, logger: logger.With("Influence")}
}

type cellParam struct {
	time  float64
	param string
}

type estimates struct {
	est map[cellParam][]float64
	se  map[cellParam][]float64
}

func indexEstimates(grid *lmer.GridFit) estimates {
	e := estimates{est: make(map[cellParam][]float64), se: make(map[cellParam][]float64)}
	for _, r := range grid.Coefs {
		switch r.Key {
		case lmer.KeyEstimate:
			e.est[cellParam{r.Time, r.Param}] = r.Values
		case lmer.KeySE:
			e.se[cellParam{r.Time, r.Param}] = r.Values
		}
	}
	return e
}

// DFBetas fits the model on the full data and once per level of the factor
// with that level excluded, then computes
//
//	DFBETAS = (full estimate - reduced estimate) / reduced SE
//
// per (time, param, level, channel). A reduced fit that fails, or that yields
// a zero or non-finite SE or estimate, gives NaN and counts as degenerate.
func (s *InfluenceService) DFBetas(ctx context.Context, req DFBetasRequest) (*lmer.DFBetasTable, error) {
	if req.Epochs == nil {
		return nil, errors.InvalidInput("epochs are required")
	}
	if len(req.LHS) == 0 {
		return nil, errors.InvalidInput("LHS must name at least one channel")
	}
	if strings.TrimSpace(req.RHS) == "" {
		return nil, errors.InvalidInput("RHS formula is required")
	}
	levels, err := req.Epochs.Levels(req.Factor)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if len(levels) < 2 {
		return nil, errors.InvalidInputf("factor %q needs at least two levels, has %d", req.Factor, len(levels))
	}

	spec := ports.FitSpec{LHS: req.LHS, RHS: req.RHS, Parallel: req.Parallel, NCores: max(req.NCores, 1)}
	full, err := s.fitter.Fit(ctx, req.Epochs, spec)
	if err != nil {
		return nil, errors.Wrap(err, "full-data fit failed")
	}
	fullEst := indexEstimates(full)

	s.logger.Info("fitting %d leave-one-%s-out models for ~ %s", len(levels), req.Factor, req.RHS)
	reduced := make([]*estimates, len(levels))
	for i, level := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep, err := req.Epochs.Without(req.Factor, level)
		if err != nil {
			s.logger.Warn("excluding %s=%s: %v", req.Factor, level, err)
			continue
		}
		grid, err := s.fitter.Fit(ctx, ep, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("fit without %s=%s failed: %v", req.Factor, level, err)
			continue
		}
		e := indexEstimates(grid)
		reduced[i] = &e
		s.logger.Debug("[%d/%d] %s=%s done", i+1, len(levels), req.Factor, level)
	}

	out := &lmer.DFBetasTable{
		Factor:   req.Factor,
		Channels: slices.Clone(req.LHS),
		Levels:   levels,
	}
	var keys []cellParam
	for _, r := range full.Coefs {
		if r.Key == lmer.KeyEstimate {
			keys = append(keys, cellParam{r.Time, r.Param})
		}
	}
	params := full.Params()
	slices.SortStableFunc(keys, func(a, b cellParam) int {
		return cmp.Or(
			cmp.Compare(a.time, b.time),
			cmp.Compare(slices.Index(params, a.param), slices.Index(params, b.param)),
		)
	})

	for _, k := range keys {
		for li, level := range levels {
			values := make([]float64, len(req.LHS))
			for ci := range values {
				v, ok := dfbeta(fullEst.est[k], reduced[li], k, ci)
				if !ok {
					out.Degenerate++
				}
				values[ci] = v
			}
			out.Rows = append(out.Rows, lmer.DFBetasRow{Time: k.time, Param: k.param, Level: level, Values: values})
		}
	}

	if out.Degenerate > 0 {
		s.logger.Warn("%d of %d DFBETAS values are degenerate (failed fit, zero or non-finite SE) and stored as NaN",
			out.Degenerate, len(out.Rows)*len(req.LHS))
	}
	return out, nil
}

func dfbeta(full []float64, reduced *estimates, k cellParam, ci int) (float64, bool) {
	if reduced == nil || full == nil {
		return math.NaN(), false
	}
	est, se := reduced.est[k], reduced.se[k]
	if est == nil || se == nil {
		return math.NaN(), false
	}
	f, r, s := full[ci], est[ci], se[ci]
	if !finite(f) || !finite(r) || !finite(s) || s == 0 {
		return math.NaN(), false
	}
	return (f - r) / s, true
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// InfluentialLevel summarizes how strongly one level moves one parameter on one channel
type InfluentialLevel struct {
	Level   string
	Param   string
	Channel string
	MaxAbs  float64 // largest |DFBETAS| over time
	Exceeds int     // time stamps above the cutoff
}

// Influential lists (level, param, channel) combinations whose |DFBETAS|
// exceeds cutoff at least once, strongest first. A cutoff <= 0 uses the
// table's 2/sqrt(n) rule.
func Influential(table *lmer.DFBetasTable, cutoff float64) []InfluentialLevel {
	if cutoff <= 0 {
		cutoff = table.Cutoff()
	}
	type key struct{ level, param string }
	abs := make(map[key][][]float64)
	var order []key
	for _, r := range table.Rows {
		k := key{r.Level, r.Param}
		if _, ok := abs[k]; !ok {
			abs[k] = make([][]float64, len(table.Channels))
			order = append(order, k)
		}
		for ci, v := range r.Values {
			if finite(v) {
				abs[k][ci] = append(abs[k][ci], math.Abs(v))
			}
		}
	}

	var out []InfluentialLevel
	for _, k := range order {
		for ci, values := range abs[k] {
			if len(values) == 0 {
				continue
			}
			m, err := stats.Max(values)
			if err != nil || m <= cutoff {
				continue
			}
			n := 0
			for _, v := range values {
				if v > cutoff {
					n++
				}
			}
			out = append(out, InfluentialLevel{Level: k.level, Param: k.param, Channel: table.Channels[ci], MaxAbs: m, Exceeds: n})
		}
	}
	slices.SortStableFunc(out, func(a, b InfluentialLevel) int {
		return cmp.Compare(b.MaxAbs, a.MaxAbs)
	})
	return out
}
