// Package ols is an in-process grid fitter that estimates fixed-effects-only
// formulas by ordinary least squares, one model per (time, channel) cell.
package ols

import (
	"context"
	"fmt"
	"math"

	"lmerkit/domain/epochs"
	"lmerkit/domain/formula"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"
	"lmerkit/ports"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxCondition flags near-singular designs as warned fits; it bounds the
// condition number of R, the square root of that of X'X
const maxCondition = 1e10

// Fitter implements ports.GridFitter with gonum
type Fitter struct {
	logger *internal.Logger
}

var _ ports.GridFitter = (*Fitter)(nil)

// New creates an OLS fitter
func New(logger *internal.Logger) *Fitter {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &Fitter{logger: logger.With("OLSFitter")}
}

type cellFit struct {
	est, se, tstat, pval []float64
	df                   float64
	aic                  float64
	warning              string
}

// Fit estimates every cell. Formulas with random-effects terms are rejected;
// the rscript backend fits those.
func (f *Fitter) Fit(ctx context.Context, ep *epochs.Epochs, spec ports.FitSpec) (*lmer.GridFit, error) {
	form, err := formula.Parse(spec.RHS)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if form.HasRandom() {
		r := form.Random[0]
		return nil, errors.InvalidInputf("ols backend cannot fit random-effects term (%s | %s); use the rscript backend", r.Expr, r.Group)
	}
	for _, ch := range spec.LHS {
		if !ep.Frame.Has(ch) || !ep.Frame.IsNumeric(ch) {
			return nil, errors.InvalidInputf("response channel %q is missing or not numeric", ch)
		}
	}

	d, err := newDesign(ep.Frame, form)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	params := d.names()
	times := ep.Times()

	cells := make([][]cellFit, len(times))
	g, gctx := errgroup.WithContext(ctx)
	limit := 1
	if spec.Parallel {
		limit = max(spec.NCores, 1)
	}
	g.SetLimit(limit)

	for ti, t := range times {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cells[ti] = make([]cellFit, len(spec.LHS))
			for ci, ch := range spec.LHS {
				cells[ti][ci] = fitCell(ep.Frame, ep.RowsAt(t), d, ch)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &lmer.GridFit{
		Formula:  spec.RHS,
		Channels: append([]string(nil), spec.LHS...),
	}
	for ti, t := range times {
		row := cells[ti]
		for pi, param := range params {
			for _, key := range lmer.CoefKeys {
				values := make([]float64, len(row))
				for ci, c := range row {
					switch key {
					case lmer.KeyEstimate:
						values[ci] = c.est[pi]
					case lmer.KeySE:
						values[ci] = c.se[pi]
					case lmer.KeyDF:
						values[ci] = c.df
					case lmer.KeyTStat:
						values[ci] = c.tstat[pi]
					case lmer.KeyPValue:
						values[ci] = c.pval[pi]
					}
				}
				out.Coefs = append(out.Coefs, lmer.CoefRow{Time: t, Param: param, Key: key, Values: values})
			}
		}

		aic := make([]float64, len(row))
		warned := make([]float64, len(row))
		for ci, c := range row {
			aic[ci] = c.aic
			if c.warning != "" {
				warned[ci] = 1
				out.Warnings = append(out.Warnings, fmt.Sprintf("time=%g channel=%s: %s", t, spec.LHS[ci], c.warning))
			}
		}
		out.AIC = append(out.AIC, lmer.TimeRow{Time: t, Values: aic})
		out.HasWarning = append(out.HasWarning, lmer.TimeRow{Time: t, Values: warned})
	}

	f.logger.Debug("fitted ~ %s over %d times x %d channels (%d warnings)",
		spec.RHS, len(times), len(spec.LHS), len(out.Warnings))
	return out, nil
}

func fitCell(frame *epochs.Frame, rows []int, d *design, channel string) cellFit {
	p := len(d.columns)
	c := cellFit{
		est:   nanSlice(p),
		se:    nanSlice(p),
		tstat: nanSlice(p),
		pval:  nanSlice(p),
		df:    math.NaN(),
		aic:   math.NaN(),
	}

	var xs, ys []float64
	buf := make([]float64, p)
	for _, r := range rows {
		y := frame.Float(r, channel)
		if math.IsNaN(y) || !d.rowValues(frame, r, buf) {
			continue
		}
		xs = append(xs, buf...)
		ys = append(ys, y)
	}
	n := len(ys)
	if n == 0 {
		c.warning = "no complete observations"
		return c
	}

	if n < p {
		c.warning = fmt.Sprintf("design matrix is rank deficient (n=%d, p=%d)", n, p)
		return c
	}
	X := mat.NewDense(n, p, xs)
	yv := mat.NewVecDense(n, ys)

	var qr mat.QR
	qr.Factorize(X)
	if qr.Cond() > maxCondition {
		c.warning = "design matrix is rank deficient"
		return c
	}

	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yv); err != nil {
		c.warning = fmt.Sprintf("solve failed: %v", err)
		return c
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	rss := 0.0
	for i := 0; i < n; i++ {
		r := ys[i] - fitted.AtVec(i)
		rss += r * r
	}

	for j := 0; j < p; j++ {
		c.est[j] = beta.AtVec(j)
	}
	c.aic = gaussianAIC(rss, n, p)

	df := n - p
	c.df = float64(df)
	if df <= 0 {
		c.warning = fmt.Sprintf("no residual degrees of freedom (n=%d, p=%d)", n, p)
		return c
	}

	// (X'X)^-1 = R^-1 R^-T, so its diagonal is the squared row norms of R^-1
	var upper, rinv mat.Dense
	qr.RTo(&upper)
	if err := rinv.Inverse(upper.Slice(0, p, 0, p)); err != nil {
		c.warning = fmt.Sprintf("covariance inversion failed: %v", err)
		return c
	}
	sigma2 := rss / float64(df)
	for j := 0; j < p; j++ {
		row := rinv.RawRowView(j)
		c.se[j] = math.Sqrt(sigma2 * floats.Dot(row, row))
		if c.se[j] > 0 {
			c.tstat[j] = c.est[j] / c.se[j]
			c.pval[j] = tTestPValue(c.tstat[j], c.df)
		}
	}
	return c
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
