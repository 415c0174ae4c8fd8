package figure

import (
	"fmt"
	"image/color"
	"math"

	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// RERPTitle is the figure title of one series
func RERPTitle(s lmer.RERPSeries) string {
	return fmt.Sprintf("%s %s: %s", s.Channel, s.Param, s.Model)
}

// PlotRERPs writes one PNG per series: the estimate with a +-SE band,
// log10(DF), FDR significant points in black and warned fits in red on top
func (r *Renderer) PlotRERPs(series []lmer.RERPSeries) ([]string, error) {
	if len(series) == 0 {
		return nil, errors.InvalidInput("no rERP series to plot")
	}
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	var paths []string
	for i, s := range series {
		p, err := rerpPlot(s)
		if err != nil {
			return nil, fmt.Errorf("rERP %s: %w", RERPTitle(s), err)
		}
		name := fmt.Sprintf("rerp_%03d_%s_%s.png", i+1, slug(s.Channel), slug(s.Param))
		path, err := r.saveRow(name, p)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	r.logger.Info("wrote %d rERP figures to %s", len(paths), r.Dir)
	return paths, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func rerpPlot(s lmer.RERPSeries) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = RERPTitle(s)
	p.X.Label.Text = "Time"
	p.Legend.Top = true

	var est, upper, lower, logDF, sig, warned plotter.XYs
	for _, pt := range s.Points {
		if finite(pt.DF) && pt.DF > 0 {
			logDF = append(logDF, plotter.XY{X: pt.Time, Y: math.Log10(pt.DF)})
		}
		if !finite(pt.Estimate) {
			continue
		}
		xy := plotter.XY{X: pt.Time, Y: pt.Estimate}
		est = append(est, xy)
		if finite(pt.SE) {
			upper = append(upper, plotter.XY{X: pt.Time, Y: pt.Estimate + pt.SE})
			lower = append(lower, plotter.XY{X: pt.Time, Y: pt.Estimate - pt.SE})
		}
		if pt.Significant {
			sig = append(sig, xy)
		}
		if pt.HasWarning {
			warned = append(warned, xy)
		}
	}

	if len(upper) > 1 {
		band := make(plotter.XYs, 0, 2*len(upper))
		band = append(band, upper...)
		for i := len(lower) - 1; i >= 0; i-- {
			band = append(band, lower[i])
		}
		poly, err := plotter.NewPolygon(band)
		if err != nil {
			return nil, err
		}
		poly.Color = color.NRGBA{A: 51}
		poly.LineStyle.Width = 0
		p.Add(poly)
	}

	if len(est) > 0 {
		line, err := plotter.NewLine(est)
		if err != nil {
			return nil, err
		}
		line.Color = color.NRGBA{A: 128}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.Param, line)
	}

	if len(logDF) > 0 {
		line, err := plotter.NewLine(logDF)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(1)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("log10DF", line)
	}

	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = black
	zero.Width = vg.Points(0.5)
	zero.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(zero)

	// significance label is kept even when nothing passed, so the legend
	// always reports the threshold
	sigLabel := fmt.Sprintf("%s FDR p < crit %.2g", s.FDR.Method, s.FDR.CriticalP)
	if len(sig) > 0 {
		sc, err := markers(sig, black)
		if err != nil {
			return nil, err
		}
		p.Add(sc)
		p.Legend.Add(sigLabel, sc)
	} else {
		p.Legend.Add(sigLabel)
	}

	if len(warned) > 0 {
		sc, err := markers(warned, red)
		if err != nil {
			return nil, err
		}
		p.Add(sc)
		p.Legend.Add("lmer warnings", sc)
	}
	return p, nil
}

func markers(pts plotter.XYs, c color.Color) (*plotter.Scatter, error) {
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(2.5)
	return sc, nil
}
