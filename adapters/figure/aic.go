package figure

import (
	"fmt"
	"image/color"
	"math"
	"slices"

	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotAICs writes one PNG per model with the channel traces of the AIC min
// delta on the left and a time x channel heatmap on the right. Returns the
// written paths in model order.
func (r *Renderer) PlotAICs(aics *lmer.AICTable) ([]string, error) {
	if aics == nil || len(aics.Rows) == 0 {
		return nil, errors.InvalidInput("AIC table is empty")
	}
	if err := r.ensureDir(); err != nil {
		return nil, err
	}

	var paths []string
	for i, model := range aics.Models() {
		traces, err := aicTraces(aics, model)
		if err != nil {
			return nil, fmt.Errorf("aic traces for %q: %w", model, err)
		}
		heat := aicHeatmap(aics, model)
		path, err := r.saveRow(fmt.Sprintf("aic_%02d_%s.png", i+1, slug(model)), traces, heat)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	r.logger.Info("wrote %d AIC figures to %s", len(paths), r.Dir)
	return paths, nil
}

func aicTraces(aics *lmer.AICTable, model string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "aic min delta: " + model
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "AIC min delta"
	p.Legend.Top = true

	var warned plotter.XYs
	for ci, channel := range aics.Channels {
		trace := aics.Trace(model, channel)
		if len(trace) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(trace))
		for i, row := range trace {
			pts[i] = plotter.XY{X: row.Time, Y: row.MinDelta}
			if row.HasWarning {
				warned = append(warned, pts[i])
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(ci)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(channel, line)
	}

	for _, y := range DeltaBounds {
		ref := plotter.NewFunction(func(float64) float64 { return y })
		ref.Color = black
		ref.Width = vg.Points(0.5)
		ref.Dashes = []vg.Length{vg.Points(1), vg.Points(3)}
		p.Add(ref)
	}

	if len(warned) > 0 {
		sc, err := plotter.NewScatter(warned)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = red
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(sc)
		p.Legend.Add("lmer warnings", sc)
	}
	return p, nil
}

// deltaGrid draws one filled cell per (time, channel); cells whose fit warned
// are drawn in crimson over the delta color
type deltaGrid struct {
	edges    []float64 // len(times)+1 cell boundaries along time
	channels int
	delta    [][]float64 // [time][channel], NaN = missing
	warn     [][]bool
}

func newDeltaGrid(aics *lmer.AICTable, model string) *deltaGrid {
	times := aics.Times()
	g := &deltaGrid{
		edges:    cellEdges(times),
		channels: len(aics.Channels),
		delta:    make([][]float64, len(times)),
		warn:     make([][]bool, len(times)),
	}
	for ti := range times {
		g.delta[ti] = make([]float64, len(aics.Channels))
		g.warn[ti] = make([]bool, len(aics.Channels))
		for ci := range g.delta[ti] {
			g.delta[ti][ci] = math.NaN()
		}
	}
	for _, row := range aics.Rows {
		if row.Model != model {
			continue
		}
		ti, ci := slices.Index(times, row.Time), slices.Index(aics.Channels, row.Channel)
		if ti < 0 || ci < 0 {
			continue
		}
		g.delta[ti][ci] = row.MinDelta
		g.warn[ti][ci] = row.HasWarning
	}
	return g
}

// cellEdges puts boundaries halfway between neighbouring time stamps
func cellEdges(times []float64) []float64 {
	if len(times) == 0 {
		return nil
	}
	if len(times) == 1 {
		return []float64{times[0] - 0.5, times[0] + 0.5}
	}
	edges := make([]float64, len(times)+1)
	for i := 1; i < len(times); i++ {
		edges[i] = (times[i-1] + times[i]) / 2
	}
	edges[0] = times[0] - (edges[1] - times[0])
	edges[len(times)] = times[len(times)-1] + (times[len(times)-1] - edges[len(times)-1])
	return edges
}

func (g *deltaGrid) Plot(c draw.Canvas, p *plot.Plot) {
	trX, trY := p.Transforms(&c)
	for ti := range g.delta {
		x0, x1 := trX(g.edges[ti]), trX(g.edges[ti+1])
		for ci, d := range g.delta[ti] {
			fill, ok := DeltaColor(d)
			if !ok {
				continue
			}
			if g.warn[ti][ci] {
				fill = crimson
			}
			y0, y1 := trY(float64(ci)), trY(float64(ci+1))
			pts := []vg.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
			c.FillPolygon(fill, c.ClipPolygonXY(pts))
		}
	}
}

func (g *deltaGrid) DataRange() (xmin, xmax, ymin, ymax float64) {
	if len(g.edges) == 0 {
		return 0, 1, 0, 1
	}
	return g.edges[0], g.edges[len(g.edges)-1], 0, float64(g.channels)
}

func aicHeatmap(aics *lmer.AICTable, model string) *plot.Plot {
	p := plot.New()
	p.Title.Text = model
	p.X.Label.Text = "Time"
	p.Add(newDeltaGrid(aics, model))

	ticks := make([]plot.Tick, len(aics.Channels))
	for ci, channel := range aics.Channels {
		ticks[ci] = plot.Tick{Value: float64(ci) + 0.5, Label: channel}
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)

	p.Legend.Left = false
	p.Legend.Top = true
	p.Legend.XOffs = vg.Points(-4)
	colors := append(slices.Clone(deltaBinHex), overHex)
	for i, label := range deltaBinLabels() {
		p.Legend.Add(label, swatch{mustHex(colors[i])})
	}
	p.Legend.Add("warning", swatch{color.Color(crimson)})
	return p
}
