package figure

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"lmerkit/domain/lmer"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// echarts reads "-" as a missing value; NaN does not survive JSON encoding
const missing = "-"

func chartValue(v float64) interface{} {
	if !finite(v) {
		return missing
	}
	return v
}

func timeLabels(times []float64) []string {
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = strconv.FormatFloat(t, 'g', -1, 64)
	}
	return out
}

// RenderHTML writes every AIC and rERP chart onto one page. Either input may be empty.
func RenderHTML(w io.Writer, title string, aics *lmer.AICTable, series []lmer.RERPSeries) error {
	page := components.NewPage()
	page.PageTitle = title

	if aics != nil && len(aics.Rows) > 0 {
		for _, model := range aics.Models() {
			page.AddCharts(aicTraceChart(aics, model), aicHeatChart(aics, model))
		}
	}
	for _, s := range series {
		page.AddCharts(rerpChart(s))
	}
	return page.Render(w)
}

// WriteHTML renders the page into name under the renderer directory
func (r *Renderer) WriteHTML(name string, aics *lmer.AICTable, series []lmer.RERPSeries) (string, error) {
	if err := r.ensureDir(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := RenderHTML(&buf, "lmer diagnostics", aics, series); err != nil {
		return "", fmt.Errorf("render error: %w", err)
	}
	path := filepath.Join(r.Dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.logger.Info("wrote %s", path)
	return path, nil
}

func aicTraceChart(aics *lmer.AICTable, model string) *charts.Line {
	times := aics.Times()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "aic min delta: " + model}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "AIC min delta", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(timeLabels(times))
	for _, channel := range aics.Channels {
		byTime := make(map[float64]float64)
		for _, row := range aics.Trace(model, channel) {
			byTime[row.Time] = row.MinDelta
		}
		data := make([]opts.LineData, len(times))
		for i, t := range times {
			v, ok := byTime[t]
			if !ok {
				v = math.NaN()
			}
			data[i] = opts.LineData{Value: chartValue(v)}
		}
		line.AddSeries(channel, data)
	}
	return line
}

// aicHeatChart draws the (time, channel) deltas as a colored scatter, clipped at
// the top delta bound like the PNG heatmap
func aicHeatChart(aics *lmer.AICTable, model string) *charts.Scatter {
	times := aics.Times()
	top := DeltaBounds[len(DeltaBounds)-1]
	var cells, warned []opts.ScatterData
	for _, row := range aics.Rows {
		if row.Model != model {
			continue
		}
		ci := aics.ChannelIndex(row.Channel)
		pt := opts.ScatterData{Value: []interface{}{row.Time, ci, math.Min(row.MinDelta, top)}}
		if row.HasWarning {
			warned = append(warned, pt)
			continue
		}
		cells = append(cells, pt)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: model, Subtitle: fmt.Sprintf("times=%d channels=%d", len(times), len(aics.Channels))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "channel", Min: -0.5, Max: float64(len(aics.Channels)) - 0.5}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(top),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#eff3ff", "#bdd7e7", "#6baed6", "#3182bd", "#08519c"}},
		}),
	)
	scatter.AddSeries("min delta", cells, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))
	scatter.AddSeries("lmer warnings", warned,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "crimson"}),
	)
	return scatter
}

func rerpChart(s lmer.RERPSeries) *charts.Line {
	times := s.Times()
	est := make([]opts.LineData, len(s.Points))
	upper := make([]opts.LineData, len(s.Points))
	lower := make([]opts.LineData, len(s.Points))
	logDF := make([]opts.LineData, len(s.Points))
	sig := make([]opts.LineData, len(s.Points))
	warned := make([]opts.LineData, len(s.Points))
	for i, pt := range s.Points {
		est[i] = opts.LineData{Value: chartValue(pt.Estimate)}
		upper[i] = opts.LineData{Value: chartValue(pt.Estimate + pt.SE)}
		lower[i] = opts.LineData{Value: chartValue(pt.Estimate - pt.SE)}
		df := math.NaN()
		if pt.DF > 0 {
			df = math.Log10(pt.DF)
		}
		logDF[i] = opts.LineData{Value: chartValue(df)}
		sig[i] = opts.LineData{Value: missing}
		warned[i] = opts.LineData{Value: missing}
		if pt.Significant {
			sig[i] = opts.LineData{Value: chartValue(pt.Estimate)}
		}
		if pt.HasWarning {
			warned[i] = opts.LineData{Value: chartValue(pt.Estimate)}
		}
	}

	markersOnly := func(c string) []charts.SeriesOpts {
		return []charts.SeriesOpts{
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), SymbolSize: 8}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 0}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: c}),
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: RERPTitle(s)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(timeLabels(times)).
		AddSeries(s.Param, est, charts.WithItemStyleOpts(opts.ItemStyle{Color: "black"})).
		AddSeries("+SE", upper, charts.WithLineStyleOpts(opts.LineStyle{Type: "dotted", Color: "gray"})).
		AddSeries("-SE", lower, charts.WithLineStyleOpts(opts.LineStyle{Type: "dotted", Color: "gray"})).
		AddSeries("log10DF", logDF).
		AddSeries(fmt.Sprintf("%s FDR p < crit %.2g", s.FDR.Method, s.FDR.CriticalP), sig, markersOnly("black")...).
		AddSeries("lmer warnings", warned, markersOnly("red")...)
	return line
}
