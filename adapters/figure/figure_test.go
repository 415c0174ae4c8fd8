package figure

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"lmerkit/domain/fdr"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAICs() *lmer.AICTable {
	a := &lmer.AICTable{Channels: []string{"MiPf", "MiCe"}}
	for _, tm := range []float64{-100, 0, 100} {
		for _, m := range []string{"a + (1 | sub_id)", "b + (1 | sub_id)"} {
			for ci, ch := range a.Channels {
				delta := 0.0
				if m[0] == 'b' {
					delta = 3*float64(ci) + tm/50 + 2
				}
				a.Rows = append(a.Rows, lmer.AICRow{
					Time: tm, Model: m, Channel: ch, AIC: 100 + delta, MinDelta: delta,
					HasWarning: tm == 0 && ci == 1,
				})
			}
		}
	}
	return a
}

func sampleSeries() []lmer.RERPSeries {
	s := lmer.RERPSeries{Channel: "MiPf", Model: "cloze + (1 | sub_id)", Param: "cloze",
		FDR: fdr.Result{Method: fdr.BY, Alpha: 0.05, CriticalP: 0.002}}
	for i, tm := range []float64{-100, 0, 100, 200} {
		s.Points = append(s.Points, lmer.RERPPoint{
			Time: tm, Estimate: float64(-i), SE: 0.4, DF: 28.5, PValue: 0.5,
			Significant: i == 2, HasWarning: i == 3,
		})
	}
	s.Points[1].DF = math.NaN()
	return []lmer.RERPSeries{s}
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}

func TestDeltaColor(t *testing.T) {
	tests := []struct {
		delta float64
		want  string
	}{
		{0, "#eff3ff"},
		{1.99, "#eff3ff"},
		{2, "#bdd7e7"},
		{5, "#6baed6"},
		{9.5, "#08519c"},
		{10, "#fcae91"},
		{250, "#fcae91"},
	}
	for _, tt := range tests {
		c, ok := DeltaColor(tt.delta)
		require.True(t, ok)
		assert.Equal(t, mustHex(tt.want), c, "delta %g", tt.delta)
	}
	_, ok := DeltaColor(math.NaN())
	assert.False(t, ok)
	assert.Equal(t, []string{"0-2", "2-4", "4-7", "7-10", ">10"}, deltaBinLabels())
}

func TestCellEdges(t *testing.T) {
	assert.Equal(t, []float64{-150, -50, 50, 150}, cellEdges([]float64{-100, 0, 100}))
	assert.Equal(t, []float64{4.5, 5.5}, cellEdges([]float64{5}))
	assert.Nil(t, cellEdges(nil))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "Intercept", slug("(Intercept)"))
	assert.Equal(t, "cloze_1_sub_id", slug("cloze + (1 | sub_id)"))
	assert.Equal(t, "conditionB_cloze", slug("conditionB:cloze"))
}

func TestPlotAICs(t *testing.T) {
	r := NewRenderer(filepath.Join(t.TempDir(), "figs"), internal.NewLogger(internal.LogLevelError))
	paths, err := r.PlotAICs(sampleAICs())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "aic_01_a_1_sub_id.png", filepath.Base(paths[0]))
	for _, p := range paths {
		assertPNG(t, p)
	}

	_, err = r.PlotAICs(&lmer.AICTable{})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestPlotRERPs(t *testing.T) {
	r := NewRenderer(t.TempDir(), internal.NewLogger(internal.LogLevelError))
	paths, err := r.PlotRERPs(sampleSeries())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "rerp_001_MiPf_cloze.png", filepath.Base(paths[0]))
	assertPNG(t, paths[0])

	_, err = r.PlotRERPs(nil)
	assert.Error(t, err)
}

func TestRERPTitle(t *testing.T) {
	assert.Equal(t, "MiPf cloze: cloze + (1 | sub_id)", RERPTitle(sampleSeries()[0]))
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, "diagnostics", sampleAICs(), sampleSeries()))
	html := buf.String()
	assert.Contains(t, html, "diagnostics")
	assert.Contains(t, html, "aic min delta: a + (1 | sub_id)")
	assert.Contains(t, html, "MiPf cloze: cloze + (1 | sub_id)")
	assert.Contains(t, html, "crit 0.002")
}

func TestWriteHTML(t *testing.T) {
	r := NewRenderer(t.TempDir(), internal.NewLogger(internal.LogLevelError))
	path, err := r.WriteHTML("lmer.html", sampleAICs(), nil)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<html")
}
