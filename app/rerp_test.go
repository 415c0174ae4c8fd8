package app

import (
	"math"
	"testing"

	"lmerkit/domain/fdr"
	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rerpTable(t *testing.T) *lmer.CoefTable {
	t.Helper()
	table := lmer.NewCoefTable([]string{"MiPf", "MiCe"})
	pvals := map[float64][]float64{
		0:   {0.9, 0.001},
		100: {0.001, 0.002},
		200: {0.002, math.NaN()},
		300: {0.5, 0.003},
	}
	for _, tm := range []float64{300, 0, 200, 100} {
		require.NoError(t, table.Append(
			lmer.Row{Time: tm, Model: "m", Param: "cloze", Key: lmer.KeyEstimate, Values: []float64{tm, -tm}},
			lmer.Row{Time: tm, Model: "m", Param: "cloze", Key: lmer.KeySE, Values: []float64{1, 2}},
			lmer.Row{Time: tm, Model: "m", Param: "cloze", Key: lmer.KeyDF, Values: []float64{30, 30}},
			lmer.Row{Time: tm, Model: "m", Param: "cloze", Key: lmer.KeyPValue, Values: pvals[tm]},
			lmer.Row{Time: tm, Model: "m", Param: "cloze", Key: lmer.KeyHasWarning, Values: []float64{0, boolFloat(tm == 300)}},
		))
	}
	return table
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func TestRERPs_SeriesPerChannel(t *testing.T) {
	series, err := RERPs(rerpTable(t), nil, fdr.DefaultAlpha, fdr.BH)
	require.NoError(t, err)
	require.Len(t, series, 2)

	pf := series[0]
	assert.Equal(t, "MiPf", pf.Channel)
	assert.Equal(t, "cloze", pf.Param)
	assert.Equal(t, []float64{0, 100, 200, 300}, pf.Times())
	assert.Equal(t, 200.0, pf.Points[2].Estimate)
	assert.Equal(t, 30.0, pf.Points[2].DF)
	assert.Equal(t, fdr.BH, pf.FDR.Method)

	// p sorted: .001 .002 .5 .9 with m=4; rank 1 qualifies (.002 <= 1/4*.05)
	assert.Equal(t, 0.002, pf.FDR.CriticalP)
	assert.Equal(t, []bool{false, true, false, false}, []bool{
		pf.Points[0].Significant, pf.Points[1].Significant, pf.Points[2].Significant, pf.Points[3].Significant,
	})

	ce := series[1]
	assert.Equal(t, "MiCe", ce.Channel)
	assert.Equal(t, -300.0, ce.Points[3].Estimate)
	assert.True(t, ce.Points[3].HasWarning)
	assert.False(t, ce.Points[0].HasWarning)
	assert.True(t, math.IsNaN(ce.Points[2].PValue))
	assert.False(t, ce.Points[2].Significant)
}

func TestRERPs_ChannelSubset(t *testing.T) {
	series, err := RERPs(rerpTable(t), []string{"MiCe"}, 0.05, fdr.BY)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "MiCe", series[0].Channel)
	assert.Equal(t, fdr.BY, series[0].FDR.Method)
}

func TestRERPs_InvalidArguments(t *testing.T) {
	tests := []struct {
		name     string
		table    *lmer.CoefTable
		channels []string
		alpha    float64
		method   fdr.Method
	}{
		{"bad method without a table", nil, nil, 0.05, fdr.Method("bonferroni")},
		{"alpha zero", rerpTable(t), nil, 0, fdr.BH},
		{"alpha above one", rerpTable(t), nil, 1.5, fdr.BH},
		{"nil table", nil, nil, 0.05, fdr.BH},
		{"unknown channel", rerpTable(t), []string{"Fz"}, 0.05, fdr.BH},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RERPs(tt.table, tt.channels, tt.alpha, tt.method)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}
