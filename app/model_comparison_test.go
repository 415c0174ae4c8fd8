package app

import (
	"context"
	"math"
	"testing"

	"lmerkit/adapters/fit/ols"
	"lmerkit/domain/lmer"
	"lmerkit/internal/errors"
	"lmerkit/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFit(t *testing.T, table *lmer.CoefTable, model string, time float64, param string, aic, warn []float64) {
	t.Helper()
	require.NoError(t, table.Append(
		lmer.Row{Time: time, Model: model, Param: param, Key: lmer.KeyEstimate, Values: make([]float64, len(aic))},
		lmer.Row{Time: time, Model: model, Param: param, Key: lmer.KeyAIC, Values: aic},
		lmer.Row{Time: time, Model: model, Param: param, Key: lmer.KeyHasWarning, Values: warn},
	))
}

func TestLMERAICs_DeltasFromCellMinimum(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf", "MiCe"})
	for _, tm := range []float64{0, 100} {
		addFit(t, table, "m1", tm, "(Intercept)", []float64{10, 20}, []float64{0, 1})
		addFit(t, table, "m2", tm, "(Intercept)", []float64{12, 15}, []float64{0, 0})
		addFit(t, table, "m2", tm, "x", []float64{999, 999}, []float64{1, 1})
	}
	table.Sort()

	aics, err := LMERAICs(table, "")
	require.NoError(t, err)
	require.Len(t, aics.Rows, 2*2*2)

	minimum := make(map[[2]any]float64)
	for _, r := range aics.Rows {
		assert.GreaterOrEqual(t, r.MinDelta, 0.0)
		k := [2]any{r.Time, r.Channel}
		if v, ok := minimum[k]; !ok || r.MinDelta < v {
			minimum[k] = r.MinDelta
		}
	}
	for k, v := range minimum {
		assert.Equal(t, 0.0, v, "cell %v must contain the best model", k)
	}

	mice := aics.Trace("m1", "MiCe")
	require.Len(t, mice, 2)
	assert.Equal(t, 5.0, mice[0].MinDelta)
	assert.True(t, mice[0].HasWarning)

	// sorted by (time, model, channel in table order)
	first := aics.Rows[:4]
	assert.Equal(t, []string{"MiPf", "MiCe", "MiPf", "MiCe"},
		[]string{first[0].Channel, first[1].Channel, first[2].Channel, first[3].Channel})
	assert.Equal(t, "m1", first[0].Model)
	assert.Equal(t, "m2", first[2].Model)
}

func TestLMERAICs_NoInterceptUsesFirstParam(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf"})
	addFit(t, table, "m1", 0, "condA", []float64{7}, []float64{0})
	addFit(t, table, "m1", 0, "condB", []float64{7}, []float64{0})

	aics, err := LMERAICs(table, "")
	require.NoError(t, err)
	require.Len(t, aics.Rows, 1)
	assert.Equal(t, 7.0, aics.Rows[0].AIC)
}

func TestLMERAICs_MissingWarningIsStructural(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf"})
	require.NoError(t, table.Append(
		lmer.Row{Time: 0, Model: "m1", Param: "(Intercept)", Key: lmer.KeyAIC, Values: []float64{1}},
	))

	_, err := LMERAICs(table, "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeStructuralMismatch, errors.GetCode(err))
}

func TestLMERAICs_OrphanWarningIsStructural(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf"})
	addFit(t, table, "m1", 0, "(Intercept)", []float64{1}, []float64{0})
	require.NoError(t, table.Append(
		lmer.Row{Time: 100, Model: "m1", Param: "(Intercept)", Key: lmer.KeyHasWarning, Values: []float64{1}},
	))

	_, err := LMERAICs(table, "")
	assert.Equal(t, errors.CodeStructuralMismatch, errors.GetCode(err))
}

func TestLMERAICs_DropsFailedFits(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf", "MiCe"})
	addFit(t, table, "m1", 0, "(Intercept)", []float64{math.NaN(), 4}, []float64{1, 0})
	addFit(t, table, "m2", 0, "(Intercept)", []float64{3, math.Inf(-1)}, []float64{0, math.NaN()})

	aics, err := LMERAICs(table, "")
	require.NoError(t, err)
	require.Len(t, aics.Rows, 2)
	assert.Equal(t, "m1", aics.Rows[0].Model)
	assert.Equal(t, "MiCe", aics.Rows[0].Channel)
	assert.Equal(t, "m2", aics.Rows[1].Model)
	assert.Equal(t, "MiPf", aics.Rows[1].Channel)
	for _, r := range aics.Rows {
		assert.Equal(t, 0.0, r.MinDelta)
	}
}

func TestLMERAICs_RejectsEmptyInput(t *testing.T) {
	_, err := LMERAICs(nil, "")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = LMERAICs(lmer.NewCoefTable([]string{"MiPf"}), "")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestLMERAICs_EachModelUsesItsOwnReference(t *testing.T) {
	table := lmer.NewCoefTable([]string{"MiPf"})
	addFit(t, table, "cloze", 0, "(Intercept)", []float64{10}, []float64{0})
	addFit(t, table, "cloze", 0, "cloze", []float64{10}, []float64{0})
	addFit(t, table, "0 + cloze", 0, "cloze", []float64{14}, []float64{1})
	table.Sort()

	aics, err := LMERAICs(table, "")
	require.NoError(t, err)
	require.Len(t, aics.Rows, 2)
	assert.ElementsMatch(t, []string{"cloze", "0 + cloze"}, aics.Models())

	noIntercept := aics.Trace("0 + cloze", "MiPf")
	require.Len(t, noIntercept, 1)
	assert.Equal(t, 4.0, noIntercept[0].MinDelta)
	assert.True(t, noIntercept[0].HasWarning)
	assert.Equal(t, 0.0, aics.Trace("cloze", "MiPf")[0].MinDelta)

	// an explicit reference param applies to every model
	aics, err = LMERAICs(table, "cloze")
	require.NoError(t, err)
	assert.Len(t, aics.Models(), 2)
}

func TestLMERAICs_ComparesModelsWithAndWithoutIntercept(t *testing.T) {
	cfg := testkit.DefaultEEGConfig()
	ep, err := testkit.NewEEGGenerator(cfg).GenerateEpochs()
	require.NoError(t, err)

	svc := NewAggregatorService(ols.New(quietLogger()), nil, quietLogger())
	res, err := svc.FitLMERs(context.Background(), FitRequest{
		Epochs: ep,
		LHS:    cfg.Channels,
		RHS:    []string{testkit.ColCloze, "0 + " + testkit.ColCloze},
		NCores: 1,
	})
	require.NoError(t, err)

	aics, err := LMERAICs(res.Table, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testkit.ColCloze, "0 + " + testkit.ColCloze}, aics.Models())
	assert.Len(t, aics.Rows, 2*len(cfg.Times)*len(cfg.Channels))
	for _, channel := range cfg.Channels {
		for _, model := range aics.Models() {
			assert.Len(t, aics.Trace(model, channel), len(cfg.Times))
		}
	}
}
