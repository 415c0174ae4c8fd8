package fdr

import (
	"math"
	"math/rand"
	"testing"

	"lmerkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalP_WorkedExample(t *testing.T) {
	pvals := []float64{0.01, 0.04, 0.03, 0.005}

	crit, err := CriticalP(pvals, 0.05, BH)
	require.NoError(t, err)
	assert.Equal(t, 0.01, crit)

	assert.Equal(t, []bool{false, false, false, true}, Significant(pvals, crit))
}

func TestCriticalP_AllOnes(t *testing.T) {
	pvals := []float64{1, 1, 1, 1, 1}
	for _, method := range []Method{BH, BY} {
		res, err := Apply(pvals, 0.05, method)
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.CriticalP)
		assert.Equal(t, 0, res.NumSignificant())
	}
}

func TestCriticalP_InvalidMethod(t *testing.T) {
	_, err := CriticalP([]float64{0.01}, 0.05, Method("bonferroni"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = ParseMethod("holm")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestCriticalP_InvalidAlpha(t *testing.T) {
	for _, alpha := range []float64{0, -0.1, 1.5, math.NaN()} {
		_, err := CriticalP([]float64{0.01}, alpha, BH)
		assert.True(t, errors.HasCode(err, errors.CodeInvalidInput), "alpha %v", alpha)
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod(" by ")
	require.NoError(t, err)
	assert.Equal(t, BY, m)
}

func TestCorrection(t *testing.T) {
	assert.Equal(t, 1.0, BH.Correction(10))
	assert.InDelta(t, 1+0.5+1.0/3+0.25, BY.Correction(4), 1e-12)
	assert.Equal(t, 1.0, BY.Correction(1))
}

func TestCriticalP_EmptySeries(t *testing.T) {
	crit, err := CriticalP(nil, 0.05, BY)
	require.NoError(t, err)
	assert.Equal(t, 0.0, crit)
}

func TestCriticalP_NaNCountsButNeverQualifies(t *testing.T) {
	// m = 5 with the NaN: thresholds 0, 0.01, 0.02, 0.03, 0.04
	pvals := []float64{0.001, math.NaN(), 0.009, 0.015, 0.02}
	crit, err := CriticalP(pvals, 0.05, BH)
	require.NoError(t, err)
	assert.Equal(t, 0.02, crit)

	flags := Significant(pvals, crit)
	assert.Equal(t, []bool{true, false, true, true, false}, flags)
}

func TestCriticalP_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		m := 2 + rng.Intn(40)
		pvals := make([]float64, m)
		for i := range pvals {
			// mix of strong signals and nulls
			if rng.Float64() < 0.4 {
				pvals[i] = rng.Float64() * 0.01
			} else {
				pvals[i] = rng.Float64()
			}
		}

		bh, err := CriticalP(pvals, 0.05, BH)
		require.NoError(t, err)
		by, err := CriticalP(pvals, 0.05, BY)
		require.NoError(t, err)
		assert.LessOrEqual(t, by, bh, "BY must be at least as conservative as BH")

		prev := 0.0
		for _, alpha := range []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1} {
			crit, err := CriticalP(pvals, alpha, BH)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, crit, prev, "critical p must not decrease with alpha")
			prev = crit
		}
	}
}
