package ols

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// tTestPValue calculates the two-tailed p-value for a t statistic
func tTestPValue(tStatistic, df float64) float64 {
	if df <= 0 || math.IsNaN(tStatistic) {
		return math.NaN()
	}
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - tDist.CDF(math.Abs(tStatistic)))
}

// gaussianAIC is -2 log L + 2k for a normal linear model with ML variance rss/n;
// k counts the coefficients plus the residual variance
func gaussianAIC(rss float64, n, p int) float64 {
	if n == 0 || rss < 0 {
		return math.NaN()
	}
	nf := float64(n)
	if rss == 0 {
		// a perfect fit has unbounded likelihood
		return math.Inf(-1)
	}
	logLik := -0.5 * nf * (math.Log(2*math.Pi*rss/nf) + 1)
	return -2*logLik + 2*float64(p+1)
}
