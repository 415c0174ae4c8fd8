// Package fdr implements the Benjamini-Hochberg and Benjamini-Yekutieli
// step-up procedures for a single series of p-values.
package fdr

import (
	"math"
	"slices"
	"strings"

	"lmerkit/internal/errors"

	"gonum.org/v1/gonum/floats"
)

// Method selects the dependence correction c(m)
type Method string

const (
	// BH assumes independent or positively dependent tests, c(m) = 1
	BH Method = "BH"
	// BY holds under arbitrary dependence, c(m) = sum_{i=1..m} 1/i
	BY Method = "BY"
)

// DefaultAlpha is the conventional false discovery rate
const DefaultAlpha = 0.05

// ParseMethod accepts "BH" or "BY" in any case
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// Validate fails with INVALID_INPUT unless the method is BH or BY
func (m Method) Validate() error {
	if m != BH && m != BY {
		return errors.InvalidInputf("fdr must be BH or BY, got %q", string(m))
	}
	return nil
}

// Correction returns c(m) for a family of m tests
func (m Method) Correction(n int) float64 {
	if m == BH || n < 1 {
		return 1
	}
	terms := make([]float64, n)
	for i := range terms {
		terms[i] = 1 / float64(i+1)
	}
	return floats.Sum(terms)
}

// CriticalP returns the critical p-value for one (model, param) series.
//
// With p-values sorted ascending and 0-indexed rank k, rank k qualifies when
// p_k <= k/(m*c(m)) * alpha. The critical p-value is the p-value at the largest
// qualifying rank, or 0 when none qualifies. NaN p-values count toward m, sort
// last and never qualify.
func CriticalP(pvals []float64, alpha float64, method Method) (float64, error) {
	if err := method.Validate(); err != nil {
		return 0, err
	}
	if !(alpha > 0 && alpha <= 1) {
		return 0, errors.InvalidInputf("alpha must be in (0, 1], got %g", alpha)
	}
	m := len(pvals)
	if m == 0 {
		return 0, nil
	}

	sorted := append([]float64(nil), pvals...)
	slices.SortFunc(sorted, compareNaNLast)

	cm := method.Correction(m)
	crit := 0.0
	for k, p := range sorted {
		threshold := float64(k) / (float64(m) * cm) * alpha
		if p <= threshold {
			crit = p
		}
	}
	return crit, nil
}

// Significant flags each p-value strictly below the critical p-value
func Significant(pvals []float64, critP float64) []bool {
	flags := make([]bool, len(pvals))
	for i, p := range pvals {
		flags[i] = p < critP
	}
	return flags
}

// Result bundles the threshold and flags for one series
type Result struct {
	Method    Method
	Alpha     float64
	CriticalP float64
	Flags     []bool
}

// NumSignificant counts the flagged points
func (r Result) NumSignificant() int {
	n := 0
	for _, f := range r.Flags {
		if f {
			n++
		}
	}
	return n
}

// Apply computes the critical p-value and the flags in one step
func Apply(pvals []float64, alpha float64, method Method) (Result, error) {
	crit, err := CriticalP(pvals, alpha, method)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Method:    method,
		Alpha:     alpha,
		CriticalP: crit,
		Flags:     Significant(pvals, crit),
	}, nil
}

func compareNaNLast(a, b float64) int {
	switch {
	case math.IsNaN(a) && math.IsNaN(b):
		return 0
	case math.IsNaN(a):
		return 1
	case math.IsNaN(b):
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
