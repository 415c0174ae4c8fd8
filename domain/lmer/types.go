// Package lmer holds the tables produced by fitting mixed-effects models over a
// time x channel grid: per-formula grid fits, the aggregated long-format
// coefficient table, AIC comparisons and DFBETAS influence values.
package lmer

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// StatKey names one statistic stored for a parameter
type StatKey string

const (
	KeyEstimate   StatKey = "Estimate"
	KeySE         StatKey = "SE"
	KeyDF         StatKey = "DF"
	KeyTStat      StatKey = "T-stat"
	KeyPValue     StatKey = "P-val"
	KeyAIC        StatKey = "AIC"
	KeyHasWarning StatKey = "has_warning"
)

// CoefKeys are the per-parameter statistics every backend reports
var CoefKeys = []StatKey{KeyEstimate, KeySE, KeyDF, KeyTStat, KeyPValue}

// FitAttributes are per-fit scalars replicated onto every parameter by the aggregator
var FitAttributes = []StatKey{KeyAIC, KeyHasWarning}

// CoefRow is one (time, param, key) row of a single formula's grid fit,
// holding one value per channel
type CoefRow struct {
	Time   float64
	Param  string
	Key    StatKey
	Values []float64
}

// TimeRow holds one value per channel at a time stamp
type TimeRow struct {
	Time   float64
	Values []float64
}

// GridFit is what a grid fitter returns for one right-hand side
type GridFit struct {
	Formula    string
	Channels   []string
	Coefs      []CoefRow
	AIC        []TimeRow
	HasWarning []TimeRow // 1 = the fit warned, 0 = clean, NaN = not fitted
	Warnings   []string  // backend messages, informational
}

// Params returns the parameter names in the order the backend reported them
func (g *GridFit) Params() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range g.Coefs {
		if !seen[r.Param] {
			seen[r.Param] = true
			out = append(out, r.Param)
		}
	}
	return out
}

// Validate checks row widths and that AIC and warning rows cover the same times
func (g *GridFit) Validate() error {
	n := len(g.Channels)
	if n == 0 {
		return fmt.Errorf("grid fit for %q has no channels", g.Formula)
	}
	for _, r := range g.Coefs {
		if len(r.Values) != n {
			return fmt.Errorf("coef row %g/%s/%s has %d values, want %d", r.Time, r.Param, r.Key, len(r.Values), n)
		}
	}
	if len(g.AIC) != len(g.HasWarning) {
		return fmt.Errorf("grid fit for %q has %d AIC rows but %d warning rows", g.Formula, len(g.AIC), len(g.HasWarning))
	}
	for i := range g.AIC {
		if len(g.AIC[i].Values) != n || len(g.HasWarning[i].Values) != n {
			return fmt.Errorf("fit attribute row %g has the wrong width", g.AIC[i].Time)
		}
		if g.AIC[i].Time != g.HasWarning[i].Time {
			return fmt.Errorf("AIC row %g is paired with warning row %g", g.AIC[i].Time, g.HasWarning[i].Time)
		}
	}
	return nil
}

// AICRow is one (time, model, channel) entry of the AIC comparison
type AICRow struct {
	Time       float64
	Model      string
	Channel    string
	AIC        float64
	MinDelta   float64
	HasWarning bool
}

// AICTable holds AIC, delta from the per-(time, channel) minimum, and warnings
type AICTable struct {
	Channels []string
	Rows     []AICRow
}

// Models returns the models present, in row order
func (a *AICTable) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range a.Rows {
		if !seen[r.Model] {
			seen[r.Model] = true
			out = append(out, r.Model)
		}
	}
	return out
}

// Times returns the distinct time stamps in row order
func (a *AICTable) Times() []float64 {
	var out []float64
	for i, r := range a.Rows {
		if i == 0 || r.Time != a.Rows[i-1].Time {
			out = append(out, r.Time)
		}
	}
	return out
}

// Trace returns the rows of one model and channel, in time order
func (a *AICTable) Trace(model, channel string) []AICRow {
	var out []AICRow
	for _, r := range a.Rows {
		if r.Model == model && r.Channel == channel {
			out = append(out, r)
		}
	}
	return out
}

// DFBetasRow is one (time, param, excluded level) row with one value per channel
type DFBetasRow struct {
	Time   float64
	Param  string
	Level  string
	Values []float64
}

// DFBetasTable holds standardized leave-one-level-out influence values.
// Degenerate counts cells stored as NaN because the reduced fit had a zero or
// non-finite standard error or estimate.
type DFBetasTable struct {
	Factor     string
	Channels   []string
	Levels     []string
	Rows       []DFBetasRow
	Degenerate int
}

// Cutoff returns the conventional 2/sqrt(n) influence threshold for the table's levels
func (d *DFBetasTable) Cutoff() float64 {
	if len(d.Levels) == 0 {
		return math.Inf(1)
	}
	return 2 / math.Sqrt(float64(len(d.Levels)))
}

// Target names a persistence destination: a file or DSN plus a group inside it
// (a sheet for workbooks, a table for SQL databases)
type Target struct {
	Path  string
	Group string
}

func (t Target) String() string { return t.Path + ":" + t.Group }

// Validate rejects blank paths and groups
func (t Target) Validate() error {
	if strings.TrimSpace(t.Path) == "" {
		return fmt.Errorf("save target %q has no path", t.String())
	}
	if strings.TrimSpace(t.Group) == "" {
		return fmt.Errorf("save target %q has no group", t.String())
	}
	return nil
}

// Ext returns the lower-cased file extension of the target path
func (t Target) Ext() string {
	return strings.ToLower(filepath.Ext(t.Path))
}

// ParseTarget splits "path:group" on the last colon; DSNs such as
// "postgres://host/db:lmer_coefs" keep their own colons
func ParseTarget(s string) (Target, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 || strings.HasPrefix(s[i:], "://") || strings.ContainsAny(s[i+1:], "/\\") {
		return Target{}, fmt.Errorf("save target %q must look like path:group", s)
	}
	t := Target{Path: s[:i], Group: s[i+1:]}
	return t, t.Validate()
}
