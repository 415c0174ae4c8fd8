// Package report writes a markdown run summary and its HTML rendering.
package report

import (
	"cmp"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"lmerkit/domain/core"
	"lmerkit/domain/lmer"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/montanaflynn/stats"
)

// Summary is everything a run can report on; nil parts are skipped
type Summary struct {
	Title     string
	RunID     core.RunID
	CreatedAt time.Time
	Models    []string
	Channels  []string
	AICs      *lmer.AICTable
	RERPs     []lmer.RERPSeries
	DFBetas   *lmer.DFBetasTable
	Warnings  []string
}

// ModelScore is one model's mean AIC min delta on one channel
type ModelScore struct {
	Model     string
	Channel   string
	MeanDelta float64
	Warnings  int
	Cells     int
}

// BestModels returns, per channel, the model with the smallest mean min delta
// over time, ties broken by model name
func BestModels(aics *lmer.AICTable) []ModelScore {
	if aics == nil {
		return nil
	}
	var out []ModelScore
	for _, channel := range aics.Channels {
		var best *ModelScore
		for _, model := range aics.Models() {
			score, ok := scoreTrace(model, channel, aics.Trace(model, channel))
			if !ok {
				continue
			}
			if best == nil || score.MeanDelta < best.MeanDelta ||
				(score.MeanDelta == best.MeanDelta && score.Model < best.Model) {
				best = &score
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out
}

func scoreTrace(model, channel string, trace []lmer.AICRow) (ModelScore, bool) {
	if len(trace) == 0 {
		return ModelScore{}, false
	}
	deltas := make([]float64, len(trace))
	s := ModelScore{Model: model, Channel: channel, Cells: len(trace)}
	for i, r := range trace {
		deltas[i] = r.MinDelta
		if r.HasWarning {
			s.Warnings++
		}
	}
	mean, err := stats.Mean(deltas)
	if err != nil {
		return ModelScore{}, false
	}
	s.MeanDelta = mean
	return s, true
}

// Markdown renders the summary
func Markdown(s Summary) string {
	var b strings.Builder
	title := cmp.Or(s.Title, "lmer run summary")
	fmt.Fprintf(&b, "# %s\n\n", title)
	if s.RunID != "" {
		fmt.Fprintf(&b, "- **Run:** `%s`\n", s.RunID)
	}
	if !s.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- **Created:** %s\n", s.CreatedAt.Format(time.RFC3339))
	}
	if len(s.Models) > 0 {
		fmt.Fprintf(&b, "- **Models:** %d\n", len(s.Models))
		for _, m := range s.Models {
			fmt.Fprintf(&b, "  - `%s`\n", m)
		}
	}
	if len(s.Channels) > 0 {
		fmt.Fprintf(&b, "- **Channels:** %s\n", strings.Join(s.Channels, ", "))
	}
	b.WriteString("\n")

	if s.AICs != nil && len(s.AICs.Rows) > 0 {
		writeAICSection(&b, s.AICs)
	}
	if len(s.RERPs) > 0 {
		writeRERPSection(&b, s.RERPs)
	}
	if s.DFBetas != nil && len(s.DFBetas.Rows) > 0 {
		writeDFBetasSection(&b, s.DFBetas)
	}
	if len(s.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeAICSection(b *strings.Builder, aics *lmer.AICTable) {
	b.WriteString("## Model comparison\n\n")
	b.WriteString("| Channel | Best model | Mean AIC min delta | Warned fits |\n")
	b.WriteString("|---|---|---:|---:|\n")
	for _, m := range BestModels(aics) {
		fmt.Fprintf(b, "| %s | `%s` | %.3f | %d/%d |\n", m.Channel, escapePipes(m.Model), m.MeanDelta, m.Warnings, m.Cells)
	}
	b.WriteString("\n")

	warned := make(map[string]int)
	for _, r := range aics.Rows {
		if r.HasWarning {
			warned[r.Model]++
		}
	}
	b.WriteString("| Model | Warned fits |\n|---|---:|\n")
	for _, m := range aics.Models() {
		fmt.Fprintf(b, "| `%s` | %d |\n", escapePipes(m), warned[m])
	}
	b.WriteString("\n")
}

func writeRERPSection(b *strings.Builder, series []lmer.RERPSeries) {
	b.WriteString("## Regression ERPs\n\n")
	b.WriteString("| Channel | Param | Model | FDR | Critical p | Significant | Warned |\n")
	b.WriteString("|---|---|---|---|---:|---:|---:|\n")
	for _, s := range series {
		warned := 0
		for _, p := range s.Points {
			if p.HasWarning {
				warned++
			}
		}
		fmt.Fprintf(b, "| %s | %s | `%s` | %s | %.3g | %d/%d | %d |\n",
			s.Channel, s.Param, escapePipes(s.Model), s.FDR.Method, s.FDR.CriticalP,
			s.FDR.NumSignificant(), len(s.Points), warned)
	}
	b.WriteString("\n")
}

func writeDFBetasSection(b *strings.Builder, d *lmer.DFBetasTable) {
	fmt.Fprintf(b, "## Influence of %s levels\n\n", d.Factor)
	fmt.Fprintf(b, "Cut-off 2/sqrt(%d) = %.3f. Degenerate values: %d.\n\n", len(d.Levels), d.Cutoff(), d.Degenerate)

	abs := make(map[string][]float64)
	for _, r := range d.Rows {
		for _, v := range r.Values {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				abs[r.Level] = append(abs[r.Level], math.Abs(v))
			}
		}
	}
	type levelMax struct {
		level string
		max   float64
	}
	var levels []levelMax
	for _, level := range d.Levels {
		m, err := stats.Max(abs[level])
		if err != nil {
			continue
		}
		levels = append(levels, levelMax{level, m})
	}
	slices.SortStableFunc(levels, func(a, b levelMax) int { return cmp.Compare(b.max, a.max) })

	b.WriteString("| Level | Max abs DFBETAS | Influential |\n|---|---:|---|\n")
	for _, l := range levels {
		mark := ""
		if l.max > d.Cutoff() {
			mark = "yes"
		}
		fmt.Fprintf(b, "| %s | %.3f | %s |\n", l.level, l.max, mark)
	}
	b.WriteString("\n")
}

// escapePipes keeps formulas with random-effect bars inside one table cell
func escapePipes(s string) string { return strings.ReplaceAll(s, "|", "\\|") }

// HTML renders markdown as a complete HTML page
func HTML(md, title string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: title,
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.ToHTML([]byte(md), p, renderer)
}

// Write stores summary.md and summary.html under dir and returns both paths
func Write(dir string, s Summary) (string, string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create output dir: %w", err)
	}
	md := Markdown(s)
	mdPath := filepath.Join(dir, "summary.md")
	if err := os.WriteFile(mdPath, []byte(md), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", mdPath, err)
	}
	htmlPath := filepath.Join(dir, "summary.html")
	if err := os.WriteFile(htmlPath, HTML(md, cmp.Or(s.Title, "lmer run summary")), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", htmlPath, err)
	}
	return mdPath, htmlPath, nil
}
