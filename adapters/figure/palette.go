// Package figure renders AIC comparisons and regression ERPs as PNG figures
// (gonum/plot) and as a single interactive HTML page (go-echarts).
package figure

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// DeltaBounds are the AIC min-delta reference levels of Burnham & Anderson (2004)
var DeltaBounds = []float64{0, 2, 4, 7, 10}

// Colors of the delta bins [0,2) [2,4) [4,7) [7,10), taken from a five step
// color blind friendly blue scale spread over four bins, then deltas >= 10
var (
	deltaBinHex = []string{"#eff3ff", "#bdd7e7", "#6baed6", "#08519c"}
	overHex     = "#fcae91"
	crimson     = color.RGBA{R: 220, G: 20, B: 60, A: 255}
	black       = color.RGBA{A: 255}
	red         = color.RGBA{R: 255, A: 255}
)

func mustHex(s string) color.RGBA {
	var c color.RGBA
	if _, err := fmt.Sscanf(strings.TrimPrefix(s, "#"), "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		panic(fmt.Sprintf("bad color %q: %v", s, err))
	}
	c.A = 255
	return c
}

// DeltaColor returns the heatmap color for an AIC min delta; ok is false for
// missing (NaN) deltas, which are left blank
func DeltaColor(delta float64) (c color.Color, ok bool) {
	if math.IsNaN(delta) {
		return nil, false
	}
	for i := len(deltaBinHex) - 1; i >= 0; i-- {
		if delta >= DeltaBounds[i] && delta < DeltaBounds[i+1] {
			return mustHex(deltaBinHex[i]), true
		}
	}
	if delta >= DeltaBounds[len(DeltaBounds)-1] {
		return mustHex(overHex), true
	}
	// negative deltas cannot come out of the reducer; show them as best
	return mustHex(deltaBinHex[0]), true
}

// deltaBinLabels names the legend swatches in bin order
func deltaBinLabels() []string {
	var out []string
	for i := 0; i+1 < len(DeltaBounds); i++ {
		out = append(out, fmt.Sprintf("%g-%g", DeltaBounds[i], DeltaBounds[i+1]))
	}
	return append(out, fmt.Sprintf(">%g", DeltaBounds[len(DeltaBounds)-1]))
}

// swatch is a filled legend thumbnail
type swatch struct{ color color.Color }

func (s swatch) Thumbnail(c *draw.Canvas) {
	pts := []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Max.X, Y: c.Min.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Min.X, Y: c.Max.Y},
	}
	c.FillPolygon(s.color, c.ClipPolygonXY(pts))
}

// slug makes a file name fragment out of a channel, param or formula
func slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
