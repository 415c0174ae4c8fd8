// Package epochs builds an epoched view over a flat table: every epoch (trial)
// contributes one row per time stamp, and every epoch shares the same time stamps.
package epochs

import (
	"fmt"
	"math"
	"sort"
)

// Epochs is a validated epoched view of a Frame
type Epochs struct {
	Frame    *Frame
	Time     string
	EpochID  string
	Channels []string

	times  []float64
	byTime map[float64][]int
	ids    []string
}

// FromFrame validates the layout and indexes rows by time.
// The time column and every channel column must be numeric; each epoch must
// have exactly one row per time stamp and all epochs the same time stamps.
func FromFrame(frame *Frame, time, epochID string, channels []string) (*Epochs, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("epochs table is empty")
	}
	for _, col := range append([]string{time, epochID}, channels...) {
		if !frame.Has(col) {
			return nil, fmt.Errorf("column %q not found", col)
		}
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel column is required")
	}
	if !frame.IsNumeric(time) {
		return nil, fmt.Errorf("time column %q is not numeric", time)
	}
	for _, ch := range channels {
		if !frame.IsNumeric(ch) {
			return nil, fmt.Errorf("channel column %q is not numeric", ch)
		}
	}

	e := &Epochs{
		Frame:    frame,
		Time:     time,
		EpochID:  epochID,
		Channels: channels,
		byTime:   make(map[float64][]int),
	}

	perEpoch := make(map[string]map[float64]bool)
	for r := 0; r < frame.Len(); r++ {
		t := frame.Float(r, time)
		if math.IsNaN(t) {
			return nil, fmt.Errorf("row %d: missing time stamp", r)
		}
		id := frame.String(r, epochID)
		stamps, ok := perEpoch[id]
		if !ok {
			stamps = make(map[float64]bool)
			perEpoch[id] = stamps
			e.ids = append(e.ids, id)
		}
		if stamps[t] {
			return nil, fmt.Errorf("epoch %q has duplicate time stamp %g", id, t)
		}
		stamps[t] = true
		if _, seen := e.byTime[t]; !seen {
			e.times = append(e.times, t)
		}
		e.byTime[t] = append(e.byTime[t], r)
	}
	sort.Float64s(e.times)

	for _, id := range e.ids {
		if len(perEpoch[id]) != len(e.times) {
			return nil, fmt.Errorf("epoch %q has %d time stamps, want %d", id, len(perEpoch[id]), len(e.times))
		}
	}
	return e, nil
}

// Times returns the sorted time stamps shared by every epoch
func (e *Epochs) Times() []float64 { return e.times }

// EpochIDs returns epoch identifiers in first-encounter order
func (e *Epochs) EpochIDs() []string { return e.ids }

// RowsAt returns the frame rows recorded at time t, one per epoch
func (e *Epochs) RowsAt(t float64) []int { return e.byTime[t] }

// Levels returns the distinct values of a grouping column in first-encounter order
func (e *Epochs) Levels(factor string) ([]string, error) {
	if !e.Frame.Has(factor) {
		return nil, fmt.Errorf("factor column %q not found", factor)
	}
	return e.Frame.Unique(factor), nil
}

// Without rebuilds the epochs excluding every row where factor equals level
func (e *Epochs) Without(factor, level string) (*Epochs, error) {
	if !e.Frame.Has(factor) {
		return nil, fmt.Errorf("factor column %q not found", factor)
	}
	reduced := e.Frame.Filter(func(r int) bool {
		return e.Frame.String(r, factor) != level
	})
	out, err := FromFrame(reduced, e.Time, e.EpochID, e.Channels)
	if err != nil {
		return nil, fmt.Errorf("excluding %s=%s: %w", factor, level, err)
	}
	return out, nil
}
