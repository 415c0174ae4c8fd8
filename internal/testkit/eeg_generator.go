package testkit

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"

	"lmerkit/domain/epochs"
)

// Column names written by the EEG generator
const (
	ColEpochID   = "epoch_id"
	ColTime      = "time"
	ColSubject   = "sub_id"
	ColItem      = "item_id"
	ColCloze     = "cloze"
	ColCondition = "condition"
)

// EEGGeneratorConfig configures the synthetic epoched EEG generator
type EEGGeneratorConfig struct {
	Subjects  int       `json:"subjects"`
	Items     int       `json:"items"`
	Times     []float64 `json:"times"`
	Channels  []string  `json:"channels"`
	Noise     float64   `json:"noise"`
	SubjectSD float64   `json:"subject_sd"`
	// SubjectInvariant draws noise per (item, time) so every subject records
	// identical data; leave-one-subject-out fits then match the full fit
	SubjectInvariant bool  `json:"subject_invariant"`
	Seed             int64 `json:"seed"`
}

// DefaultEEGConfig returns a small grid: 4 subjects x 8 items, 5 time stamps, 3 channels
func DefaultEEGConfig() EEGGeneratorConfig {
	return EEGGeneratorConfig{
		Subjects:  4,
		Items:     8,
		Times:     []float64{-100, 0, 100, 200, 300},
		Channels:  []string{"MiPf", "MiCe", "MiOc"},
		Noise:     0.5,
		SubjectSD: 1,
		Seed:      42,
	}
}

// EEGGenerator produces epoched frames with a cloze effect on every channel
// inside the 100..300 window
type EEGGenerator struct {
	config EEGGeneratorConfig
	rng    *rand.Rand
}

// NewEEGGenerator creates a generator; equal seeds yield identical frames
func NewEEGGenerator(config EEGGeneratorConfig) *EEGGenerator {
	return &EEGGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Columns returns the frame header
func (g *EEGGenerator) Columns() []string {
	return append([]string{ColEpochID, ColTime, ColSubject, ColItem, ColCloze, ColCondition}, g.config.Channels...)
}

// ClozeEffect is the true slope of the cloze predictor for a channel index at time t
func ClozeEffect(channel int, t float64) float64 {
	if t < 100 || t > 300 {
		return 0
	}
	return -2.0 * float64(channel+1)
}

// GenerateFrame builds one row per (subject, item, time)
func (g *EEGGenerator) GenerateFrame() (*epochs.Frame, error) {
	cfg := g.config
	if cfg.Subjects < 1 || cfg.Items < 2 || len(cfg.Times) == 0 || len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("generator needs subjects, at least two items, times and channels")
	}

	cloze := make([]float64, cfg.Items)
	for i := range cloze {
		cloze[i] = float64(i) / float64(cfg.Items-1)
	}
	offsets := make([]float64, cfg.Subjects)
	if !cfg.SubjectInvariant {
		for s := range offsets {
			offsets[s] = g.rng.NormFloat64() * cfg.SubjectSD
		}
	}
	itemNoise := make(map[[3]int]float64)
	if cfg.SubjectInvariant {
		for i := 0; i < cfg.Items; i++ {
			for ti := range cfg.Times {
				for ci := range cfg.Channels {
					itemNoise[[3]int{i, ti, ci}] = g.rng.NormFloat64() * cfg.Noise
				}
			}
		}
	}

	var rows [][]string
	for s := 0; s < cfg.Subjects; s++ {
		for i := 0; i < cfg.Items; i++ {
			condition := "A"
			if i%2 == 1 {
				condition = "B"
			}
			for ti, t := range cfg.Times {
				row := []string{
					fmt.Sprintf("s%02d_i%02d", s+1, i+1),
					formatFloat(t),
					fmt.Sprintf("s%02d", s+1),
					fmt.Sprintf("i%02d", i+1),
					formatFloat(cloze[i]),
					condition,
				}
				for ci := range cfg.Channels {
					v := 1.5 + ClozeEffect(ci, t)*cloze[i] + offsets[s]
					if cfg.SubjectInvariant {
						v += itemNoise[[3]int{i, ti, ci}]
					} else {
						v += g.rng.NormFloat64() * cfg.Noise
					}
					row = append(row, formatFloat(math.Round(v*1e6)/1e6))
				}
				rows = append(rows, row)
			}
		}
	}
	return epochs.NewFrame(g.Columns(), rows)
}

// GenerateEpochs builds the frame and the epochs view over it
func (g *EEGGenerator) GenerateEpochs() (*epochs.Epochs, error) {
	frame, err := g.GenerateFrame()
	if err != nil {
		return nil, err
	}
	return epochs.FromFrame(frame, ColTime, ColEpochID, g.config.Channels)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
