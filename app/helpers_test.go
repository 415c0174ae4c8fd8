package app

import (
	"context"

	"lmerkit/domain/epochs"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/ports"

	"github.com/stretchr/testify/mock"
)

// Mock implementations for testing
type MockGridFitter struct {
	mock.Mock
}

func (m *MockGridFitter) Fit(ctx context.Context, ep *epochs.Epochs, spec ports.FitSpec) (*lmer.GridFit, error) {
	args := m.Called(ctx, ep, spec)
	grid, _ := args.Get(0).(*lmer.GridFit)
	return grid, args.Error(1)
}

type MockTableStore struct {
	mock.Mock
}

func (m *MockTableStore) Save(ctx context.Context, target lmer.Target, table *lmer.CoefTable) error {
	args := m.Called(ctx, target, table)
	return args.Error(0)
}

func (m *MockTableStore) Load(ctx context.Context, target lmer.Target) (*lmer.CoefTable, error) {
	args := m.Called(ctx, target)
	table, _ := args.Get(0).(*lmer.CoefTable)
	return table, args.Error(1)
}

func quietLogger() *internal.Logger { return internal.NewLogger(internal.LogLevelError) }

// syntheticGrid builds a grid fit where every statistic is derived from
// (time, param index, channel index) and AIC is aic(time, channel)
func syntheticGrid(rhs string, channels []string, times []float64, params []string, aic func(t float64, ci int) float64) *lmer.GridFit {
	g := &lmer.GridFit{Formula: rhs, Channels: channels}
	for _, t := range times {
		for pi, p := range params {
			for _, key := range lmer.CoefKeys {
				values := make([]float64, len(channels))
				for ci := range channels {
					switch key {
					case lmer.KeyPValue:
						values[ci] = 0.5
					case lmer.KeySE:
						values[ci] = 1
					default:
						values[ci] = t + float64(pi) + float64(ci)/10
					}
				}
				g.Coefs = append(g.Coefs, lmer.CoefRow{Time: t, Param: p, Key: key, Values: values})
			}
		}
		a := make([]float64, len(channels))
		w := make([]float64, len(channels))
		for ci := range channels {
			a[ci] = aic(t, ci)
		}
		g.AIC = append(g.AIC, lmer.TimeRow{Time: t, Values: a})
		g.HasWarning = append(g.HasWarning, lmer.TimeRow{Time: t, Values: w})
	}
	return g
}
