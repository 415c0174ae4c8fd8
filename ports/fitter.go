package ports

import (
	"context"

	"lmerkit/domain/epochs"
	"lmerkit/domain/lmer"
)

// GridFitter fits one model per (time, channel) cell of an epochs view
type GridFitter interface {
	// Fit returns per-cell coefficients, AIC and warning flags for one RHS
	Fit(ctx context.Context, ep *epochs.Epochs, spec FitSpec) (*lmer.GridFit, error)
}

// FitSpec is the model specification forwarded to a GridFitter
type FitSpec struct {
	LHS      []string // response channels
	RHS      string   // right-hand side formula
	Parallel bool     // let the backend fit cells concurrently
	NCores   int      // upper bound on concurrent fits
}
