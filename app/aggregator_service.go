package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"lmerkit/domain/core"
	"lmerkit/domain/epochs"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"
	"lmerkit/ports"
)

// AggregatorService fits a batch of formulas over the same grid and stacks the
// results into one long coefficient table
type AggregatorService struct {
	fitter ports.GridFitter
	sink   ports.TableSink
	logger *internal.Logger

	// OnWarning receives non-fatal advisories such as a failed save
	OnWarning func(msg string)
}

// FitRequest defines the inputs for FitLMERs
type FitRequest struct {
	Epochs   *epochs.Epochs
	LHS      []string
	RHS      []string
	Parallel bool
	NCores   int
	SaveAs   *lmer.Target // optional; nil skips persistence
	RunID    core.RunID   // optional, will be generated if empty
}

// FitResult contains the aggregated table and any advisories raised on the way
type FitResult struct {
	RunID     core.RunID
	Table     *lmer.CoefTable
	Warnings  []string
	RuntimeMs int64
}

// NewAggregatorService creates an aggregator; sink may be nil when nothing is saved
func NewAggregatorService(fitter ports.GridFitter, sink ports.TableSink, logger *internal.Logger) *AggregatorService {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &AggregatorService{
		fitter: fitter,
		sink:   sink,
		logger: logger.With("Aggregator"),
	}
}

// FitLMERs fits every RHS against the LHS channels. AIC and has_warning are
// fit-level, so they are replicated onto every parameter of their formula;
// rows are sorted by (time, model, param, key). A failed save is reported as
// a warning and never discards the table.
func (s *AggregatorService) FitLMERs(ctx context.Context, req FitRequest) (*FitResult, error) {
	startTime := time.Now()
	if err := validateFitRequest(req); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}
	s.logger.Info("run %s: fitting %d formulas over %d channels", runID, len(req.RHS), len(req.LHS))

	var rows []lmer.Row
	for i, rhs := range req.RHS {
		s.logger.Info("run %s: [%d/%d] %s", runID, i+1, len(req.RHS), rhs)
		grid, err := s.fitter.Fit(ctx, req.Epochs, ports.FitSpec{
			LHS:      req.LHS,
			RHS:      rhs,
			Parallel: req.Parallel,
			NCores:   req.NCores,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fitting %q failed", rhs)
		}
		formulaRows, err := stackGridFit(rhs, req.LHS, grid)
		if err != nil {
			return nil, errors.WithCode(errors.CodeStructuralMismatch, err)
		}
		if len(grid.Warnings) > 0 {
			s.logger.Debug("run %s: %s produced %d fit warnings", runID, rhs, len(grid.Warnings))
		}
		rows = append(rows, formulaRows...)
	}

	table := lmer.NewCoefTable(req.LHS)
	if err := table.Append(rows...); err != nil {
		return nil, errors.WithCode(errors.CodeInternalError, err)
	}
	table.Sort()

	result := &FitResult{RunID: runID, Table: table}
	if req.SaveAs != nil {
		if err := s.save(ctx, runID, *req.SaveAs, table); err != nil {
			s.warn(result, fmt.Sprintf("save_as=%s failed: %v; the returned table was not persisted", req.SaveAs, err))
		}
	}

	result.RuntimeMs = time.Since(startTime).Milliseconds()
	s.logger.Info("run %s: %d rows in %dms", runID, len(table.Rows), result.RuntimeMs)
	return result, nil
}

func (s *AggregatorService) save(ctx context.Context, runID core.RunID, target lmer.Target, table *lmer.CoefTable) error {
	if s.sink == nil {
		return fmt.Errorf("no table sink configured")
	}
	if err := target.Validate(); err != nil {
		return err
	}
	return s.sink.Save(core.ContextWithRunID(ctx, runID), target, table)
}

func (s *AggregatorService) warn(result *FitResult, msg string) {
	s.logger.Warn("%s", msg)
	result.Warnings = append(result.Warnings, msg)
	if s.OnWarning != nil {
		s.OnWarning(msg)
	}
}

// stackGridFit tags one formula's rows with the model and replicates the fit
// attributes onto each of its parameters
func stackGridFit(rhs string, lhs []string, grid *lmer.GridFit) ([]lmer.Row, error) {
	if grid == nil {
		return nil, fmt.Errorf("fitter returned no result for %q", rhs)
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if !slices.Equal(grid.Channels, lhs) {
		return nil, fmt.Errorf("fitter returned channels %v for %q, want %v", grid.Channels, rhs, lhs)
	}

	params := grid.Params()
	rows := make([]lmer.Row, 0, len(grid.Coefs)+2*len(params)*len(grid.AIC))
	for _, c := range grid.Coefs {
		rows = append(rows, lmer.Row{Time: c.Time, Model: rhs, Param: c.Param, Key: c.Key, Values: c.Values})
	}
	for _, param := range params {
		for i := range grid.AIC {
			rows = append(rows,
				lmer.Row{Time: grid.AIC[i].Time, Model: rhs, Param: param, Key: lmer.KeyAIC, Values: slices.Clone(grid.AIC[i].Values)},
				lmer.Row{Time: grid.HasWarning[i].Time, Model: rhs, Param: param, Key: lmer.KeyHasWarning, Values: slices.Clone(grid.HasWarning[i].Values)},
			)
		}
	}
	return rows, nil
}

// validateFitRequest fails fast, before any fitting work
func validateFitRequest(req FitRequest) error {
	if req.Epochs == nil {
		return errors.InvalidInput("epochs are required")
	}
	if len(req.LHS) == 0 {
		return errors.InvalidInput("LHS must name at least one channel")
	}
	seen := make(map[string]bool, len(req.LHS))
	for _, ch := range req.LHS {
		if strings.TrimSpace(ch) == "" {
			return errors.InvalidInput("LHS contains a blank channel name")
		}
		if seen[ch] {
			return errors.InvalidInputf("LHS lists channel %q twice", ch)
		}
		seen[ch] = true
		if !req.Epochs.Frame.Has(ch) {
			return errors.InvalidInputf("LHS channel %q is not in the epochs", ch)
		}
	}
	if len(req.RHS) == 0 {
		return errors.InvalidInput("at least one RHS formula is required")
	}
	models := make(map[string]bool, len(req.RHS))
	for _, rhs := range req.RHS {
		if strings.TrimSpace(rhs) == "" {
			return errors.InvalidInput("RHS contains a blank formula")
		}
		if models[rhs] {
			return errors.InvalidInputf("RHS lists %q twice", rhs)
		}
		models[rhs] = true
	}
	if req.NCores < 1 {
		return errors.InvalidInputf("n_cores must be at least 1, got %d", req.NCores)
	}
	return nil
}
