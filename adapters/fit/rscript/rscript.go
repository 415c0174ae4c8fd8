// Package rscript fits mixed-effects grids by running lme4/lmerTest through an
// external Rscript process.
package rscript

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lmerkit/domain/epochs"
	"lmerkit/domain/formula"
	"lmerkit/domain/lmer"
	"lmerkit/internal"
	"lmerkit/internal/errors"
	"lmerkit/ports"
)

//go:embed fit_grid.R
var fitGridScript []byte

// Fitter implements ports.GridFitter by shelling out to Rscript
type Fitter struct {
	rscript string
	logger  *internal.Logger

	// REML selects restricted maximum likelihood for lmer fits (lme4's default)
	REML bool
}

var _ ports.GridFitter = (*Fitter)(nil)

// New creates a fitter that runs the given Rscript binary
func New(rscript string, logger *internal.Logger) *Fitter {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	if rscript == "" {
		rscript = "Rscript"
	}
	return &Fitter{rscript: rscript, logger: logger.With("RscriptFitter"), REML: true}
}

type fitRequest struct {
	LHS      []string `json:"lhs"`
	RHS      string   `json:"rhs"`
	Time     string   `json:"time"`
	Parallel bool     `json:"parallel"`
	NCores   int      `json:"n_cores"`
	REML     bool     `json:"reml"`
}

// Fit writes the epochs to a scratch directory, runs the embedded script and
// decodes its result
func (f *Fitter) Fit(ctx context.Context, ep *epochs.Epochs, spec ports.FitSpec) (*lmer.GridFit, error) {
	if _, err := formula.Parse(spec.RHS); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	bin, err := exec.LookPath(f.rscript)
	if err != nil {
		return nil, errors.ExternalServiceError("Rscript", err)
	}

	dir, err := os.MkdirTemp("", "lmerkit-rscript-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scratch directory")
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, "fit_grid.R")
	dataPath := filepath.Join(dir, "data.csv")
	reqPath := filepath.Join(dir, "request.json")
	outPath := filepath.Join(dir, "result.json")

	if err := os.WriteFile(scriptPath, fitGridScript, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write R script")
	}
	if err := writeCSV(dataPath, ep.Frame); err != nil {
		return nil, errors.Wrap(err, "failed to write epochs")
	}
	req, err := json.Marshal(fitRequest{
		LHS:      spec.LHS,
		RHS:      spec.RHS,
		Time:     ep.Time,
		Parallel: spec.Parallel,
		NCores:   max(spec.NCores, 1),
		REML:     f.REML,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode fit request")
	}
	if err := os.WriteFile(reqPath, req, 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to write fit request")
	}

	cmd := exec.CommandContext(ctx, bin, scriptPath, dataPath, reqPath, outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	f.logger.Debug("running %s for ~ %s (%d channels, parallel=%v, n_cores=%d)",
		bin, spec.RHS, len(spec.LHS), spec.Parallel, spec.NCores)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ExternalServiceError("Rscript", fmt.Errorf("%w: %s", err, tail(stderr.String(), 2000)))
	}
	f.logger.Debug("Rscript finished in %s", time.Since(start).Round(time.Millisecond))

	out, err := os.Open(outPath)
	if err != nil {
		return nil, errors.ExternalServiceError("Rscript", err)
	}
	defer out.Close()

	grid, err := decodeResult(out, spec, ep.Times())
	if err != nil {
		return nil, errors.ExternalServiceError("Rscript", err)
	}
	return grid, nil
}

func writeCSV(path string, frame *epochs.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(frame.Columns); err != nil {
		return err
	}
	if err := w.WriteAll(frame.Rows); err != nil {
		return err
	}
	return file.Sync()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
