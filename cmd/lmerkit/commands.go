package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lmerkit/adapters/excel"
	"lmerkit/adapters/figure"
	"lmerkit/adapters/fit/ols"
	"lmerkit/adapters/report"
	"lmerkit/app"
	"lmerkit/domain/fdr"
	"lmerkit/domain/lmer"
	"lmerkit/internal/testkit"

	"github.com/spf13/cobra"
)

func parseOptionalTarget(s string) (*lmer.Target, error) {
	if s == "" {
		return nil, nil
	}
	t, err := lmer.ParseTarget(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newFitCmd(e *env) *cobra.Command {
	var (
		data    dataFlags
		rhs     []string
		saveAs  string
		backend string
		noPar   bool
		nCores  int
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit every RHS formula at each time and channel and stack the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ep, err := data.load(ctx, excel.NewDataReader())
			if err != nil {
				return err
			}
			target, err := parseOptionalTarget(saveAs)
			if err != nil {
				return err
			}
			fitter, err := e.fitter(backend)
			if err != nil {
				return err
			}

			svc := app.NewAggregatorService(fitter, e.router, e.logger)
			res, err := svc.FitLMERs(ctx, app.FitRequest{
				Epochs:   ep,
				LHS:      data.channels,
				RHS:      rhs,
				Parallel: e.cfg.Fit.Parallel && !noPar,
				NCores:   max(nCores, 1),
				SaveAs:   target,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %d rows over %d times in %dms\n",
				res.RunID, len(res.Table.Rows), len(res.Table.Times()), res.RuntimeMs)
			for _, w := range res.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			return nil
		},
	}
	data.register(cmd)
	cmd.Flags().StringArrayVar(&rhs, "rhs", nil, "right-hand side formula, repeatable")
	cmd.Flags().StringVar(&saveAs, "save-as", "", "path:group to store the table (.xlsx, .db, .sqlite, postgres DSN)")
	cmd.Flags().StringVar(&backend, "backend", "", "ols or rscript (default LMER_BACKEND)")
	cmd.Flags().BoolVar(&noPar, "sequential", false, "fit cells one at a time")
	cmd.Flags().IntVar(&nCores, "n-cores", 0, "concurrent fits (default LMER_N_CORES)")
	_ = cmd.MarkFlagRequired("rhs")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if nCores == 0 {
			nCores = e.cfg.Fit.NCores
		}
	}
	return cmd
}

func newAICsCmd(e *env) *cobra.Command {
	var from, out, refParam string
	var plots bool
	cmd := &cobra.Command{
		Use:   "aics",
		Short: "Compare the models of a stored table by AIC min delta",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := lmer.ParseTarget(from)
			if err != nil {
				return err
			}
			table, err := e.router.Load(ctx, src)
			if err != nil {
				return err
			}
			aics, err := app.LMERAICs(table, refParam)
			if err != nil {
				return err
			}
			for _, m := range report.BestModels(aics) {
				fmt.Printf("%-8s best %-40q mean delta %.3f (%d/%d warned)\n", m.Channel, m.Model, m.MeanDelta, m.Warnings, m.Cells)
			}
			if out != "" {
				dst, err := lmer.ParseTarget(out)
				if err != nil {
					return err
				}
				if err := e.books.SaveAICs(ctx, dst, aics); err != nil {
					return err
				}
			}
			if plots {
				r := figure.NewRenderer(e.cfg.Output.Dir, e.logger)
				if _, err := r.PlotAICs(aics); err != nil {
					return err
				}
				if _, err := r.WriteHTML("aics.html", aics, nil); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "path:group of a stored coefficient table")
	cmd.Flags().StringVar(&out, "out", "", "workbook path:sheet for the AIC table")
	cmd.Flags().StringVar(&refParam, "ref-param", "", "param whose AIC rows are read (default intercept)")
	cmd.Flags().BoolVar(&plots, "plot", true, "write figures to OUTPUT_DIR")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newRERPsCmd(e *env) *cobra.Command {
	var from, method string
	var channels []string
	var alpha float64
	cmd := &cobra.Command{
		Use:   "rerps",
		Short: "Plot coefficient time series with FDR-controlled significance",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fdr.ParseMethod(method)
			if err != nil {
				return err
			}
			src, err := lmer.ParseTarget(from)
			if err != nil {
				return err
			}
			table, err := e.router.Load(cmd.Context(), src)
			if err != nil {
				return err
			}
			series, err := app.RERPs(table, channels, alpha, m)
			if err != nil {
				return err
			}
			for _, s := range series {
				fmt.Printf("%s: %d/%d significant, crit p %.3g\n",
					figure.RERPTitle(s), s.FDR.NumSignificant(), len(s.Points), s.FDR.CriticalP)
			}
			r := figure.NewRenderer(e.cfg.Output.Dir, e.logger)
			if _, err := r.PlotRERPs(series); err != nil {
				return err
			}
			_, err = r.WriteHTML("rerps.html", nil, series)
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "path:group of a stored coefficient table")
	cmd.Flags().StringSliceVar(&channels, "lhs", nil, "channels to plot (default all)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "FDR alpha (default FDR_ALPHA)")
	cmd.Flags().StringVar(&method, "fdr", "", "BH or BY (default FDR_METHOD)")
	_ = cmd.MarkFlagRequired("from")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if alpha == 0 {
			alpha = e.cfg.FDR.Alpha
		}
		if method == "" {
			method = e.cfg.FDR.Method
		}
	}
	return cmd
}

func newDFBetasCmd(e *env) *cobra.Command {
	var (
		data    dataFlags
		factor  string
		rhs     string
		out     string
		backend string
		cutoff  float64
	)
	cmd := &cobra.Command{
		Use:   "dfbetas",
		Short: "Leave each level of a factor out and measure how far the estimates move",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ep, err := data.load(ctx, excel.NewDataReader())
			if err != nil {
				return err
			}
			fitter, err := e.fitter(backend)
			if err != nil {
				return err
			}
			svc := app.NewInfluenceService(fitter, e.logger)
			table, err := svc.DFBetas(ctx, app.DFBetasRequest{
				Epochs:   ep,
				Factor:   factor,
				LHS:      data.channels,
				RHS:      rhs,
				Parallel: e.cfg.Fit.Parallel,
				NCores:   e.cfg.Fit.NCores,
			})
			if err != nil {
				return err
			}
			for _, l := range app.Influential(table, cutoff) {
				fmt.Printf("%s=%s %s on %s: max |DFBETAS| %.3f at %d times\n",
					factor, l.Level, l.Param, l.Channel, l.MaxAbs, l.Exceeds)
			}
			if out != "" {
				dst, err := lmer.ParseTarget(out)
				if err != nil {
					return err
				}
				return e.books.SaveDFBetas(ctx, dst, table)
			}
			return nil
		},
	}
	data.register(cmd)
	cmd.Flags().StringVar(&factor, "factor", "sub_id", "grouping column whose levels are left out")
	cmd.Flags().StringVar(&rhs, "rhs", "", "right-hand side formula")
	cmd.Flags().StringVar(&out, "out", "", "workbook path:sheet for the DFBETAS table")
	cmd.Flags().StringVar(&backend, "backend", "", "ols or rscript (default LMER_BACKEND)")
	cmd.Flags().Float64Var(&cutoff, "cutoff", 0, "influence cut-off (default 2/sqrt(levels))")
	_ = cmd.MarkFlagRequired("rhs")
	return cmd
}

func newFDRCmd(e *env) *cobra.Command {
	var method string
	var alpha float64
	cmd := &cobra.Command{
		Use:   "fdr p1 [p2 ...]",
		Short: "Critical p-value and significance flags for one series of p-values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fdr.ParseMethod(method)
			if err != nil {
				return err
			}
			pvals := make([]float64, len(args))
			for i, a := range args {
				if pvals[i], err = strconv.ParseFloat(a, 64); err != nil {
					return fmt.Errorf("p-value %q: %w", a, err)
				}
			}
			res, err := fdr.Apply(pvals, alpha, m)
			if err != nil {
				return err
			}
			fmt.Printf("%s alpha=%g critical p=%g\n", res.Method, res.Alpha, res.CriticalP)
			for i, p := range pvals {
				fmt.Printf("%g\t%v\n", p, res.Flags[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "fdr", "", "BH or BY (default FDR_METHOD)")
	cmd.Flags().Float64Var(&alpha, "alpha", 0, "FDR alpha (default FDR_ALPHA)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if alpha == 0 {
			alpha = e.cfg.FDR.Alpha
		}
		if method == "" {
			method = e.cfg.FDR.Method
		}
	}
	return cmd
}

// newDemoCmd runs the whole pipeline on synthetic epochs with the OLS backend
func newDemoCmd(e *env) *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run fit, AIC, rERP and DFBETAS on generated data and write figures and a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := testkit.DefaultEEGConfig()
			cfg.Seed = seed
			ep, err := testkit.NewEEGGenerator(cfg).GenerateEpochs()
			if err != nil {
				return err
			}

			dir := e.cfg.Output.Dir
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output dir: %w", err)
			}
			fitter := ols.New(e.logger)
			models := []string{"1", testkit.ColCloze, testkit.ColCloze + " + " + testkit.ColCondition}
			workbook := lmer.Target{Path: filepath.Join(dir, "demo.xlsx"), Group: "lmer"}

			agg := app.NewAggregatorService(fitter, e.router, e.logger)
			res, err := agg.FitLMERs(ctx, app.FitRequest{
				Epochs:   ep,
				LHS:      cfg.Channels,
				RHS:      models,
				Parallel: e.cfg.Fit.Parallel,
				NCores:   e.cfg.Fit.NCores,
				SaveAs:   &workbook,
			})
			if err != nil {
				return err
			}

			aics, err := app.LMERAICs(res.Table, "")
			if err != nil {
				return err
			}
			if err := e.books.SaveAICs(ctx, lmer.Target{Path: workbook.Path, Group: "aics"}, aics); err != nil {
				return err
			}
			method, err := fdr.ParseMethod(e.cfg.FDR.Method)
			if err != nil {
				return err
			}
			series, err := app.RERPs(res.Table, nil, e.cfg.FDR.Alpha, method)
			if err != nil {
				return err
			}

			infl := app.NewInfluenceService(fitter, e.logger)
			dfb, err := infl.DFBetas(ctx, app.DFBetasRequest{
				Epochs: ep, Factor: testkit.ColSubject, LHS: cfg.Channels, RHS: testkit.ColCloze,
				Parallel: e.cfg.Fit.Parallel, NCores: e.cfg.Fit.NCores,
			})
			if err != nil {
				return err
			}
			if err := e.books.SaveDFBetas(ctx, lmer.Target{Path: workbook.Path, Group: "dfbetas"}, dfb); err != nil {
				return err
			}

			r := figure.NewRenderer(dir, e.logger)
			if _, err := r.PlotAICs(aics); err != nil {
				return err
			}
			if _, err := r.PlotRERPs(series); err != nil {
				return err
			}
			if _, err := r.WriteHTML("lmer.html", aics, series); err != nil {
				return err
			}
			_, htmlPath, err := report.Write(dir, report.Summary{
				Title:     "lmerkit demo",
				RunID:     res.RunID,
				CreatedAt: time.Now().UTC(),
				Models:    models,
				Channels:  cfg.Channels,
				AICs:      aics,
				RERPs:     series,
				DFBetas:   dfb,
				Warnings:  res.Warnings,
			})
			if err != nil {
				return err
			}
			fmt.Printf("run %s written to %s (report %s)\n", res.RunID, dir, htmlPath)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 42, "generator seed")
	return cmd
}
