package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lmerkit/adapters/excel"
	"lmerkit/adapters/fit/ols"
	"lmerkit/adapters/fit/rscript"
	"lmerkit/adapters/sqlstore"
	"lmerkit/app"
	"lmerkit/domain/epochs"
	"lmerkit/internal"
	"lmerkit/internal/config"
	"lmerkit/ports"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// env carries what every subcommand needs once configuration is loaded
type env struct {
	cfg    *config.Config
	logger *internal.Logger
	router *app.SinkRouter
	books  *excel.WorkbookStore
}

// data flags shared by the commands that read epochs
type dataFlags struct {
	path     string
	timeCol  string
	epochCol string
	channels []string
}

func (d *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.path, "data", "", "epochs table (.csv, .xlsx)")
	cmd.Flags().StringVar(&d.timeCol, "time", "time", "time column")
	cmd.Flags().StringVar(&d.epochCol, "epoch-id", "epoch_id", "epoch id column")
	cmd.Flags().StringSliceVar(&d.channels, "lhs", nil, "response channels, comma separated")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("lhs")
}

func (d *dataFlags) load(ctx context.Context, reader ports.FrameReader) (*epochs.Epochs, error) {
	frame, err := reader.ReadFrame(ctx, d.path)
	if err != nil {
		return nil, err
	}
	return epochs.FromFrame(frame, d.timeCol, d.epochCol, d.channels)
}

func main() {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:           "lmerkit",
		Short:         "Fit and compare mixed-effects models over a time x channel EEG grid",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
	}

	rootCmd.AddCommand(
		newFitCmd(e),
		newAICsCmd(e),
		newRERPsCmd(e),
		newDFBetasCmd(e),
		newFDRCmd(e),
		newDemoCmd(e),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) init() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	e.books = excel.NewWorkbookStore()
	e.router = app.NewSinkRouter(e.books, sqlstore.NewStore(e.logger))
	return nil
}

// fitter builds the configured backend; backend overrides LMER_BACKEND when set
func (e *env) fitter(backend string) (ports.GridFitter, error) {
	switch strings.ToLower(backend) {
	case "":
		return e.fitter(e.cfg.Fit.Backend)
	case config.BackendOLS:
		return ols.New(e.logger), nil
	case config.BackendRscript:
		return rscript.New(e.cfg.Fit.RscriptPath, e.logger), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want ols or rscript)", backend)
}
