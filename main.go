package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ansel1/tally/config"
	"github.com/ansel1/tally/coordinator"
	"github.com/ansel1/tally/engine"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/logging"
	"github.com/ansel1/tally/metrics"
	"github.com/ansel1/tally/output"
	"github.com/ansel1/tally/output/format"
	"github.com/ansel1/tally/progress"
	"github.com/ansel1/tally/report"
	"github.com/ansel1/tally/results"
	"github.com/ansel1/tally/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var Version = "v0.1.0"

// Exit codes. Failed tests only change the exit code with --fail-exit; the
// failure marker file is the usual signal to the build.
const (
	exitTestsFailed  = 1
	exitSkipsOnly    = 1
	exitRuntimeError = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		os.Exit(exitRuntimeError)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tally"
	app.Version = Version
	app.Usage = "Aggregate and report go test -json output"
	app.Description = "tally reads go test -json from stdin, shows live progress, and writes a " +
		"results report, a console summary and a test failure marker for the build."
	app.Flags = Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "Error: %v\n", err)
			cli.HandleExitCoder(cli.Exit("", exitRuntimeError))
		}
	}
	return app
}

// loadConfig reads the config file and applies the flags that were set on
// top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(ConfigFile.Name))
	if err != nil {
		return nil, err
	}

	if c.IsSet(Progress.Name) {
		cfg.Progress = c.String(Progress.Name)
	}
	if c.IsSet(OutputDir.Name) {
		cfg.OutputDir = c.String(OutputDir.Name)
	}
	if c.IsSet(Namespace.Name) {
		cfg.Namespace = c.String(Namespace.Name)
	}
	if c.IsSet(PauseOnFailure.Name) {
		cfg.PauseOnFailure = c.Bool(PauseOnFailure.Name)
	}
	if c.IsSet(PollInterval.Name) {
		cfg.PollInterval = c.Duration(PollInterval.Name)
	}
	if c.IsSet(MetricsFile.Name) {
		cfg.MetricsFile = c.String(MetricsFile.Name)
	}
	if c.IsSet(LogLevel.Name) {
		cfg.LogLevel = c.String(LogLevel.Name)
	}
	if c.IsSet(FailExit.Name) {
		cfg.FailExit = c.Bool(FailExit.Name)
	}
	if c.IsSet(Rate.Name) {
		cfg.ReplayRate = c.Float64(Rate.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func run(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	stdout, stderr := c.App.Writer, c.App.ErrWriter

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}

	infile := c.String(InputFile.Name)
	replay := c.Bool(Replay.Name)
	if replay && infile == "" {
		return errors.New("-replay requires -f <filename>")
	}

	// Setup input source (file or stdin)
	input := c.App.Reader
	if infile != "" {
		f, err := os.Open(infile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		input = f

		if replay {
			replayReader, err := engine.NewReplayReader(f, cfg.ReplayRate)
			if err != nil {
				return fmt.Errorf("failed to create replay reader: %w", err)
			}
			input = replayReader
		}
	}

	var engineOpts []engine.Option
	if path := c.String(Outfile.Name); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		engineOpts = append(engineOpts, engine.WithRawOutput(f))
	}
	if path := c.String(JSONFile.Name); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create JSON file: %w", err)
		}
		defer f.Close()
		engineOpts = append(engineOpts, engine.WithJSONOutput(f))
	}

	// Reading a file without replay finishes too quickly for a live view.
	useTUI := !c.Bool(NoTTY.Name) && (infile == "" || replay) && isTerminal(stdout)

	runID := uuid.New().String()
	recorder := metrics.NewRecorder(runID)

	var program *tea.Program
	var lines *tui.LineWriter
	var model *tui.Model
	console := stderr
	styles := format.NewStyles(stderr)
	if useTUI {
		styles = format.NewStyles(stdout)
		modelOpts := []tui.ModelOption{tui.WithStyles(styles)}
		if replay {
			modelOpts = append(modelOpts, tui.WithReplay(cfg.ReplayRate))
		}
		model = tui.NewModel(modelOpts...)
		program = tea.NewProgram(model, tea.WithOutput(stdout))
		lines = tui.NewLineWriter(program, stderr)
		console = lines
	}

	var pauser coordinator.Pauser
	if cfg.PauseOnFailure {
		pauser = &coordinator.WatchdogPauser{
			Console:      console,
			Logger:       logger,
			PollInterval: cfg.PollInterval,
		}
	}

	coord := coordinator.New(coordinator.Config{
		RunID:          runID,
		OutputDir:      cfg.OutputDir,
		Namespace:      cfg.Namespace,
		Progress:       cfg.ProgressConfig(),
		Console:        console,
		Styles:         styles,
		Logger:         logger,
		Metrics:        recorder,
		Pauser:         pauser,
		SamplerOptions: []progress.Option{progress.WithObserver(recorder)},
	})

	collector := results.NewCollector(coord, results.WithLogger(logger))
	events := collector.Subscribe()
	stream := engine.NewEngine(engineOpts...).Stream(ctx, input)

	var g errgroup.Group
	g.Go(func() error {
		return collector.ProcessEvents(ctx, stream)
	})

	if useTUI {
		g.Go(func() error {
			for evt := range events {
				program.Send(tui.ResultsEventMsg(evt))
			}
			program.Quit()
			return nil
		})
		g.Go(func() error {
			_, err := program.Run()
			if detachErr := lines.Detach(); detachErr != nil {
				logger.WithError(detachErr).Warn("Failed to flush console output")
			}
			if model.Interrupted {
				cancel()
			}
			if err != nil {
				return fmt.Errorf("failed to run live view: %w", err)
			}
			return nil
		})
	} else {
		simple := output.NewSimpleOutput(stdout)
		g.Go(func() error {
			return simple.ProcessEvents(events)
		})
	}

	// A collector error is the coordinator's abort error, which Finish
	// returns again below.
	if err := g.Wait(); err != nil && !errors.Is(err, coordinator.ErrNonConformantClass) {
		logger.WithError(err).Error("Failed to process test events")
	}

	finishErr := coord.Finish()

	if cfg.MetricsFile != "" {
		if err := recorder.WriteFile(cfg.MetricsFile); err != nil {
			logger.WithError(err).Error("Failed to write metrics")
		}
	}

	return exitStatus(coord, cfg, finishErr, logger)
}

// exitStatus maps the outcome of a run onto the process exit code.
func exitStatus(coord *coordinator.Coordinator, cfg *config.Config, finishErr error, logger logrus.FieldLogger) error {
	switch {
	case errors.Is(finishErr, coordinator.ErrNonConformantClass):
		return cli.Exit(finishErr.Error(), exitRuntimeError)
	case errors.Is(finishErr, report.ErrSkippedWithoutFailures):
		return cli.Exit("", exitSkipsOnly)
	case finishErr != nil:
		logger.WithError(finishErr).Error("Failed to finish test run")
		return cli.Exit("", exitRuntimeError)
	}

	if cfg.FailExit && (coord.Ledger().CountByOutcome(ledger.OutcomeFailure) > 0 || coord.ConfigurationFailures() > 0) {
		return cli.Exit("", exitTestsFailed)
	}
	return nil
}
