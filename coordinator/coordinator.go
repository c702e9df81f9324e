// Package coordinator receives test lifecycle events, feeds them to the
// ledger and the interleave detector, and renders the reports when the run
// finishes.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ansel1/tally/interleave"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/output/format"
	"github.com/ansel1/tally/progress"
	"github.com/ansel1/tally/report"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ErrNonConformantClass aborts the run when a test class doesn't follow the
// conventions the aggregation relies on.
var ErrNonConformantClass = errors.New("test class does not follow the required test conventions")

// State is the lifecycle state of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
	StateTerminal
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	case StateTerminal:
		return "terminal"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StartEvent announces that a test invocation is about to run.
type StartEvent struct {
	Class   string
	Method  string
	Subject *interleave.Subject

	// Conformant reports whether the class follows the test conventions.
	Conformant bool

	// HasMetadata reports whether the method is marked as a test the way the
	// framework expects.
	HasMetadata bool
}

// Metrics receives the run's outcomes as they are recorded.
type Metrics interface {
	ObserveResult(r ledger.Record)
	ObserveConfigurationFailure(class string)
	ObserveInterleaved(n int)
}

// Pauser blocks after a test failure until the user lets the run continue.
type Pauser interface {
	Pause(ctx context.Context, fqMethod string) error
}

// Config configures a Coordinator.
type Config struct {
	RunID     string          // Generated if empty
	OutputDir string          // Where the report and the signal marker live
	Namespace string          // Function prefix of the code under test, for stack truncation
	Progress  progress.Config // Progress channels
	Console   io.Writer       // Progress lines, banners and the summary; stderr if nil
	Styles    format.Styles
	Logger    logrus.FieldLogger
	Metrics   Metrics // Optional
	Pauser    Pauser  // Optional; pauses after every test failure

	// Extra options for the sampler and the report generator.
	SamplerOptions []progress.Option
	ReportOptions  []report.Option
}

// Coordinator is the entry point for test lifecycle events. All methods are
// safe for concurrent use.
type Coordinator struct {
	mu       sync.Mutex
	state    State
	abortErr error

	runID     string
	ledger    *ledger.Ledger
	detector  *interleave.Detector
	sampler   *progress.Sampler
	failures  *report.FailureLog
	generator *report.Generator
	filter    report.StackFilter

	console io.Writer
	styles  format.Styles
	logger  logrus.FieldLogger
	metrics Metrics
	pauser  Pauser

	checkedClasses map[string]bool
	warnedMethods  map[string]bool
}

// New creates an idle coordinator.
func New(cfg Config) *Coordinator {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("run_id", runID)

	l := ledger.New()
	sampler := progress.NewSampler(cfg.Progress, l, append([]progress.Option{progress.WithWriter(console)}, cfg.SamplerOptions...)...)
	detector := interleave.NewDetector(sampler)
	failures := report.NewFailureLog()

	reportOpts := []report.Option{
		report.WithOutputDir(cfg.OutputDir),
		report.WithConsole(console),
		report.WithStyles(cfg.Styles),
		report.WithLogger(logger),
	}
	generator := report.NewGenerator(l, detector, sampler, failures, append(reportOpts, cfg.ReportOptions...)...)

	return &Coordinator{
		state:          StateIdle,
		runID:          runID,
		ledger:         l,
		detector:       detector,
		sampler:        sampler,
		failures:       failures,
		generator:      generator,
		filter:         report.StackFilter{Namespace: cfg.Namespace},
		console:        console,
		styles:         cfg.Styles,
		logger:         logger,
		metrics:        cfg.Metrics,
		pauser:         cfg.Pauser,
		checkedClasses: make(map[string]bool),
		warnedMethods:  make(map[string]bool),
	}
}

// RunID identifies this run in logs and metrics.
func (c *Coordinator) RunID() string { return c.runID }

// Ledger returns the ledger results are recorded in.
func (c *Coordinator) Ledger() *ledger.Ledger { return c.ledger }

// FailedMethods returns every failed test method in failure order.
// Configuration failures are not included.
func (c *Coordinator) FailedMethods() []string { return c.failures.Methods() }

// ConfigurationFailures returns the number of configuration failures reported.
func (c *Coordinator) ConfigurationFailures() int { return c.failures.Configurations() }

// Detector returns the interleave detector.
func (c *Coordinator) Detector() *interleave.Detector { return c.detector }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins recording. A report left over from an earlier run is removed.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Coordinator) startLocked() error {
	if c.state != StateIdle {
		return nil
	}
	c.state = StateRecording
	c.logger.WithField("progress", c.sampler.Config().Channels()).Debug("Test run started")
	if err := c.generator.RemoveStaleReport(); err != nil {
		c.logger.WithError(err).Warn("Could not remove the previous test report")
	}
	return nil
}

// accepting reports whether events may still be recorded. Idle coordinators
// start implicitly.
func (c *Coordinator) accepting() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		c.startLocked()
		return true, nil
	case StateRecording:
		return true, nil
	case StateAborted:
		return false, c.abortErr
	default:
		return false, nil
	}
}

// TestStarted validates the test's class and method once each and notifies
// the interleave detector.
func (c *Coordinator) TestStarted(evt StartEvent) error {
	ok, err := c.accepting()
	if !ok {
		return err
	}

	c.mu.Lock()
	if !c.checkedClasses[evt.Class] {
		c.checkedClasses[evt.Class] = true
		if !evt.Conformant {
			c.state = StateAborted
			c.abortErr = fmt.Errorf("%w: %s", ErrNonConformantClass, evt.Class)
			c.mu.Unlock()
			c.logger.WithField("class", evt.Class).Error("Test class does not follow the required test conventions, aborting the run")
			return c.abortErr
		}
	}
	fq := ledger.FQMethod(evt.Class, evt.Method)
	warn := !evt.HasMetadata && !c.warnedMethods[fq]
	if warn {
		c.warnedMethods[fq] = true
	}
	c.mu.Unlock()

	if warn {
		c.logger.WithField("method", fq).Warn("Test method is missing its test marker")
	}

	c.detector.Check(evt.Subject)
	return nil
}

// TestSucceeded records a passing invocation.
func (c *Coordinator) TestSucceeded(rec ledger.Record) error {
	return c.record(rec, ledger.OutcomeSuccess)
}

// TestSkipped records a skipped invocation.
func (c *Coordinator) TestSkipped(rec ledger.Record) error {
	return c.record(rec, ledger.OutcomeSkip)
}

// TestFailedWithinTolerance records an invocation that failed but stayed
// within its allowed failure percentage.
func (c *Coordinator) TestFailedWithinTolerance(rec ledger.Record) error {
	return c.record(rec, ledger.OutcomeSuccessWithinTolerance)
}

// TestFailed prints and keeps the failure narrative, optionally pauses until
// the user lets the run continue, then records the failure.
func (c *Coordinator) TestFailed(ctx context.Context, rec ledger.Record) error {
	ok, err := c.accepting()
	if !ok {
		return err
	}

	narrative := c.filter.Narrative(rec)
	c.announce(report.TestFailureBanner, narrative)
	c.failures.Add(rec.FQMethod(), narrative)

	if c.pauser != nil {
		if err := c.pauser.Pause(ctx, rec.FQMethod()); err != nil {
			c.logger.WithError(err).WithField("method", rec.FQMethod()).Warn("Pause on failure interrupted")
		}
	}

	return c.record(rec, ledger.OutcomeFailure)
}

// ConfigurationFailed reports a setup or teardown failure. It is shown and
// kept for the report but not counted as a test result.
func (c *Coordinator) ConfigurationFailed(rec ledger.Record) error {
	ok, err := c.accepting()
	if !ok {
		return err
	}

	narrative := c.filter.ConfigurationNarrative(rec)
	c.announce(report.ConfigurationFailureBanner, narrative)
	c.failures.AddConfiguration(narrative)

	if c.metrics != nil {
		c.metrics.ObserveConfigurationFailure(rec.Class)
	}
	return nil
}

func (c *Coordinator) announce(banner, narrative string) {
	io.WriteString(c.console, "\n"+c.styles.Fail(banner)+"\n"+format.Divider()+narrative)
}

func (c *Coordinator) record(rec ledger.Record, outcome ledger.Outcome) error {
	ok, err := c.accepting()
	if !ok {
		return err
	}
	rec.Outcome = outcome
	c.ledger.Record(rec)
	if c.metrics != nil {
		c.metrics.ObserveResult(rec)
	}
	return nil
}

// Finish renders the file report, the console summary and the signal
// marker. Only the first call does any work.
func (c *Coordinator) Finish() error {
	c.mu.Lock()
	switch c.state {
	case StateFinalizing, StateTerminal:
		c.mu.Unlock()
		return nil
	case StateAborted:
		c.mu.Unlock()
		return c.abortErr
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	var result *multierror.Error
	if err := c.generator.Render(); err != nil {
		result = multierror.Append(result, err)
	}

	if c.metrics != nil {
		c.metrics.ObserveInterleaved(len(c.detector.Interleaved()))
	}

	c.mu.Lock()
	c.state = StateTerminal
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"classes":     c.ledger.CountClasses(),
		"invocations": c.ledger.CountInvocations(),
		"failures":    c.ledger.CountByOutcome(ledger.OutcomeFailure),
		"interleaved": len(c.detector.Interleaved()),
	}).Debug("Test run finished")

	return result.ErrorOrNil()
}
