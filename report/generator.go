// Package report renders the end-of-run outputs: the file report, the console
// summary and the build signal marker.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ansel1/tally/interleave"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/output/format"
	"github.com/ansel1/tally/progress"
	"github.com/hashicorp/go-multierror"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sirupsen/logrus"
)

// File names written to or removed from the output directory.
const (
	ReportFileName = "results.txt"
	SignalFileName = ".tests-failed-marker"
)

// maxSlowestMethods caps the SLOWEST METHODS section.
const maxSlowestMethods = 100

// ErrSkippedWithoutFailures is returned by Render when no test failed but at
// least one was skipped. Skips usually mean setup or teardown broke, so the
// run can't be called a success.
var ErrSkippedWithoutFailures = errors.New("there were no explicit test failures, but some tests were skipped (possibly due to errors in setup or teardown)")

// Generator produces everything written once the run is over.
type Generator struct {
	ledger   *ledger.Ledger
	detector *interleave.Detector
	sampler  *progress.Sampler
	failures *FailureLog

	outputDir string
	console   io.Writer
	styles    format.Styles
	logger    logrus.FieldLogger
	now       func() time.Time
	dump      func() string
}

// Option configures a Generator.
type Option func(*Generator)

// WithOutputDir sets the directory the report and signal marker live in.
func WithOutputDir(dir string) Option {
	return func(g *Generator) {
		g.outputDir = dir
	}
}

// WithConsole sends the console summary to w.
func WithConsole(w io.Writer) Option {
	return func(g *Generator) {
		g.console = w
	}
}

// WithStyles colors the console summary.
func WithStyles(s format.Styles) Option {
	return func(g *Generator) {
		g.styles = s
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// WithClock replaces time.Now for the report timestamp.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithGoroutineDump replaces the goroutine dump printed when thread change
// tracking is on.
func WithGoroutineDump(dump func() string) Option {
	return func(g *Generator) {
		g.dump = dump
	}
}

// NewGenerator creates a generator reading from the given run state.
func NewGenerator(l *ledger.Ledger, d *interleave.Detector, s *progress.Sampler, failures *FailureLog, opts ...Option) *Generator {
	g := &Generator{
		ledger:    l,
		detector:  d,
		sampler:   s,
		failures:  failures,
		outputDir: ".",
		console:   os.Stderr,
		styles:    format.PlainStyles(),
		logger:    logrus.StandardLogger(),
		now:       time.Now,
		dump:      progress.GoroutineDump,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ReportPath returns where the file report is written.
func (g *Generator) ReportPath() string {
	return filepath.Join(g.outputDir, ReportFileName)
}

// SignalPath returns the location of the build signal marker.
func (g *Generator) SignalPath() string {
	return filepath.Join(g.outputDir, SignalFileName)
}

// RemoveStaleReport deletes a report left over from an earlier run.
func (g *Generator) RemoveStaleReport() error {
	err := os.Remove(g.ReportPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale report: %w", err)
	}
	return nil
}

// Render writes the file report, the console summary and then updates the
// signal marker. Errors from each step are collected; a run with skips but
// no failures also yields ErrSkippedWithoutFailures.
func (g *Generator) Render() error {
	var result *multierror.Error

	path, err := g.WriteReport()
	if err != nil {
		result = multierror.Append(result, err)
	}

	g.WriteConsoleSummary(path)

	if err := g.RemoveSignal(); err != nil {
		result = multierror.Append(result, err)
	}

	if g.ledger.CountByOutcome(ledger.OutcomeFailure) == 0 && g.ledger.CountByOutcome(ledger.OutcomeSkip) > 0 {
		fmt.Fprintln(g.console)
		fmt.Fprintln(g.console, g.styles.Warn("There were no explicit test failures, but some tests were skipped (possibly due to errors in setup or teardown)"))
		result = multierror.Append(result, ErrSkippedWithoutFailures)
	}

	return result.ErrorOrNil()
}

// RemoveSignal deletes the signal marker when nothing failed and nothing was
// skipped. The marker is never created here; the build creates it before the
// run starts.
func (g *Generator) RemoveSignal() error {
	if g.ledger.CountByOutcome(ledger.OutcomeFailure) != 0 || g.ledger.CountByOutcome(ledger.OutcomeSkip) != 0 {
		return nil
	}
	err := os.Remove(g.SignalPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove signal marker: %w", err)
	}
	return nil
}

// WriteReport writes the file report and returns its absolute path. When the
// file can't be created the report goes to the console instead.
func (g *Generator) WriteReport() (string, error) {
	path := g.ReportPath()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	body := g.reportBody()

	f, err := os.Create(path)
	if err != nil {
		g.logger.WithError(err).WithField("path", path).Error("Unable to write test report, writing it to the console instead")
		_, werr := io.WriteString(g.console, body)
		return path, werr
	}

	if _, err := io.WriteString(f, body); err != nil {
		f.Close()
		return path, fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("failed to close report: %w", err)
	}
	return path, nil
}

func (g *Generator) reportBody() string {
	var b strings.Builder
	doubleDivider := format.Divider() + format.Divider()

	b.WriteString(format.Center("UNIT TEST REPORT") + "\n")
	b.WriteString(format.Center("----------------") + "\n\n")
	fmt.Fprintf(&b, "Finished at: %s\n", g.now().Format(time.UnixDate))

	interleaved := g.detector.Interleaved()
	fmt.Fprintf(&b, "# Test classes: %d\n", g.ledger.CountClasses())
	fmt.Fprintf(&b, "# Test classes interleaved: %d\n", len(interleaved))
	fmt.Fprintf(&b, "# Test methods: %d\n", g.ledger.CountMethods())
	fmt.Fprintf(&b, "# Tests passed: %d\n", g.ledger.CountByOutcome(ledger.OutcomeSuccess))
	fmt.Fprintf(&b, "# Tests failed: %d\n", g.ledger.CountByOutcome(ledger.OutcomeFailure))

	b.WriteString("\n" + doubleDivider + "\n\n")
	b.WriteString(format.Center("TEST CLASSES RUN INTERLEAVED") + "\n\n\n")
	for _, class := range interleaved {
		b.WriteString(format.IndentLevel1 + class + "\n")
	}

	b.WriteString("\n" + doubleDivider + "\n\n")
	b.WriteString(format.Center("FAILED TESTS") + "\n\n\n")
	b.WriteString(g.failures.Narratives())

	b.WriteString("\n" + doubleDivider + "\n")
	g.writeTimings(&b)
	return b.String()
}

func (g *Generator) writeTimings(b *strings.Builder) {
	doubleDivider := format.Divider() + format.Divider()

	b.WriteString(format.Center("TESTS RUN BY CLASS") + "\n")
	b.WriteString(format.Center("[method-name total-time (total-invocations)]") + "\n\n")
	for _, class := range g.ledger.Classes() {
		fmt.Fprintf(b, "%s    %d ms (%d)\n", class.Name(), class.Duration().Milliseconds(), class.Invocations())
		for _, m := range class.Methods() {
			fmt.Fprintf(b, "%s%s  %s\n", format.IndentLevel2, m.Method(), methodStats(m))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + doubleDivider)
	b.WriteString(format.Center("CLASS SUMMARY SORTED BY DURATION") + "\n")
	b.WriteString(format.Center("[class-name total-time (total-invocations)]") + "\n\n")
	for _, class := range g.ledger.ClassesByDuration() {
		fmt.Fprintf(b, "%s%s    %d ms (%d)\n", format.IndentLevel1, class.Name(), class.Duration().Milliseconds(), class.Invocations())
	}

	b.WriteString("\n" + format.Divider() + "\n")
	b.WriteString(format.Center("SLOWEST METHODS") + "\n")
	b.WriteString(format.Center("[method-name total-time (total-invocations)]") + "\n\n")
	for _, m := range g.ledger.MethodsByDuration(maxSlowestMethods) {
		fmt.Fprintf(b, "%s%s  %s\n", format.IndentLevel2, m.FQMethod(), methodStats(m))
	}
}

func methodStats(m *ledger.MethodAggregate) string {
	s := fmt.Sprintf("%d ms (%d)", m.Duration().Milliseconds(), m.Invocations())
	if n := m.Count(ledger.OutcomeFailure); n > 0 {
		s += fmt.Sprintf(" %d failure(s)", n)
	}
	return s
}

// WriteConsoleSummary prints the end-of-run summary. The detector is flushed
// first so the progress line for the last subject appears above it.
func (g *Generator) WriteConsoleSummary(reportPath string) {
	g.detector.Flush()

	var b strings.Builder
	b.WriteString("\n")

	failed := g.failures.Methods()
	if len(failed) > 0 {
		b.WriteString(g.styles.Fail("The following unit tests failed: ") + "\n")
		for _, r := range CollapseAdjacent(failed) {
			if r.Count > 1 {
				fmt.Fprintf(&b, "%s%s (x %d)\n", format.IndentLevel1, r.Name, r.Count)
			} else {
				fmt.Fprintf(&b, "%s%s\n", format.IndentLevel1, r.Name)
			}
		}
		b.WriteString("\n")
		if cmd := RerunCommand(failed); cmd != "" {
			b.WriteString("Re-run only the failed tests with:\n")
			b.WriteString(format.IndentLevel1 + cmd + "\n")
		}
	} else {
		b.WriteString(g.styles.Pass("All of the tests passed.") + "\n")
	}

	b.WriteString("\nWrote full test report to:\n")
	b.WriteString(reportPath + "\n\n")

	b.WriteString(g.diagnostics())

	if g.sampler.Config().ThreadChanges {
		b.WriteString("\n")
		b.WriteString(g.dump())
	}

	if n := len(g.detector.Interleaved()); n > 0 {
		b.WriteString("\n")
		b.WriteString(g.styles.Warn("WARNING:  Some of the test methods for multiple classes were run out of order (interleaved).") + "\n")
		b.WriteString("Either a package's tests were not run together (packages run concurrently or re-run\n" +
			"mid-stream) or there has been a regression in the test runner.\n")
		b.WriteString("This makes the progress lines and the per-class timings less meaningful.\n")
	}

	io.WriteString(g.console, b.String())
}

func (g *Generator) diagnostics() string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	final := g.sampler.Settle()
	t.AppendRow(table.Row{"Test classes run interleaved:", len(g.detector.Interleaved())})
	t.AppendRow(table.Row{"Final amount of memory in use:", fmt.Sprintf("%.1f MB", final.MB())})
	if g.sampler.Config().Memory {
		t.AppendRow(table.Row{"Maximum amount of memory in use:", fmt.Sprintf("%.1f MB", float64(g.sampler.MaxMemory())/(1024.0*1024.0))})
	}
	t.AppendRow(table.Row{"Final number of goroutines:", g.sampler.Goroutines()})
	t.Render()

	return buf.String()
}

var goTestName = regexp.MustCompile(`^(Test|Benchmark|Example|Fuzz)([^a-z]\w*)?$`)

// RerunCommand builds a go test invocation that runs only the given failed
// methods. Methods that aren't Go test functions are left out; the result is
// empty when none remain.
func RerunCommand(fqMethods []string) string {
	classes := map[string]bool{}
	methods := map[string]bool{}
	for _, fq := range fqMethods {
		class, method, ok := strings.Cut(fq, "#")
		if !ok || !goTestName.MatchString(method) {
			continue
		}
		classes[class] = true
		methods[method] = true
	}
	if len(methods) == 0 {
		return ""
	}
	return fmt.Sprintf("go test -run '^(%s)$' %s", strings.Join(sortedKeys(methods), "|"), strings.Join(sortedKeys(classes), " "))
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
