// Package tui renders a live view of a test run: one line per test class with
// its counts, the tests still running, and an overall summary line. Progress
// and failure narratives are printed above the view.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/output/format"
	"github.com/ansel1/tally/results"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ResultsEventMsg wraps results events for bubbletea
type ResultsEventMsg results.Event

// LineMsg asks the program to print a line above the live view.
type LineMsg string

// RunningTest is a top-level test that has started but not finished.
type RunningTest struct {
	Name      string
	StartTime time.Time
}

// ClassState tracks one test class (a Go package) in the view.
type ClassState struct {
	Name           string
	Running        bool      // False once the class finished
	StartTime      time.Time // When the class (re)started
	Elapsed        time.Duration
	LastOutputLine string // e.g. the "ok" line go test prints at the end
	Passed         int
	Failed         int
	Skipped        int
	Tests          []*RunningTest // In start order
}

func (c *ClassState) elapsed(now time.Time) time.Duration {
	if c.Running {
		return now.Sub(c.StartTime)
	}
	return c.Elapsed
}

func (c *ClassState) finishTest(name string) {
	for i, t := range c.Tests {
		if t.Name == name {
			c.Tests = append(c.Tests[:i], c.Tests[i+1:]...)
			return
		}
	}
}

// Model is the bubbletea model for the live view. It is fed with
// ResultsEventMsg values and quits when the run finishes.
type Model struct {
	Classes    map[string]*ClassState
	ClassOrder []string

	// Build errors and other output that belongs to no package
	NonTestOutput []string

	Passed  int
	Failed  int
	Skipped int
	Running int

	TerminalWidth  int
	TerminalHeight int

	// Replay state; elapsed times of running classes are scaled back to
	// the original run's time.
	ReplayMode bool
	ReplayRate float64

	Finished    bool
	Interrupted bool // The user quit before the run finished
	StartTime   time.Time
	TotalTime   time.Duration

	styles  format.Styles
	spinner spinner.Model
	now     func() time.Time
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithStyles sets the styles used for the pass, fail and skip columns.
func WithStyles(s format.Styles) ModelOption {
	return func(m *Model) {
		m.styles = s
	}
}

// WithReplay shows elapsed times as they were in the recorded run.
func WithReplay(rate float64) ModelOption {
	return func(m *Model) {
		m.ReplayMode = true
		m.ReplayRate = rate
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) {
		m.now = now
	}
}

// NewModel creates a new TUI model
func NewModel(opts ...ModelOption) *Model {
	s := spinner.New()
	s.Spinner = spinner.Jump

	m := &Model{
		Classes:        make(map[string]*ClassState),
		TerminalWidth:  80, // Updated by bubbletea
		TerminalHeight: 24,
		styles:         format.PlainStyles(),
		spinner:        s,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.StartTime = m.now()
	return m
}

// Init initializes the model and returns the initial command
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ResultsEventMsg:
		return m, m.handleResultsEvent(results.Event(msg))

	case LineMsg:
		return m, tea.Println(string(msg))

	case tea.WindowSizeMsg:
		m.TerminalWidth = msg.Width
		m.TerminalHeight = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.Interrupted = true
			m.finish()
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) finish() {
	m.Finished = true
	m.TotalTime = m.now().Sub(m.StartTime)
}

func (m *Model) class(name string) *ClassState {
	c, ok := m.Classes[name]
	if !ok {
		c = &ClassState{Name: name, Running: true, StartTime: m.now()}
		m.Classes[name] = c
		m.ClassOrder = append(m.ClassOrder, name)
	}
	return c
}

// handleResultsEvent updates the model state and returns a command for
// events that print above the view.
func (m *Model) handleResultsEvent(evt results.Event) tea.Cmd {
	switch evt.Type {
	case results.EventRawOutput:
		return tea.Println(string(evt.RawLine))

	case results.EventNonTestOutput:
		m.NonTestOutput = append(m.NonTestOutput, evt.Output)

	case results.EventPackageStarted:
		c := m.class(evt.PackageName)
		// A package run again is a new subject; its counts keep adding up.
		m.Running -= len(c.Tests)
		c.Tests = nil
		c.Running = true
		c.StartTime = m.now()
		c.LastOutputLine = ""

	case results.EventPackageFinished:
		c := m.class(evt.PackageName)
		c.Running = false
		c.Elapsed = evt.Elapsed
		m.Running -= len(c.Tests)
		c.Tests = nil

	case results.EventTestOutput:
		if evt.TestName == "" {
			m.class(evt.PackageName).LastOutputLine = evt.Output
		}

	case results.EventTestStarted:
		c := m.class(evt.PackageName)
		c.Tests = append(c.Tests, &RunningTest{Name: evt.TestName, StartTime: m.now()})
		m.Running++

	case results.EventTestFinished:
		c := m.class(evt.PackageName)
		before := len(c.Tests)
		c.finishTest(evt.TestName)
		m.Running -= before - len(c.Tests)
		switch evt.Outcome {
		case ledger.OutcomeFailure:
			c.Failed++
			m.Failed++
		case ledger.OutcomeSkip:
			c.Skipped++
			m.Skipped++
		default:
			c.Passed++
			m.Passed++
		}

	case results.EventRunFinished:
		m.finish()
		return tea.Quit
	}
	return nil
}

// View renders the TUI
func (m *Model) View() string {
	return strings.TrimRight(format.ExpandTabs(m.render(), 8), "\n")
}

// HasFailures returns true if any tests failed
func (m *Model) HasFailures() bool {
	return m.Failed > 0
}

// formatElapsedTime formats elapsed time as X.Xs below a minute and X.Xm above.
func formatElapsedTime(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 0.05 {
		return "0.0s"
	}
	if seconds >= 60 {
		return fmt.Sprintf("%.1fm", seconds/60)
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// scaled converts wall time spent replaying back into recorded time.
func (m *Model) scaled(d time.Duration) time.Duration {
	if m.ReplayMode && m.ReplayRate != 1.0 && m.ReplayRate != 0 {
		return time.Duration(float64(d) / m.ReplayRate)
	}
	return d
}

func (m *Model) classElapsed(c *ClassState, now time.Time) string {
	if c.Running {
		return formatElapsedTime(m.scaled(c.elapsed(now)))
	}
	return formatElapsedTime(c.Elapsed)
}

// truncateLine truncates a line to fit within width
func truncateLine(line string, width int) string {
	if width <= 0 {
		return ""
	}
	if len(line) <= width {
		return line
	}
	return line[:width]
}

// ensureReset makes sure s ends with a terminal reset so colors in truncated
// output do not bleed into the next line.
func ensureReset(s string) string {
	if s == "" || strings.HasSuffix(s, "\033[0m") {
		return s
	}
	return s + "\033[0m"
}

type columnWidths struct {
	passed, failed, skipped, elapsed int
}

func (m *Model) render() string {
	var b strings.Builder
	now := m.now()

	for _, line := range m.NonTestOutput {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.NonTestOutput) > 0 {
		b.WriteString("\n")
	}

	var w columnWidths
	for _, c := range m.Classes {
		w.passed = max(w.passed, len(fmt.Sprint(c.Passed)))
		w.failed = max(w.failed, len(fmt.Sprint(c.Failed)))
		w.skipped = max(w.skipped, len(fmt.Sprint(c.Skipped)))
		w.elapsed = max(w.elapsed, len(m.classElapsed(c, now)))
	}

	// Lines left for running tests once every class header, the separator
	// and the summary line are placed.
	available := m.TerminalHeight - len(m.NonTestOutput) - len(m.ClassOrder) - 2
	if len(m.NonTestOutput) > 0 {
		available--
	}
	shown := m.allocateTestLines(available)

	for _, name := range m.ClassOrder {
		c := m.Classes[name]
		m.renderClassHeader(&b, c, w, now)
		for _, t := range c.Tests {
			if shown[t] {
				prefix := m.spinnerPrefix(false)
				m.renderAlignedLine(&b, "  "+t.Name, formatElapsedTime(m.scaled(now.Sub(t.StartTime))), prefix)
			}
		}
	}

	if len(m.ClassOrder) > 0 {
		b.WriteString(strings.Repeat("-", m.TerminalWidth))
		b.WriteString("\n")
	}

	m.renderSummaryLine(&b, w.elapsed, now)
	return b.String()
}

// allocateTestLines picks the running tests that fit, most recently started
// first.
func (m *Model) allocateTestLines(available int) map[*RunningTest]bool {
	var all []*RunningTest
	for _, name := range m.ClassOrder {
		all = append(all, m.Classes[name].Tests...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].StartTime.After(all[j].StartTime)
	})

	shown := make(map[*RunningTest]bool)
	for _, t := range all {
		if available <= 0 {
			break
		}
		shown[t] = true
		available--
	}
	return shown
}

func (m *Model) renderClassHeader(b *strings.Builder, c *ClassState, w columnWidths, now time.Time) {
	passed := fmt.Sprintf("✓ %*d", w.passed, c.Passed)
	if c.Passed > 0 {
		passed = m.styles.Pass(passed)
	}
	failed := fmt.Sprintf("✗ %*d", w.failed, c.Failed)
	if c.Failed > 0 {
		failed = m.styles.Fail(failed)
	}
	skipped := fmt.Sprintf("∅ %*d", w.skipped, c.Skipped)
	if c.Skipped > 0 {
		skipped = m.styles.Warn(skipped)
	}
	right := fmt.Sprintf("%s  %s  %s  %*s", passed, failed, skipped, w.elapsed, m.classElapsed(c, now))

	left := c.Name
	if !c.Running && c.LastOutputLine != "" {
		left = format.ExpandTabs(c.LastOutputLine, 8)
	}

	prefix := "  "
	if c.Running {
		prefix = m.spinnerPrefix(c.Failed > 0)
	}
	m.renderAlignedLine(b, left, right, prefix)
}

func (m *Model) spinnerPrefix(failed bool) string {
	if failed {
		return m.styles.Fail(m.spinner.View()) + " "
	}
	return m.styles.Pass(m.spinner.View()) + " "
}

// renderAlignedLine renders prefix and left flush left, and right flush right.
func (m *Model) renderAlignedLine(b *strings.Builder, left, right, prefix string) {
	fullLeft := prefix + left

	available := max(m.TerminalWidth-lipgloss.Width(right)-2, 0)
	if lipgloss.Width(fullLeft) >= available {
		b.WriteString(ensureReset(truncateLine(fullLeft, available)))
	} else {
		b.WriteString(ensureReset(fullLeft))
		b.WriteString(strings.Repeat(" ", available-lipgloss.Width(fullLeft)))
	}
	b.WriteString("  ")
	b.WriteString(right)
	b.WriteString("\n")
}

// SummaryLine returns the overall counts, e.g.
// "PASSED: 3 passed, 0 failed, 1 skipped, 0 running, 4 total".
func (m *Model) SummaryLine() string {
	status := "RUNNING"
	if m.Finished {
		status = "PASSED"
		if m.Failed > 0 {
			status = "FAILED"
		}
	}
	total := m.Passed + m.Failed + m.Skipped + m.Running
	return fmt.Sprintf("%s: %d passed, %d failed, %d skipped, %d running, %d total",
		status, m.Passed, m.Failed, m.Skipped, m.Running, total)
}

func (m *Model) renderSummaryLine(b *strings.Builder, wElapsed int, now time.Time) {
	elapsed := m.TotalTime
	if !m.Finished {
		elapsed = now.Sub(m.StartTime)
	}
	elapsedStr := fmt.Sprintf("%*s", wElapsed, formatElapsedTime(m.scaled(elapsed)))

	prefix := "  "
	if !m.Finished {
		prefix = m.spinnerPrefix(m.Failed > 0)
	}
	m.renderAlignedLine(b, m.SummaryLine(), elapsedStr, prefix)
}
