package coordinator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ansel1/tally/interleave"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/progress"
	"github.com/ansel1/tally/report"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetrics struct {
	mu          sync.Mutex
	results     []ledger.Outcome
	configFails []string
	interleaved int
}

func (m *fakeMetrics) ObserveResult(r ledger.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r.Outcome)
}

func (m *fakeMetrics) ObserveConfigurationFailure(class string) {
	m.configFails = append(m.configFails, class)
}

func (m *fakeMetrics) ObserveInterleaved(n int) { m.interleaved = n }

type fakePauser struct {
	paused []string
}

func (p *fakePauser) Pause(_ context.Context, fq string) error {
	p.paused = append(p.paused, fq)
	return nil
}

type harness struct {
	c       *Coordinator
	console *bytes.Buffer
	hook    *test.Hook
	metrics *fakeMetrics
	dir     string
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	h := &harness{
		console: &bytes.Buffer{},
		hook:    hook,
		metrics: &fakeMetrics{},
		dir:     t.TempDir(),
	}
	cfg := Config{
		OutputDir: h.dir,
		Progress:  progress.Config{None: true},
		Console:   h.console,
		Logger:    logger,
		Metrics:   h.metrics,
		SamplerOptions: []progress.Option{
			progress.WithMemoryProbe(func() uint64 { return 1 << 20 }, func() {}),
			progress.WithGoroutineProbe(func() int { return 4 }, func() []string { return nil }),
		},
		ReportOptions: []report.Option{
			report.WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.c = New(cfg)
	return h
}

func started(class, method string, subject *interleave.Subject) StartEvent {
	return StartEvent{Class: class, Method: method, Subject: subject, Conformant: true, HasMetadata: true}
}

func result(class, method string) ledger.Record {
	now := time.Now()
	return ledger.Record{Class: class, Method: method, Start: now.Add(-time.Millisecond), End: now}
}

func TestCoordinator_Lifecycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, report.ReportFileName), []byte("stale"), 0o644))

	assert.Equal(t, StateIdle, h.c.State())
	require.NoError(t, h.c.Start())
	assert.Equal(t, StateRecording, h.c.State())
	_, err := os.Stat(filepath.Join(h.dir, report.ReportFileName))
	assert.True(t, errors.Is(err, os.ErrNotExist), "stale report removed at start")

	s := interleave.NewSubject("pkg/a")
	require.NoError(t, h.c.TestStarted(started("pkg/a", "TestOne", s)))
	require.NoError(t, h.c.TestSucceeded(result("pkg/a", "TestOne")))

	require.NoError(t, h.c.Finish())
	assert.Equal(t, StateTerminal, h.c.State())
	assert.Contains(t, h.console.String(), "All of the tests passed.")

	data, err := os.ReadFile(filepath.Join(h.dir, report.ReportFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Test methods: 1\n")

	// Terminal: further events and finishes are ignored.
	h.console.Reset()
	require.NoError(t, h.c.TestSucceeded(result("pkg/a", "TestLate")))
	require.NoError(t, h.c.Finish())
	assert.Empty(t, h.console.String())
	assert.Equal(t, 1, h.c.Ledger().CountInvocations())
	assert.NotEmpty(t, h.c.RunID())
}

func TestCoordinator_RunIDFromConfig(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.RunID = "nightly-42" })
	assert.Equal(t, "nightly-42", h.c.RunID())
}

func TestCoordinator_ImplicitStart(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.TestSkipped(result("pkg/a", "TestSkip")))
	assert.Equal(t, StateRecording, h.c.State())
}

func TestCoordinator_OutcomeIsForced(t *testing.T) {
	h := newHarness(t)
	rec := result("pkg/a", "TestX")
	rec.Outcome = ledger.OutcomeFailure

	require.NoError(t, h.c.TestSucceeded(rec))
	require.NoError(t, h.c.TestSkipped(rec))
	require.NoError(t, h.c.TestFailedWithinTolerance(rec))

	l := h.c.Ledger()
	assert.Equal(t, 1, l.CountByOutcome(ledger.OutcomeSuccess))
	assert.Equal(t, 1, l.CountByOutcome(ledger.OutcomeSkip))
	assert.Equal(t, 1, l.CountByOutcome(ledger.OutcomeSuccessWithinTolerance))
	assert.Equal(t, 0, l.CountByOutcome(ledger.OutcomeFailure))
	assert.Equal(t, []ledger.Outcome{ledger.OutcomeSuccess, ledger.OutcomeSkip, ledger.OutcomeSuccessWithinTolerance}, h.metrics.results)
}

func TestCoordinator_NonConformantClassAborts(t *testing.T) {
	h := newHarness(t)
	s := interleave.NewSubject("pkg/bad")

	evt := started("pkg/bad", "TestOne", s)
	evt.Conformant = false
	err := h.c.TestStarted(evt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonConformantClass))
	assert.Equal(t, StateAborted, h.c.State())

	var errorsLogged int
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
			assert.Equal(t, "pkg/bad", e.Data["class"])
		}
	}
	assert.Equal(t, 1, errorsLogged)

	assert.ErrorIs(t, h.c.TestSucceeded(result("pkg/bad", "TestOne")), ErrNonConformantClass)
	assert.ErrorIs(t, h.c.Finish(), ErrNonConformantClass)
	assert.Equal(t, 0, h.c.Ledger().CountInvocations())
}

func TestCoordinator_ConformanceCheckedOncePerClass(t *testing.T) {
	h := newHarness(t)
	s := interleave.NewSubject("pkg/a")
	require.NoError(t, h.c.TestStarted(started("pkg/a", "TestOne", s)))

	// Only the first start of a class is checked.
	evt := started("pkg/a", "TestTwo", s)
	evt.Conformant = false
	assert.NoError(t, h.c.TestStarted(evt))
}

func TestCoordinator_MissingMetadataWarnsOncePerMethod(t *testing.T) {
	h := newHarness(t)
	s := interleave.NewSubject("pkg/a")

	evt := started("pkg/a", "helper", s)
	evt.HasMetadata = false
	for i := 0; i < 3; i++ {
		require.NoError(t, h.c.TestStarted(evt))
	}
	other := started("pkg/a", "other", s)
	other.HasMetadata = false
	require.NoError(t, h.c.TestStarted(other))

	var warnings []string
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e.Data["method"].(string))
		}
	}
	assert.Equal(t, []string{"pkg/a#helper", "pkg/a#other"}, warnings)
	assert.Equal(t, StateRecording, h.c.State())
}

func TestCoordinator_TestFailed(t *testing.T) {
	pauser := &fakePauser{}
	h := newHarness(t, func(cfg *Config) { cfg.Pauser = pauser })

	rec := result("pkg/a", "TestBroken")
	rec.Cause = &ledger.FailureCause{Message: "broken_test.go:9: nope"}
	require.NoError(t, h.c.TestFailed(context.Background(), rec))

	text := h.console.String()
	assert.Contains(t, text, report.TestFailureBanner+"\n")
	assert.Contains(t, text, "Failed Test:  pkg/a#TestBroken\nFailure Cause:  broken_test.go:9: nope\n")
	assert.Equal(t, 1, h.c.Ledger().CountByOutcome(ledger.OutcomeFailure))
	assert.Equal(t, []string{"pkg/a#TestBroken"}, pauser.paused)

	require.NoError(t, h.c.Finish())
	assert.Contains(t, h.console.String(), "The following unit tests failed: \n  pkg/a#TestBroken\n")
}

func TestCoordinator_ConfigurationFailedIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	rec := result("pkg/a", "TestMain")
	rec.Cause = &ledger.FailureCause{Message: "setup exploded"}
	rec.Params = []any{42}

	require.NoError(t, h.c.ConfigurationFailed(rec))
	assert.Contains(t, h.console.String(), report.ConfigurationFailureBanner)
	assert.NotContains(t, h.console.String(), "parameter[0]")
	assert.Equal(t, 0, h.c.Ledger().CountInvocations())
	assert.Equal(t, []string{"pkg/a"}, h.metrics.configFails)
	assert.Empty(t, h.c.FailedMethods(), "configuration failures are not listed as failed tests")
	assert.Equal(t, 1, h.c.ConfigurationFailures())

	require.NoError(t, h.c.Finish())
	data, err := os.ReadFile(filepath.Join(h.dir, report.ReportFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Failed Test:  pkg/a#TestMain\nFailure Cause:  setup exploded\n")
}

func TestCoordinator_SkipsWithoutFailures(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, report.SignalFileName), nil, 0o644))
	require.NoError(t, h.c.TestSkipped(result("pkg/a", "TestSkip")))

	err := h.c.Finish()
	assert.ErrorIs(t, err, report.ErrSkippedWithoutFailures)
	assert.Equal(t, StateTerminal, h.c.State())
	_, statErr := os.Stat(filepath.Join(h.dir, report.SignalFileName))
	assert.NoError(t, statErr, "marker kept")
}

func TestCoordinator_InterleavedReportedToMetrics(t *testing.T) {
	h := newHarness(t)
	a := interleave.NewSubject("pkg/a")
	b := interleave.NewSubject("pkg/b")
	for _, s := range []*interleave.Subject{a, b, a} {
		require.NoError(t, h.c.TestStarted(started(s.Class(), "TestX", s)))
	}
	require.NoError(t, h.c.Finish())
	assert.Equal(t, 1, h.metrics.interleaved)
	assert.Contains(t, h.console.String(), "WARNING:")
}

func TestCoordinator_ConcurrentEvents(t *testing.T) {
	h := newHarness(t)
	subjects := []*interleave.Subject{interleave.NewSubject("pkg/a"), interleave.NewSubject("pkg/b")}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := subjects[i%2]
			assert.NoError(t, h.c.TestStarted(started(s.Class(), "TestX", s)))
			assert.NoError(t, h.c.TestSucceeded(result(s.Class(), "TestX")))
		}(i)
	}
	wg.Wait()

	require.NoError(t, h.c.Finish())
	assert.Equal(t, 50, h.c.Ledger().CountInvocations())
	assert.Equal(t, 2, h.c.Ledger().CountClasses())
}

func TestWatchdogPauser_ResumesWhenFileRemoved(t *testing.T) {
	var out bytes.Buffer
	p := &WatchdogPauser{
		Dir:          t.TempDir(),
		Console:      &out,
		PollInterval: 10 * time.Millisecond,
	}
	p.created = func(path string) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			os.Remove(path)
		}()
	}

	done := make(chan error, 1)
	go func() { done <- p.Pause(context.Background(), "pkg/a#TestX") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pause did not resume after the watchdog file was removed")
	}
	assert.Contains(t, out.String(), "Paused after pkg/a#TestX failed.")
}

func TestWatchdogPauser_ContextCancel(t *testing.T) {
	dir := t.TempDir()
	p := &WatchdogPauser{Dir: dir, PollInterval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	p.created = func(string) { cancel() }

	err := p.Pause(ctx, "pkg/a#TestX")
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "watchdog file cleaned up")
}
