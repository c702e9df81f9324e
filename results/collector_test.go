package results

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ansel1/tally/coordinator"
	"github.com/ansel1/tally/engine"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/parser"
	"github.com/ansel1/tally/progress"
	"github.com/ansel1/tally/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind   string
	class  string
	method string
	rec    ledger.Record
	start  coordinator.StartEvent
}

type recordingSink struct {
	calls    []call
	startErr error
}

func (s *recordingSink) Start() error {
	s.calls = append(s.calls, call{kind: "start"})
	return nil
}

func (s *recordingSink) TestStarted(evt coordinator.StartEvent) error {
	s.calls = append(s.calls, call{kind: "started", class: evt.Class, method: evt.Method, start: evt})
	return s.startErr
}

func (s *recordingSink) TestSucceeded(rec ledger.Record) error {
	s.calls = append(s.calls, call{kind: "pass", class: rec.Class, method: rec.Method, rec: rec})
	return nil
}

func (s *recordingSink) TestSkipped(rec ledger.Record) error {
	s.calls = append(s.calls, call{kind: "skip", class: rec.Class, method: rec.Method, rec: rec})
	return nil
}

func (s *recordingSink) TestFailed(_ context.Context, rec ledger.Record) error {
	s.calls = append(s.calls, call{kind: "fail", class: rec.Class, method: rec.Method, rec: rec})
	return nil
}

func (s *recordingSink) ConfigurationFailed(rec ledger.Record) error {
	s.calls = append(s.calls, call{kind: "config", class: rec.Class, method: rec.Method, rec: rec})
	return nil
}

func (s *recordingSink) kinds() []string {
	var out []string
	for _, c := range s.calls {
		out = append(out, c.kind+" "+c.method)
	}
	return out
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func ev(offsetMS int, action, pkg, test string) parser.TestEvent {
	return parser.TestEvent{Time: t0.Add(time.Duration(offsetMS) * time.Millisecond), Action: action, Package: pkg, Test: test}
}

func output(offsetMS int, pkg, test, text string) parser.TestEvent {
	e := ev(offsetMS, "output", pkg, test)
	e.Output = text
	return e
}

func done(offsetMS int, action, pkg, test string, elapsed float64) parser.TestEvent {
	e := ev(offsetMS, action, pkg, test)
	e.Elapsed = elapsed
	return e
}

func push(c *Collector, events ...parser.TestEvent) {
	for _, e := range events {
		c.Push(context.Background(), engine.Event{Type: engine.EventTest, TestEvent: e})
	}
}

func TestCollector_MapsTestLifecycle(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink)

	push(c,
		ev(0, "start", "ex.com/pkg1", ""),
		ev(1, "run", "ex.com/pkg1", "TestOne"),
		output(2, "ex.com/pkg1", "TestOne", "=== RUN   TestOne\n"),
		done(500, "pass", "ex.com/pkg1", "TestOne", 0.5),
		ev(501, "run", "ex.com/pkg1", "TestTwo"),
		output(502, "ex.com/pkg1", "TestTwo", "    two_test.go:9: want 1, got 2\n"),
		done(600, "fail", "ex.com/pkg1", "TestTwo", 0.1),
		ev(601, "run", "ex.com/pkg1", "TestThree"),
		done(602, "skip", "ex.com/pkg1", "TestThree", 0),
		done(700, "fail", "ex.com/pkg1", "", 0.7),
	)

	assert.Equal(t, []string{"start ", "started TestOne", "pass TestOne", "started TestTwo", "fail TestTwo", "started TestThree", "skip TestThree"}, sink.kinds())

	pass := sink.calls[2].rec
	assert.Equal(t, "ex.com/pkg1", pass.Class)
	assert.Equal(t, t0, pass.Start)
	assert.Equal(t, t0.Add(500*time.Millisecond), pass.End)

	fail := sink.calls[4].rec
	require.NotNil(t, fail.Cause)
	assert.Equal(t, "two_test.go:9: want 1, got 2", fail.Cause.Message)

	started := sink.calls[1].start
	assert.True(t, started.Conformant)
	assert.True(t, started.HasMetadata)
	assert.Same(t, started.Subject, sink.calls[3].start.Subject, "same package run shares a subject")
	assert.NoError(t, c.Err())
}

func TestCollector_SubtestsFoldIntoParent(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink)

	push(c,
		ev(0, "start", "ex.com/pkg", ""),
		ev(1, "run", "ex.com/pkg", "TestTable"),
		ev(2, "run", "ex.com/pkg", "TestTable/case_a"),
		output(3, "ex.com/pkg", "TestTable/case_a", "    table_test.go:20: case a broke\n"),
		done(4, "fail", "ex.com/pkg", "TestTable/case_a", 0.001),
		done(5, "fail", "ex.com/pkg", "TestTable", 0.004),
	)

	assert.Equal(t, []string{"start ", "started TestTable", "fail TestTable"}, sink.kinds())
	assert.Equal(t, "table_test.go:20: case a broke", sink.calls[2].rec.Cause.Message)
}

func TestCollector_PackageFailureWithoutTestFailure(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink)

	push(c,
		ev(0, "start", "ex.com/broken", ""),
		output(1, "ex.com/broken", "", "panic: TestMain exploded\n"),
		output(2, "ex.com/broken", "", "FAIL\tex.com/broken\t0.010s\n"),
		done(10, "fail", "ex.com/broken", "", 0.01),
	)

	require.Len(t, sink.calls, 2)
	cfg := sink.calls[1]
	assert.Equal(t, "config", cfg.kind)
	assert.Equal(t, PackageMethod, cfg.method)
	assert.Equal(t, "panic: TestMain exploded", cfg.rec.Cause.Message)
}

func TestCollector_RerunPackageGetsNewSubject(t *testing.T) {
	sink := &recordingSink{}
	c := NewCollector(sink)

	push(c,
		ev(0, "start", "ex.com/pkg", ""),
		ev(1, "run", "ex.com/pkg", "TestA"),
		done(2, "pass", "ex.com/pkg", "TestA", 0),
		done(3, "pass", "ex.com/pkg", "", 0),
		ev(4, "start", "ex.com/pkg", ""),
		ev(5, "run", "ex.com/pkg", "TestA"),
	)

	first := sink.calls[1].start.Subject
	second := sink.calls[3].start.Subject
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Class(), second.Class())
}

func TestCollector_MissingTestMarker(t *testing.T) {
	assert.True(t, IsTestFunc("TestFoo"))
	assert.True(t, IsTestFunc("Test"))
	assert.True(t, IsTestFunc("Test_snake"))
	assert.True(t, IsTestFunc("ExampleWidget"))
	assert.False(t, IsTestFunc("Testify"))
	assert.False(t, IsTestFunc("helper"))
}

func TestCollector_StopsForwardingAfterSinkError(t *testing.T) {
	boom := errors.New("boom")
	sink := &recordingSink{startErr: boom}
	c := NewCollector(sink)

	push(c,
		ev(0, "start", "ex.com/pkg", ""),
		ev(1, "run", "ex.com/pkg", "TestA"),
		done(2, "pass", "ex.com/pkg", "TestA", 0),
	)

	assert.Equal(t, []string{"start ", "started TestA"}, sink.kinds())
	assert.ErrorIs(t, c.Err(), boom)
}

func TestCollector_SubscribersSeeEventsAndClose(t *testing.T) {
	c := NewCollector(&recordingSink{})
	sub := c.Subscribe()

	events := make(chan engine.Event, 10)
	events <- engine.Event{Type: engine.EventRawLine, RawLine: []byte("hello")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: ev(0, "start", "ex.com/pkg", "")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: ev(1, "run", "ex.com/pkg", "TestA")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: done(2, "pass", "ex.com/pkg", "TestA", 0.5)}
	events <- engine.Event{Type: engine.EventComplete}
	close(events)

	require.NoError(t, c.ProcessEvents(context.Background(), events))

	var types []EventType
	var finished Event
	for e := range sub {
		types = append(types, e.Type)
		if e.Type == EventTestFinished {
			finished = e
		}
	}
	assert.Equal(t, []EventType{EventRawOutput, EventRunStarted, EventPackageStarted, EventTestStarted, EventTestFinished, EventRunFinished}, types)
	assert.Equal(t, ledger.OutcomeSuccess, finished.Outcome)
	assert.Equal(t, 500*time.Millisecond, finished.Elapsed)
}

func TestCollector_EndToEndWithCoordinator(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	coord := coordinator.New(coordinator.Config{
		OutputDir: dir,
		Progress:  progress.DefaultConfig(),
		Console:   &console,
		SamplerOptions: []progress.Option{
			progress.WithMemoryProbe(func() uint64 { return 1 << 20 }, func() {}),
			progress.WithGoroutineProbe(func() int { return 1 }, func() []string { return nil }),
		},
	})
	c := NewCollector(coord)

	stream := strings.Join([]string{
		`{"Time":"2026-05-01T12:00:00Z","Action":"start","Package":"ex.com/a"}`,
		`{"Time":"2026-05-01T12:00:00Z","Action":"run","Package":"ex.com/a","Test":"TestA"}`,
		`{"Time":"2026-05-01T12:00:01Z","Action":"pass","Package":"ex.com/a","Test":"TestA","Elapsed":1}`,
		`{"Time":"2026-05-01T12:00:01Z","Action":"start","Package":"ex.com/b"}`,
		`{"Time":"2026-05-01T12:00:01Z","Action":"run","Package":"ex.com/b","Test":"TestB"}`,
		`{"Time":"2026-05-01T12:00:01Z","Action":"output","Package":"ex.com/b","Test":"TestB","Output":"    b_test.go:5: nope\n"}`,
		`{"Time":"2026-05-01T12:00:02Z","Action":"fail","Package":"ex.com/b","Test":"TestB","Elapsed":1}`,
		`{"Time":"2026-05-01T12:00:02Z","Action":"fail","Package":"ex.com/b","Elapsed":1}`,
		`{"Time":"2026-05-01T12:00:02Z","Action":"pass","Package":"ex.com/a","Elapsed":2}`,
	}, "\n")

	eng := engine.NewEngine()
	require.NoError(t, c.ProcessEvents(context.Background(), eng.Stream(context.Background(), strings.NewReader(stream))))
	require.NoError(t, coord.Finish())

	l := coord.Ledger()
	assert.Equal(t, 2, l.CountClasses())
	assert.Equal(t, 1, l.CountByOutcome(ledger.OutcomeFailure))

	text := console.String()
	assert.Contains(t, text, report.TestFailureBanner)
	assert.Contains(t, text, ": starting\n")
	assert.Contains(t, text, ": a \n")
	assert.Contains(t, text, ": b \n")
	assert.Contains(t, text, "The following unit tests failed: \n  ex.com/b#TestB\n")

	data, err := os.ReadFile(filepath.Join(dir, report.ReportFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Failed Test:  ex.com/b#TestB\nFailure Cause:  b_test.go:5: nope\n")
}

func TestCollector_RepublishesOutputLines(t *testing.T) {
	c := NewCollector(&recordingSink{})
	sub := c.Subscribe()

	events := make(chan engine.Event, 10)
	events <- engine.Event{Type: engine.EventTest, TestEvent: ev(0, "start", "ex.com/pkg", "")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: output(1, "ex.com/pkg", "TestA/sub", "    a_test.go:3: detail\n")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: output(2, "ex.com/pkg", "", "ok  \tex.com/pkg\t0.10s\n")}
	events <- engine.Event{Type: engine.EventTest, TestEvent: output(3, "ex.com/pkg", "", "\n")}
	events <- engine.Event{Type: engine.EventComplete}
	close(events)

	require.NoError(t, c.ProcessEvents(context.Background(), events))

	var outputs []Event
	for e := range sub {
		if e.Type == EventTestOutput {
			outputs = append(outputs, e)
		}
	}
	require.Len(t, outputs, 2, "blank lines are dropped")
	assert.Equal(t, NewTestOutputEvent("ex.com/pkg", "TestA/sub", "    a_test.go:3: detail"), outputs[0])
	assert.Equal(t, NewTestOutputEvent("ex.com/pkg", "", "ok  \tex.com/pkg\t0.10s"), outputs[1])
}
