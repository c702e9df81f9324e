package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(evts ...results.Event) <-chan results.Event {
	ch := make(chan results.Event, len(evts))
	for _, e := range evts {
		ch <- e
	}
	close(ch)
	return ch
}

func TestSimpleOutput_ProcessEvents_BasicTest(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf)

	err := simple.ProcessEvents(feed(
		results.NewRunStartedEvent(),
		results.NewPackageStartedEvent("example.com/pkg"),
		results.NewTestStartedEvent("example.com/pkg", "TestFoo"),
		results.NewTestOutputEvent("example.com/pkg", "TestFoo", "=== RUN   TestFoo"),
		results.NewTestFinishedEvent("example.com/pkg", "TestFoo", ledger.OutcomeSuccess, 500*time.Millisecond),
		results.NewRunFinishedEvent(),
	))
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "=== RUN   TestFoo\n")
	assert.Contains(t, output, "PASSED: 1 passed, 0 failed, 0 skipped, 0 running, 1 total")
	assert.False(t, simple.HasFailures())
}

func TestSimpleOutput_ProcessEvents_MultipleTests(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf)

	err := simple.ProcessEvents(feed(
		results.NewTestStartedEvent("pkg", "Test1"),
		results.NewTestFinishedEvent("pkg", "Test1", ledger.OutcomeSuccess, 0),
		results.NewTestStartedEvent("pkg", "Test2"),
		results.NewTestOutputEvent("pkg", "Test2", "    test_fail.go:10: assertion failed"),
		results.NewTestFinishedEvent("pkg", "Test2", ledger.OutcomeFailure, 0),
		results.NewTestStartedEvent("pkg", "Test3"),
		results.NewTestFinishedEvent("pkg", "Test3", ledger.OutcomeSkip, 0),
		results.NewTestStartedEvent("pkg", "Test4"),
		results.NewRunFinishedEvent(),
	))
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "assertion failed")
	assert.Contains(t, output, "FAILED: 1 passed, 1 failed, 1 skipped, 1 running, 3 total")
	assert.True(t, simple.HasFailures())
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Date(2025, 11, 1, 15, 43, 0, 0, time.UTC)
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func TestSimpleOutput_ProcessEvents_RawAndBuildLines(t *testing.T) {
	var buf bytes.Buffer
	simple := NewSimpleOutput(&buf, WithClock(steppingClock(1500*time.Millisecond)))

	err := simple.ProcessEvents(feed(
		results.NewRawOutputEvent([]byte("This is a raw line")),
		results.NewNonTestOutputEvent("# example.com/broken"),
		results.NewRunFinishedEvent(),
	))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"This is a raw line",
		"# example.com/broken",
		"",
		"PASSED: 0 passed, 0 failed, 0 skipped, 0 running, 0 total",
		"Total time: 00:00:01.500",
	}, lines)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, assert.AnError }

func TestSimpleOutput_WriteError(t *testing.T) {
	simple := NewSimpleOutput(failingWriter{})
	err := simple.ProcessEvents(feed(results.NewRawOutputEvent([]byte("x"))))
	assert.ErrorIs(t, err, assert.AnError)
}
