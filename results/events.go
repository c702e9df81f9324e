package results

import (
	"time"

	"github.com/ansel1/tally/ledger"
)

// EventType identifies the type of event emitted by the Collector.
type EventType string

const (
	EventRunStarted      EventType = "run_started"      // First event of the run arrived
	EventRunFinished     EventType = "run_finished"     // Input is exhausted
	EventPackageStarted  EventType = "package_started"  // A package began running
	EventPackageFinished EventType = "package_finished" // A package finished
	EventTestStarted     EventType = "test_started"     // A top-level test began
	EventTestFinished    EventType = "test_finished"    // A top-level test finished
	EventTestOutput      EventType = "test_output"      // A line of test or package output
	EventRawOutput       EventType = "raw_output"       // Raw non-test output
	EventNonTestOutput   EventType = "non_test_output"  // Build errors, compilation output
)

// Event represents a high-level event emitted by the Collector.
type Event struct {
	Type        EventType
	PackageName string         // For package and test events
	TestName    string         // For test events
	Outcome     ledger.Outcome // For EventTestFinished
	Elapsed     time.Duration  // For EventTestFinished and EventPackageFinished
	RawLine     []byte         // For EventRawOutput
	Output      string         // For EventNonTestOutput and EventTestOutput
}

// NewRunStartedEvent creates a new RunStarted event.
func NewRunStartedEvent() Event {
	return Event{Type: EventRunStarted}
}

// NewRunFinishedEvent creates a new RunFinished event.
func NewRunFinishedEvent() Event {
	return Event{Type: EventRunFinished}
}

// NewPackageStartedEvent creates a new PackageStarted event.
func NewPackageStartedEvent(pkgName string) Event {
	return Event{
		Type:        EventPackageStarted,
		PackageName: pkgName,
	}
}

// NewPackageFinishedEvent creates a new PackageFinished event.
func NewPackageFinishedEvent(pkgName string, elapsed time.Duration) Event {
	return Event{
		Type:        EventPackageFinished,
		PackageName: pkgName,
		Elapsed:     elapsed,
	}
}

// NewTestStartedEvent creates a new TestStarted event.
func NewTestStartedEvent(pkgName, testName string) Event {
	return Event{
		Type:        EventTestStarted,
		PackageName: pkgName,
		TestName:    testName,
	}
}

// NewTestFinishedEvent creates a new TestFinished event.
func NewTestFinishedEvent(pkgName, testName string, outcome ledger.Outcome, elapsed time.Duration) Event {
	return Event{
		Type:        EventTestFinished,
		PackageName: pkgName,
		TestName:    testName,
		Outcome:     outcome,
		Elapsed:     elapsed,
	}
}

// NewRawOutputEvent creates a new RawOutput event.
func NewRawOutputEvent(line []byte) Event {
	return Event{
		Type:    EventRawOutput,
		RawLine: line,
	}
}

// NewNonTestOutputEvent creates a new NonTestOutput event.
func NewNonTestOutputEvent(output string) Event {
	return Event{
		Type:   EventNonTestOutput,
		Output: output,
	}
}

// NewTestOutputEvent creates a new TestOutput event. testName is empty for
// package output such as the final "ok" line.
func NewTestOutputEvent(pkgName, testName, output string) Event {
	return Event{
		Type:        EventTestOutput,
		PackageName: pkgName,
		TestName:    testName,
		Output:      output,
	}
}
