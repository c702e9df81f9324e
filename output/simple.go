// Package output writes a plain text rendition of a test run for terminals
// that cannot host the live view.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/output/format"
	"github.com/ansel1/tally/results"
)

// SimpleOutput writes simple text output for -notty mode. Output lines are
// written as they arrive and a summary line closes the run.
type SimpleOutput struct {
	writer io.Writer
	now    func() time.Time
	start  time.Time

	passed  int
	failed  int
	skipped int
	running int
}

// SimpleOption configures a SimpleOutput.
type SimpleOption func(*SimpleOutput)

// WithClock sets the clock used to time the run.
func WithClock(now func() time.Time) SimpleOption {
	return func(s *SimpleOutput) {
		s.now = now
	}
}

// NewSimpleOutput creates a simple output writer
func NewSimpleOutput(w io.Writer, opts ...SimpleOption) *SimpleOutput {
	s := &SimpleOutput{writer: w, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessEvents consumes events until the channel closes. After a write
// fails it keeps draining the channel so the publisher never blocks, and
// returns the first error.
func (s *SimpleOutput) ProcessEvents(events <-chan results.Event) error {
	var err error
	for evt := range events {
		if err != nil {
			continue
		}
		err = s.handle(evt)
	}
	return err
}

func (s *SimpleOutput) handle(evt results.Event) error {
	if s.start.IsZero() {
		s.start = s.now()
	}

	switch evt.Type {
	case results.EventRawOutput:
		return s.println(string(evt.RawLine))

	case results.EventNonTestOutput, results.EventTestOutput:
		return s.println(evt.Output)

	case results.EventTestStarted:
		s.running++

	case results.EventTestFinished:
		s.running--
		switch evt.Outcome {
		case ledger.OutcomeFailure:
			s.failed++
		case ledger.OutcomeSkip:
			s.skipped++
		default:
			s.passed++
		}

	case results.EventRunFinished:
		if err := s.println(""); err != nil {
			return err
		}
		return s.writeSummary()
	}
	return nil
}

func (s *SimpleOutput) println(line string) error {
	_, err := fmt.Fprintln(s.writer, line)
	return err
}

// writeSummary writes the overall counts line and the wall time since the
// first event.
func (s *SimpleOutput) writeSummary() error {
	status := "PASSED"
	if s.failed > 0 {
		status = "FAILED"
	}
	total := s.passed + s.failed + s.skipped
	if err := s.println(fmt.Sprintf("%s: %d passed, %d failed, %d skipped, %d running, %d total",
		status, s.passed, s.failed, s.skipped, s.running, total)); err != nil {
		return err
	}
	return s.println("Total time: " + format.Duration(s.now().Sub(s.start)))
}

// HasFailures returns true if any tests failed
func (s *SimpleOutput) HasFailures() bool {
	return s.failed > 0
}
