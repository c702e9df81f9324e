// Package results adapts a go test -json event stream to the test lifecycle
// calls of a coordinator, and republishes the stream as high-level events for
// live views.
package results

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ansel1/tally/coordinator"
	"github.com/ansel1/tally/engine"
	"github.com/ansel1/tally/ledger"
	"github.com/ansel1/tally/parser"
	"github.com/sirupsen/logrus"
)

// Sink receives test lifecycle calls. *coordinator.Coordinator implements it.
type Sink interface {
	Start() error
	TestStarted(evt coordinator.StartEvent) error
	TestSucceeded(rec ledger.Record) error
	TestSkipped(rec ledger.Record) error
	TestFailed(ctx context.Context, rec ledger.Record) error
	ConfigurationFailed(rec ledger.Record) error
}

// Collector maps go test -json events onto a Sink.
//
// Each package is one test class; each top-level test function is one test
// method. A package's "start" action opens a new subject, so a package that
// is run twice counts as two subjects. Subtests are folded into their
// top-level test: their output is kept for its failure cause, but they are
// not counted on their own.
type Collector struct {
	sink   Sink
	logger logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	packages map[string]*packageState
	started  bool
	err      error // First error returned by the sink; later events are not forwarded

	subscribers []chan Event
	subMu       sync.Mutex
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logrus.FieldLogger) CollectorOption {
	return func(c *Collector) {
		c.logger = l
	}
}

// WithClock replaces time.Now for events that carry no timestamp.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector creates a collector feeding sink.
func NewCollector(sink Sink, opts ...CollectorOption) *Collector {
	c := &Collector{
		sink:     sink,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
		packages: make(map[string]*packageState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel that will receive result events.
// The caller should read from this channel until it is closed.
func (c *Collector) Subscribe() <-chan Event {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Event, 100)
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// emit sends an event to all subscribers.
func (c *Collector) emit(evt Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		sub <- evt
	}
}

// closeSubscribers closes all subscriber channels.
func (c *Collector) closeSubscribers() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, sub := range c.subscribers {
		close(sub)
	}
	c.subscribers = nil
}

// ProcessEvents consumes engine events until the stream completes. It keeps
// draining the stream after the sink fails so the engine never blocks, and
// returns the sink's first error.
func (c *Collector) ProcessEvents(ctx context.Context, events <-chan engine.Event) error {
	defer c.closeSubscribers()

	for evt := range events {
		if c.Push(ctx, evt) {
			break
		}
	}
	return c.Err()
}

// Push handles a single engine event and reports whether it completed the
// stream.
func (c *Collector) Push(ctx context.Context, evt engine.Event) bool {
	switch evt.Type {
	case engine.EventRawLine:
		c.emit(NewRawOutputEvent(evt.RawLine))

	case engine.EventTest:
		for _, e := range c.handleTestEvent(ctx, evt.TestEvent) {
			c.emit(e)
		}

	case engine.EventError:
		c.logger.WithError(evt.Error).Warn("Error reading test output")

	case engine.EventComplete:
		c.emit(NewRunFinishedEvent())
		return true
	}
	return false
}

// Err returns the first error returned by the sink.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// forward calls the sink unless an earlier call failed.
func (c *Collector) forward(call func() error) {
	if c.err != nil {
		return
	}
	if err := call(); err != nil {
		c.err = err
	}
}

func (c *Collector) eventTime(event parser.TestEvent) time.Time {
	if event.Time.IsZero() {
		return c.now()
	}
	return event.Time
}

// handleTestEvent maps one go test event. Returns events to emit after the
// lock is released.
func (c *Collector) handleTestEvent(ctx context.Context, event parser.TestEvent) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	eventsToEmit := make([]Event, 0, 2)
	if !c.started {
		c.started = true
		c.forward(c.sink.Start)
		eventsToEmit = append(eventsToEmit, NewRunStartedEvent())
	}

	if event.Package == "" {
		switch event.Action {
		case parser.ActionBuildOutput, parser.ActionBuildFail:
			if output := strings.TrimRight(event.Output, "\n"); output != "" {
				eventsToEmit = append(eventsToEmit, NewNonTestOutputEvent(output))
			}
		}
		return eventsToEmit
	}

	pkg, exists := c.packages[event.Package]
	if !exists || (event.Action == parser.ActionStart && event.IsPackageLevel()) {
		pkg = newPackageState(event.Package, c.eventTime(event))
		c.packages[event.Package] = pkg
		eventsToEmit = append(eventsToEmit, NewPackageStartedEvent(pkg.Name))
		if event.Action == parser.ActionStart {
			return eventsToEmit
		}
	}

	if event.IsPackageLevel() {
		return append(eventsToEmit, c.handlePackageEvent(pkg, event)...)
	}
	return append(eventsToEmit, c.handleTestLevelEvent(ctx, pkg, event)...)
}

func (c *Collector) handlePackageEvent(pkg *packageState, event parser.TestEvent) []Event {
	elapsed := event.ElapsedDuration()

	switch event.Action {
	case parser.ActionOutput:
		if output := strings.TrimRight(event.Output, "\n"); output != "" {
			pkg.Output = append(pkg.Output, output)
			return []Event{NewTestOutputEvent(pkg.Name, "", output)}
		}

	case parser.ActionFail:
		pkg.Finished = true
		if pkg.FailedTests == 0 {
			// The package failed but none of its tests did: setup, teardown
			// (TestMain, init) or the build broke.
			end := c.eventTime(event)
			rec := ledger.Record{
				Class:  pkg.Name,
				Method: PackageMethod,
				Start:  end.Add(-elapsed),
				End:    end,
				Cause:  BuildCause(pkg.Output),
			}
			if rec.Cause == nil {
				rec.Cause = &ledger.FailureCause{Message: "package failed without a failing test"}
			}
			c.forward(func() error { return c.sink.ConfigurationFailed(rec) })
		}
		return []Event{NewPackageFinishedEvent(pkg.Name, elapsed)}

	case parser.ActionPass, parser.ActionSkip:
		pkg.Finished = true
		return []Event{NewPackageFinishedEvent(pkg.Name, elapsed)}
	}
	return nil
}

func (c *Collector) handleTestLevelEvent(ctx context.Context, pkg *packageState, event parser.TestEvent) []Event {
	name := topLevel(event.Test)
	test := pkg.test(name)
	isSubtest := name != event.Test

	if event.Action == parser.ActionOutput {
		if output := strings.TrimRight(event.Output, "\n"); output != "" {
			test.Output = append(test.Output, output)
			return []Event{NewTestOutputEvent(pkg.Name, event.Test, output)}
		}
		return nil
	}

	if isSubtest {
		return nil
	}

	switch event.Action {
	case parser.ActionRun:
		test.Output = nil
		evt := coordinator.StartEvent{
			Class:       pkg.Name,
			Method:      name,
			Subject:     pkg.Subject,
			Conformant:  true,
			HasMetadata: IsTestFunc(name),
		}
		c.forward(func() error { return c.sink.TestStarted(evt) })
		return []Event{NewTestStartedEvent(pkg.Name, name)}

	case parser.ActionPass, parser.ActionFail, parser.ActionSkip:
		elapsed := event.ElapsedDuration()
		end := c.eventTime(event)
		rec := ledger.Record{
			Class:  pkg.Name,
			Method: name,
			Start:  end.Add(-elapsed),
			End:    end,
		}

		var outcome ledger.Outcome
		switch event.Action {
		case parser.ActionPass:
			outcome = ledger.OutcomeSuccess
			c.forward(func() error { return c.sink.TestSucceeded(rec) })
		case parser.ActionSkip:
			outcome = ledger.OutcomeSkip
			c.forward(func() error { return c.sink.TestSkipped(rec) })
		case parser.ActionFail:
			outcome = ledger.OutcomeFailure
			pkg.FailedTests++
			rec.Cause = BuildCause(test.Output)
			if rec.Cause == nil {
				rec.Cause = &ledger.FailureCause{Message: "test failed without output"}
			}
			c.forward(func() error { return c.sink.TestFailed(ctx, rec) })
		}
		return []Event{NewTestFinishedEvent(pkg.Name, name, outcome, elapsed)}
	}
	return nil
}
