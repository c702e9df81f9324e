// Package engine turns a go test -json byte stream into a channel of parsed
// events.
package engine

import (
	"bufio"
	"context"
	"io"

	"github.com/ansel1/tally/parser"
)

// maxLineSize bounds a single input line. Test output can put very long
// lines (large diffs, JSON blobs) into one event.
const maxLineSize = 4 * 1024 * 1024

// EventType identifies the type of event emitted by the engine
type EventType string

const (
	EventRawLine  EventType = "raw"      // Non-JSON line from input
	EventTest     EventType = "test"     // Parsed test event from go test -json
	EventError    EventType = "error"    // Error occurred during processing
	EventComplete EventType = "complete" // Input stream finished
)

// Event represents a single event emitted by the engine
type Event struct {
	Type      EventType
	RawLine   []byte           // Populated for EventRawLine
	TestEvent parser.TestEvent // Populated for EventTest
	Error     error            // Populated for EventError
}

// Engine parses input lines and streams them as events. It keeps no state
// about tests.
type Engine struct {
	rawWriter  io.Writer
	jsonWriter io.Writer
	bufferSize int
}

// Option configures the engine
type Option func(*Engine)

// WithRawOutput copies every input line to w.
func WithRawOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.rawWriter = w
	}
}

// WithJSONOutput copies every line that parsed as a test event to w.
func WithJSONOutput(w io.Writer) Option {
	return func(e *Engine) {
		e.jsonWriter = w
	}
}

// WithBufferSize sets the channel buffer size.
func WithBufferSize(n int) Option {
	return func(e *Engine) {
		e.bufferSize = n
	}
}

// NewEngine creates a new event processing engine
func NewEngine(opts ...Option) *Engine {
	e := &Engine{bufferSize: 100}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stream reads from input, parses lines, and emits events via channel.
// EventComplete is the last event of a fully read input. The channel is
// closed when input is exhausted or ctx is done.
func (e *Engine) Stream(ctx context.Context, input io.Reader) <-chan Event {
	events := make(chan Event, e.bufferSize)

	go func() {
		defer close(events)

		send := func(evt Event) bool {
			select {
			case events <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(input)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()

			if e.rawWriter != nil {
				e.rawWriter.Write(line)
				e.rawWriter.Write([]byte("\n"))
			}

			testEvent, err := parser.ParseEvent(line)
			if err != nil {
				// Scanner reuses its buffer
				lineCopy := make([]byte, len(line))
				copy(lineCopy, line)
				if !send(Event{Type: EventRawLine, RawLine: lineCopy}) {
					return
				}
				continue
			}

			if e.jsonWriter != nil {
				e.jsonWriter.Write(line)
				e.jsonWriter.Write([]byte("\n"))
			}

			if !send(Event{Type: EventTest, TestEvent: testEvent}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if !send(Event{Type: EventError, Error: err}) {
				return
			}
		}

		send(Event{Type: EventComplete})
	}()

	return events
}
