// Package parser decodes the event lines written by `go test -json`.
package parser

import (
	"encoding/json"
	"errors"
	"time"
)

// Actions reported by go test -json. See `go doc test2json`.
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionBench       = "bench"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// ErrNoAction is returned for JSON lines that aren't test events.
var ErrNoAction = errors.New("json line has no test action")

// TestEvent represents a single event from `go test -json` output
type TestEvent struct {
	Time       time.Time `json:"Time"`
	Action     string    `json:"Action"`
	Package    string    `json:"Package"`
	Test       string    `json:"Test,omitempty"`
	Output     string    `json:"Output,omitempty"`
	Elapsed    float64   `json:"Elapsed,omitempty"`
	Source     string    `json:"Source,omitempty"`
	ImportPath string    `json:"ImportPath,omitempty"`
}

// IsPackageLevel reports whether the event is about a whole package rather
// than one of its tests.
func (e TestEvent) IsPackageLevel() bool {
	return e.Test == ""
}

// IsTerminal reports whether the event ends a test or package.
func (e TestEvent) IsTerminal() bool {
	switch e.Action {
	case ActionPass, ActionFail, ActionSkip:
		return true
	}
	return false
}

// ElapsedDuration returns Elapsed as a duration.
func (e TestEvent) ElapsedDuration() time.Duration {
	return time.Duration(e.Elapsed * float64(time.Second))
}

// ParseEvent parses a single line of JSON from `go test -json` output.
// Valid JSON without an Action is rejected so that stray JSON printed by
// tests passes through as raw output.
func ParseEvent(line []byte) (TestEvent, error) {
	var event TestEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return event, err
	}
	if event.Action == "" {
		return event, ErrNoAction
	}
	return event, nil
}
