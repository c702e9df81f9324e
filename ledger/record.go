package ledger

import (
	"time"
)

// Outcome identifies how a single test invocation ended.
type Outcome int

const (
	OutcomeInvalid                Outcome = iota // Anything the ledger does not recognize
	OutcomeSuccess                               // Test passed
	OutcomeFailure                               // Test failed
	OutcomeSkip                                  // Test was skipped
	OutcomeSuccessWithinTolerance                // Test failed but within its allowed success percentage

	// NumOutcomes is the size of every per-outcome counter array.
	NumOutcomes = 5
)

var outcomeNames = [NumOutcomes]string{
	"<<invalid>>",
	"Success",
	"Failure",
	"Skip",
	"Success Percentage Failure",
}

func (o Outcome) String() string {
	return outcomeNames[o.bucket()]
}

// bucket maps an outcome onto its counter index. Values outside the known
// range land in the invalid bucket instead of being rejected.
func (o Outcome) bucket() int {
	if o < 0 || int(o) >= NumOutcomes {
		return int(OutcomeInvalid)
	}
	return int(o)
}

// Frame is one entry of a failure's call stack.
type Frame struct {
	Function string // Fully qualified function name
	File     string
	Line     int
}

// FailureCause describes why a test failed.
type FailureCause struct {
	Message string
	Frames  []Frame
	Cause   *FailureCause // Wrapped cause, if any
}

// Record is one observed outcome of one test invocation.
type Record struct {
	Class   string
	Method  string
	Outcome Outcome
	Start   time.Time
	End     time.Time
	Params  []any         // nil when the test takes no parameters
	Cause   *FailureCause // nil unless the test failed with a cause
}

// Duration returns End - Start, never negative.
func (r Record) Duration() time.Duration {
	d := r.End.Sub(r.Start)
	if d < 0 {
		return 0
	}
	return d
}

// FQMethod returns the fully qualified method name ("class#method").
func (r Record) FQMethod() string {
	return FQMethod(r.Class, r.Method)
}

// FQMethod joins a class and method name the way reports display them.
func FQMethod(class, method string) string {
	return class + "#" + method
}
