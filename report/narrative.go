package report

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ansel1/tally/ledger"
)

// Banners printed to the console ahead of a failure narrative.
const (
	TestFailureBanner          = "T E S T   F A I L U R E ! ! !"
	ConfigurationFailureBanner = "C O N F I G U R A T I O N   F A I L U R E ! ! !"
)

// StackFilter decides which frames of a failure cause are worth showing.
type StackFilter struct {
	// Namespace is the function name prefix of the code under test. Frames
	// below the deepest namespace frame are dropped. Empty keeps every frame.
	Namespace string

	// Exclude lists function name prefixes that never count as the deepest
	// namespace frame, even when they match Namespace.
	Exclude []string
}

// Truncate renders cause as text: the message line, the retained frames and
// any wrapped causes.
func (f StackFilter) Truncate(cause *ledger.FailureCause) string {
	if cause == nil {
		return ""
	}

	var b strings.Builder
	for c := cause; c != nil; c = c.Cause {
		if c != cause {
			b.WriteString("Caused by: ")
		}
		b.WriteString(c.Message)
		b.WriteString("\n")

		for _, fr := range c.Frames[:f.keep(c.Frames)] {
			fmt.Fprintf(&b, "    %s(%s:%d)\n", fr.Function, fr.File, fr.Line)
		}
	}
	return b.String()
}

// keep returns how many leading frames to retain.
func (f StackFilter) keep(frames []ledger.Frame) int {
	if f.Namespace == "" {
		return len(frames)
	}
	lowest := -1
	for i, fr := range frames {
		if strings.HasPrefix(fr.Function, f.Namespace) && !f.excluded(fr.Function) {
			lowest = i
		}
	}
	return lowest + 1
}

func (f StackFilter) excluded(function string) bool {
	for _, prefix := range f.Exclude {
		if strings.HasPrefix(function, prefix) {
			return true
		}
	}
	return false
}

// Narrative builds the failure text for rec: the fully qualified method, the
// truncated cause when there is one and one line per parameter, followed by
// a blank line.
func (f StackFilter) Narrative(rec ledger.Record) string {
	return f.narrative(rec, true)
}

// ConfigurationNarrative is Narrative without the parameter lines.
func (f StackFilter) ConfigurationNarrative(rec ledger.Record) string {
	return f.narrative(rec, false)
}

func (f StackFilter) narrative(rec ledger.Record, params bool) string {
	var b strings.Builder
	b.WriteString("Failed Test:  ")
	b.WriteString(rec.FQMethod())
	b.WriteString("\n")
	if rec.Cause != nil {
		b.WriteString("Failure Cause:  ")
		b.WriteString(f.Truncate(rec.Cause))
	}
	if params {
		for i, p := range rec.Params {
			fmt.Fprintf(&b, "parameter[%d]: %v\n", i, p)
		}
	}
	b.WriteString("\n\n")
	return b.String()
}

// FailureLog collects failure narratives in the order they happened.
// Configuration failures are kept in the narratives but not in Methods.
type FailureLog struct {
	mu             sync.Mutex
	narratives     strings.Builder
	methods        []string
	configurations int
}

// NewFailureLog creates an empty failure log.
func NewFailureLog() *FailureLog {
	return &FailureLog{}
}

// Add appends a narrative and the fully qualified method it belongs to.
func (l *FailureLog) Add(fqMethod, narrative string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.narratives.WriteString(narrative)
	l.methods = append(l.methods, fqMethod)
}

// AddConfiguration appends the narrative of a configuration failure.
func (l *FailureLog) AddConfiguration(narrative string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.narratives.WriteString(narrative)
	l.configurations++
}

// Configurations returns the number of configuration failures added.
func (l *FailureLog) Configurations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.configurations
}

// Narratives returns every narrative added so far, concatenated.
func (l *FailureLog) Narratives() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.narratives.String()
}

// Methods returns the failing test methods in failure order, duplicates
// included.
func (l *FailureLog) Methods() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.methods))
	copy(out, l.methods)
	return out
}

// Repeat is a run of identical adjacent entries.
type Repeat struct {
	Name  string
	Count int
}

// CollapseAdjacent merges runs of equal adjacent names. Equal names that are
// not adjacent stay separate.
func CollapseAdjacent(names []string) []Repeat {
	var out []Repeat
	for _, name := range names {
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Count++
			continue
		}
		out = append(out, Repeat{Name: name, Count: 1})
	}
	return out
}
