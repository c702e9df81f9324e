// Package interleave detects tests for one subject resuming after tests for
// another subject have already run.
package interleave

import (
	"strings"
	"sync"
)

// Subject is an opaque handle for the fixture a test runs against. Two
// subjects are the same only if they are the same pointer; the class name is
// just a label.
type Subject struct {
	class string
}

// NewSubject returns a new, distinct subject for the given class.
func NewSubject(class string) *Subject {
	return &Subject{class: class}
}

// Class returns the qualified class name of the subject.
func (s *Subject) Class() string {
	return s.class
}

// ShortName returns the class name without its package qualifier.
func (s *Subject) ShortName() string {
	name := s.class
	if i := strings.LastIndexAny(name, "/."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// Listener is notified every time the active subject changes. previous is the
// subject whose tests just finished, or nil if no subject was active yet.
type Listener interface {
	SubjectChanged(previous *Subject)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(previous *Subject)

// SubjectChanged calls f(previous).
func (f ListenerFunc) SubjectChanged(previous *Subject) { f(previous) }

// Detector tracks the active subject and flags classes whose tests ran
// interleaved with other classes.
type Detector struct {
	mu          sync.Mutex
	listener    Listener
	current     *Subject
	finished    map[*Subject]struct{}
	interleaved []string
	flagged     map[string]struct{}
}

// NewDetector creates a detector. listener may be nil.
func NewDetector(listener Listener) *Detector {
	return &Detector{
		listener: listener,
		finished: make(map[*Subject]struct{}),
		flagged:  make(map[string]struct{}),
	}
}

// Check moves the detector to subject s.
//
// Nothing happens while s is the active subject. Otherwise the listener is
// told about the previous subject before any state changes, the previous
// subject is marked finished, and if s had already finished its class is
// flagged as interleaved. Check(nil) notifies the listener about the last
// active subject and is used to flush progress at the end of a run.
func (d *Detector) Check(s *Subject) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s != nil && s == d.current {
		return
	}

	if d.listener != nil {
		d.listener.SubjectChanged(d.current)
	}

	if d.current != nil {
		d.finished[d.current] = struct{}{}
	}

	if s != nil {
		if _, seen := d.finished[s]; seen {
			if _, dup := d.flagged[s.class]; !dup {
				d.flagged[s.class] = struct{}{}
				d.interleaved = append(d.interleaved, s.class)
			}
		}
	}

	d.current = s
}

// Flush notifies the listener about the last active subject. The detector is
// left with no active subject.
func (d *Detector) Flush() {
	d.Check(nil)
}

// Current returns the active subject, or nil.
func (d *Detector) Current() *Subject {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Interleaved returns the flagged classes in the order they were flagged.
func (d *Detector) Interleaved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]string, len(d.interleaved))
	copy(out, d.interleaved)
	return out
}
