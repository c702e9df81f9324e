package progress

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ansel1/tally/interleave"
	"github.com/ansel1/tally/ledger"
)

// Counter is the read side of the ledger the count channel reports from.
type Counter interface {
	CountClasses() int
	CountMethods() int
	CountInvocations() int
	CountByOutcome(ledger.Outcome) int
}

// Observer receives the resource readings taken for each progress line.
type Observer interface {
	ObserveMemory(bytes uint64)
	ObserveGoroutines(n int)
}

// Sampler writes a progress line every time the active subject changes.
//
// It implements interleave.Listener. Calls arrive one at a time from the
// detector; the mutex only makes the sampler's own state visible to the
// final summary.
type Sampler struct {
	mu  sync.Mutex
	cfg Config

	counter     Counter
	writer      io.Writer
	now         func() time.Time
	read        func() uint64
	reclaim     func()
	numRoutines func() int
	names       func() []string
	observer    Observer

	start         time.Time
	prevSample    time.Time
	prevMemory    uint64
	maxMemory     uint64
	prevNames     []string
	headerPrinted bool
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithWriter sends progress output to w instead of stderr.
func WithWriter(w io.Writer) Option {
	return func(s *Sampler) {
		s.writer = w
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		s.now = now
	}
}

// WithMemoryProbe replaces the heap reading and the collection used to settle it.
func WithMemoryProbe(read func() uint64, reclaim func()) Option {
	return func(s *Sampler) {
		s.read = read
		s.reclaim = reclaim
	}
}

// WithGoroutineProbe replaces the goroutine count and the goroutine name listing.
func WithGoroutineProbe(count func() int, names func() []string) Option {
	return func(s *Sampler) {
		s.numRoutines = count
		s.names = names
	}
}

// WithObserver reports every memory and goroutine reading to o.
func WithObserver(o Observer) Option {
	return func(s *Sampler) {
		s.observer = o
	}
}

// NewSampler creates a sampler. The run clock starts now.
func NewSampler(cfg Config, counter Counter, opts ...Option) *Sampler {
	s := &Sampler{
		cfg:         cfg,
		counter:     counter,
		writer:      os.Stderr,
		now:         time.Now,
		read:        heapInUse,
		reclaim:     collect,
		numRoutines: runtime.NumGoroutine,
		names:       GoroutineNames,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.now()
	s.prevSample = s.start
	return s
}

// Config returns the channel configuration.
func (s *Sampler) Config() Config {
	return s.cfg
}

// SubjectChanged writes one progress line for the subject whose tests just
// finished. previous is nil for the very first line of the run.
func (s *Sampler) SubjectChanged(previous *interleave.Subject) {
	if s.cfg.None {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if !s.headerPrinted {
		s.headerPrinted = true
		b.WriteString("\n")
		for _, line := range s.cfg.Legend() {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if s.cfg.Time {
		now := s.now()
		total := int64(now.Sub(s.start) / time.Second)
		sinceLast := now.Sub(s.prevSample).Seconds()
		fmt.Fprintf(&b, "{%2d:%02d (%3.0fs)}  ", total/60, total%60, sinceLast)
		s.prevSample = now
	}

	if s.cfg.Count {
		fmt.Fprintf(&b, "{%3dc %4dm %5di %df}  ",
			s.counter.CountClasses(),
			s.counter.CountMethods(),
			s.counter.CountInvocations(),
			s.counter.CountByOutcome(ledger.OutcomeFailure))
	}

	if s.cfg.Memory {
		sample := settle(s.read, s.reclaim, s.now)
		delta := int64(sample.Bytes) - int64(s.prevMemory)
		if sample.Bytes > s.maxMemory {
			s.maxMemory = sample.Bytes
		}
		fmt.Fprintf(&b, "{%5.1fMB  %+5.1fMB}  ", sample.MB(), float64(delta)/(1024.0*1024.0))
		if s.cfg.MemoryGCs {
			fmt.Fprintf(&b, "{%2d gcs  %4.1fs}  ", sample.Iterations, sample.Elapsed.Seconds())
		}
		s.prevMemory = sample.Bytes
		if s.observer != nil {
			s.observer.ObserveMemory(sample.Bytes)
		}
	}

	if s.cfg.ThreadCount {
		n := s.numRoutines()
		fmt.Fprintf(&b, "{#td %3d}  ", n)
		if s.observer != nil {
			s.observer.ObserveGoroutines(n)
		}
	}

	if previous == nil {
		b.WriteString(": starting\n")
	} else {
		fmt.Fprintf(&b, ": %s \n", previous.ShortName())
	}

	if s.cfg.ThreadChanges {
		current := s.names()
		started, finished := DiffNames(s.prevNames, current)
		if len(started) > 0 || len(finished) > 0 {
			b.WriteString("  Thread changes:\n")
			for _, name := range started {
				fmt.Fprintf(&b, "    + %s\n", name)
			}
			for _, name := range finished {
				fmt.Fprintf(&b, "    - %s\n", name)
			}
		}
		s.prevNames = current
	}

	io.WriteString(s.writer, b.String())
}

// Settle settles the heap and returns the reading without touching the
// per-line state.
func (s *Sampler) Settle() MemorySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settle(s.read, s.reclaim, s.now)
}

// MaxMemory returns the largest settled heap reading taken by the memory channel.
func (s *Sampler) MaxMemory() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxMemory
}

// Goroutines returns the current number of live goroutines.
func (s *Sampler) Goroutines() int {
	return s.numRoutines()
}
