package ledger

import (
	"sort"
	"sync"
	"time"
)

// MethodAggregate holds running statistics for one test method across all its invocations.
type MethodAggregate struct {
	class       string
	method      string
	invocations int
	duration    time.Duration
	counts      [NumOutcomes]int
}

// Class returns the class the method belongs to.
func (m *MethodAggregate) Class() string { return m.class }

// Method returns the unqualified method name.
func (m *MethodAggregate) Method() string { return m.method }

// FQMethod returns "class#method".
func (m *MethodAggregate) FQMethod() string { return FQMethod(m.class, m.method) }

// Invocations returns the number of recorded invocations.
func (m *MethodAggregate) Invocations() int { return m.invocations }

// Duration returns the cumulative duration of all invocations.
func (m *MethodAggregate) Duration() time.Duration { return m.duration }

// Count returns the number of invocations that ended with the given outcome.
func (m *MethodAggregate) Count(o Outcome) int { return m.counts[o.bucket()] }

func (m *MethodAggregate) add(r Record, bucket int) {
	m.invocations++
	m.duration += r.Duration()
	m.counts[bucket]++
}

// ClassAggregate holds running statistics for one test class and owns its methods.
type ClassAggregate struct {
	name        string
	methods     map[string]*MethodAggregate
	methodOrder []*MethodAggregate // First-seen order
	invocations int
	duration    time.Duration
	counts      [NumOutcomes]int
}

// Name returns the qualified class name.
func (c *ClassAggregate) Name() string { return c.name }

// Invocations returns the number of recorded invocations across all methods.
func (c *ClassAggregate) Invocations() int { return c.invocations }

// Duration returns the cumulative duration across all methods.
func (c *ClassAggregate) Duration() time.Duration { return c.duration }

// Count returns the number of invocations that ended with the given outcome.
func (c *ClassAggregate) Count(o Outcome) int { return c.counts[o.bucket()] }

// Methods returns the class's methods in first-seen order.
func (c *ClassAggregate) Methods() []*MethodAggregate {
	out := make([]*MethodAggregate, len(c.methodOrder))
	copy(out, c.methodOrder)
	return out
}

func (c *ClassAggregate) methodFor(name string) *MethodAggregate {
	m, exists := c.methods[name]
	if !exists {
		m = &MethodAggregate{class: c.name, method: name}
		c.methods[name] = m
		c.methodOrder = append(c.methodOrder, m)
	}
	return m
}

// Ledger is the single point of mutation for recorded results.
//
// Classes are kept in first-seen order. A single RWMutex guards the whole
// ledger, so every Record is atomic with respect to readers.
type Ledger struct {
	mu         sync.RWMutex
	classes    map[string]*ClassAggregate
	classOrder []*ClassAggregate
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		classes: make(map[string]*ClassAggregate),
	}
}

// Record adds one result. Unknown outcomes are counted in the invalid bucket.
func (l *Ledger) Record(r Record) {
	bucket := r.Outcome.bucket()

	l.mu.Lock()
	defer l.mu.Unlock()

	cls, exists := l.classes[r.Class]
	if !exists {
		cls = &ClassAggregate{
			name:    r.Class,
			methods: make(map[string]*MethodAggregate),
		}
		l.classes[r.Class] = cls
		l.classOrder = append(l.classOrder, cls)
	}

	cls.invocations++
	cls.duration += r.Duration()
	cls.counts[bucket]++
	cls.methodFor(r.Method).add(r, bucket)
}

// Classes returns all classes in first-seen order.
func (l *Ledger) Classes() []*ClassAggregate {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*ClassAggregate, len(l.classOrder))
	copy(out, l.classOrder)
	return out
}

// ClassesByDuration returns all classes sorted by cumulative duration, longest
// first. Classes with equal durations keep their first-seen order.
func (l *Ledger) ClassesByDuration() []*ClassAggregate {
	classes := l.Classes()
	sort.SliceStable(classes, func(i, j int) bool {
		return classes[i].duration > classes[j].duration
	})
	return classes
}

// MethodsByDuration flattens the methods of every class, sorts them by
// cumulative duration (longest first, stable) and keeps at most limit of them.
// A limit <= 0 keeps everything.
func (l *Ledger) MethodsByDuration(limit int) []*MethodAggregate {
	l.mu.RLock()
	methods := make([]*MethodAggregate, 0, l.countMethodsLocked())
	for _, cls := range l.classOrder {
		methods = append(methods, cls.methodOrder...)
	}
	l.mu.RUnlock()

	sort.SliceStable(methods, func(i, j int) bool {
		return methods[i].duration > methods[j].duration
	})
	if limit > 0 && len(methods) > limit {
		methods = methods[:limit]
	}
	return methods
}

// CountClasses returns the number of distinct classes seen.
func (l *Ledger) CountClasses() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.classOrder)
}

// CountMethods returns the number of distinct methods seen across all classes.
func (l *Ledger) CountMethods() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.countMethodsLocked()
}

func (l *Ledger) countMethodsLocked() int {
	count := 0
	for _, cls := range l.classOrder {
		count += len(cls.methodOrder)
	}
	return count
}

// CountInvocations returns the total number of recorded results.
func (l *Ledger) CountInvocations() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, cls := range l.classOrder {
		count += cls.invocations
	}
	return count
}

// CountByOutcome returns the number of recorded results with the given outcome.
func (l *Ledger) CountByOutcome(o Outcome) int {
	bucket := o.bucket()

	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, cls := range l.classOrder {
		count += cls.counts[bucket]
	}
	return count
}
