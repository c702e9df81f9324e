package results

import (
	"regexp"
	"strings"
	"time"

	"github.com/ansel1/tally/interleave"
)

// PackageMethod is the method name used for failures that belong to a
// package as a whole rather than one of its tests.
const PackageMethod = "(package)"

var testFuncName = regexp.MustCompile(`^(Test|Benchmark|Example|Fuzz)([^a-z].*)?$`)

// IsTestFunc reports whether name looks like a function go test would run.
func IsTestFunc(name string) bool {
	return testFuncName.MatchString(name)
}

// topLevel returns the top-level test a (sub)test belongs to.
func topLevel(test string) string {
	if i := strings.IndexByte(test, '/'); i >= 0 {
		return test[:i]
	}
	return test
}

// packageState tracks one package's run as events arrive.
type packageState struct {
	Name        string
	Subject     *interleave.Subject
	StartTime   time.Time
	Output      []string // Package-level output, kept for package failures
	FailedTests int
	Tests       map[string]*testState // Top-level test name -> state
	Finished    bool
}

// testState tracks one top-level test invocation.
type testState struct {
	Name   string
	Output []string // Output of the test and its subtests
}

func newPackageState(name string, start time.Time) *packageState {
	return &packageState{
		Name:      name,
		Subject:   interleave.NewSubject(name),
		StartTime: start,
		Tests:     make(map[string]*testState),
	}
}

// test returns the state for a top-level test, creating it on first use.
func (p *packageState) test(name string) *testState {
	t, exists := p.Tests[name]
	if !exists {
		t = &testState{Name: name}
		p.Tests[name] = t
	}
	return t
}
