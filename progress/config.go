// Package progress prints a one-line status every time the test run moves on
// to a new subject.
package progress

import (
	"regexp"
	"strings"
)

// Tokens recognized by ParseConfig.
const (
	TokenNone          = "none"
	TokenAll           = "all"
	TokenDefault       = "default"
	TokenTime          = "time"
	TokenCount         = "count"
	TokenMemory        = "memory"
	TokenMemoryGCs     = "gcs" // not advertised; only useful when chasing memory problems
	TokenThreadCount   = "threadcount"
	TokenThreadChanges = "threadchanges"
)

var tokenSeparator = regexp.MustCompile(`\W+`)

// Config selects which channels appear on each progress line.
type Config struct {
	None          bool // Suppress all progress output, including the legend
	Time          bool // Elapsed time and time since the last line
	Count         bool // Classes, methods, invocations and failures so far
	Memory        bool // Settled heap usage and change since the last line
	MemoryGCs     bool // Collections needed to settle the heap and how long they took
	ThreadCount   bool // Live goroutines
	ThreadChanges bool // Goroutines started or finished since the last line
}

// DefaultConfig returns the configuration used when nothing is specified:
// time and count channels on, everything else off.
func DefaultConfig() Config {
	return Config{Time: true, Count: true}
}

// AllConfig returns a configuration with every channel on.
func AllConfig() Config {
	return Config{
		Time:          true,
		Count:         true,
		Memory:        true,
		MemoryGCs:     true,
		ThreadCount:   true,
		ThreadChanges: true,
	}
}

// ParseConfig builds a Config from a free-form token list such as
// "time, memory threadcount". Tokens are case-insensitive and separated by
// any run of non-word characters. Unknown tokens are ignored.
//
// An empty list keeps the defaults. "none" anywhere turns everything off and
// wins over every other token; otherwise "all" turns everything on. Without
// either, each channel is on only if its token is present, and "default"
// additionally turns the default channels back on.
func ParseConfig(s string) Config {
	tokens := make(map[string]bool)
	for _, tok := range tokenSeparator.Split(strings.ToLower(s), -1) {
		if tok != "" {
			tokens[tok] = true
		}
	}

	switch {
	case len(tokens) == 0:
		return DefaultConfig()
	case tokens[TokenNone]:
		return Config{None: true}
	case tokens[TokenAll]:
		return AllConfig()
	}

	cfg := Config{
		Time:          tokens[TokenTime],
		Count:         tokens[TokenCount],
		Memory:        tokens[TokenMemory],
		MemoryGCs:     tokens[TokenMemoryGCs],
		ThreadCount:   tokens[TokenThreadCount],
		ThreadChanges: tokens[TokenThreadChanges],
	}
	if tokens[TokenDefault] {
		cfg.Time = true
		cfg.Count = true
	}
	return cfg
}

// Channels returns the tokens of the enabled channels, in line order.
func (c Config) Channels() []string {
	if c.None {
		return []string{TokenNone}
	}
	var out []string
	for _, ch := range []struct {
		on  bool
		tok string
	}{
		{c.Time, TokenTime},
		{c.Count, TokenCount},
		{c.Memory, TokenMemory},
		{c.MemoryGCs, TokenMemoryGCs},
		{c.ThreadCount, TokenThreadCount},
		{c.ThreadChanges, TokenThreadChanges},
	} {
		if ch.on {
			out = append(out, ch.tok)
		}
	}
	return out
}

// Legend returns the lines explaining how to read a progress line.
func (c Config) Legend() []string {
	if c.None {
		return nil
	}

	lines := []string{"How to read the progressive status info:"}
	if c.Time {
		lines = append(lines, "  Test duration status: {Total min:sec.  Since last status sec.}")
	}
	if c.Count {
		lines = append(lines, "  Test count status:  {# test classes  # test methods  # test method invocations  # test failures}.")
	}
	if c.Memory {
		lines = append(lines, "  Memory usage status: {MB in use  +/-change since last status}")
	}
	if c.MemoryGCs {
		lines = append(lines, "  GCs during status:  {GCs done to settle used memory   time to do it}")
	}
	if c.ThreadCount {
		lines = append(lines, "  Thread count status:  {#td number of live goroutines}")
	}
	if c.ThreadChanges {
		lines = append(lines, "  Thread change status: +/- goroutine name for new or finished goroutines since last status")
	}
	lines = append(lines, "  TestClass (the class that just completed)")
	return lines
}
