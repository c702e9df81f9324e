package progress

import (
	"bytes"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"
)

// maxSettleIterations bounds the heap settle loop.
const maxSettleIterations = 100

// MemorySample is the result of settling the heap.
type MemorySample struct {
	Bytes      uint64        // Heap in use after settling
	Iterations int           // Collections it took
	Elapsed    time.Duration // Time spent settling
}

// MB returns the sample size in megabytes.
func (m MemorySample) MB() float64 {
	return bytesToMB(m.Bytes)
}

func bytesToMB(b uint64) float64 {
	return float64(b) / (1024.0 * 1024.0)
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

func collect() {
	runtime.GC()
	runtime.Gosched()
	runtime.Gosched()
}

// settle repeatedly collects garbage until heap usage stops dropping or the
// iteration cap is reached. The reading is a best-effort estimate for
// diagnostics only.
func settle(read func() uint64, reclaim func(), now func() time.Time) MemorySample {
	begin := now()
	cur := read()
	prev := uint64(math.MaxUint64)

	n := 0
	for ; prev > cur && n < maxSettleIterations; n++ {
		reclaim()
		prev = cur
		cur = read()
	}

	return MemorySample{Bytes: cur, Iterations: n, Elapsed: now().Sub(begin)}
}

// stackDump returns the stacks of every goroutine.
func stackDump() []byte {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// GoroutineDump returns a text dump of all goroutine stacks.
func GoroutineDump() string {
	return string(stackDump())
}

// GoroutineNames names every live goroutine and returns the names sorted.
func GoroutineNames() []string {
	names := parseGoroutineNames(stackDump())
	sort.Strings(names)
	return names
}

// parseGoroutineNames names each goroutine in a runtime.Stack dump after the
// function that started it. Goroutines without a creator (main) are named
// after their outermost frame.
func parseGoroutineNames(dump []byte) []string {
	var names []string
	for _, block := range bytes.Split(dump, []byte("\n\n")) {
		lines := strings.Split(strings.TrimSpace(string(block)), "\n")
		if len(lines) == 0 || !strings.HasPrefix(lines[0], "goroutine ") {
			continue
		}

		name := ""
		for _, line := range lines[1:] {
			if strings.HasPrefix(line, "\t") {
				continue
			}
			if creator, ok := strings.CutPrefix(line, "created by "); ok {
				if i := strings.Index(creator, " in goroutine "); i >= 0 {
					creator = creator[:i]
				}
				name = creator
				break
			}
			name = trimCallArgs(line)
		}
		if name == "" {
			name = "unknown"
		}
		names = append(names, name)
	}
	return names
}

func trimCallArgs(frame string) string {
	if i := strings.LastIndex(frame, "("); i > 0 {
		return frame[:i]
	}
	return frame
}

// DiffNames compares two goroutine name lists. Duplicate names count as
// separate goroutines: each name in one list cancels at most one matching
// name in the other.
func DiffNames(prev, cur []string) (started, finished []string) {
	return removeEach(cur, prev), removeEach(prev, cur)
}

// removeEach returns base with one instance of every item in toRemove taken out.
func removeEach(base, toRemove []string) []string {
	diff := make([]string, len(base))
	copy(diff, base)
	for _, item := range toRemove {
		for i, candidate := range diff {
			if candidate == item {
				diff = append(diff[:i], diff[i+1:]...)
				break
			}
		}
	}
	return diff
}
