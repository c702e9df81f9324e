package results

import (
	"strconv"
	"strings"

	"github.com/ansel1/tally/ledger"
)

// BuildCause turns the output of a failed test into a failure cause. Plain
// output lines become the message; the first goroutine trace found in the
// output (from a panic or a timeout) becomes the frames.
func BuildCause(lines []string) *ledger.FailureCause {
	var msg []string
	var frames []ledger.Frame
	inTrace := false
	keepFrames := false
	traced := false

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\n")

		if strings.HasPrefix(line, "goroutine ") && strings.HasSuffix(line, ":") {
			inTrace = true
			keepFrames = !traced
			traced = true
			continue
		}
		if inTrace {
			if strings.TrimSpace(line) == "" {
				inTrace = false
				continue
			}
			if strings.HasPrefix(line, "\t") || !keepFrames {
				continue
			}
			if strings.HasPrefix(line, "created by ") {
				i++ // skip its location line
				continue
			}
			fr := ledger.Frame{Function: trimCallArgs(line)}
			if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "\t") {
				fr.File, fr.Line = parseLocation(lines[i+1])
				i++
			}
			frames = append(frames, fr)
			continue
		}

		if isStatusLine(line) || strings.TrimSpace(line) == "" {
			continue
		}
		msg = append(msg, strings.TrimSpace(line))
	}

	if len(msg) == 0 && len(frames) == 0 {
		return nil
	}
	return &ledger.FailureCause{
		Message: strings.Join(msg, "\n"),
		Frames:  frames,
	}
}

// isStatusLine reports whether line is one of go test's own framing lines.
func isStatusLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"=== ", "--- ", "FAIL", "PASS", "ok  "} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func trimCallArgs(frame string) string {
	if i := strings.LastIndex(frame, "("); i > 0 {
		return frame[:i]
	}
	return frame
}

// parseLocation parses a trace location line such as
// "\t/src/pkg/file.go:42 +0x1d".
func parseLocation(line string) (string, int) {
	loc := strings.TrimSpace(line)
	if i := strings.Index(loc, " +0x"); i >= 0 {
		loc = loc[:i]
	}
	i := strings.LastIndex(loc, ":")
	if i < 0 {
		return loc, 0
	}
	n, err := strconv.Atoi(loc[i+1:])
	if err != nil {
		return loc, 0
	}
	return loc[:i], n
}
