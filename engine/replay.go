package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ansel1/tally/parser"
)

// replayLine is one recorded line and how long to wait before releasing it.
type replayLine struct {
	data  []byte // Line including its trailing newline
	delay time.Duration
}

// ReplayReader replays a recorded go test -json stream, reproducing the
// gaps between event timestamps scaled by a rate. A rate of 1 replays in
// real time, 0.5 twice as fast, and 0 without any delay.
type ReplayReader struct {
	lines   []replayLine
	current []byte
	idx     int
	sleep   func(time.Duration)
}

// ReplayOption configures a ReplayReader.
type ReplayOption func(*ReplayReader)

// WithSleep replaces time.Sleep.
func WithSleep(sleep func(time.Duration)) ReplayOption {
	return func(r *ReplayReader) {
		r.sleep = sleep
	}
}

// NewReplayReader reads the whole recording up front and computes the delay
// before each line. Lines without a timestamp are released immediately after
// the line before them.
func NewReplayReader(r io.Reader, rate float64, opts ...ReplayOption) (*ReplayReader, error) {
	rr := &ReplayReader{sleep: time.Sleep}
	for _, opt := range opts {
		opt(rr)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var last time.Time
	for scanner.Scan() {
		data := append(bytes.Clone(scanner.Bytes()), '\n')
		line := replayLine{data: data}

		if evt, err := parser.ParseEvent(scanner.Bytes()); err == nil && !evt.Time.IsZero() {
			if !last.IsZero() && rate > 0 {
				if gap := evt.Time.Sub(last); gap > 0 {
					line.delay = time.Duration(float64(gap) * rate)
				}
			}
			last = evt.Time
		}
		rr.lines = append(rr.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay input: %w", err)
	}
	return rr, nil
}

// Read implements io.Reader, releasing one line at a time after its delay.
func (r *ReplayReader) Read(p []byte) (int, error) {
	if len(r.current) == 0 {
		if r.idx >= len(r.lines) {
			return 0, io.EOF
		}
		line := r.lines[r.idx]
		r.idx++
		if line.delay > 0 {
			r.sleep(line.delay)
		}
		r.current = line.data
	}

	n := copy(p, r.current)
	r.current = r.current[n:]
	return n, nil
}
