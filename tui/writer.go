package tui

import (
	"bytes"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Sender is the part of *tea.Program used by LineWriter.
type Sender interface {
	Send(msg tea.Msg)
}

// LineWriter turns writes into LineMsg values so that progress lines and
// failure narratives are printed above the live view. Once detached it writes
// straight to a fallback writer, for output produced after the program exits.
type LineWriter struct {
	mu       sync.Mutex
	program  Sender
	fallback io.Writer
	buf      []byte
}

// NewLineWriter creates a writer sending complete lines to program.
func NewLineWriter(program Sender, fallback io.Writer) *LineWriter {
	return &LineWriter{program: program, fallback: fallback}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.program == nil {
		return w.fallback.Write(p)
	}

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.program.Send(LineMsg(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Detach stops sending to the program. A partial line still buffered is
// written to the fallback writer.
func (w *LineWriter) Detach() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.program = nil
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.fallback.Write(w.buf)
	w.buf = nil
	return err
}
