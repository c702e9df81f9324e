package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchdogPauser pauses by creating a temporary file and waiting for the user
// to delete it.
type WatchdogPauser struct {
	Dir          string        // Where watchdog files are created; os.TempDir() if empty
	Console      io.Writer     // Where the instructions are printed
	Logger       logrus.FieldLogger
	PollInterval time.Duration // Fallback check interval; one second if zero

	// created is called with the watchdog path once it exists.
	created func(path string)
}

// Pause blocks until the watchdog file is gone or ctx is done.
func (p *WatchdogPauser) Pause(ctx context.Context, fqMethod string) error {
	f, err := os.CreateTemp(p.Dir, "test-paused-*.watchdog")
	if err != nil {
		return fmt.Errorf("failed to create watchdog file: %w", err)
	}
	path := f.Name()
	f.Close()

	if p.Console != nil {
		fmt.Fprintf(p.Console, "\nPaused after %s failed. Delete this file to continue:\n  %s\n", fqMethod, path)
	}
	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{"method": fqMethod, "watchdog": path}).Info("Paused on test failure")
	}
	if p.created != nil {
		p.created(path)
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Without a watcher the ticker alone notices the removal.
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(path)); err == nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	for {
		select {
		case <-ctx.Done():
			os.Remove(path)
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(event.Name) == filepath.Clean(path) && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return nil
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			if p.Logger != nil {
				p.Logger.WithError(err).Debug("Watchdog watcher error")
			}
		case <-ticker.C:
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				return nil
			}
		}
	}
}
