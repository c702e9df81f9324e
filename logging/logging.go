// Package logging builds the logrus logger used for diagnostics.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// New creates a text logger writing to w at the named level.
func New(level string, w io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableQuote:     true,
	})
	return logger, nil
}
