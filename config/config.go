// Package config loads the optional YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ansel1/tally/progress"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no file is named.
const DefaultFile = ".tally.yml"

// Config holds every setting that can come from the config file. Command
// line flags override it.
type Config struct {
	Progress       string        `yaml:"progress"`         // Progress channel tokens, e.g. "time count memory"
	OutputDir      string        `yaml:"output_dir"`       // Where results.txt and the signal marker live
	Namespace      string        `yaml:"namespace"`        // Function prefix of the code under test
	PauseOnFailure bool          `yaml:"pause_on_failure"` // Wait for a watchdog file to be deleted after each failure
	FailExit       bool          `yaml:"fail_exit"`        // Exit 1 when tests failed
	MetricsFile    string        `yaml:"metrics_file"`     // Prometheus text file written at the end of the run
	LogLevel       string        `yaml:"log_level"`
	ReplayRate     float64       `yaml:"replay_rate"`
	PollInterval   time.Duration `yaml:"poll_interval"` // Watchdog fallback check interval
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		OutputDir:    ".",
		LogLevel:     "info",
		ReplayRate:   1,
		PollInterval: time.Second,
	}
}

// Load reads the file at path on top of the defaults. An empty path tries
// DefaultFile and quietly uses the defaults when it doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values that can't be corrected silently. Progress
// tokens are never an error; unknown ones are ignored.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ReplayRate < 0 {
		return fmt.Errorf("replay_rate must not be negative, got %v", c.ReplayRate)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return nil
}

// ProgressConfig parses the progress tokens.
func (c *Config) ProgressConfig() progress.Config {
	return progress.ParseConfig(c.Progress)
}
