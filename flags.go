package main

import (
	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "TALLY_"

var (
	InputFile = &cli.StringFlag{
		Name:  "f",
		Usage: "Read from file instead of stdin",
	}
	Replay = &cli.BoolFlag{
		Name:  "replay",
		Usage: "Replay events with timing from original test run (requires -f)",
	}
	Rate = &cli.Float64Flag{
		Name:    "rate",
		Value:   1.0,
		EnvVars: []string{EnvVarPrefix + "REPLAY_RATE"},
		Usage:   "Replay rate multiplier (0=instant, 1=original speed, 0.5=2x speed)",
	}
	Outfile = &cli.StringFlag{
		Name:  "outfile",
		Usage: "Save all input to the specified file",
	}
	JSONFile = &cli.StringFlag{
		Name:  "jsonfile",
		Usage: "Save JSON events to the specified file",
	}
	NoTTY = &cli.BoolFlag{
		Name:  "notty",
		Usage: "Don't use TUI, output to stdout",
	}
	ConfigFile = &cli.StringFlag{
		Name:    "config",
		EnvVars: []string{EnvVarPrefix + "CONFIG"},
		Usage:   "Path to a YAML config file (default: .tally.yml if present)",
	}
	OutputDir = &cli.StringFlag{
		Name:    "output-dir",
		Value:   ".",
		EnvVars: []string{EnvVarPrefix + "OUTPUT_DIR"},
		Usage:   "Directory for the report file and the test failure marker",
	}
	Progress = &cli.StringFlag{
		Name:    "progress",
		EnvVars: []string{"TEST_PROGRESS", EnvVarPrefix + "PROGRESS"},
		Usage:   "Progress channels: time, count, memory, threadcount, threadchanges, none",
	}
	Namespace = &cli.StringFlag{
		Name:    "namespace",
		EnvVars: []string{EnvVarPrefix + "NAMESPACE"},
		Usage:   "Function prefix of the code under test; failure stack traces are cut below it",
	}
	PauseOnFailure = &cli.BoolFlag{
		Name:    "pause-on-failure",
		EnvVars: []string{"TEST_PAUSE_ON_FAILURE", EnvVarPrefix + "PAUSE_ON_FAILURE"},
		Usage:   "Wait for a watchdog file to be deleted after every test failure",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   0,
		EnvVars: []string{EnvVarPrefix + "POLL_INTERVAL"},
		Usage:   "How often a paused run checks the watchdog file without file notifications",
	}
	MetricsFile = &cli.StringFlag{
		Name:    "metrics-file",
		EnvVars: []string{EnvVarPrefix + "METRICS_FILE"},
		Usage:   "Write Prometheus metrics for the run to this file",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: []string{EnvVarPrefix + "LOG_LEVEL"},
		Usage:   "Diagnostics log level: trace, debug, info, warn, error",
	}
	FailExit = &cli.BoolFlag{
		Name:    "fail-exit",
		EnvVars: []string{EnvVarPrefix + "FAIL_EXIT"},
		Usage:   "Exit with status 1 when any test failed",
	}
)

var Flags = []cli.Flag{
	InputFile,
	Replay,
	Rate,
	Outfile,
	JSONFile,
	NoTTY,
	ConfigFile,
	OutputDir,
	Progress,
	Namespace,
	PauseOnFailure,
	PollInterval,
	MetricsFile,
	LogLevel,
	FailExit,
}
