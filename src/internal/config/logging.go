package config

import (
	"fmt"
	"slices"

	lconfig "github.com/lixenwraith/config"
)

// Service log outputs
const (
	LogOutputNone   = "none"
	LogOutputStdout = "stdout"
	LogOutputStderr = "stderr"
	LogOutputSplit  = "split" // debug/info to stdout, warn/error to stderr
	LogOutputFile   = "file"
	LogOutputAll    = "all" // stderr and file
)

// LogConfig controls dealflow's own diagnostics: startup, delivery
// failures, backend errors. Application log rows are shaped by
// [pipeline] instead and never pass through here.
type LogConfig struct {
	Output string `toml:"output"`
	Level  string `toml:"level"`

	// "txt" or "json", for console and file alike
	Format string `toml:"format"`

	// Rotating file output, used by "file" and "all"
	Dir       string  `toml:"dir"`
	FileName  string  `toml:"file_name"`
	RotateMB  int64   `toml:"rotate_mb"`
	KeepMB    int64   `toml:"keep_mb"`
	KeepHours float64 `toml:"keep_hours"`
}

// DefaultLogConfig keeps diagnostics on stderr so they stay apart from the
// endpoint banner on stdout.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Output:    LogOutputStderr,
		Level:     "info",
		Format:    "txt",
		Dir:       "./logs",
		FileName:  "dealflow-service",
		RotateMB:  50,
		KeepMB:    500,
		KeepHours: 72,
	}
}

// WritesConsole reports whether any console stream is enabled.
func (c *LogConfig) WritesConsole() bool {
	switch c.Output {
	case LogOutputStdout, LogOutputStderr, LogOutputSplit, LogOutputAll:
		return true
	}
	return false
}

// WritesFile reports whether the rotating file is enabled.
func (c *LogConfig) WritesFile() bool {
	return c.Output == LogOutputFile || c.Output == LogOutputAll
}

// ConsoleTarget is the console stream name understood by the service
// logger. "all" mirrors to stderr.
func (c *LogConfig) ConsoleTarget() string {
	if c.Output == LogOutputAll {
		return LogOutputStderr
	}
	return c.Output
}

func validateLogConfig(cfg *LogConfig) error {
	if cfg == nil {
		return fmt.Errorf("missing logging section")
	}

	outputs := []string{LogOutputNone, LogOutputStdout, LogOutputStderr, LogOutputSplit, LogOutputFile, LogOutputAll}
	if !slices.Contains(outputs, cfg.Output) {
		return fmt.Errorf("invalid log output mode %q (valid: %v)", cfg.Output, outputs)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	if cfg.Format != "" && cfg.Format != "txt" && cfg.Format != "json" {
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	if cfg.WritesFile() {
		if err := lconfig.NonEmpty(cfg.Dir); err != nil {
			return fmt.Errorf("file output requires logging.dir")
		}
		if err := lconfig.NonEmpty(cfg.FileName); err != nil {
			return fmt.Errorf("file output requires logging.file_name")
		}
		if cfg.RotateMB <= 0 || cfg.KeepMB < cfg.RotateMB {
			return fmt.Errorf("logging.keep_mb (%d) must be at least rotate_mb (%d) and rotate_mb positive", cfg.KeepMB, cfg.RotateMB)
		}
	}
	return nil
}
