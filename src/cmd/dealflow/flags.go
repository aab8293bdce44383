package main

import (
	"fmt"
	"strings"

	"dealflow/src/internal/config"

	"github.com/spf13/pflag"
)

// FlagConfig holds the flags the process needs before configuration is
// loaded. Everything else is passed through as "--section.key=value".
type FlagConfig struct {
	ConfigFile  string
	Quiet       bool
	ShowVersion bool
	LogLevel    string
	LogOutput   string
	AutoReload  bool

	// Remaining dotted overrides for the config loader
	ConfigArgs []string
}

// ParseFlags parses the serve-mode command line. Unknown flags are kept as
// config overrides rather than rejected.
func ParseFlags(args []string) (*FlagConfig, error) {
	fc := &FlagConfig{}

	fs := pflag.NewFlagSet("dealflow", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}

	fs.StringVarP(&fc.ConfigFile, "config", "c", "", "Config file path")
	fs.BoolVarP(&fc.Quiet, "quiet", "q", false, "Suppress console output")
	fs.BoolVarP(&fc.ShowVersion, "version", "v", false, "Show version information")
	fs.StringVar(&fc.LogLevel, "log-level", "", "Service log level: debug, info, warn, error")
	fs.StringVar(&fc.LogOutput, "log-output", "", "Service log output: file, stdout, stderr, split, all, none")
	fs.BoolVar(&fc.AutoReload, "config-auto-reload", false, "Apply pipeline.min_level changes from the config file while running")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fc.LogLevel != "" {
		if _, err := parseLogLevel(fc.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log-level: %s (valid: debug, info, warn, error)", fc.LogLevel)
		}
		level := strings.ToLower(fc.LogLevel)
		if level == "warning" {
			level = "warn"
		}
		fc.ConfigArgs = append(fc.ConfigArgs, "--logging.level="+level)
	}
	if fc.LogOutput != "" {
		fc.ConfigArgs = append(fc.ConfigArgs, "--logging.output="+fc.LogOutput)
	}

	fc.ConfigArgs = append(fc.ConfigArgs, config.OverrideArgs(args)...)
	return fc, nil
}
