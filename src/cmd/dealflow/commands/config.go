package commands

import (
	"fmt"
	"io"
	"os"

	"dealflow/src/internal/config"

	"github.com/spf13/pflag"
)

// ConfigCommand writes and checks configuration files.
type ConfigCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewConfigCommand() *ConfigCommand {
	return &ConfigCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (cc *ConfigCommand) Execute(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("config requires a subcommand: write or check")
	}

	switch args[0] {
	case "write":
		if len(args) < 2 {
			return fmt.Errorf("config write requires a path")
		}
		if err := config.Defaults().SaveToFile(args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cc.output, "Default configuration written to %s\n", args[1])
		return nil

	case "check":
		fs := pflag.NewFlagSet("config check", pflag.ContinueOnError)
		fs.SetOutput(cc.errOut)
		fs.ParseErrorsWhitelist.UnknownFlags = true
		configFile := fs.StringP("config", "c", "", "Config file path")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *configFile != "" {
			os.Setenv("DEALFLOW_CONFIG_FILE", *configFile)
		}

		if _, err := config.Load(config.OverrideArgs(args[1:])); err != nil {
			return err
		}
		fmt.Fprintf(cc.output, "Configuration OK: %s\n", config.GetConfigPath())
		return nil

	default:
		return fmt.Errorf("unknown config subcommand: %s", args[0])
	}
}

func (cc *ConfigCommand) Description() string {
	return "Write a default config file or validate one"
}

func (cc *ConfigCommand) Help() string {
	return `Config Command - Manage configuration files

Usage:
  dealflow config write <path>          Write the default configuration as TOML
  dealflow config check [-c <path>]     Load and validate the configuration

Backend url and api_key have no defaults; set them in the written file or
through DEALFLOW_BACKEND_URL and DEALFLOW_BACKEND_API_KEY.
`
}
