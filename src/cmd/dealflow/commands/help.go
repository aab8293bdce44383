package commands

import (
	"fmt"
	"sort"
	"strings"
)

const generalHelpTemplate = `dealflow: deals API with a batching application log pipeline.

Usage:
  dealflow [serve] [options]
  dealflow <command> [options]

Commands:
%s

Service Options:
  -c, --config <path>        Path to configuration file (default: ~/.config/dealflow.toml)
  -q, --quiet                Hide the endpoint banner and warnings (exit reasons still print)
  -v, --version              Display version information and exit
      --log-level <level>    Service log level: debug, info, warn, error
      --log-output <mode>    Service log output: file, stdout, stderr, split, all, none
      --config-auto-reload   Apply pipeline.min_level edits from the config file while running
      --<section>.<key> <v>  Override any configuration key, e.g. --server.port 9000

Signals:
  SIGINT, SIGTERM            Stop listeners and drain the log pipeline
  SIGHUP, SIGUSR1            Flush one batch of queued logs now

Configuration Sources (Precedence: CLI > Env > File > Defaults):
  - Environment variables use the DEALFLOW_ prefix, e.g. DEALFLOW_BACKEND_API_KEY
  - DEALFLOW_CONFIG_FILE and DEALFLOW_CONFIG_DIR locate the TOML file

For command-specific help:
  dealflow help <command>
  dealflow <command> --help
`

// HelpCommand displays general or command-specific help.
type HelpCommand struct {
	router *CommandRouter
}

func NewHelpCommand(router *CommandRouter) *HelpCommand {
	return &HelpCommand{router: router}
}

func (c *HelpCommand) Execute(args []string) error {
	if len(args) > 0 && args[0] != "" {
		cmdName := args[0]
		if handler, exists := c.router.GetCommand(cmdName); exists {
			fmt.Fprint(c.router.output, handler.Help())
			return nil
		}
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Fprintf(c.router.output, generalHelpTemplate, c.formatCommandList())
	return nil
}

func (c *HelpCommand) Description() string {
	return "Display help information"
}

func (c *HelpCommand) Help() string {
	return `Help Command - Display help information

Usage:
  dealflow help              Show general help
  dealflow help <command>    Show help for a specific command
`
}

// formatCommandList returns the commands sorted by name with aligned
// descriptions.
func (c *HelpCommand) formatCommandList() string {
	commands := c.router.GetCommands()

	names := make([]string, 0, len(commands))
	maxLen := 0
	for name := range commands {
		names = append(names, name)
		maxLen = max(maxLen, len(name))
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		padding := strings.Repeat(" ", maxLen-len(name)+2)
		lines = append(lines, fmt.Sprintf("  %s%s%s", name, padding, commands[name].Description()))
	}
	return strings.Join(lines, "\n")
}
