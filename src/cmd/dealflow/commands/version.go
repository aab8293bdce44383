package commands

import (
	"fmt"

	"dealflow/src/internal/version"
)

// VersionCommand prints build information.
type VersionCommand struct{}

func NewVersionCommand() *VersionCommand {
	return &VersionCommand{}
}

func (c *VersionCommand) Execute(args []string) error {
	fmt.Println(version.String())
	return nil
}

func (c *VersionCommand) Description() string {
	return "Show version information"
}

func (c *VersionCommand) Help() string {
	return `Version Command - Show dealflow version information

Usage:
  dealflow version
  dealflow -v
  dealflow --version
`
}
