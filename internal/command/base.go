// Package command implements the jsb subcommands.
package command

import (
	"flag"
	"io"
)

// Command is a jsb subcommand.
type Command interface {
	// Name is the word that selects the command on the command line.
	Name() string

	// Description is a one-line summary shown by help.
	Description() string

	// Usage is the synopsis shown by help, without the program name.
	Usage() string

	// SetupFlags registers the command's flags. It is called before
	// parsing, and again on a scratch FlagSet when help prints the flags.
	SetupFlags(fs *flag.FlagSet)

	// Execute runs the command with the positional arguments that remain
	// after flag parsing.
	Execute(args []string, stdout, stderr io.Writer) error
}

// BaseCommand carries the descriptive parts of a Command.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{
		name:        name,
		description: description,
		usage:       usage,
	}
}

func (c *BaseCommand) Name() string { return c.name }

func (c *BaseCommand) Description() string { return c.description }

func (c *BaseCommand) Usage() string { return c.usage }

// SetupFlags registers no flags.
func (c *BaseCommand) SetupFlags(*flag.FlagSet) {}
