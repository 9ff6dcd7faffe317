package command

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/joeycumines/go-jsbridge/internal/config"
)

// HelpCommand lists the commands, or describes one of them.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "jsb - run JavaScript with a two-way Go bridge")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: jsb <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'jsb help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	cmd, err := c.registry.Get(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: jsb %s\n", cmd.Usage())

	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	var buf bytes.Buffer
	fs.SetOutput(&buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand prints the build version.
type VersionCommand struct {
	*BaseCommand
	version string
}

func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	_, _ = fmt.Fprintf(stdout, "jsb version %s\n", c.version)
	return nil
}

// ConfigCommand shows, validates and edits the configuration file.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showGlobal bool
	showAll    bool
}

// NewConfigCommand returns a config command reading cfg. Values that are
// set are written to configPath; an empty configPath keeps them in memory.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Manage configuration settings",
			"config [options] [validate|schema|key [value]]",
		),
		config:     cfg,
		configPath: configPath,
	}
}

func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showGlobal, "global", false, "Show only global configuration")
	fs.BoolVar(&c.showAll, "all", false, "Show all configuration (global and sections)")
}

func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	schema := config.DefaultSchema()

	if len(args) == 0 {
		switch {
		case c.showAll:
			c.printOptions(stdout, "Global configuration:", c.config.Global)
			for _, section := range slices.Sorted(maps.Keys(c.config.Sections)) {
				c.printOptions(stdout, "["+section+"]", c.config.Sections[section])
			}
		case c.showGlobal:
			c.printOptions(stdout, "Global configuration:", c.config.Global)
		default:
			_, _ = fmt.Fprintln(stdout, "Configuration management:")
			_, _ = fmt.Fprintln(stdout, "  config <key>          - Get configuration value")
			_, _ = fmt.Fprintln(stdout, "  config <key> <value>  - Set configuration value")
			_, _ = fmt.Fprintln(stdout, "  config --global       - Show global configuration")
			_, _ = fmt.Fprintln(stdout, "  config --all          - Show all configuration")
			_, _ = fmt.Fprintln(stdout, "  config validate       - Validate configuration")
			_, _ = fmt.Fprintln(stdout, "  config schema         - Show configuration schema")
			_, _ = fmt.Fprintln(stdout, "")
			_, _ = fmt.Fprintln(stdout, "Section options are addressed as <section>.<key>, e.g. repl.prefix.")
		}
		return nil
	}

	switch args[0] {
	case "validate":
		issues := schema.Validate(c.config)
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
			return nil
		}
		_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
		}
		return nil
	case "schema":
		_, _ = fmt.Fprint(stdout, schema.FormatHelp())
		return nil
	}

	section, key := splitKey(schema, args[0])
	switch len(args) {
	case 1:
		if schema.Lookup(section, key) == nil {
			if _, ok := c.config.Get(section, key); !ok {
				_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", args[0])
				return nil
			}
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", args[0], schema.Resolve(c.config, section, key))
		return nil

	case 2:
		if section != "" {
			_, _ = fmt.Fprintf(stderr, "Only global options can be set from the command line; edit the [%s] section of the config file instead.\n", section)
			return fmt.Errorf("cannot set section option %s", args[0])
		}
		value := args[1]
		probe := config.NewConfig()
		probe.Set("", key, value)
		for _, issue := range schema.Validate(probe) {
			_, _ = fmt.Fprintf(stderr, "Warning: %s\n", issue)
		}
		c.config.Set("", key, value)

		path := c.configPath
		if path == "" {
			path, _ = config.Path()
		}
		if path != "" {
			if err := config.SetKeyInFile(path, key, value); err != nil {
				_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil
	}

	_, _ = fmt.Fprintln(stderr, "Invalid number of arguments")
	return fmt.Errorf("invalid arguments")
}

func (c *ConfigCommand) printOptions(w io.Writer, title string, options map[string]string) {
	_, _ = fmt.Fprintln(w, title)
	for _, key := range slices.Sorted(maps.Keys(options)) {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", key, options[key])
	}
}

// splitKey splits "repl.prefix" into its section and key when the prefix
// names a schema section. Dotted global keys such as "log.level" are
// returned unchanged.
func splitKey(schema *config.Schema, name string) (section, key string) {
	if sec, rest, ok := strings.Cut(name, "."); ok && slices.Contains(schema.Sections(), sec) {
		return sec, rest
	}
	return "", name
}
