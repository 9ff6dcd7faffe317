package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
	// TypePathList is a list of paths joined by os.PathListSeparator.
	TypePathList OptionType = "path-list"
)

// Option declares one configuration option.
type Option struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Section is "" for global options.
	Section string
	// EnvVar, when set and present in the environment, overrides the file.
	EnvVar string
}

// Schema is the set of known options, used for validation, help output and
// resolving defaults.
type Schema struct {
	options   []*Option
	bySection map[string]map[string]*Option
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{bySection: make(map[string]map[string]*Option)}
}

// Register adds opts. A later registration of the same section and key
// replaces the earlier one.
func (s *Schema) Register(opts ...Option) {
	for _, opt := range opts {
		ref := &opt
		s.options = append(s.options, ref)
		if s.bySection[opt.Section] == nil {
			s.bySection[opt.Section] = make(map[string]*Option)
		}
		s.bySection[opt.Section][opt.Key] = ref
	}
}

// Lookup returns the option registered for section and key, or nil.
func (s *Schema) Lookup(section, key string) *Option {
	return s.bySection[section][key]
}

// find looks in section, then in the global options.
func (s *Schema) find(section, key string) *Option {
	if o := s.Lookup(section, key); o != nil {
		return o
	}
	return s.Lookup("", key)
}

// Options returns the options of a section in registration order.
func (s *Schema) Options(section string) []Option {
	var out []Option
	for _, o := range s.options {
		if o.Section == section && s.bySection[section][o.Key] == o {
			out = append(out, *o)
		}
	}
	return out
}

// Sections returns the sorted names of the non-global sections.
func (s *Schema) Sections() []string {
	var out []string
	for sec := range s.bySection {
		if sec != "" {
			out = append(out, sec)
		}
	}
	slices.Sort(out)
	return out
}

// Resolve returns the effective value of an option, checking in order the
// option's environment variable, the section value, the global value and
// the schema default.
func (s *Schema) Resolve(c *Config, section, key string) string {
	opt := s.find(section, key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if c != nil {
		if v, ok := c.Get(section, key); ok {
			return v
		}
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveBool is Resolve parsed as a boolean. An empty value is false.
func (s *Schema) ResolveBool(c *Config, section, key string) (bool, error) {
	v := s.Resolve(c, section, key)
	if v == "" {
		return false, nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", qualified(section, key), err)
	}
	return b, nil
}

// ResolveInt is Resolve parsed as an integer. An empty value is 0.
func (s *Schema) ResolveInt(c *Config, section, key string) (int, error) {
	v := s.Resolve(c, section, key)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected int, got %q", qualified(section, key), v)
	}
	return i, nil
}

// ResolveDuration is Resolve parsed as a duration. An empty value is 0.
func (s *Schema) ResolveDuration(c *Config, section, key string) (time.Duration, error) {
	v := s.Resolve(c, section, key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected duration, got %q", qualified(section, key), v)
	}
	return d, nil
}

// ResolvePaths is Resolve split on os.PathListSeparator, with empty entries
// dropped and a leading ~ expanded.
func (s *Schema) ResolvePaths(c *Config, section, key string) []string {
	var out []string
	for _, p := range strings.Split(s.Resolve(c, section, key), string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, ExpandHome(p))
		}
	}
	return out
}

func qualified(section, key string) string {
	if section == "" {
		return key
	}
	return "[" + section + "] " + key
}

// Validate reports unknown options and values that do not parse as their
// declared type, sorted.
func (s *Schema) Validate(c *Config) []string {
	var issues []string
	check := func(section, key, value string) {
		opt := s.find(section, key)
		if opt == nil {
			if section == "" {
				issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
			} else {
				issues = append(issues, fmt.Sprintf("unknown option in [%s]: %q (value: %q)", section, key, value))
			}
			return
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("option %s: %v", qualified(section, key), err))
		}
	}
	for key, value := range c.Global {
		check("", key, value)
	}
	for section, opts := range c.Sections {
		if _, known := s.bySection[section]; !known {
			issues = append(issues, fmt.Sprintf("unknown section: [%s]", section))
			continue
		}
		for key, value := range opts {
			check(section, key, value)
		}
	}
	slices.Sort(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, TypePathList, "":
		return nil
	case TypeBool:
		if _, err := ParseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp lists every option, global options first, then each section.
func (s *Schema) FormatHelp() string {
	var b strings.Builder
	if opts := s.Options(""); len(opts) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range opts {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.Options(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o Option) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var parts []string
	if o.Type != "" && o.Type != TypeString {
		parts = append(parts, "type: "+string(o.Type))
	}
	if o.Default != "" {
		parts = append(parts, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		parts = append(parts, "env: "+o.EnvVar)
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}
	b.WriteByte('\n')
}

// Section names used by jsb.
const (
	SectionEval = "eval"
	SectionLoop = "loop"
	SectionRepl = "repl"
)

// DefaultSchema declares every option jsb understands.
func DefaultSchema() *Schema {
	s := NewSchema()
	s.Register(
		Option{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "JSB_LOG_LEVEL"},
		Option{Key: "log.file", Type: TypeString, Description: "Log file path (JSON lines)", EnvVar: "JSB_LOG_FILE"},
		Option{Key: "log.max-size-mb", Type: TypeInt, Default: "10", Description: "Log file size in MB before rotation"},
		Option{Key: "log.max-files", Type: TypeInt, Default: "5", Description: "Rotated log files to keep"},
		Option{Key: "log.buffer", Type: TypeInt, Default: "1000", Description: "In-memory log entries kept for --log-tail"},
		Option{Key: "module.paths", Type: TypePathList, Description: "Extra folders searched by require()", EnvVar: "JSB_MODULE_PATHS"},

		Option{Section: SectionEval, Key: "strict", Type: TypeBool, Default: "false", Description: "Compile scripts in strict mode"},
		Option{Section: SectionEval, Key: "muted-errors", Type: TypeBool, Default: "false", Description: "Do not report unhandled rejections raised by scripts"},

		Option{Section: SectionLoop, Key: "sync-timeout", Type: TypeDuration, Default: "5s", Description: "How long a call from another goroutine waits for the loop; 0 waits forever"},
		Option{Section: SectionLoop, Key: "wait-timeout", Type: TypeDuration, Default: "0", Description: "Limit on waiting for timers after a script; 0 waits forever"},
		Option{Section: SectionLoop, Key: "max-call-stack", Type: TypeInt, Default: "0", Description: "Maximum JS call depth; 0 is unlimited"},

		Option{Section: SectionRepl, Key: "prefix", Type: TypeString, Default: "> ", Description: "Prompt prefix"},
		Option{Section: SectionRepl, Key: "history-file", Type: TypeString, Default: "~/.jsbridge/history", Description: "History file; empty disables history"},
		Option{Section: SectionRepl, Key: "history-size", Type: TypeInt, Default: "1000", Description: "History entries kept"},
		Option{Section: SectionRepl, Key: "preview-width", Type: TypeInt, Default: "80", Description: "Width at which result previews are truncated"},
	)
	return s
}
