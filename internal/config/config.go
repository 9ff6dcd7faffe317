// Package config loads the jsb configuration file.
//
// The file is dnsmasq style: one `optionName value` per line, `#` comments,
// and `[section]` headers scoping the options that follow. Options before the
// first header are global.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is a parsed configuration file.
type Config struct {
	// Global holds options that appear before any section header.
	Global map[string]string
	// Sections holds options keyed by section then option name.
	Sections map[string]map[string]string
	// Warnings lists schema problems found while loading.
	Warnings []string
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		Global:   make(map[string]string),
		Sections: make(map[string]map[string]string),
	}
}

// Load reads the configuration from Path. A missing file is an empty
// configuration.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration at path. A missing file is an empty
// configuration. The final path component must not be a symlink.
func LoadFromPath(path string) (*Config, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses a configuration and validates it against
// DefaultSchema, recording problems as warnings.
func LoadFromReader(r io.Reader) (*Config, error) {
	c := NewConfig()
	scanner := bufio.NewScanner(r)
	var section string
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: unterminated section header %q", lineNo, line)
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			if section != "" && c.Sections[section] == nil {
				c.Sections[section] = make(map[string]string)
			}
			continue
		}
		name, value, _ := strings.Cut(line, " ")
		c.Set(section, name, strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	for _, issue := range DefaultSchema().Validate(c) {
		c.addWarning("%s", issue)
	}
	return c, nil
}

func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("config: " + msg)
}

// Get returns the option from section, falling back to the global value.
// An empty section reads only the global options.
func (c *Config) Get(section, name string) (string, bool) {
	if section != "" {
		if v, ok := c.Sections[section][name]; ok {
			return v, true
		}
	}
	v, ok := c.Global[name]
	return v, ok
}

// Set stores an option. An empty section sets a global option.
func (c *Config) Set(section, name, value string) {
	if section == "" {
		c.Global[name] = value
		return
	}
	if c.Sections[section] == nil {
		c.Sections[section] = make(map[string]string)
	}
	c.Sections[section][name] = value
}

// GetBool returns the option parsed as a boolean, or false.
func (c *Config) GetBool(section, name string) bool {
	v, ok := c.Get(section, name)
	if !ok {
		return false
	}
	b, _ := ParseBool(v)
	return b
}

// GetInt returns the option parsed as an integer, or 0.
func (c *Config) GetInt(section, name string) int {
	v, ok := c.Get(section, name)
	if !ok {
		return 0
	}
	i, _ := strconv.Atoi(v)
	return i
}

// GetDuration returns the option parsed with time.ParseDuration, or 0.
func (c *Config) GetDuration(section, name string) time.Duration {
	v, ok := c.Get(section, name)
	if !ok {
		return 0
	}
	d, _ := time.ParseDuration(v)
	return d
}

// ParseBool accepts true/false, 1/0, yes/no and on/off, ignoring case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", s)
}
