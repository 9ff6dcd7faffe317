package config

import (
	"os"
	"path/filepath"
)

// EnvConfig overrides the configuration file path.
const EnvConfig = "JSB_CONFIG"

// Path returns $JSB_CONFIG, or ~/.jsbridge/config.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

// Dir returns the per-user directory holding the configuration and REPL
// history, ~/.jsbridge.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".jsbridge"), nil
}

// ExpandHome replaces a leading "~/" in path with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := cutHome(path)
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func cutHome(path string) (string, bool) {
	if path == "~" {
		return "", true
	}
	if len(path) >= 2 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		return path[2:], true
	}
	return "", false
}
