package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-jsbridge/internal/command"
	"github.com/joeycumines/go-jsbridge/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runJSB runs the CLI against a private config file.
func runJSB(t *testing.T, configContent string, args ...string) (string, string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if configContent != "" {
		require.NoError(t, os.WriteFile(path, []byte(configContent), 0o644))
	}
	t.Setenv(config.EnvConfig, path)
	var stdout, stderr syncBuffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRun_Help(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}, {"help"}} {
		stdout, _, err := runJSB(t, "", args...)
		require.NoError(t, err)
		assert.Contains(t, stdout, "Available commands:")
		for _, name := range []string{"config", "eval", "help", "repl", "run", "version"} {
			assert.Contains(t, stdout, "  "+name+" ")
		}
	}
}

func TestRun_Version(t *testing.T) {
	stdout, _, err := runJSB(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "jsb version "+version+"\n", stdout)
}

func TestRun_UnknownCommand(t *testing.T) {
	_, stderr, err := runJSB(t, "", "frobnicate")
	require.Error(t, err)
	assert.Equal(t, "Unknown command: frobnicate\nUse 'jsb help' to see available commands.\n", stderr)
}

func TestRun_FlagHelp(t *testing.T) {
	_, stderr, err := runJSB(t, "", "eval", "-h")
	require.ErrorIs(t, err, flag.ErrHelp)
	assert.True(t, strings.HasPrefix(stderr, "Usage: jsb eval [options] <code> [args...]\n"), stderr)
	assert.Contains(t, stderr, "-print")
}

func TestRun_Eval(t *testing.T) {
	stdout, _, err := runJSB(t, "", "eval", "-p", "[1, 2].map(x => x * 10)")
	require.NoError(t, err)
	assert.Equal(t, "[ 10, 20 ]\n", stdout)

	_, stderr, err := runJSB(t, "", "eval", "null.x")
	require.ErrorIs(t, err, command.ErrUncaught)
	assert.Contains(t, stderr, "TypeError")
}

func TestRun_ConfigFile(t *testing.T) {
	stdout, _, err := runJSB(t, "[repl]\npreview-width 12\n", "eval", "-p", "({alpha: 1, beta: 2})")
	require.NoError(t, err)
	assert.Equal(t, "{\n  alpha: 1,\n  beta: 2\n}\n", stdout)

	stdout, _, err = runJSB(t, "log.level debug\n", "config", "log.level")
	require.NoError(t, err)
	assert.Equal(t, "log.level: debug\n", stdout)
}

func TestRun_ConfigSetUsesConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	t.Setenv(config.EnvConfig, path)
	var stdout, stderr syncBuffer
	require.NoError(t, run([]string{"config", "log.max-files", "2"}, &stdout, &stderr))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log.max-files 2", string(data))
}

func TestRun_BadConfigFallsBack(t *testing.T) {
	stdout, stderr, err := runJSB(t, "[unterminated\n", "version")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Warning: ")
	assert.Equal(t, "jsb version "+version+"\n", stdout)
}
