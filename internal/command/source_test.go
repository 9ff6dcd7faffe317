package command

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsrequire "github.com/dop251/goja_nodejs/require"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func encodeUTF16(t *testing.T, endianness unicode.Endianness, s string) []byte {
	t.Helper()
	b, err := unicode.UTF16(endianness, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return b
}

func TestDecodeSource(t *testing.T) {
	t.Parallel()
	const src = "console.log('héllo 世界')"
	for _, tc := range []struct {
		name string
		in   []byte
		want string
	}{
		{"plain", []byte(src), src},
		{"utf8 bom", append([]byte("\xEF\xBB\xBF"), src...), src},
		{"utf16le bom", encodeUTF16(t, unicode.LittleEndian, src), src},
		{"utf16be bom", encodeUTF16(t, unicode.BigEndian, src), src},
		{"shebang", []byte("#!/usr/bin/env jsb\n" + src), "///usr/bin/env jsb\n" + src},
		{"shebang after bom", append([]byte("\xEF\xBB\xBF"), "#!jsb\nx"...), "//jsb\nx"},
		{"hash not at start", []byte(" #!x"), " #!x"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeSource(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestReadSource(t *testing.T) {
	t.Parallel()
	got, err := readSource(strings.NewReader("#!/bin/jsb\nlet a = 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "///bin/jsb\nlet a = 1\n", got)

	got, err = readSource(strings.NewReader(string(encodeUTF16(t, unicode.LittleEndian, "'é'"))))
	require.NoError(t, err)
	assert.Equal(t, "'é'", got)
}

func TestLoadSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.js")
	require.NoError(t, os.WriteFile(path, encodeUTF16(t, unicode.BigEndian, "module.exports = 1"), 0o644))

	got, err := loadSource(path)
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1", string(got))

	_, err = loadSource(filepath.Join(dir, "missing.js"))
	if !errors.Is(err, jsrequire.ModuleFileDoesNotExistError) {
		t.Fatalf("expected ModuleFileDoesNotExistError, got %v", err)
	}
}
