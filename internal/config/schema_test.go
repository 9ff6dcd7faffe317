package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	s := NewSchema()
	s.Register(
		Option{Key: "name", Type: TypeString, Default: "anon", Description: "A name"},
		Option{Key: "count", Type: TypeInt, Default: "3", Description: "A count", EnvVar: "JSB_TEST_COUNT"},
		Option{Key: "fast", Section: "run", Type: TypeBool, Description: "Go fast"},
		Option{Key: "every", Section: "run", Type: TypeDuration, Default: "1s", Description: "Period"},
		Option{Key: "dirs", Section: "run", Type: TypePathList, Description: "Dirs"},
	)
	return s
}

func TestSchemaLookup(t *testing.T) {
	s := testSchema()
	require.NotNil(t, s.Lookup("", "name"))
	assert.Equal(t, TypeInt, s.Lookup("", "count").Type)
	assert.Nil(t, s.Lookup("run", "name"), "Lookup does not fall back")
	assert.Nil(t, s.Lookup("", "fast"))
	assert.Nil(t, s.Lookup("missing", "fast"))
	assert.Equal(t, []string{"run"}, s.Sections())
}

func TestSchemaDuplicateOverwrites(t *testing.T) {
	s := NewSchema()
	s.Register(Option{Key: "k", Description: "first"})
	s.Register(Option{Key: "k", Description: "second"})
	assert.Equal(t, "second", s.Lookup("", "k").Description)
	opts := s.Options("")
	require.Len(t, opts, 1)
	assert.Equal(t, "second", opts[0].Description)
}

func TestOptionsReturnsCopy(t *testing.T) {
	s := testSchema()
	opts := s.Options("run")
	require.Len(t, opts, 3)
	opts[0].Default = "changed"
	assert.Empty(t, s.Lookup("run", "fast").Default)
}

func TestSchemaResolve(t *testing.T) {
	s := testSchema()
	cfg := NewConfig()

	assert.Equal(t, "anon", s.Resolve(cfg, "", "name"))
	assert.Equal(t, "anon", s.Resolve(nil, "run", "name"), "defaults without a config")
	assert.Equal(t, "", s.Resolve(cfg, "", "unregistered"))

	cfg.Set("", "name", "global")
	assert.Equal(t, "global", s.Resolve(cfg, "run", "name"))
	cfg.Set("run", "name", "section")
	assert.Equal(t, "section", s.Resolve(cfg, "run", "name"))
	assert.Equal(t, "global", s.Resolve(cfg, "", "name"))

	cfg.Set("", "count", "7")
	n, err := s.ResolveInt(cfg, "", "count")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	t.Setenv("JSB_TEST_COUNT", "9")
	n, err = s.ResolveInt(cfg, "run", "count")
	require.NoError(t, err)
	assert.Equal(t, 9, n, "environment wins")
}

func TestSchemaResolveTyped(t *testing.T) {
	s := testSchema()
	cfg := NewConfig()

	fast, err := s.ResolveBool(cfg, "run", "fast")
	require.NoError(t, err)
	assert.False(t, fast)
	cfg.Set("run", "fast", "yes")
	fast, err = s.ResolveBool(cfg, "run", "fast")
	require.NoError(t, err)
	assert.True(t, fast)
	cfg.Set("run", "fast", "quickly")
	_, err = s.ResolveBool(cfg, "run", "fast")
	assert.EqualError(t, err, "[run] fast: invalid boolean value: quickly")

	d, err := s.ResolveDuration(cfg, "run", "every")
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
	cfg.Set("run", "every", "often")
	_, err = s.ResolveDuration(cfg, "run", "every")
	assert.EqualError(t, err, `[run] every: expected duration, got "often"`)

	cfg.Set("", "count", "x")
	_, err = s.ResolveInt(cfg, "", "count")
	assert.EqualError(t, err, `count: expected int, got "x"`)

	sep := string(os.PathListSeparator)
	cfg.Set("run", "dirs", "a"+sep+" "+sep+"b ")
	assert.Equal(t, []string{"a", "b"}, s.ResolvePaths(cfg, "run", "dirs"))
	assert.Empty(t, s.ResolvePaths(NewConfig(), "run", "dirs"))
}

func TestSchemaValidate(t *testing.T) {
	s := testSchema()
	cfg := NewConfig()
	cfg.Set("", "name", "ok")
	cfg.Set("", "count", "many")
	cfg.Set("", "bogus", "1")
	cfg.Set("run", "count", "4")
	cfg.Set("run", "fast", "nope")
	cfg.Set("run", "dirs", "anything at all")
	cfg.Set("run", "what", "x")
	cfg.Set("other", "x", "y")

	want := []string{
		`option [run] fast: expected bool, got "nope"`,
		`option count: expected int, got "many"`,
		`unknown global option: "bogus" (value: "1")`,
		`unknown option in [run]: "what" (value: "x")`,
		`unknown section: [other]`,
	}
	if diff := cmp.Diff(want, s.Validate(cfg)); diff != "" {
		t.Errorf("Validate mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, s.Validate(NewConfig()))
}

func TestValidateType(t *testing.T) {
	for _, tc := range []struct {
		typ   OptionType
		value string
		ok    bool
	}{
		{TypeString, "", true},
		{"", "anything", true},
		{TypePathList, "a:b", true},
		{TypeBool, "on", true},
		{TypeBool, "2", false},
		{TypeInt, "-3", true},
		{TypeInt, "3.5", false},
		{TypeDuration, "150ms", true},
		{TypeDuration, "150", false},
		{"float", "1", false},
	} {
		err := validateType(tc.typ, tc.value)
		if tc.ok {
			assert.NoError(t, err, "%s %q", tc.typ, tc.value)
		} else {
			assert.Error(t, err, "%s %q", tc.typ, tc.value)
		}
	}
}

func TestFormatHelp(t *testing.T) {
	help := testSchema().FormatHelp()
	assert.True(t, strings.HasPrefix(help, "Global Options:\n"))
	assert.Contains(t, help, "  name                 A name (default: anon)\n")
	assert.Contains(t, help, "(type: int, default: 3, env: JSB_TEST_COUNT)")
	assert.Contains(t, help, "\n[run] Options:\n")
	assert.Less(t, strings.Index(help, "fast"), strings.Index(help, "every"))
	assert.Empty(t, NewSchema().FormatHelp())
}

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	for _, key := range []string{"log.level", "log.file", "log.max-size-mb", "log.max-files", "log.buffer", "module.paths"} {
		assert.NotNil(t, s.Lookup("", key), key)
	}
	assert.Equal(t, []string{SectionEval, SectionLoop, SectionRepl}, s.Sections())

	d, err := s.ResolveDuration(nil, SectionLoop, "sync-timeout")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
	assert.Equal(t, "> ", s.Resolve(nil, SectionRepl, "prefix"))

	for _, sec := range append([]string{""}, s.Sections()...) {
		for _, o := range s.Options(sec) {
			if o.Default != "" {
				assert.NoError(t, validateType(o.Type, o.Default), "%s default", qualified(sec, o.Key))
			}
		}
	}
}
