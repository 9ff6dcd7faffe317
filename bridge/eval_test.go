package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalOptions(t *testing.T) {
	b := newBridge(t)

	v, err := b.Eval("1 + 1", NoScriptRval())
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = b.Eval("undeclared = 1", Strict())
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "ReferenceError", je.Name)

	_, err = b.Eval("sloppy = 1")
	require.NoError(t, err)

	v, err = b.Eval("1", WithEvalOptions(EvalOptions{Filename: "all.js", Strict: true}))
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestPositioned(t *testing.T) {
	assert.Equal(t, "x", positioned("x", 0, 0))
	assert.Equal(t, "x", positioned("x", 1, 1))
	assert.Equal(t, "\n\n  x", positioned("x", 3, 3))
}

func TestIsCompilableUnit(t *testing.T) {
	for _, tc := range []struct {
		code string
		want bool
	}{
		{"1 + 1", true},
		{"", true},
		{"function f() {", false},
		{"if (x) {", false},
		{"[1, 2,", false},
		{"var = 1", true},
		{"}", true},
	} {
		assert.Equal(t, tc.want, IsCompilableUnit(tc.code), "%q", tc.code)
	}
	b := newBridge(t)
	assert.False(t, b.IsCompilableUnit("({"))
}

func TestRegisterModule(t *testing.T) {
	b := newBridge(t)
	calls := 0
	b.RegisterModule("host:math", map[string]any{
		"double": func(x float64) float64 {
			calls++
			return x * 2
		},
		"name": "math",
	})
	assert.Equal(t, float64(8), mustEval(t, b, `require("host:math").double(4)`))
	assert.Equal(t, "math", mustEval(t, b, `require("host:math").name`))
	assert.Equal(t, true, mustEval(t, b, `require("host:math") === require("host:math")`))
	assert.Equal(t, 1, calls)
}

func TestNewRequire(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "util.js"), []byte(`
		exports.shout = (s) => s.toUpperCase() + "!";
	`), 0o644))

	b := newBridge(t)
	req, err := b.NewRequire(filepath.Join(dir, "main.js"))
	require.NoError(t, err)

	mod, err := req.Call("./lib/util.js")
	require.NoError(t, err)
	shout, err := mod.(*Object).Get("shout")
	require.NoError(t, err)
	v, err := shout.(*Function).Call("hi")
	require.NoError(t, err)
	assert.Equal(t, "HI!", v)

	_, err = req.Call("./missing.js")
	var je *JSError
	assert.ErrorAs(t, err, &je)
}

func TestGlobalFolders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.js"), []byte(`module.exports = "hello from folder";`), 0o644))
	b := newBridge(t, WithGlobalFolders(dir))
	assert.Equal(t, "hello from folder", mustEval(t, b, `require("greeting")`))
}
