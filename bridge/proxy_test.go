package bridge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustObject(t *testing.T, b *Bridge, code string) *Object {
	t.Helper()
	v := mustEval(t, b, code)
	obj, ok := v.(*Object)
	require.True(t, ok, "got %T", v)
	return obj
}

func TestObjectOperations(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `globalThis.o = {a: 1, nested: {b: 2}}; o`)
	assert.Equal(t, KindObject, obj.Kind())
	assert.Equal(t, "object", obj.Typeof())

	v, err := obj.Get("a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	v, err = obj.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, obj.Set("c", "three"))
	assert.Equal(t, "three", mustEval(t, b, "o.c"))

	mustEval(t, b, `o.fromJS = true`)
	ok, err := obj.Has("fromJS")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = obj.Has("toString")
	require.NoError(t, err)
	assert.True(t, ok, "inherited properties are visible to Has")

	require.NoError(t, obj.Delete("fromJS"))
	assert.Equal(t, false, mustEval(t, b, `"fromJS" in o`))

	keys, err := obj.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "nested", "c"}, keys)

	m, err := obj.Materialize()
	require.NoError(t, err)
	nested, ok := m["nested"].(*Object)
	require.True(t, ok, "nested values stay proxies, got %T", m["nested"])
	nb, err := nested.Get("b")
	require.NoError(t, err)
	assert.Equal(t, float64(2), nb)
	delete(m, "nested")
	if diff := cmp.Diff(map[string]any{"a": 1.0, "c": "three"}, m); diff != "" {
		t.Errorf("materialize mismatch (-want +got):\n%s", diff)
	}
}

func TestObjectSymbolKeys(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({[Symbol.toStringTag]: "Tagged", plain: 1})`)
	v, err := obj.Get(SymbolToStringTag)
	require.NoError(t, err)
	assert.Equal(t, "Tagged", v)
	assert.Equal(t, "[object Tagged]", obj.String())

	keys, err := obj.OwnKeys()
	require.NoError(t, err)
	assert.Equal(t, []any{"plain", SymbolToStringTag}, keys)

	_, err = obj.Get(1.5)
	assert.ErrorIs(t, err, ErrCoercion)
}

func TestObjectFrozen(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `Object.freeze({a: 1})`)

	err := obj.Set("a", 2)
	require.ErrorIs(t, err, ErrFrozen)
	var te *TypeError
	require.ErrorAs(t, err, &te)

	assert.ErrorIs(t, obj.Delete("a"), ErrFrozen)

	ext, err := obj.IsExtensible()
	require.NoError(t, err)
	assert.False(t, ext)

	v, err := obj.Get("a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)
}

func TestObjectPreventExtensions(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({})`)
	require.NoError(t, obj.PreventExtensions())
	assert.ErrorIs(t, obj.Set("x", 1), ErrFrozen)
}

func TestObjectProxyTrapsRun(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `
		globalThis.trapLog = [];
		new Proxy({}, {
			get(target, key) { trapLog.push("get " + String(key)); return "trapped " + String(key); },
			has(target, key) { trapLog.push("has " + String(key)); return key === "yes"; },
		})
	`)
	v, err := obj.Get("anything")
	require.NoError(t, err)
	assert.Equal(t, "trapped anything", v)

	ok, err := obj.Has("yes")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = obj.Has("no")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []any{"get anything", "has yes", "has no"}, mustMaterialize(t, mustEval(t, b, "trapLog")))
}

func TestObjectGetterThrows(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({ get boom() { throw new RangeError("nope") } })`)
	_, err := obj.Get("boom")
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "RangeError", je.Name)
	assert.Equal(t, "nope", je.Message)
}

func TestCallMethod(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({n: 10, add(x) { return this.n + x }})`)
	v, err := obj.CallMethod("add", 5)
	require.NoError(t, err)
	assert.Equal(t, float64(15), v)

	_, err = obj.CallMethod("n")
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestArrayMutationVisibleBothWays(t *testing.T) {
	b := newBridge(t)
	v := mustEval(t, b, `globalThis.arr = [1, 2, 3]; arr`)
	arr, ok := v.(*Array)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, KindArray, arr.Kind())

	n, err := arr.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, arr.SetIndex(0, "go"))
	assert.Equal(t, "go", mustEval(t, b, "arr[0]"))

	mustEval(t, b, `arr[2] = "js"`)
	got, err := arr.Index(2)
	require.NoError(t, err)
	assert.Equal(t, "js", got)

	require.NoError(t, arr.Append(4, 5))
	assert.Equal(t, float64(5), mustEval(t, b, "arr.length"))
	assert.Equal(t, []any{"go", 2.0, "js", 4.0, 5.0}, mustMaterialize(t, arr))
}

func TestArrayIndexOutOfRange(t *testing.T) {
	b := newBridge(t)
	arr := mustEval(t, b, `[1, 2]`).(*Array)

	for _, i := range []int{-1, 2, 100} {
		_, err := arr.Index(i)
		require.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", i)
		var re *RangeError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, i, re.Index)
		assert.Equal(t, 2, re.Len)

		assert.ErrorIs(t, arr.SetIndex(i, 0), ErrIndexOutOfRange)
	}
}

func TestArrayHoles(t *testing.T) {
	b := newBridge(t)
	arr := mustEval(t, b, `[1, , 3]`).(*Array)
	v, err := arr.Index(1)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, []any{1.0, nil, 3.0}, mustMaterialize(t, arr))
}

func TestFunctionCallAndNew(t *testing.T) {
	b := newBridge(t)
	v := mustEval(t, b, `(function Counter(start) { if (new.target) { this.n = start; return } return "called " + start })`)
	fn, ok := v.(*Function)
	require.True(t, ok, "got %T", v)
	assert.Equal(t, KindFunction, fn.Kind())
	assert.Equal(t, "function", fn.Typeof())

	res, err := fn.Call(7)
	require.NoError(t, err)
	assert.Equal(t, "called 7", res)

	inst, err := fn.New(3)
	require.NoError(t, err)
	n, err := inst.(*Object).Get("n")
	require.NoError(t, err)
	assert.Equal(t, float64(3), n)

	arrow := mustEval(t, b, `() => 1`).(*Function)
	_, err = arrow.New()
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestFunctionThis(t *testing.T) {
	b := newBridge(t)
	fn := mustEval(t, b, `(function () { "use strict"; return this })`).(*Function)

	v, err := fn.Call()
	require.NoError(t, err)
	assert.Nil(t, v)

	recv := map[string]any{"name": "receiver"}
	v, err = fn.Invoke(recv)
	require.NoError(t, err)
	assert.Equal(t, recv, v)
}

func TestBoundMethodIgnoresThis(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `globalThis.counter = {n: 1, get() { return this.n }}; counter`)
	get, err := obj.Get("get")
	require.NoError(t, err)

	bound, err := get.(*Function).Bind(obj)
	require.NoError(t, err)
	assert.Equal(t, KindBoundMethod, bound.Kind())
	assert.Same(t, obj, bound.Receiver())

	v, err := bound.Invoke(map[string]any{"n": 99})
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	require.NoError(t, b.SetGlobal("bound", bound))
	assert.Equal(t, float64(1), mustEval(t, b, `bound.call({n: 42})`))
	require.NoError(t, b.SetGlobal("bound2", bound))
	assert.Equal(t, true, mustEval(t, b, `bound === bound2`))
}

func TestReleasedProxy(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({a: 1})`)
	obj.Release()
	assert.Nil(t, obj.JSValue())

	_, err := obj.Get("a")
	require.ErrorIs(t, err, ErrReleased)
	var re *ReferenceError
	require.ErrorAs(t, err, &re)

	err = b.SetGlobal("gone", obj)
	assert.ErrorIs(t, err, ErrReleased)

	// releasing twice is harmless
	obj.Release()
}

func TestProxiesFailAfterClose(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `({a: 1})`)
	require.NoError(t, b.Close())
	_, err := obj.Get("a")
	assert.Error(t, err)
}

func TestProxyPassedBackAsArgument(t *testing.T) {
	b := newBridge(t)
	obj := mustObject(t, b, `globalThis.orig = {}; orig`)
	isOrig := mustEval(t, b, `(x) => x === orig`).(*Function)
	v, err := isOrig.Call(obj)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
