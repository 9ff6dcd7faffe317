package bridge

import (
	"testing"

	"github.com/joeycumines/go-jsbridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b *Bridge, cond func() bool) {
	t.Helper()
	err := testutil.CollectUntil(testContext(t), func() {
		require.NoError(t, b.CollectGarbage())
	}, cond)
	require.NoError(t, err)
}

func TestFinalizationRegistryFiresOnce(t *testing.T) {
	b := newBridge(t)
	mustEval(t, b, `
		globalThis.cleaned = [];
		globalThis.registry = new FinalizationRegistry(held => cleaned.push(held));
		(function () { registry.register({}, "held") })();
	`, NoScriptRval())

	collect(t, b, func() bool {
		return mustEval(t, b, "cleaned.length") == float64(1)
	})
	for range 3 {
		require.NoError(t, b.CollectGarbage())
	}
	assert.Equal(t, []any{"held"}, mustMaterialize(t, mustEval(t, b, "cleaned")))
}

func TestFinalizationRegistryUnregister(t *testing.T) {
	b := newBridge(t)
	mustEval(t, b, `
		globalThis.cleaned = [];
		globalThis.token = {};
		globalThis.registry = new FinalizationRegistry(held => cleaned.push(held));
		(function () { registry.register({}, "a", token) })();
		globalThis.first = registry.unregister(token);
		globalThis.second = registry.unregister(token);
	`, NoScriptRval())
	assert.Equal(t, true, mustEval(t, b, "first"))
	assert.Equal(t, false, mustEval(t, b, "second"))

	for range 3 {
		require.NoError(t, b.CollectGarbage())
	}
	assert.Equal(t, float64(0), mustEval(t, b, "cleaned.length"))
}

func TestFinalizationRegistryArguments(t *testing.T) {
	b := newBridge(t)
	assert.Equal(t, "TypeError", mustEval(t, b, `
		const r = new FinalizationRegistry(() => {});
		const o = {};
		try { r.register(o, o); "no throw" } catch (e) { e.name }
	`))
	assert.Equal(t, "TypeError", mustEval(t, b, `try { new FinalizationRegistry(1) } catch (e) { e.name }`))
	assert.Equal(t, "[object FinalizationRegistry]", mustEval(t, b, `Object.prototype.toString.call(new FinalizationRegistry(() => {}))`))
}

func TestWeakRef(t *testing.T) {
	b := newBridge(t)
	assert.Equal(t, true, mustEval(t, b, `
		globalThis.target = {};
		globalThis.ref = new WeakRef(target);
		ref.deref() === target
	`))
	require.NoError(t, b.CollectGarbage())
	assert.Equal(t, true, mustEval(t, b, `ref.deref() === target`))
	assert.Equal(t, "[object WeakRef]", mustEval(t, b, `Object.prototype.toString.call(ref)`))
	assert.Equal(t, "TypeError", mustEval(t, b, `try { new WeakRef(1) } catch (e) { e.name }`))
}

func TestWeakRefClearedAfterCollection(t *testing.T) {
	b := newBridge(t)
	mustEval(t, b, `globalThis.ref = (function () { return new WeakRef({}) })()`, NoScriptRval())
	collect(t, b, func() bool {
		return mustEval(t, b, `ref.deref() === undefined`) == true
	})
}

func TestDroppedProxyIsCollected(t *testing.T) {
	b := newBridge(t)
	before := b.HeapStats()
	func() {
		_ = mustEval(t, b, `({big: new Array(1000).fill(1)})`)
	}()
	collect(t, b, func() bool {
		return b.HeapStats().Collected > before.Collected
	})
}

func TestDroppedHostWrapperIsCollected(t *testing.T) {
	b := newBridge(t)
	m := map[string]any{"k": 1.0}
	require.NoError(t, b.SetGlobal("m", m))
	before := b.HeapStats()
	mustEval(t, b, `delete globalThis.m`)
	collect(t, b, func() bool {
		return b.HeapStats().Collected > before.Collected
	})

	require.NoError(t, b.SetGlobal("again", m))
	assert.Equal(t, float64(1), mustEval(t, b, "again.k"))
}

func TestThrownErrorIsCollected(t *testing.T) {
	b := newBridge(t)
	mustEval(t, b, `
		globalThis.cleaned = [];
		globalThis.registry = new FinalizationRegistry(held => cleaned.push(held));
		globalThis.fail = () => {
			const e = new Error("x");
			registry.register(e, "error");
			throw e;
		};
	`, NoScriptRval())
	before := b.HeapStats()
	func() {
		_, err := b.Eval(`fail()`)
		var je *JSError
		require.ErrorAs(t, err, &je)
		assert.Equal(t, "x", je.Message)
		assert.IsType(t, &Object{}, je.Value())
	}()

	collect(t, b, func() bool {
		return mustEval(t, b, "cleaned.length") == float64(1) &&
			b.HeapStats().Collected > before.Collected
	})
}
