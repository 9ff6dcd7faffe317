package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type codeError struct{ code int }

func (e *codeError) Error() string { return fmt.Sprintf("code %d", e.code) }

func TestGoErrorThrownInJS(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("fail", HostFunc(func(Call) (any, error) {
		return nil, errBoom
	})))

	assert.Equal(t, "Go error: boom", mustEval(t, b, `try { fail() } catch (e) { e.message }`))
	assert.Equal(t, true, mustEval(t, b, `try { fail() } catch (e) { e instanceof Error }`))

	_, err := b.Eval(`fail()`)
	require.ErrorIs(t, err, errBoom)
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "Go error: boom", je.Message)
	assert.Same(t, errBoom, je.Value())
}

func TestGoErrorMessageNamesType(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("fail", func() error { return &codeError{code: 7} }))
	assert.Equal(t, "Go bridge.codeError: code 7", mustEval(t, b, `try { fail() } catch (e) { e.message }`))

	_, err := b.Eval(`fail()`)
	var ce *codeError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 7, ce.code)
}

func TestGoErrorKeepsIdentityThroughJS(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("fail", HostFunc(func(Call) (any, error) {
		return nil, errBoom
	})))
	mustEval(t, b, `try { fail() } catch (e) { globalThis.caught = e }`)
	v, err := b.Global("caught")
	require.NoError(t, err)
	assert.Same(t, errBoom, v)
	assert.Equal(t, true, mustEval(t, b, `try { fail() } catch (e) { e === caught }`))
}

func TestHostPanicBecomesJSError(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("explode", func() { panic("kaboom") }))
	msg := mustEval(t, b, `try { explode(); "no throw" } catch (e) { e.message }`)
	assert.Contains(t, msg, "kaboom")

	// the bridge still works afterwards
	assert.Equal(t, float64(2), mustEval(t, b, "1 + 1"))
}

func TestJSErrorRethrownKeepsIdentity(t *testing.T) {
	b := newBridge(t)
	var seen *JSError
	require.NoError(t, b.SetGlobal("relay", HostFunc(func(c Call) (any, error) {
		fn, ok := c.Arg(0).(*Function)
		if !ok {
			return nil, fmt.Errorf("relay: got %T", c.Arg(0))
		}
		_, err := fn.Call()
		errors.As(err, &seen)
		return nil, err
	})))
	assert.Equal(t, true, mustEval(t, b, `
		const e = new TypeError("t");
		let same = false;
		try { relay(() => { throw e }) } catch (x) { same = x === e }
		same
	`))
	require.NotNil(t, seen)
	assert.Equal(t, "TypeError", seen.Name)
	assert.Equal(t, "t", seen.Message)
}

func TestJSErrorCrossingTwiceIsOneError(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("relay", HostFunc(func(c Call) (any, error) {
		_, err := c.Arg(0).(*Function).Call()
		return nil, err
	})))
	_, err := b.Eval(`relay(() => { throw new RangeError("deep") })`)
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "RangeError", je.Name)

	var goFrames, jsFrames int
	for _, f := range je.Frames() {
		switch f.Origin {
		case "Go":
			goFrames++
		case "JavaScript":
			jsFrames++
		}
	}
	assert.Positive(t, goFrames)
	assert.Positive(t, jsFrames)
	assert.Contains(t, je.Stack(), "\tat ")
}

func TestThrownNonError(t *testing.T) {
	b := newBridge(t)
	_, err := b.Eval(`throw 42`)
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "42", je.Message)
	assert.Equal(t, float64(42), je.Value())
	assert.Empty(t, je.Name)

	_, err = b.Eval(`throw {code: "E_X"}`)
	require.ErrorAs(t, err, &je)
	obj, ok := je.Value().(*Object)
	require.True(t, ok, "got %T", je.Value())
	code, err := obj.Get("code")
	require.NoError(t, err)
	assert.Equal(t, "E_X", code)
}

func TestErrorPosition(t *testing.T) {
	b := newBridge(t)

	_, err := b.Eval("\n\nthrow new Error('where')", WithFilename("pos.js"))
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "pos.js", je.File)
	assert.Equal(t, 3, je.Line)
	assert.True(t, strings.HasPrefix(je.Error(), "Error in file pos.js, on line 3"), je.Error())

	_, err = b.Eval("throw new Error('offset')", WithFilename("pos.js"), WithPosition(10, 5))
	require.ErrorAs(t, err, &je)
	assert.Equal(t, 10, je.Line)
	assert.GreaterOrEqual(t, je.Column, 5)
}

func TestErrorPositionFromHostFrame(t *testing.T) {
	b := newBridge(t)
	_, err := b.Eval("throw new Error('here')", FromHostFrame())
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.True(t, strings.HasSuffix(je.File, "exception_test.go"), je.File)
	assert.Positive(t, je.Line)
}

func TestSyntaxError(t *testing.T) {
	b := newBridge(t)
	_, err := b.Eval("var = 1", WithFilename("bad.js"))
	var je *JSError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "SyntaxError", je.Name)
	assert.Equal(t, "bad.js", je.File)
	assert.Equal(t, 1, je.Line)
	assert.NotEmpty(t, je.Message)
	assert.NotContains(t, je.Message, "bad.js")
}

func TestMutedErrors(t *testing.T) {
	sink := &errorSink{}
	b := newBridge(t, WithUnhandledErrorHandler(sink.handle))

	mustEval(t, b, `Promise.reject(new Error("quiet")); undefined`, WithFilename("muted.js"), MutedErrors())
	mustEval(t, b, `Promise.reject(new Error("loud")); undefined`, WithFilename("loud.js"))

	errs := sink.all()
	require.Len(t, errs, 1)
	var je *JSError
	require.ErrorAs(t, errs[0], &je)
	assert.Equal(t, "loud", je.Message)
	assert.Equal(t, "loud.js", je.File)
}

func TestHandledRejectionNotReported(t *testing.T) {
	sink := &errorSink{}
	b := newBridge(t, WithUnhandledErrorHandler(sink.handle))
	mustEval(t, b, `Promise.reject(new Error("handled")).catch(() => {}); undefined`)
	mustEval(t, b, `
		const p = Promise.reject(new Error("later"));
		Promise.resolve().then(() => p.catch(() => {}));
		undefined
	`)
	assert.Empty(t, sink.all())
}

func TestUnhandledErrorHandlerReset(t *testing.T) {
	sink := &errorSink{}
	b := newBridge(t, WithUnhandledErrorHandler(sink.handle))
	b.SetUnhandledErrorHandler(nil)
	mustEval(t, b, `Promise.reject(new Error("to the log")); undefined`)
	assert.Empty(t, sink.all())
}
