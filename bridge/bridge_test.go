package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	b, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func mustEval(t *testing.T, b *Bridge, code string, opts ...EvalOption) any {
	t.Helper()
	v, err := b.Eval(code, opts...)
	require.NoError(t, err)
	return v
}

func waitIdle(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}

// errorSink collects errors passed to the unhandled error handler.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestLifecycle(t *testing.T) {
	b, err := New(context.Background(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.True(t, b.IsRunning())
	require.False(t, b.OnLoop())
	assert.NotEqual(t, uuid.Nil, b.ID())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.False(t, b.IsRunning())
	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	_, err = b.Eval("1")
	assert.ErrorIs(t, err, ErrLoopNotRunning)
	assert.ErrorIs(t, b.SetGlobal("x", 1), ErrLoopNotRunning)
}

func TestContextCancelStopsBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b, err := New(ctx, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	cancel()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop after context cancel")
	}
}

func TestGlobals(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("answer", 42))
	assert.Equal(t, float64(43), mustEval(t, b, "answer + 1"))

	v, err := b.Global("answer")
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	v, err = b.Global("doesNotExist")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTypeof(t *testing.T) {
	b := newBridge(t)
	for _, tc := range []struct {
		v    any
		want string
	}{
		{nil, "object"},
		{Undefined, "undefined"},
		{true, "boolean"},
		{"s", "string"},
		{1.5, "number"},
		{func() {}, "function"},
		{map[string]any{}, "object"},
		{NewSymbol("x"), "symbol"},
	} {
		got, err := b.Typeof(tc.v)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%T", tc.v)
	}
}

func TestNewConstructs(t *testing.T) {
	b := newBridge(t)
	ctor := mustEval(t, b, `(class Point { constructor(x, y) { this.x = x; this.y = y } })`)
	v, err := b.New(ctor, 1, 2)
	require.NoError(t, err)
	obj, ok := v.(*Object)
	require.True(t, ok, "got %T", v)
	x, err := obj.Get("x")
	require.NoError(t, err)
	assert.Equal(t, float64(1), x)

	_, err = b.New(map[string]any{})
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestReentrantCalls(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("reenter", HostFunc(func(c Call) (any, error) {
		return c.Bridge.Eval("1 + 1")
	})))
	assert.Equal(t, float64(3), mustEval(t, b, "reenter() + 1"))
}

func TestConcurrentCallers(t *testing.T) {
	b := newBridge(t)
	mustEval(t, b, "globalThis.n = 0")
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				_, err := b.Eval("n++")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(200), mustEval(t, b, "n"))
}

func TestWaitOnLoop(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.SetGlobal("waitHere", HostFunc(func(c Call) (any, error) {
		return errors.Is(c.Bridge.Wait(context.Background()), ErrAwaitOnLoop), nil
	})))
	assert.Equal(t, true, mustEval(t, b, "waitHere()"))
}

type capturePrinter struct {
	mu    sync.Mutex
	lines []string
}

func (p *capturePrinter) add(s string) {
	p.mu.Lock()
	p.lines = append(p.lines, s)
	p.mu.Unlock()
}

func (p *capturePrinter) Log(s string)   { p.add("log: " + s) }
func (p *capturePrinter) Warn(s string)  { p.add("warn: " + s) }
func (p *capturePrinter) Error(s string) { p.add("error: " + s) }

func TestConsole(t *testing.T) {
	p := &capturePrinter{}
	b := newBridge(t, WithPrinter(p))
	mustEval(t, b, `console.log("hello", 1); console.warn("careful"); console.error("bad")`)
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{"log: hello 1", "warn: careful", "error: bad"}, p.lines)
}

func TestConsoleDisabled(t *testing.T) {
	b := newBridge(t, WithConsole(false))
	assert.Equal(t, "undefined", mustEval(t, b, "typeof console"))
}

func TestHeapStats(t *testing.T) {
	b := newBridge(t)
	before := b.HeapStats()
	v := mustEval(t, b, "({})")
	after := b.HeapStats()
	assert.Greater(t, after.Acquired, before.Acquired)
	assert.GreaterOrEqual(t, after.Live, 1)
	v.(*Object).Release()
	assert.Greater(t, b.HeapStats().Released, before.Released)
}

func TestNewWhileCollecting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			runtime.GC()
		}
	}()

	for range 10 {
		b := newBridge(t)
		for range 20 {
			_ = mustEval(t, b, `({})`)
		}
		require.NoError(t, b.Close())
	}
	cancel()
	wg.Wait()
}
