// Package bridge connects Go to an embedded JavaScript engine.
//
// Values cross in both directions. Primitives are converted; objects,
// arrays, functions, typed arrays and promises cross as live proxies that
// forward every operation to the heap that owns the value. Proxies keep their
// foreign value alive until they are themselves collected or released.
// Thrown JS values become *JSError and Go errors become JS Error objects,
// both keeping their identity on the way back.
//
// All engine work happens on one event loop goroutine. Methods may be called
// from any goroutine; calls made from the loop goroutine, e.g. from inside a
// Go function invoked by JS, run inline.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/google/uuid"
	"github.com/joeycumines/go-jsbridge/internal/heap"
	"github.com/joeycumines/go-jsbridge/internal/loop"
)

// HeapStats is a snapshot of the cross-heap handle table.
type HeapStats = heap.Stats

// Bridge is a JavaScript runtime plus the machinery to exchange values with
// it.
type Bridge struct {
	id     uuid.UUID
	logger *slog.Logger
	rt     *loop.Runtime
	heap   *heap.Coordinator
	init   *InitContext

	ctx    context.Context
	cancel context.CancelFunc

	unhandled atomic.Pointer[func(error)]

	// loop-confined
	vm         *goja.Runtime
	js         *intrinsics
	timers     *timerQueue
	rejections *rejectionTracker
	muted      map[string]struct{}
	keepAlive  []*goja.Object
}

// New starts a bridge. It stops when ctx is done or Close is called.
func New(ctx context.Context, opts ...Option) (*Bridge, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bridge{
		id:    uuid.New(),
		muted: make(map[string]struct{}),
	}
	b.logger = o.logger.With(slog.String("component", "bridge"), slog.String("bridge", b.id.String()))
	b.ctx, b.cancel = context.WithCancel(context.Background())
	// cleanups run on their own goroutine and may fire before b.rt is set
	var owner atomic.Pointer[loop.Runtime]
	b.heap = heap.New(func(fn func()) bool {
		rt := owner.Load()
		return rt != nil && rt.Post(fn)
	}, b.logger.With(slog.String("subsystem", "heap")))
	b.timers = newTimerQueue(b)
	b.rejections = newRejectionTracker(b)
	b.init = &InitContext{b: b}
	if o.onUnhandled != nil {
		b.unhandled.Store(&o.onUnhandled)
	}

	registry := o.registry
	if registry == nil {
		registry = require.NewRegistry(o.requireOpts...)
	}
	if o.console {
		printer := o.printer
		if printer == nil {
			printer = logPrinter{logger: o.logger.With(slog.String("component", "console"))}
		}
		registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer))
	}
	registry.RegisterNativeModule(timersModuleName, b.loadTimersModule)

	rt, err := loop.New(ctx,
		loop.WithRegistry(registry),
		loop.WithConsole(o.console),
		loop.WithSyncTimeout(o.syncTimeout),
		loop.WithLogger(b.logger),
		loop.WithInit(func(vm *goja.Runtime) error { return b.install(vm, &o) }),
	)
	if err != nil {
		b.cancel()
		return nil, fmt.Errorf("bridge: %w", err)
	}
	b.rt = rt
	owner.Store(rt)
	rt.AddJobHook(b.afterJob)
	go func() {
		<-rt.Done()
		b.cancel()
		b.heap.Close()
	}()

	b.logger.Debug("bridge started")
	return b, nil
}

// install runs on the loop before New returns.
func (b *Bridge) install(vm *goja.Runtime, o *options) error {
	b.vm = vm
	if o.maxCallStack > 0 {
		vm.SetMaxCallStackSize(o.maxCallStack)
	}
	if o.fieldMapper != nil {
		vm.SetFieldNameMapper(o.fieldMapper)
	}
	js, err := loadIntrinsics(vm)
	if err != nil {
		return err
	}
	b.js = js
	vm.SetPromiseRejectionTracker(b.rejections.track)
	if err := b.timers.install(vm); err != nil {
		return err
	}
	return b.installFinalization(vm)
}

func (b *Bridge) afterJob(vm *goja.Runtime) {
	b.rejections.flush(vm)
	clear(b.keepAlive)
	b.keepAlive = b.keepAlive[:0]
}

// ID identifies the bridge in logs.
func (b *Bridge) ID() uuid.UUID { return b.id }

// Logger returns the bridge's logger.
func (b *Bridge) Logger() *slog.Logger { return b.logger }

// Close stops the event loop and releases every cross-heap reference.
func (b *Bridge) Close() error {
	if b.rt.IsRunning() && !b.rt.OnLoop() {
		_ = b.rt.RunOnLoopSync(func(*goja.Runtime) error {
			b.timers.clearAll()
			return nil
		})
	}
	err := b.rt.Close()
	b.cancel()
	b.heap.Close()
	return err
}

// Done is closed when the bridge stops.
func (b *Bridge) Done() <-chan struct{} { return b.rt.Done() }

// IsRunning reports whether the bridge accepts work.
func (b *Bridge) IsRunning() bool { return b.rt.IsRunning() }

// OnLoop reports whether the caller runs on the event loop goroutine.
func (b *Bridge) OnLoop() bool { return b.rt.OnLoop() }

// Runtime returns the engine. It may only be used on the loop goroutine,
// e.g. inside Do.
func (b *Bridge) Runtime() *goja.Runtime { return b.vm }

// Do runs fn on the loop goroutine and waits for it. JS exceptions raised by
// goja APIs that panic are returned as *JSError.
func (b *Bridge) Do(fn func(vm *goja.Runtime) error) error {
	return b.do(fn)
}

func (b *Bridge) do(fn func(vm *goja.Runtime) error) error {
	return b.rt.TryRunOnLoopSync(func(vm *goja.Runtime) error {
		var err error
		if ex := vm.Try(func() { err = fn(vm) }); ex != nil {
			return b.fromJSError(vm, ex)
		}
		return err
	})
}

// Global reads a global variable.
func (b *Bridge) Global(name string) (any, error) {
	var out any
	err := b.do(func(vm *goja.Runtime) error {
		v := vm.Get(name)
		if v == nil {
			return nil
		}
		var err error
		out, err = b.toGo(vm, v)
		return err
	})
	return out, err
}

// SetGlobal sets a global variable.
func (b *Bridge) SetGlobal(name string, value any) error {
	return b.do(func(vm *goja.Runtime) error {
		v, err := b.toJS(vm, value)
		if err != nil {
			return err
		}
		if err := vm.Set(name, v); err != nil {
			return b.fromJSError(vm, err)
		}
		return nil
	})
}

// New invokes ctor as a constructor, like the new operator.
func (b *Bridge) New(ctor any, args ...any) (any, error) {
	var out any
	err := b.do(func(vm *goja.Runtime) error {
		c, err := b.toJS(vm, ctor)
		if err != nil {
			return err
		}
		if _, ok := goja.AssertConstructor(c); !ok {
			return &TypeError{Op: "new", Err: ErrNotCallable}
		}
		jsArgs, done, err := b.argsToJS(vm, args)
		if err != nil {
			return err
		}
		defer done()
		obj, err := vm.New(c, jsArgs...)
		if err != nil {
			return b.fromJSError(vm, err)
		}
		out, err = b.toGo(vm, obj)
		return err
	})
	return out, err
}

// Typeof returns the JS typeof of v once converted.
func (b *Bridge) Typeof(v any) (string, error) {
	var out string
	err := b.do(func(vm *goja.Runtime) error {
		jv, err := b.toJS(vm, v)
		if err != nil {
			return err
		}
		out = typeOf(jv)
		return nil
	})
	return out, err
}

// Wait blocks until no ref'd timers and no pending Go awaitables remain.
func (b *Bridge) Wait(ctx context.Context) error {
	if b.rt.OnLoop() {
		return ErrAwaitOnLoop
	}
	err := b.rt.Wait(ctx)
	if errors.Is(err, loop.ErrStopped) {
		return ErrLoopNotRunning
	}
	return err
}

// HeapStats reports the cross-heap handle table.
func (b *Bridge) HeapStats() HeapStats { return b.heap.Stats() }

// CollectGarbage runs the Go collector until pending cleanups have had a
// chance to run, and pumps the event loop so that collection callbacks are
// delivered. Both engine and host objects live on the Go heap, so this
// collects both sides.
func (b *Bridge) CollectGarbage() error {
	if b.rt.OnLoop() {
		runtime.GC()
		return nil
	}
	for range 3 {
		// drop the engine's reference to the last completion value
		if err := b.rt.RunOnLoopSync(func(vm *goja.Runtime) error {
			_, err := vm.RunString("undefined")
			return err
		}); err != nil {
			return err
		}
		runtime.GC()
		time.Sleep(time.Millisecond)
		if err := b.rt.RunOnLoopSync(func(*goja.Runtime) error { return nil }); err != nil {
			return err
		}
	}
	return nil
}

// SetUnhandledErrorHandler replaces the handler for unhandled rejections
// and errors thrown by timer and finalization callbacks. A nil fn restores
// the default, which logs at error level.
func (b *Bridge) SetUnhandledErrorHandler(fn func(error)) {
	if fn == nil {
		b.unhandled.Store(nil)
		return
	}
	b.unhandled.Store(&fn)
}

func (b *Bridge) reportUnhandled(err error) {
	if fn := b.unhandled.Load(); fn != nil {
		(*fn)(err)
		return
	}
	b.logger.Error("unhandled error", slog.Any("error", err))
}

// keepUntilJobEnd roots obj until the current loop job finishes.
func (b *Bridge) keepUntilJobEnd(obj *goja.Object) {
	b.keepAlive = append(b.keepAlive, obj)
}

type logPrinter struct {
	logger *slog.Logger
}

func (p logPrinter) Log(s string)   { p.logger.Info(s) }
func (p logPrinter) Warn(s string)  { p.logger.Warn(s) }
func (p logPrinter) Error(s string) { p.logger.Error(s) }
