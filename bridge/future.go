package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/joeycumines/go-jsbridge/internal/loop"
)

// State is the state of an awaitable. Fulfilled and Rejected are terminal.
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

var errSelfResolution = errors.New("future resolved with itself")

// Future is a single-shot Go awaitable. The zero value is ready to use.
// Converted to JS it becomes a promise that settles with it.
type Future struct {
	// b is set for futures that settle on a bridge's loop.
	b *Bridge

	mu        sync.Mutex
	done      chan struct{}
	state     State
	locked    bool
	value     any
	err       error
	callbacks []func(any, error)
}

// NewFuture returns a pending future.
func NewFuture() *Future { return &Future{} }

func (f *Future) doneLocked() chan struct{} {
	if f.done == nil {
		f.done = make(chan struct{})
	}
	return f.done
}

// Resolve fulfills the future. Resolving with another awaitable (*Future,
// *Task, *Coroutine or *Promise) adopts its eventual result. It returns
// false if the future was already resolved or rejected.
func (f *Future) Resolve(v any) bool {
	f.mu.Lock()
	if f.locked {
		f.mu.Unlock()
		return false
	}
	f.locked = true
	f.mu.Unlock()

	switch x := v.(type) {
	case *Future:
		if x == f {
			f.settle(nil, &TypeError{Op: "resolve", Err: errSelfResolution})
			return true
		}
		x.onSettle(f.settle)
		return true
	case *Task:
		x.onSettle(f.settle)
		return true
	case *Promise:
		x.fut.onSettle(f.settle)
		return true
	case *Coroutine:
		inner, err := x.start(context.Background())
		if err != nil {
			f.settle(nil, err)
			return true
		}
		inner.onSettle(f.settle)
		return true
	}
	f.settle(v, nil)
	return true
}

// Reject fails the future with err. It returns false if the future was
// already resolved or rejected.
func (f *Future) Reject(err error) bool {
	f.mu.Lock()
	if f.locked {
		f.mu.Unlock()
		return false
	}
	f.locked = true
	f.mu.Unlock()
	f.settle(nil, err)
	return true
}

// Cancel rejects the future with context.Canceled.
func (f *Future) Cancel() bool { return f.Reject(context.Canceled) }

func (f *Future) settle(v any, err error) {
	f.mu.Lock()
	if f.state != Pending {
		f.mu.Unlock()
		return
	}
	f.locked = true
	if err != nil {
		f.state, f.err = Rejected, err
	} else {
		f.state, f.value = Fulfilled, v
	}
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.doneLocked())
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
}

// onSettle runs fn once the future settles, immediately if it already has.
// fn runs on the goroutine that settles the future.
func (f *Future) onSettle(fn func(any, error)) {
	f.mu.Lock()
	if f.state == Pending {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doneLocked()
}

// State reports the settlement state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Result returns the outcome, or ErrPending if the future has not settled.
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Pending {
		return nil, ErrPending
	}
	return f.value, f.err
}

// Await blocks until the future settles or ctx is done. A pending future
// cannot be awaited from an event loop goroutine, whichever bridge it
// belongs to.
func (f *Future) Await(ctx context.Context) (any, error) {
	done := f.Done()
	select {
	case <-done:
		return f.Result()
	default:
	}
	if loop.OnAnyLoop() {
		return nil, ErrAwaitOnLoop
	}
	var stopped <-chan struct{}
	if f.b != nil {
		stopped = f.b.Done()
	}
	select {
	case <-done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stopped:
		select {
		case <-done:
			return f.Result()
		default:
			return nil, ErrLoopNotRunning
		}
	}
}

// Task is a Go function running on its own goroutine.
type Task struct {
	Future
	ID     uuid.UUID
	cancel context.CancelFunc
}

// Go runs fn on a new goroutine and returns its task. The context passed to
// fn is cancelled by Task.Cancel, by ctx, or when the bridge stops. Pending
// tasks keep Wait blocked.
func (b *Bridge) Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	t := &Task{ID: uuid.New(), cancel: cancel}
	t.b = b
	b.rt.Ref()
	logger := b.logger.With(slog.String("task", t.ID.String()))
	logger.Debug("task started")
	go func() {
		defer b.rt.Unref()
		defer stop()
		defer cancel()
		v, err := fn(ctx)
		if err != nil {
			logger.Debug("task failed", slog.Any("error", err))
			t.Reject(err)
			return
		}
		t.Resolve(v)
	}()
	return t
}

// Cancel cancels the task's context and rejects it with context.Canceled.
func (t *Task) Cancel() bool {
	t.cancel()
	return t.Future.Cancel()
}

// Coroutine is a function that starts the first time it is awaited or
// converted to JS. It can only be started once.
type Coroutine struct {
	fn      func(ctx context.Context) (any, error)
	started atomic.Bool
	fut     Future
}

// NewCoroutine wraps fn.
func NewCoroutine(fn func(ctx context.Context) (any, error)) *Coroutine {
	return &Coroutine{fn: fn}
}

func (c *Coroutine) start(ctx context.Context) (*Future, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrCoroutineReused
	}
	go func() {
		v, err := c.fn(ctx)
		if err != nil {
			c.fut.Reject(err)
			return
		}
		c.fut.Resolve(v)
	}()
	return &c.fut, nil
}

// Await starts the coroutine and waits for its result. On an event loop
// goroutine it fails with ErrAwaitOnLoop and leaves the coroutine unstarted.
func (c *Coroutine) Await(ctx context.Context) (any, error) {
	if loop.OnAnyLoop() {
		return nil, ErrAwaitOnLoop
	}
	fut, err := c.start(ctx)
	if err != nil {
		return nil, err
	}
	return fut.Await(ctx)
}

func (b *Bridge) futureToJS(vm *goja.Runtime, f *Future) (goja.Value, error) {
	if f == nil {
		return goja.Null(), nil
	}
	return b.awaitableToJS(vm, f, f)
}

func (b *Bridge) coroutineToJS(vm *goja.Runtime, c *Coroutine) (goja.Value, error) {
	if c == nil {
		return goja.Null(), nil
	}
	fut, err := c.start(b.ctx)
	if err != nil {
		return nil, err
	}
	return b.awaitableToJS(vm, c, fut)
}

// awaitableToJS returns a JS promise that settles with f. key is the Go
// value the promise maps back to.
func (b *Bridge) awaitableToJS(vm *goja.Runtime, key any, f *Future) (goja.Value, error) {
	return b.cachedHost(key, func() (*goja.Object, error) {
		if !b.rt.IsRunning() {
			return nil, ErrLoopNotRunning
		}
		p, resolve, reject := vm.NewPromise()
		b.rt.Ref()
		f.onSettle(func(v any, err error) {
			settle := func() {
				defer b.rt.Unref()
				if err != nil {
					reject(b.errorToJS(vm, err))
					return
				}
				jv, cerr := b.toJS(vm, v)
				if cerr != nil {
					reject(b.errorToJS(vm, cerr))
					return
				}
				resolve(jv)
			}
			if b.rt.OnLoop() {
				settle()
				return
			}
			if !b.rt.Post(settle) {
				b.rt.Unref()
			}
		})
		return vm.ToValue(p).(*goja.Object), nil
	})
}
