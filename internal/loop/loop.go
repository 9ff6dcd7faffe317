// Package loop owns the goroutine that runs the JavaScript engine.
//
// goja.Runtime is not goroutine-safe: every access goes through the event
// loop. Runtime wraps the goja_nodejs event loop with lifecycle management,
// synchronous request helpers that are safe to call from the loop itself,
// per-job hooks, and a keep-alive count used to wait for pending work.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-jsbridge/internal/goroutineid"
)

// DefaultSyncTimeout is the maximum duration to wait for RunOnLoopSync.
const DefaultSyncTimeout = 5 * time.Second

var (
	// ErrNotRunning is returned when work is submitted to a loop that has
	// not started or has been closed.
	ErrNotRunning = errors.New("event loop not running")
	// ErrStopped is returned when the loop stops while a caller waits.
	ErrStopped = errors.New("event loop stopped before completion")
)

// PanicError carries a panic recovered from a job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic on event loop: %v", e.Value)
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	registry    *require.Registry
	console     bool
	syncTimeout time.Duration
	logger      *slog.Logger
	init        []func(*goja.Runtime) error
}

// WithRegistry shares a require registry with the runtime.
func WithRegistry(registry *require.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithConsole enables the goja_nodejs console module on the runtime.
func WithConsole(enabled bool) Option {
	return func(o *options) { o.console = enabled }
}

// WithSyncTimeout sets the RunOnLoopSync timeout. Zero disables it.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) { o.syncTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithInit adds a function run on the loop before New returns.
func WithInit(fn func(vm *goja.Runtime) error) Option {
	return func(o *options) { o.init = append(o.init, fn) }
}

// Runtime is a running event loop plus the state needed to use it safely
// from any goroutine.
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	logger   *slog.Logger

	// vm is only touched on the loop goroutine.
	vm *goja.Runtime

	// loopGoroutineID is captured once, by the first job.
	loopGoroutineID atomic.Int64

	mu      sync.RWMutex
	started bool
	stopped bool
	timeout time.Duration

	hooksMu sync.RWMutex
	hooks   []func(*goja.Runtime)

	refMu sync.Mutex
	refs  int
	idle  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a loop. The runtime stops when ctx is done or Close is called.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := options{
		console:     true,
		syncTimeout: DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = require.NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	el := eventloop.NewEventLoop(
		eventloop.WithRegistry(o.registry),
		eventloop.EnableConsole(o.console),
	)

	// lifecycle is independent of the parent so Close always finishes cleanly
	childCtx, cancel := context.WithCancel(context.Background())

	r := &Runtime{
		loop:     el,
		registry: o.registry,
		logger:   o.logger,
		timeout:  o.syncTimeout,
		idle:     closedChan(),
		ctx:      childCtx,
		cancel:   cancel,
	}

	el.Start()
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	errCh := make(chan error, 1)
	ok := el.RunOnLoop(func(vm *goja.Runtime) {
		id := goroutineid.Get()
		r.loopGoroutineID.Store(id)
		loopGoroutines.Store(id, r)
		r.vm = vm
		for _, fn := range o.init {
			if err := fn(vm); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	})
	if !ok {
		cancel()
		return nil, ErrNotRunning
	}
	if err := <-errCh; err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to initialize loop: %w", err)
	}

	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() { _ = r.Close() })
	}
	return r, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Registry returns the require registry shared with the loop.
func (r *Runtime) Registry() *require.Registry { return r.registry }

// Close stops the loop. It waits for the job in progress, if any, and is
// safe to call more than once.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	loopGoroutines.Delete(r.loopGoroutineID.Load())
	if r.OnLoop() {
		// can't wait for ourselves
		r.loop.StopNoWait()
	} else {
		r.loop.Stop()
	}
	return nil
}

// Done is closed once the runtime stops.
func (r *Runtime) Done() <-chan struct{} { return r.ctx.Done() }

// IsRunning reports whether the loop accepts work.
func (r *Runtime) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started && !r.stopped
}

// SyncTimeout returns the RunOnLoopSync timeout.
func (r *Runtime) SyncTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}

// SetSyncTimeout changes the RunOnLoopSync timeout. Zero disables it.
func (r *Runtime) SetSyncTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// loopGoroutines maps the goroutine id of every running loop to its runtime.
var loopGoroutines sync.Map

// OnAnyLoop reports whether the caller is the goroutine of any running loop.
func OnAnyLoop() bool {
	id := goroutineid.Get()
	if id == 0 {
		return false
	}
	_, ok := loopGoroutines.Load(id)
	return ok
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (r *Runtime) OnLoop() bool {
	return goroutineid.Same(r.loopGoroutineID.Load())
}

// AddJobHook registers fn to run on the loop after every job submitted
// through this runtime, once the engine's microtasks have drained.
func (r *Runtime) AddJobHook(fn func(*goja.Runtime)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

// drainJobs is run after each job. Entering the engine at top level runs
// any promise reactions queued by Go code, e.g. a resolve func called
// outside of script.
var drainJobs = goja.MustCompile("", "undefined", false)

// wrap runs fn followed by the job hooks, converting panics to errors.
func (r *Runtime) wrap(fn func(*goja.Runtime) error) func(*goja.Runtime) error {
	return func(vm *goja.Runtime) (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = &PanicError{Value: v, Stack: debug.Stack()}
				r.logger.Error("recovered panic on event loop", slog.Any("panic", v))
			}
			if _, derr := vm.RunProgram(drainJobs); derr != nil {
				r.logger.Debug("draining promise jobs failed", slog.Any("error", derr))
			}
			r.hooksMu.RLock()
			hooks := r.hooks
			r.hooksMu.RUnlock()
			for _, h := range hooks {
				h(vm)
			}
		}()
		return fn(vm)
	}
}

// RunOnLoop schedules fn on the loop. It returns false if the loop is not
// running.
func (r *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	if !r.IsRunning() {
		return false
	}
	job := r.wrap(func(vm *goja.Runtime) error {
		fn(vm)
		return nil
	})
	return r.loop.RunOnLoop(func(vm *goja.Runtime) { _ = job(vm) })
}

// Post schedules fn on the loop, for callers that do not need the runtime.
func (r *Runtime) Post(fn func()) bool {
	return r.RunOnLoop(func(*goja.Runtime) { fn() })
}

// RunOnLoopSync schedules fn on the loop and waits for it to finish, the
// loop to stop, or the sync timeout to elapse.
func (r *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	r.mu.RLock()
	if !r.started || r.stopped {
		r.mu.RUnlock()
		return ErrNotRunning
	}
	timeout := r.timeout
	r.mu.RUnlock()

	job := r.wrap(fn)
	errCh := make(chan error, 1)
	if !r.loop.RunOnLoop(func(vm *goja.Runtime) { errCh <- job(vm) }) {
		return ErrNotRunning
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case err := <-errCh:
		return err
	case <-r.Done():
		// the job may still have completed just before the loop stopped
		select {
		case err := <-errCh:
			return err
		default:
			return ErrStopped
		}
	case <-timeoutC:
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// TryRunOnLoopSync runs fn inline when called from the loop goroutine, and
// otherwise behaves like RunOnLoopSync. Engine calls that re-enter Go which
// then re-enters the engine must use this, or they deadlock.
func (r *Runtime) TryRunOnLoopSync(fn func(*goja.Runtime) error) error {
	if !r.IsRunning() {
		return ErrNotRunning
	}
	if r.OnLoop() {
		return fn(r.vm)
	}
	return r.RunOnLoopSync(fn)
}

// Timer is a scheduled loop callback.
type Timer struct {
	t *eventloop.Timer
}

// Schedule runs fn on the loop after d. The callback counts as a job, so the
// job hooks run after it.
func (r *Runtime) Schedule(d time.Duration, fn func(*goja.Runtime)) (*Timer, error) {
	if !r.IsRunning() {
		return nil, ErrNotRunning
	}
	if d < 0 {
		d = 0
	}
	job := r.wrap(func(vm *goja.Runtime) error {
		fn(vm)
		return nil
	})
	t := r.loop.SetTimeout(func(vm *goja.Runtime) { _ = job(vm) }, d)
	if t == nil {
		return nil, ErrNotRunning
	}
	return &Timer{t: t}, nil
}

// Cancel stops a timer returned by Schedule. Cancelling a fired or nil
// timer does nothing.
func (r *Runtime) Cancel(t *Timer) {
	if t == nil || t.t == nil {
		return
	}
	r.loop.ClearTimeout(t.t)
	t.t = nil
}

// Ref records a piece of pending work that should keep Wait blocked.
func (r *Runtime) Ref() {
	r.refMu.Lock()
	if r.refs == 0 {
		r.idle = make(chan struct{})
	}
	r.refs++
	r.refMu.Unlock()
}

// Unref releases a reference taken by Ref.
func (r *Runtime) Unref() {
	r.refMu.Lock()
	if r.refs > 0 {
		r.refs--
		if r.refs == 0 {
			close(r.idle)
		}
	}
	r.refMu.Unlock()
}

// Refs returns the number of outstanding references.
func (r *Runtime) Refs() int {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	return r.refs
}

// Wait blocks until no references remain, the loop stops, or ctx is done.
// It must not be called from the loop goroutine.
func (r *Runtime) Wait(ctx context.Context) error {
	if r.OnLoop() {
		return errors.New("wait called on the event loop goroutine")
	}
	select {
	case <-r.Done():
		return ErrStopped
	default:
	}
	r.refMu.Lock()
	idle := r.idle
	r.refMu.Unlock()
	select {
	case <-idle:
		// a job may have taken a new reference while we were waking
		if r.Refs() > 0 {
			return r.Wait(ctx)
		}
		return nil
	case <-r.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
