// Package heap coordinates references that cross between the Go heap and an
// embedded engine's heap.
//
// Each foreign value that is referenced from the other side gets a [Handle].
// The handle holds the strong root that keeps the foreign value alive, and a
// pin count: one pin per live proxy plus one per in-flight call using the
// value. Proxy collection is observed with [runtime.AddCleanup]; when the last
// pin is dropped the root is removed and the foreign runtime is free to
// collect the value on its own schedule.
package heap

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

// ErrReleased is returned when a handle is used after its foreign value has
// been released.
var ErrReleased = errors.New("heap: handle released")

// Handle is the indirection cell between a proxy and its foreign value.
type Handle struct {
	id      uint64
	key     any
	aliases []any
	// target is the strong root, cleared when the handle dies.
	target any
	pins   int
	dead   bool
	// proxy is a weak.Pointer to the home side proxy, typed by the caller.
	proxy any
}

// ID returns the handle's identifier, unique for the coordinator.
func (h *Handle) ID() uint64 { return h.id }

// Stats is a snapshot of the coordinator's tables.
type Stats struct {
	Live      int
	Pins      int
	Acquired  uint64
	Released  uint64
	Collected uint64
}

// Coordinator owns the handle table for one bridge.
type Coordinator struct {
	mu      sync.Mutex
	handles map[any]*Handle
	closed  bool

	nextID    atomic.Uint64
	acquired  atomic.Uint64
	released  atomic.Uint64
	collected atomic.Uint64

	// post schedules a function on the goroutine that owns the foreign
	// runtime. It returns false if that runtime is gone.
	post   func(func()) bool
	logger *slog.Logger
}

// New creates a coordinator. post is used to deliver collection callbacks;
// it must not block.
func New(post func(func()) bool, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		handles: make(map[any]*Handle),
		post:    post,
		logger:  logger,
	}
}

// Lookup returns the live handle registered under key.
func (c *Coordinator) Lookup(key any) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[key]
	return h, ok
}

// Acquire returns the live handle for key, creating one rooted at target if
// none exists. A new handle has no pins; it stays in the table until the
// first pin is dropped or it is released.
func (c *Coordinator) Acquire(key, target any) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireLocked(key, target)
}

func (c *Coordinator) acquireLocked(key, target any) (*Handle, error) {
	if c.closed {
		return nil, ErrReleased
	}
	if h, ok := c.handles[key]; ok {
		return h, nil
	}
	h := &Handle{
		id:     c.nextID.Add(1),
		key:    key,
		target: target,
	}
	c.handles[key] = h
	c.acquired.Add(1)
	return h, nil
}

// Alias registers an additional lookup key for h, e.g. a weak pointer to the
// proxy so the proxy can be mapped back to its handle.
func (c *Coordinator) Alias(h *Handle, key any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.dead {
		return ErrReleased
	}
	h.aliases = append(h.aliases, key)
	c.handles[key] = h
	return nil
}

// Pin adds a liveness guarantee to h.
func (c *Coordinator) Pin(h *Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.dead {
		return ErrReleased
	}
	h.pins++
	return nil
}

// Unpin drops one pin from h. At zero pins the root is removed.
func (c *Coordinator) Unpin(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpinLocked(h)
}

func (c *Coordinator) unpinLocked(h *Handle) {
	if h.dead {
		return
	}
	if h.pins > 0 {
		h.pins--
	}
	if h.pins == 0 {
		c.killLocked(h)
	}
}

// Release drops the root of h immediately, regardless of pins. Further use
// of h fails with [ErrReleased].
func (c *Coordinator) Release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killLocked(h)
}

func (c *Coordinator) killLocked(h *Handle) {
	if h.dead {
		return
	}
	h.dead = true
	h.target = nil
	h.pins = 0
	if c.handles[h.key] == h {
		delete(c.handles, h.key)
	}
	for _, k := range h.aliases {
		if c.handles[k] == h {
			delete(c.handles, k)
		}
	}
	h.aliases = nil
	c.released.Add(1)
}

// Alive reports whether h still roots its foreign value.
func (c *Coordinator) Alive(h *Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !h.dead
}

// Target returns the foreign value rooted by h.
func (c *Coordinator) Target(h *Handle) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.dead {
		return nil, ErrReleased
	}
	return h.target, nil
}

// Close releases every handle. Subsequent acquisitions fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, h := range c.handles {
		c.killLocked(h)
	}
	clear(c.handles)
}

// Stats returns a snapshot of the table.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Stats
	seen := make(map[*Handle]struct{}, len(c.handles))
	for _, h := range c.handles {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		s.Live++
		s.Pins += h.pins
	}
	s.Acquired = c.acquired.Load()
	s.Released = c.released.Load()
	s.Collected = c.collected.Load()
	return s
}

// Attach records proxy as the home side proxy of h and pins h on its behalf.
// The pin is dropped when proxy is collected.
func Attach[T any](c *Coordinator, h *Handle, proxy *T) error {
	c.mu.Lock()
	if h.dead {
		c.mu.Unlock()
		return ErrReleased
	}
	attachLocked(h, proxy)
	c.mu.Unlock()
	watch(c, h, proxy)
	return nil
}

// AcquireAttach is [Coordinator.Acquire] followed by [Attach] as one step.
// The pending cleanup of a collected proxy can otherwise drop the last pin
// of an existing handle between the two. wrap builds the proxy for the
// handle; it runs with the coordinator locked and must not call back into
// it.
func AcquireAttach[T any](c *Coordinator, key, target any, wrap func(*Handle) *T) (*T, error) {
	c.mu.Lock()
	h, err := c.acquireLocked(key, target)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	proxy := wrap(h)
	attachLocked(h, proxy)
	c.mu.Unlock()
	watch(c, h, proxy)
	return proxy, nil
}

func attachLocked[T any](h *Handle, proxy *T) {
	h.pins++
	h.proxy = weak.Make(proxy)
}

func watch[T any](c *Coordinator, h *Handle, proxy *T) {
	id := h.id
	runtime.AddCleanup(proxy, func(h *Handle) {
		c.collected.Add(1)
		c.logger.Debug("proxy collected", slog.Uint64("handle", id))
		c.Unpin(h)
	}, h)
}

// Proxy returns the live proxy attached to h, or nil if there is none or it
// has been collected.
func Proxy[T any](c *Coordinator, h *Handle) *T {
	c.mu.Lock()
	wp, ok := h.proxy.(weak.Pointer[T])
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return wp.Value()
}

// OnCollected arranges for callback to run, on the coordinator's owning
// goroutine, once target has been collected. The callback runs at most once;
// the returned cancel function prevents it from running.
//
// callback must not reference target, or target will never be collected.
func OnCollected[T any](c *Coordinator, target *T, callback func()) (cancel func()) {
	var state atomic.Int32 // 0 armed, 1 fired, 2 cancelled
	cl := runtime.AddCleanup(target, func(cb func()) {
		if !state.CompareAndSwap(0, 1) {
			return
		}
		c.collected.Add(1)
		if c.post == nil || !c.post(cb) {
			c.logger.Debug("collection callback dropped, owner gone")
		}
	}, callback)
	return func() {
		if state.CompareAndSwap(0, 2) {
			cl.Stop()
		}
	}
}
