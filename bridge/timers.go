package bridge

import (
	"cmp"
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jsbridge/internal/loop"
)

// maxTimerDelay is the largest delay a timer accepts; longer delays fire
// after 1ms, as in Node.js.
const maxTimerDelay = math.MaxInt32 * time.Millisecond

// TimerInfo describes an active timer.
type TimerInfo struct {
	ID       int64
	Kind     string
	Delay    time.Duration
	Repeat   bool
	Ref      bool
	Started  time.Time
	Deadline time.Time
	// Stack is where the timer was created.
	Stack string
}

type timer struct {
	id       int64
	seq      uint64
	kind     string
	delay    time.Duration
	repeat   bool
	ref      bool
	started  time.Time
	deadline time.Time
	stack    string
	index    int

	fn     goja.Callable
	args   []goja.Value
	native func()
}

func (t *timer) info() TimerInfo {
	return TimerInfo{
		ID:       t.id,
		Kind:     t.kind,
		Delay:    t.delay,
		Repeat:   t.repeat,
		Ref:      t.ref,
		Started:  t.started,
		Deadline: t.deadline,
		Stack:    t.stack,
	}
}

// timerHeap orders timers by deadline, then by creation, so timers with
// equal deadlines fire in the order they were scheduled.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerQueue implements the JS timer functions on one loop timer, armed for
// the earliest deadline. It is confined to the loop goroutine.
type timerQueue struct {
	b      *Bridge
	vm     *goja.Runtime
	byID   map[int64]*timer
	queue  timerHeap
	nextID int64
	seq    uint64

	armed   *loop.Timer
	armedAt time.Time

	proto *goja.Object
}

func newTimerQueue(b *Bridge) *timerQueue {
	return &timerQueue{b: b, byID: make(map[int64]*timer)}
}

func (q *timerQueue) install(vm *goja.Runtime) error {
	q.vm = vm
	q.proto = q.timeoutPrototype(vm)
	global := vm.GlobalObject()
	// replaces the event loop's own timers, which do not order equal
	// deadlines or support ref
	set := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		return global.Set(name, q.b.newHostFunction(vm, name, fn))
	}
	for _, def := range []struct {
		name string
		fn   func(goja.FunctionCall) goja.Value
	}{
		{"setTimeout", func(call goja.FunctionCall) goja.Value { return q.jsSet(call, "setTimeout", false, 1) }},
		{"setInterval", func(call goja.FunctionCall) goja.Value { return q.jsSet(call, "setInterval", true, 1) }},
		{"setImmediate", func(call goja.FunctionCall) goja.Value { return q.jsSet(call, "setImmediate", false, -1) }},
		{"clearTimeout", q.jsClear},
		{"clearInterval", q.jsClear},
		{"clearImmediate", q.jsClear},
	} {
		if err := set(def.name, def.fn); err != nil {
			return fmt.Errorf("install %s: %w", def.name, err)
		}
	}
	return nil
}

// jsSet implements setTimeout and friends. delayArg is the index of the
// delay argument, or -1 if there is none.
func (q *timerQueue) jsSet(call goja.FunctionCall, kind string, repeat bool, delayArg int) goja.Value {
	vm := q.vm
	handler := call.Argument(0)
	fn, ok := goja.AssertFunction(handler)
	if !ok {
		// a string handler is a function body
		compiled, err := vm.New(q.b.js.function, handler.ToString())
		if err != nil {
			panic(err)
		}
		fn, _ = goja.AssertFunction(compiled)
	}
	var delay time.Duration
	var args []goja.Value
	if delayArg >= 0 {
		delay = timerDelay(call.Argument(delayArg))
		if len(call.Arguments) > delayArg+1 {
			args = append(args, call.Arguments[delayArg+1:]...)
		}
	} else if len(call.Arguments) > 1 {
		args = append(args, call.Arguments[1:]...)
	}
	t, err := q.add(&timer{
		kind:   kind,
		delay:  delay,
		repeat: repeat,
		fn:     fn,
		args:   args,
		stack:  jsStack(vm),
	})
	if err != nil {
		panic(q.b.errorToJS(vm, err))
	}
	return q.timeoutObject(vm, t.id)
}

// timerDelay converts a JS delay in milliseconds.
func timerDelay(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) {
		return 0
	}
	ms := v.ToFloat()
	switch {
	case math.IsNaN(ms), ms < 0:
		return 0
	case ms > math.MaxInt32:
		return time.Millisecond
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (q *timerQueue) jsClear(call goja.FunctionCall) goja.Value {
	if id, ok := q.timerID(call.Argument(0)); ok {
		q.cancel(id)
	}
	return goja.Undefined()
}

// timerID reads the numeric id of a Timeout object or a number. Anything
// else is not an id.
func (q *timerQueue) timerID(v goja.Value) (int64, bool) {
	if obj, ok := v.(*goja.Object); ok {
		v = obj.GetSymbol(q.b.js.timerSym)
		if v == nil {
			return 0, false
		}
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	switch v.Export().(type) {
	case int64, float64:
	default:
		return 0, false
	}
	f := v.ToFloat()
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func (q *timerQueue) timeoutPrototype(vm *goja.Runtime) *goja.Object {
	proto := vm.NewObject()
	method := func(name string, fn func(t *timer, this *goja.Object) goja.Value) {
		_ = proto.Set(name, q.b.newHostFunction(vm, name, func(call goja.FunctionCall) goja.Value {
			this, _ := call.This.(*goja.Object)
			var t *timer
			if this != nil {
				if id, ok := q.timerID(this); ok {
					t = q.byID[id]
				}
			}
			return fn(t, this)
		}))
	}
	method("hasRef", func(t *timer, _ *goja.Object) goja.Value {
		return vm.ToValue(t != nil && t.ref)
	})
	method("ref", func(t *timer, this *goja.Object) goja.Value {
		if t != nil {
			q.setRef(t, true)
		}
		return this
	})
	method("unref", func(t *timer, this *goja.Object) goja.Value {
		if t != nil {
			q.setRef(t, false)
		}
		return this
	})
	method("close", func(t *timer, this *goja.Object) goja.Value {
		if t != nil {
			q.cancel(t.id)
		}
		return this
	})
	method("refresh", func(t *timer, this *goja.Object) goja.Value {
		if t != nil {
			q.refresh(t)
		}
		return this
	})
	_ = proto.SetSymbol(goja.SymToPrimitive, q.b.newHostFunction(vm, "[Symbol.toPrimitive]", func(call goja.FunctionCall) goja.Value {
		if id, ok := q.timerID(call.This); ok {
			return vm.ToValue(id)
		}
		return vm.ToValue(math.NaN())
	}))
	return proto
}

func (q *timerQueue) timeoutObject(vm *goja.Runtime, id int64) *goja.Object {
	obj := vm.NewObject()
	_ = obj.SetPrototype(q.proto)
	_ = obj.DefineDataPropertySymbol(q.b.js.timerSym, vm.ToValue(id), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	return obj
}

// add schedules t, ref'd.
func (q *timerQueue) add(t *timer) (*timer, error) {
	if !q.b.rt.IsRunning() {
		return nil, ErrLoopNotRunning
	}
	if t.delay > maxTimerDelay {
		t.delay = time.Millisecond
	}
	q.nextID++
	t.id = q.nextID
	t.started = time.Now()
	t.ref = true
	q.b.rt.Ref()
	q.byID[t.id] = t
	q.push(t, t.started)
	q.arm()
	q.b.logTimer("timer scheduled", t)
	return t, nil
}

func (q *timerQueue) push(t *timer, from time.Time) {
	q.seq++
	t.seq = q.seq
	t.deadline = from.Add(t.delay)
	heap.Push(&q.queue, t)
}

func (q *timerQueue) setRef(t *timer, ref bool) {
	if t.ref == ref {
		return
	}
	t.ref = ref
	if ref {
		q.b.rt.Ref()
	} else {
		q.b.rt.Unref()
	}
}

// cancel removes a timer and drops its references. Unknown ids are
// ignored.
func (q *timerQueue) cancel(id int64) bool {
	t, ok := q.byID[id]
	if !ok {
		return false
	}
	q.remove(t)
	q.arm()
	return true
}

func (q *timerQueue) remove(t *timer) {
	delete(q.byID, t.id)
	if t.index >= 0 && t.index < len(q.queue) && q.queue[t.index] == t {
		heap.Remove(&q.queue, t.index)
	}
	q.setRef(t, false)
	t.fn, t.args, t.native = nil, nil, nil
}

func (q *timerQueue) refresh(t *timer) {
	if t.index >= 0 && t.index < len(q.queue) && q.queue[t.index] == t {
		heap.Remove(&q.queue, t.index)
	}
	q.push(t, time.Now())
	q.arm()
}

// arm makes sure the loop timer fires at the earliest deadline.
func (q *timerQueue) arm() {
	if len(q.queue) == 0 {
		q.b.rt.Cancel(q.armed)
		q.armed = nil
		return
	}
	next := q.queue[0].deadline
	if q.armed != nil && q.armedAt.Equal(next) {
		return
	}
	q.b.rt.Cancel(q.armed)
	armed, err := q.b.rt.Schedule(time.Until(next), q.fire)
	if err != nil {
		q.armed = nil
		return
	}
	q.armed, q.armedAt = armed, next
}

// fire runs every timer that is due. Each callback drains the microtask
// queue before the next runs.
func (q *timerQueue) fire(vm *goja.Runtime) {
	q.armed = nil
	now := time.Now()
	var due []*timer
	for len(q.queue) > 0 && !q.queue[0].deadline.After(now) {
		due = append(due, heap.Pop(&q.queue).(*timer))
	}
	for _, t := range due {
		if _, active := q.byID[t.id]; !active {
			continue
		}
		if t.repeat {
			q.push(t, time.Now())
		}
		q.run(vm, t)
		if !t.repeat && t.index < 0 {
			// refresh may have re-queued it
			if cur, ok := q.byID[t.id]; ok && cur == t {
				q.remove(t)
			}
		}
	}
	q.arm()
}

func (q *timerQueue) run(vm *goja.Runtime, t *timer) {
	if t.native != nil {
		native := t.native
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.b.reportUnhandled(fmt.Errorf("timer %d panicked: %v", t.id, r))
				}
			}()
			native()
		}()
		return
	}
	if t.fn == nil {
		return
	}
	if _, err := t.fn(vm.GlobalObject(), t.args...); err != nil {
		q.b.reportUnhandled(q.b.fromJSError(vm, err))
	}
}

// clearAll cancels every timer.
func (q *timerQueue) clearAll() {
	for _, t := range q.byID {
		q.remove(t)
	}
	q.arm()
}

func (q *timerQueue) list(refedOnly bool) []TimerInfo {
	out := make([]TimerInfo, 0, len(q.byID))
	for _, t := range q.byID {
		if refedOnly && !t.ref {
			continue
		}
		out = append(out, t.info())
	}
	slices.SortFunc(out, func(a, b TimerInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// jsStack formats the current JS call stack.
func jsStack(vm *goja.Runtime) string {
	var sb strings.Builder
	for _, f := range vm.CaptureCallStack(0, nil) {
		pos := f.Position()
		fr := Frame{Function: f.FuncName(), File: pos.Filename, Line: pos.Line, Column: pos.Column, Origin: "JavaScript"}
		if fr.File == "" {
			fr.File = f.SrcName()
		}
		sb.WriteString("\tat ")
		sb.WriteString(fr.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Timers lists the active timers.
func (b *Bridge) Timers() ([]TimerInfo, error) {
	var out []TimerInfo
	err := b.do(func(*goja.Runtime) error {
		out = b.timers.list(false)
		return nil
	})
	return out, err
}

// RefedTimers lists the active timers that keep Wait blocked.
func (b *Bridge) RefedTimers() ([]TimerInfo, error) {
	var out []TimerInfo
	err := b.do(func(*goja.Runtime) error {
		out = b.timers.list(true)
		return nil
	})
	return out, err
}

func (b *Bridge) logTimer(msg string, t *timer) {
	b.logger.Debug(msg, slog.Int64("timer", t.id), slog.String("kind", t.kind), slog.Duration("delay", t.delay))
}
