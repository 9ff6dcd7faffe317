package bridge

import (
	"log/slog"
	"time"

	"github.com/dop251/goja"
)

// timersModuleName is the native module exposing the timer primitives to
// scripts that build their own timer APIs.
const timersModuleName = "internal:timers"

// ModuleLoader populates module.exports of a native module.
type ModuleLoader func(ic *InitContext, module *goja.Object)

// InitContext gives native modules access to the bridge's event loop
// primitives. There is one per bridge; its methods must be called on the
// loop goroutine.
type InitContext struct {
	b *Bridge
}

// Bridge returns the owning bridge.
func (ic *InitContext) Bridge() *Bridge { return ic.b }

// Runtime returns the engine.
func (ic *InitContext) Runtime() *goja.Runtime { return ic.b.vm }

// Logger returns the bridge logger.
func (ic *InitContext) Logger() *slog.Logger { return ic.b.logger }

// HeapStats reports the cross-heap handle table.
func (ic *InitContext) HeapStats() HeapStats { return ic.b.heap.Stats() }

// EnqueueWithDelay schedules fn on the loop after delay, repeatedly if
// repeat is set, and returns the timer id. The timer is ref'd.
func (ic *InitContext) EnqueueWithDelay(fn func(), delay time.Duration, repeat bool) (int64, error) {
	t, err := ic.b.timers.add(&timer{kind: "native", delay: max(delay, 0), repeat: repeat, native: fn})
	if err != nil {
		return 0, err
	}
	return t.id, nil
}

// CancelByTimeoutID cancels a timer. It reports false if there was no such
// active timer.
func (ic *InitContext) CancelByTimeoutID(id int64) bool { return ic.b.timers.cancel(id) }

// TimerHasRef reports whether the timer keeps Wait blocked. ok is false if
// there is no such active timer.
func (ic *InitContext) TimerHasRef(id int64) (ref, ok bool) {
	t, ok := ic.b.timers.byID[id]
	if !ok {
		return false, false
	}
	return t.ref, true
}

// TimerAddRef makes the timer keep Wait blocked.
func (ic *InitContext) TimerAddRef(id int64) bool { return ic.setRef(id, true) }

// TimerRemoveRef stops the timer keeping Wait blocked.
func (ic *InitContext) TimerRemoveRef(id int64) bool { return ic.setRef(id, false) }

func (ic *InitContext) setRef(id int64, ref bool) bool {
	t, ok := ic.b.timers.byID[id]
	if !ok {
		return false
	}
	ic.b.timers.setRef(t, ref)
	return true
}

// DebugInfo describes an active timer.
func (ic *InitContext) DebugInfo(id int64) (TimerInfo, bool) {
	t, ok := ic.b.timers.byID[id]
	if !ok {
		return TimerInfo{}, false
	}
	return t.info(), true
}

// AllRefedTimers describes the ref'd timers.
func (ic *InitContext) AllRefedTimers() []TimerInfo { return ic.b.timers.list(true) }

// InitContext returns the bridge's initialization context.
func (b *Bridge) InitContext() *InitContext { return b.init }

func (b *Bridge) timerInfoToJS(vm *goja.Runtime, info TimerInfo) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("id", info.ID)
	_ = obj.Set("type", info.Kind)
	_ = obj.Set("delaySeconds", info.Delay.Seconds())
	_ = obj.Set("repeat", info.Repeat)
	_ = obj.Set("ref", info.Ref)
	if started, err := b.timeToJS(vm, info.Started); err == nil {
		_ = obj.Set("startTime", started)
	}
	_ = obj.Set("stack", info.Stack)
	return obj
}

// loadTimersModule backs require("internal:timers"). Delays are in seconds.
func (b *Bridge) loadTimersModule(vm *goja.Runtime, module *goja.Object) {
	ic := b.init
	exports := module.Get("exports").(*goja.Object)
	def := func(name string, fn func(goja.FunctionCall) goja.Value) {
		_ = exports.Set(name, b.newHostFunction(vm, name, fn))
	}
	id := func(call goja.FunctionCall) int64 { return call.Argument(0).ToInteger() }

	def("enqueueWithDelay", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("enqueueWithDelay: job must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Second))
		t, err := b.timers.add(&timer{
			kind:   "enqueueWithDelay",
			delay:  max(delay, 0),
			repeat: call.Argument(2).ToBoolean(),
			fn:     fn,
			stack:  jsStack(vm),
		})
		if err != nil {
			panic(b.errorToJS(vm, err))
		}
		return vm.ToValue(t.id)
	})
	def("cancelByTimeoutId", func(call goja.FunctionCall) goja.Value {
		ic.CancelByTimeoutID(id(call))
		return goja.Undefined()
	})
	def("timerHasRef", func(call goja.FunctionCall) goja.Value {
		ref, _ := ic.TimerHasRef(id(call))
		return vm.ToValue(ref)
	})
	def("timerAddRef", func(call goja.FunctionCall) goja.Value {
		ic.TimerAddRef(id(call))
		return goja.Undefined()
	})
	def("timerRemoveRef", func(call goja.FunctionCall) goja.Value {
		ic.TimerRemoveRef(id(call))
		return goja.Undefined()
	})
	def("getDebugInfo", func(call goja.FunctionCall) goja.Value {
		info, ok := ic.DebugInfo(id(call))
		if !ok {
			return goja.Undefined()
		}
		return b.timerInfoToJS(vm, info)
	})
	def("getAllRefedTimersDebugInfo", func(goja.FunctionCall) goja.Value {
		infos := ic.AllRefedTimers()
		out := make([]any, len(infos))
		for i, info := range infos {
			out[i] = b.timerInfoToJS(vm, info)
		}
		return vm.NewArray(out...)
	})
}
