package bridge

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
	"weak"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jsbridge/internal/heap"
	"github.com/joeycumines/go-jsbridge/internal/wtf8"
)

// maxSafeInteger is Number.MAX_SAFE_INTEGER.
const maxSafeInteger = 1<<53 - 1

var (
	timeType  = reflect.TypeFor[time.Time]()
	errorType = reflect.TypeFor[error]()
)

// ToJS converts a Go value for use in the engine. It must be called on the
// loop goroutine, e.g. inside Do.
func (b *Bridge) ToJS(v any) (goja.Value, error) { return b.toJS(b.vm, v) }

// ToGo converts an engine value. It must be called on the loop goroutine.
func (b *Bridge) ToGo(v goja.Value) (any, error) { return b.toGo(b.vm, v) }

// RoundTrip converts v to JS and back.
func (b *Bridge) RoundTrip(v any) (any, error) {
	var out any
	err := b.do(func(vm *goja.Runtime) error {
		jv, err := b.toJS(vm, v)
		if err != nil {
			return err
		}
		out, err = b.toGo(vm, jv)
		return err
	})
	return out, err
}

func (b *Bridge) toJS(vm *goja.Runtime, v any) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case undefined:
		return goja.Undefined(), nil
	case goja.Value:
		return x, nil
	case Proxy:
		return b.proxyToJS(x)
	case *Symbol:
		if x == nil {
			return goja.Null(), nil
		}
		return b.symbolToJS(x)
	case bool:
		return vm.ToValue(x), nil
	case string:
		return stringToJS(vm, x)
	case float64:
		return vm.ToValue(x), nil
	case float32:
		return vm.ToValue(float64(x)), nil
	case int:
		return intToJS(vm, int64(x))
	case int8:
		return vm.ToValue(int64(x)), nil
	case int16:
		return vm.ToValue(int64(x)), nil
	case int32:
		return vm.ToValue(int64(x)), nil
	case int64:
		return intToJS(vm, x)
	case uint:
		return uintToJS(vm, uint64(x))
	case uint8:
		return vm.ToValue(int64(x)), nil
	case uint16:
		return vm.ToValue(int64(x)), nil
	case uint32:
		return vm.ToValue(int64(x)), nil
	case uint64:
		return uintToJS(vm, x)
	case uintptr:
		return uintToJS(vm, uint64(x))
	case *big.Int:
		if x == nil {
			return goja.Null(), nil
		}
		return vm.ToValue(x), nil
	case big.Int:
		return vm.ToValue(&x), nil
	case time.Time:
		return b.timeToJS(vm, x)
	case []byte:
		return b.bytesToJS(vm, x)
	case *Buffer:
		return b.bufferToJS(vm, x)
	case *JSError:
		if x.b == b && x.thrown != nil {
			return x.thrown, nil
		}
		return b.errorToJS(vm, x), nil
	case error:
		return b.errorToJS(vm, x), nil
	case *Future:
		return b.futureToJS(vm, x)
	case *Task:
		if x == nil {
			return goja.Null(), nil
		}
		return b.awaitableToJS(vm, x, &x.Future)
	case *Coroutine:
		return b.coroutineToJS(vm, x)
	case HostFunc:
		return b.hostFuncToJS(vm, x)
	case func(Call) (any, error):
		return b.hostFuncToJS(vm, x)
	case map[string]any:
		if x == nil {
			return goja.Null(), nil
		}
		return b.hostMapToJS(vm, x)
	case []any:
		return b.hostSliceToJS(vm, x)
	case *[]any:
		if x == nil {
			return goja.Null(), nil
		}
		return b.hostSlicePtrToJS(vm, x)
	}
	return b.reflectToJS(vm, v)
}

func (b *Bridge) reflectToJS(vm *goja.Runtime, v any) (goja.Value, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return stringToJS(vm, rv.String())
	case reflect.Bool:
		return vm.ToValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intToJS(vm, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintToJS(vm, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return vm.ToValue(rv.Float()), nil
	case reflect.Func:
		if rv.IsNil() {
			return goja.Null(), nil
		}
		return b.cachedHost(v, func() (*goja.Object, error) {
			return b.newHostFunction(vm, funcName(rv), b.adaptFunc(vm, rv)), nil
		})
	case reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return nil, coercionErrorf(rv.Type().String(), "no JS equivalent")
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if rv.IsNil() {
			return goja.Null(), nil
		}
	}
	return b.cachedHost(v, func() (*goja.Object, error) {
		obj, ok := vm.ToValue(v).(*goja.Object)
		if !ok {
			return nil, coercionErrorf(fmt.Sprintf("%T", v), "no JS equivalent")
		}
		return obj, nil
	})
}

// cachedHost returns the JS wrapper of a Go value, creating it with build
// on first use. Values with identity map to a single wrapper for as long as
// that wrapper is alive.
func (b *Bridge) cachedHost(v any, build func() (*goja.Object, error)) (goja.Value, error) {
	return b.cachedHostAs(v, v, build)
}

// cachedHostAs is cachedHost where the wrapper maps back to target rather
// than v.
func (b *Bridge) cachedHostAs(v, target any, build func() (*goja.Object, error)) (goja.Value, error) {
	key, ok := identityOf(v)
	if !ok {
		obj, err := build()
		if err != nil {
			return nil, err
		}
		return obj, nil
	}
	if h, ok := b.heap.Lookup(key); ok {
		if obj := heap.Proxy[goja.Object](b.heap, h); obj != nil {
			return obj, nil
		}
	}
	obj, err := build()
	if err != nil {
		return nil, err
	}
	var h *heap.Handle
	if _, err := heap.AcquireAttach(b.heap, key, target, func(nh *heap.Handle) *goja.Object {
		h = nh
		return obj
	}); err != nil {
		return nil, lifetimeError("wrap", err)
	}
	if err := b.heap.Alias(h, weak.Make(obj)); err != nil {
		return nil, lifetimeError("wrap", err)
	}
	return obj, nil
}

func intToJS(vm *goja.Runtime, i int64) (goja.Value, error) {
	if i > maxSafeInteger || i < -maxSafeInteger {
		return nil, &OverflowError{Value: big.NewInt(i)}
	}
	return vm.ToValue(i), nil
}

func uintToJS(vm *goja.Runtime, u uint64) (goja.Value, error) {
	if u > maxSafeInteger {
		return nil, &OverflowError{Value: new(big.Int).SetUint64(u)}
	}
	return vm.ToValue(int64(u)), nil
}

func stringToJS(vm *goja.Runtime, s string) (goja.Value, error) {
	if utf8.ValidString(s) {
		return vm.ToValue(s), nil
	}
	units, err := wtf8.ToUTF16(s)
	if err != nil {
		return nil, &CoercionError{Type: "string", Err: err}
	}
	return goja.StringFromUTF16(units), nil
}

// stringToGo returns the exact code units of s. Lone surrogates, which
// goja's own export replaces, are kept as WTF-8.
func stringToGo(s goja.String) string {
	str := s.String()
	if !strings.ContainsRune(str, utf8.RuneError) {
		return str
	}
	units := make([]uint16, s.Length())
	for i := range units {
		units[i] = s.CharAt(i)
	}
	return wtf8.FromUTF16(units)
}

func (b *Bridge) timeToJS(vm *goja.Runtime, t time.Time) (goja.Value, error) {
	ms := t.UnixMilli()
	// ECMAScript time values span ±8.64e15 ms
	if ms > 8.64e15 || ms < -8.64e15 {
		return nil, coercionErrorf("time.Time", "%v is outside the range of a JS Date", t)
	}
	return vm.New(b.js.date, vm.ToValue(ms))
}

func (b *Bridge) toGo(vm *goja.Runtime, v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch x := v.(type) {
	case *goja.Object:
		return b.objectToGo(vm, x)
	case *goja.Symbol:
		return b.symbolToGo(x)
	case goja.String:
		return stringToGo(x), nil
	}
	switch e := v.Export().(type) {
	case bool:
		return e, nil
	case int64:
		return float64(e), nil
	case float64:
		return e, nil
	case *big.Int:
		return e, nil
	default:
		return nil, coercionErrorf(typeOf(v), "unsupported primitive %T", e)
	}
}

// symbolToJS registers s so the engine symbol maps back to it.
func (b *Bridge) symbolToJS(s *Symbol) (goja.Value, error) {
	if _, ok := wellKnownSymbols[s.sym]; ok {
		return s.sym, nil
	}
	if h, ok := b.heap.Lookup(s.sym); ok && heap.Proxy[Symbol](b.heap, h) != nil {
		return s.sym, nil
	}
	if _, err := heap.AcquireAttach(b.heap, s.sym, s.sym, func(*heap.Handle) *Symbol { return s }); err != nil {
		return nil, lifetimeError("symbol", err)
	}
	return s.sym, nil
}

func (b *Bridge) symbolToGo(sym *goja.Symbol) (any, error) {
	if s, ok := wellKnownSymbols[sym]; ok {
		return s, nil
	}
	if h, ok := b.heap.Lookup(sym); ok {
		if s := heap.Proxy[Symbol](b.heap, h); s != nil {
			return s, nil
		}
	}
	s, err := heap.AcquireAttach(b.heap, sym, sym, func(*heap.Handle) *Symbol {
		return &Symbol{sym: sym}
	})
	if err != nil {
		return nil, lifetimeError("symbol", err)
	}
	return s, nil
}

func (b *Bridge) objectToGo(vm *goja.Runtime, obj *goja.Object) (any, error) {
	if h, ok := b.heap.Lookup(obj); ok {
		if p := b.liveProxy(h); p != nil {
			return p, nil
		}
	}
	// wrappers of Go values map back to the Go value
	if h, ok := b.heap.Lookup(weak.Make(obj)); ok {
		if t, err := b.heap.Target(h); err == nil {
			return unwrapHost(t), nil
		}
	}

	// promises report class "Object"; only their export type tells them apart
	if obj.ExportType() == typePromise {
		return b.newPromise(vm, obj)
	}

	switch obj.ClassName() {
	case "Date":
		t, ok := obj.Export().(time.Time)
		if !ok {
			return nil, coercionErrorf("Date", "invalid date")
		}
		return t, nil
	case "Error":
		if err := b.goErrorOf(obj); err != nil {
			return err, nil
		}
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return newObjectProxy(b, obj, KindFunction, func(o Object) *Function {
			return &Function{Object: o}
		})
	}
	if isTrue(b.js.arrayIsArray(goja.Undefined(), obj)) {
		return newObjectProxy(b, obj, KindArray, func(o Object) *Array {
			return &Array{Object: o}
		})
	}
	if ta, ok, err := b.typedArrayOf(vm, obj); ok || err != nil {
		return ta, err
	}
	return newObjectProxy(b, obj, KindObject, func(o Object) *Object {
		p := o
		return &p
	})
}

// liveProxy returns the proxy attached to h if it is still reachable.
func (b *Bridge) liveProxy(h *heap.Handle) Proxy {
	if p := heap.Proxy[Object](b.heap, h); p != nil {
		return p
	}
	if p := heap.Proxy[Array](b.heap, h); p != nil {
		return p
	}
	if p := heap.Proxy[Function](b.heap, h); p != nil {
		return p
	}
	if p := heap.Proxy[BoundMethod](b.heap, h); p != nil {
		return p
	}
	if p := heap.Proxy[Promise](b.heap, h); p != nil {
		return p
	}
	if p := heap.Proxy[TypedArray](b.heap, h); p != nil {
		return p
	}
	return nil
}

var typePromise = reflect.TypeOf((*goja.Promise)(nil))

func newObjectProxy[T any](b *Bridge, obj *goja.Object, kind Kind, wrap func(Object) *T) (*T, error) {
	p, err := heap.AcquireAttach(b.heap, obj, obj, func(h *heap.Handle) *T {
		return wrap(Object{b: b, h: h, kind: kind})
	})
	if err != nil {
		return nil, lifetimeError("wrap", err)
	}
	return p, nil
}

func (b *Bridge) proxyToJS(p Proxy) (goja.Value, error) {
	o := p.base()
	if o.b != b {
		return nil, coercionErrorf(o.kind.String()+" proxy", "belongs to a different bridge")
	}
	obj, err := o.target()
	if err != nil {
		return nil, lifetimeError("convert", err)
	}
	return obj, nil
}

// argsToJS converts call arguments, pinning any proxies until done is
// called.
func (b *Bridge) argsToJS(vm *goja.Runtime, args []any) (_ []goja.Value, done func(), err error) {
	out := make([]goja.Value, len(args))
	var pinned []*heap.Handle
	done = func() {
		for _, h := range pinned {
			b.heap.Unpin(h)
		}
	}
	for i, a := range args {
		if p, ok := a.(Proxy); ok && p.base().b == b {
			h := p.base().h
			if err := b.heap.Pin(h); err != nil {
				done()
				return nil, nil, lifetimeError(fmt.Sprintf("argument %d", i), err)
			}
			pinned = append(pinned, h)
		}
		if out[i], err = b.toJS(vm, a); err != nil {
			done()
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return out, done, nil
}

func (b *Bridge) argsToGo(vm *goja.Runtime, args []goja.Value) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		var err error
		if out[i], err = b.toGo(vm, a); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return out, nil
}

// mustToJS is for engine callbacks, where failures are thrown.
func (b *Bridge) mustToJS(vm *goja.Runtime, v any) goja.Value {
	jv, err := b.toJS(vm, v)
	if err != nil {
		panic(b.errorToJS(vm, err))
	}
	return jv
}

func (b *Bridge) mustToGo(vm *goja.Runtime, v goja.Value) any {
	g, err := b.toGo(vm, v)
	if err != nil {
		panic(b.errorToJS(vm, err))
	}
	return g
}

func isTrue(v goja.Value, err error) bool {
	return err == nil && v != nil && v.ToBoolean()
}

func toInt(v goja.Value) int {
	if v == nil {
		return 0
	}
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0
	}
	return int(v.ToInteger())
}
