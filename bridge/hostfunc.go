package bridge

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/dop251/goja"
)

// Call carries the arguments of a JS call into a HostFunc.
type Call struct {
	Bridge *Bridge
	This   any
	Args   []any
}

// Arg returns argument i, or nil if it was not passed.
func (c Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// HostFunc is a Go function callable from JS. A returned error is thrown in
// JS as an Error linked to the Go error.
type HostFunc func(Call) (any, error)

var proxyTypes = map[reflect.Type]bool{
	reflect.TypeFor[*Object]():      true,
	reflect.TypeFor[*Array]():       true,
	reflect.TypeFor[*Function]():    true,
	reflect.TypeFor[*BoundMethod](): true,
	reflect.TypeFor[*Promise]():     true,
	reflect.TypeFor[*TypedArray]():  true,
	reflect.TypeFor[*Symbol]():      true,
	reflect.TypeFor[*big.Int]():     true,
	timeType:                        true,
}

func (b *Bridge) hostFuncToJS(vm *goja.Runtime, fn HostFunc) (goja.Value, error) {
	if fn == nil {
		return goja.Null(), nil
	}
	return b.cachedHost(fn, func() (*goja.Object, error) {
		return b.newHostFunction(vm, funcName(reflect.ValueOf(fn)), func(call goja.FunctionCall) goja.Value {
			this, err := b.toGo(vm, call.This)
			if err != nil {
				panic(b.errorToJS(vm, err))
			}
			args, err := b.argsToGo(vm, call.Arguments)
			if err != nil {
				panic(b.errorToJS(vm, err))
			}
			res, err := fn(Call{Bridge: b, This: this, Args: args})
			if err != nil {
				panic(b.errorToJS(vm, err))
			}
			return b.mustToJS(vm, res)
		}), nil
	})
}

// newHostFunction wraps call as a named JS function. Go panics that are not
// engine exceptions are thrown as errors.
func (b *Bridge) newHostFunction(vm *goja.Runtime, name string, call func(goja.FunctionCall) goja.Value) *goja.Object {
	obj := vm.ToValue(func(fc goja.FunctionCall) goja.Value {
		defer b.recoverHostPanic(vm)
		return call(fc)
	}).(*goja.Object)
	_ = obj.DefineDataProperty("name", vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	return obj
}

func (b *Bridge) recoverHostPanic(vm *goja.Runtime) {
	r := recover()
	if r == nil {
		return
	}
	switch r.(type) {
	case goja.Value, *goja.Exception, *goja.InterruptedError, *goja.StackOverflowError:
		panic(r)
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	b.logger.Debug("host function panicked", "panic", r)
	panic(b.errorToJS(vm, err))
}

// adaptFunc calls an arbitrary Go function from JS. Arguments are converted
// to the parameter types; a trailing error result is thrown; several
// results become an array.
func (b *Bridge) adaptFunc(vm *goja.Runtime, fn reflect.Value) func(goja.FunctionCall) goja.Value {
	typ := fn.Type()
	return func(call goja.FunctionCall) goja.Value {
		in, err := b.reflectArgs(vm, typ, call.Arguments)
		if err != nil {
			panic(b.errorToJS(vm, err))
		}
		out := fn.Call(in)
		if n := typ.NumOut(); n > 0 && typ.Out(n-1) == errorType {
			if err, _ := out[n-1].Interface().(error); err != nil {
				panic(b.errorToJS(vm, err))
			}
			out = out[:n-1]
		}
		switch len(out) {
		case 0:
			return goja.Undefined()
		case 1:
			return b.mustToJS(vm, out[0].Interface())
		}
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = b.mustToJS(vm, o.Interface())
		}
		return vm.NewArray(vals...)
	}
}

func (b *Bridge) reflectArgs(vm *goja.Runtime, typ reflect.Type, args []goja.Value) ([]reflect.Value, error) {
	n := typ.NumIn()
	variadic := typ.IsVariadic()
	in := make([]reflect.Value, 0, max(n, len(args)))
	for i := range n {
		t := typ.In(i)
		if variadic && i == n-1 {
			for j := i; j < len(args); j++ {
				v, err := b.toReflect(vm, args[j], t.Elem())
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", j, err)
				}
				in = append(in, v)
			}
			break
		}
		arg := goja.Undefined()
		if i < len(args) {
			arg = args[i]
		}
		v, err := b.toReflect(vm, arg, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

func (b *Bridge) toReflect(vm *goja.Runtime, arg goja.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case t.Kind() == reflect.Interface || proxyTypes[t]:
		g, err := b.toGo(vm, arg)
		if err != nil {
			return reflect.Value{}, err
		}
		if g == nil {
			return reflect.Zero(t), nil
		}
		gv := reflect.ValueOf(g)
		if !gv.Type().AssignableTo(t) {
			return reflect.Value{}, coercionErrorf(typeOf(arg), "not assignable to %s", t)
		}
		return gv, nil
	case t.Kind() == reflect.String:
		if s, ok := arg.(goja.String); ok {
			return reflect.ValueOf(stringToGo(s)).Convert(t), nil
		}
	}
	p := reflect.New(t)
	if err := vm.ExportTo(arg, p.Interface()); err != nil {
		return reflect.Value{}, &CoercionError{Type: typeOf(arg), Reason: "to " + t.String(), Err: err}
	}
	return p.Elem(), nil
}
