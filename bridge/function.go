package bridge

import (
	"github.com/dop251/goja"
)

// Function is a Go proxy of a JS function.
type Function struct {
	Object
}

// Call calls the function with this set to undefined.
func (f *Function) Call(args ...any) (any, error) {
	return f.Invoke(Undefined, args...)
}

// Invoke calls the function with an explicit this.
func (f *Function) Invoke(this any, args ...any) (any, error) {
	var out any
	err := f.with("call", func(vm *goja.Runtime, obj *goja.Object) error {
		fn, ok := goja.AssertFunction(obj)
		if !ok {
			return &TypeError{Op: "call", Err: ErrNotCallable}
		}
		thisV, done, err := f.b.argsToJS(vm, []any{this})
		if err != nil {
			return err
		}
		defer done()
		out, err = f.b.invoke(vm, fn, thisV[0], args)
		return err
	})
	return out, err
}

// New calls the function as a constructor.
func (f *Function) New(args ...any) (any, error) {
	var out any
	err := f.with("new", func(vm *goja.Runtime, obj *goja.Object) error {
		if _, ok := goja.AssertConstructor(obj); !ok {
			return &TypeError{Op: "new", Err: ErrNotCallable}
		}
		jsArgs, done, err := f.b.argsToJS(vm, args)
		if err != nil {
			return err
		}
		defer done()
		res, err := vm.New(obj, jsArgs...)
		if err != nil {
			return f.b.fromJSError(vm, err)
		}
		out, err = f.b.toGo(vm, res)
		return err
	})
	return out, err
}

// Bind returns a method bound to receiver. The result ignores any this it
// is later invoked with, from either side.
func (f *Function) Bind(receiver any) (*BoundMethod, error) {
	var out *BoundMethod
	err := f.with("bind", func(vm *goja.Runtime, obj *goja.Object) error {
		recv, done, err := f.b.argsToJS(vm, []any{receiver})
		if err != nil {
			return err
		}
		defer done()
		v, err := f.b.js.functionBind(obj, recv[0])
		if err != nil {
			return f.b.fromJSError(vm, err)
		}
		bound := v.(*goja.Object)
		out, err = newObjectProxy(f.b, bound, KindBoundMethod, func(o Object) *BoundMethod {
			return &BoundMethod{Function: Function{Object: o}, receiver: receiver}
		})
		return err
	})
	return out, err
}

// BoundMethod is a function bound to a receiver. Converting it to JS yields
// the same bound function every time.
type BoundMethod struct {
	Function
	receiver any
}

// Receiver returns the value the method is bound to.
func (m *BoundMethod) Receiver() any { return m.receiver }

// Invoke calls the method. this is ignored.
func (m *BoundMethod) Invoke(_ any, args ...any) (any, error) {
	return m.Function.Invoke(Undefined, args...)
}

// Call calls the method.
func (m *BoundMethod) Call(args ...any) (any, error) {
	return m.Function.Invoke(Undefined, args...)
}
