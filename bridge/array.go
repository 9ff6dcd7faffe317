package bridge

import (
	"strconv"

	"github.com/dop251/goja"
)

// Array is a Go proxy of a JS array. Index uses Go rules: indexes outside
// [0, Len()) fail with a *RangeError instead of reading undefined.
type Array struct {
	Object
}

// Len returns the array's length property.
func (a *Array) Len() (int, error) {
	var n int
	err := a.with("len", func(vm *goja.Runtime, obj *goja.Object) error {
		var err error
		n, err = a.length(vm, obj)
		return err
	})
	return n, err
}

func (a *Array) length(vm *goja.Runtime, obj *goja.Object) (int, error) {
	v, err := a.b.js.reflectGet(goja.Undefined(), obj, vm.ToValue("length"))
	if err != nil {
		return 0, a.b.fromJSError(vm, err)
	}
	return toInt(v), nil
}

// Index returns element i.
func (a *Array) Index(i int) (any, error) {
	var out any
	err := a.with("index", func(vm *goja.Runtime, obj *goja.Object) error {
		n, err := a.length(vm, obj)
		if err != nil {
			return err
		}
		if i < 0 || i >= n {
			return &RangeError{Index: i, Len: n}
		}
		v, err := a.b.js.reflectGet(goja.Undefined(), obj, vm.ToValue(i))
		if err != nil {
			return a.b.fromJSError(vm, err)
		}
		out, err = a.b.toGo(vm, v)
		return err
	})
	return out, err
}

// SetIndex replaces element i.
func (a *Array) SetIndex(i int, value any) error {
	return a.with("setIndex", func(vm *goja.Runtime, obj *goja.Object) error {
		n, err := a.length(vm, obj)
		if err != nil {
			return err
		}
		if i < 0 || i >= n {
			return &RangeError{Index: i, Len: n}
		}
		v, done, err := a.b.argsToJS(vm, []any{value})
		if err != nil {
			return err
		}
		defer done()
		ok, err := a.b.js.reflectSet(goja.Undefined(), obj, vm.ToValue(i), v[0])
		if err != nil {
			return a.b.fromJSError(vm, err)
		}
		if !ok.ToBoolean() {
			return &TypeError{Op: "setIndex", Err: ErrFrozen}
		}
		return nil
	})
}

// Append pushes values onto the end of the array.
func (a *Array) Append(values ...any) error {
	return a.with("append", func(vm *goja.Runtime, obj *goja.Object) error {
		_, err := a.b.invoke(vm, a.b.js.arrayPush, obj, values)
		return err
	})
}

// Materialize copies the elements into a slice using the iteration
// protocol. Elements are converted one level deep.
func (a *Array) Materialize() ([]any, error) {
	var out []any
	err := a.with("materialize", func(vm *goja.Runtime, obj *goja.Object) error {
		v, err := a.b.js.arrayFrom(goja.Undefined(), obj)
		if err != nil {
			return a.b.fromJSError(vm, err)
		}
		arr := v.(*goja.Object)
		n := toInt(arr.Get("length"))
		out = make([]any, n)
		for i := range out {
			if out[i], err = a.b.toGo(vm, arr.Get(strconv.Itoa(i))); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
