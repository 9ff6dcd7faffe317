package bridge

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jsbridge/internal/heap"
)

// Object is a Go proxy of a JS object. Property access goes through
// Reflect, so JS Proxy traps and accessors run as they would in script.
type Object struct {
	b    *Bridge
	h    *heap.Handle
	kind Kind
}

func (o *Object) base() *Object { return o }

// Kind reports the proxy variant.
func (o *Object) Kind() Kind { return o.kind }

// Bridge returns the bridge that owns the object.
func (o *Object) Bridge() *Bridge { return o.b }

// JSValue returns the proxied object, or nil once released.
func (o *Object) JSValue() goja.Value {
	obj, err := o.target()
	if err != nil {
		return nil
	}
	return obj
}

// Release drops the reference to the JS object.
func (o *Object) Release() { o.b.heap.Release(o.h) }

func (o *Object) target() (*goja.Object, error) {
	t, err := o.b.heap.Target(o.h)
	if err != nil {
		return nil, err
	}
	return t.(*goja.Object), nil
}

// with runs fn on the loop with the object pinned.
func (o *Object) with(op string, fn func(vm *goja.Runtime, obj *goja.Object) error) error {
	return o.b.do(func(vm *goja.Runtime) error {
		obj, err := o.target()
		if err != nil {
			return &ReferenceError{Op: op, Err: err}
		}
		if err := o.b.heap.Pin(o.h); err != nil {
			return &ReferenceError{Op: op, Err: err}
		}
		defer o.b.heap.Unpin(o.h)
		return fn(vm, obj)
	})
}

func (o *Object) propertyKey(vm *goja.Runtime, key any) (goja.Value, error) {
	switch k := key.(type) {
	case string:
		return stringToJS(vm, k)
	case *Symbol:
		return k.sym, nil
	case int:
		return vm.ToValue(k), nil
	}
	return nil, coercionErrorf(fmt.Sprintf("%T", key), "property keys must be string, int or *Symbol")
}

// Get reads a property. Missing properties read as nil.
func (o *Object) Get(key any) (any, error) {
	var out any
	err := o.with("get", func(vm *goja.Runtime, obj *goja.Object) error {
		k, err := o.propertyKey(vm, key)
		if err != nil {
			return err
		}
		v, err := o.b.js.reflectGet(goja.Undefined(), obj, k)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		out, err = o.b.toGo(vm, v)
		return err
	})
	return out, err
}

// Set writes a property. A write the object refuses, e.g. because it is
// frozen, fails with a *TypeError wrapping ErrFrozen.
func (o *Object) Set(key, value any) error {
	return o.with("set", func(vm *goja.Runtime, obj *goja.Object) error {
		k, err := o.propertyKey(vm, key)
		if err != nil {
			return err
		}
		v, done, err := o.b.argsToJS(vm, []any{value})
		if err != nil {
			return err
		}
		defer done()
		ok, err := o.b.js.reflectSet(goja.Undefined(), obj, k, v[0])
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		if !ok.ToBoolean() {
			return &TypeError{Op: fmt.Sprintf("set %v", key), Err: ErrFrozen}
		}
		return nil
	})
}

// Delete removes a property.
func (o *Object) Delete(key any) error {
	return o.with("delete", func(vm *goja.Runtime, obj *goja.Object) error {
		k, err := o.propertyKey(vm, key)
		if err != nil {
			return err
		}
		ok, err := o.b.js.reflectDeleteProperty(goja.Undefined(), obj, k)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		if !ok.ToBoolean() {
			return &TypeError{Op: fmt.Sprintf("delete %v", key), Err: ErrFrozen}
		}
		return nil
	})
}

// Has reports whether the property exists on the object or its prototypes.
func (o *Object) Has(key any) (bool, error) {
	var out bool
	err := o.with("has", func(vm *goja.Runtime, obj *goja.Object) error {
		k, err := o.propertyKey(vm, key)
		if err != nil {
			return err
		}
		v, err := o.b.js.reflectHas(goja.Undefined(), obj, k)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		out = v.ToBoolean()
		return nil
	})
	return out, err
}

// OwnKeys returns every own property key, strings then symbols, as
// Reflect.ownKeys does.
func (o *Object) OwnKeys() ([]any, error) {
	var out []any
	err := o.with("ownKeys", func(vm *goja.Runtime, obj *goja.Object) error {
		v, err := o.b.js.reflectOwnKeys(goja.Undefined(), obj)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		keys := v.(*goja.Object)
		n := toInt(keys.Get("length"))
		out = make([]any, 0, n)
		for i := range n {
			k, err := o.b.toGo(vm, keys.Get(strconv.Itoa(i)))
			if err != nil {
				return err
			}
			out = append(out, k)
		}
		return nil
	})
	return out, err
}

// Keys returns the own enumerable string keys, as Object.keys does.
func (o *Object) Keys() ([]string, error) {
	var out []string
	err := o.with("keys", func(vm *goja.Runtime, obj *goja.Object) error {
		var err error
		out, err = o.keys(vm, obj)
		return err
	})
	return out, err
}

func (o *Object) keys(vm *goja.Runtime, obj *goja.Object) ([]string, error) {
	v, err := o.b.js.objectKeys(goja.Undefined(), obj)
	if err != nil {
		return nil, o.b.fromJSError(vm, err)
	}
	arr := v.(*goja.Object)
	n := toInt(arr.Get("length"))
	out := make([]string, n)
	for i := range out {
		out[i] = stringToGo(arr.Get(strconv.Itoa(i)).(goja.String))
	}
	return out, nil
}

// IsExtensible reports whether properties can be added.
func (o *Object) IsExtensible() (bool, error) {
	var out bool
	err := o.with("isExtensible", func(vm *goja.Runtime, obj *goja.Object) error {
		v, err := o.b.js.reflectIsExtensible(goja.Undefined(), obj)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		out = v.ToBoolean()
		return nil
	})
	return out, err
}

// PreventExtensions makes the object non-extensible.
func (o *Object) PreventExtensions() error {
	return o.with("preventExtensions", func(vm *goja.Runtime, obj *goja.Object) error {
		v, err := o.b.js.reflectPreventExt(goja.Undefined(), obj)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		if !v.ToBoolean() {
			return &TypeError{Op: "preventExtensions", Err: ErrFrozen}
		}
		return nil
	})
}

// Materialize copies the own enumerable properties into a map. Values are
// converted one level deep; nested objects stay proxies.
func (o *Object) Materialize() (map[string]any, error) {
	var out map[string]any
	err := o.with("materialize", func(vm *goja.Runtime, obj *goja.Object) error {
		keys, err := o.keys(vm, obj)
		if err != nil {
			return err
		}
		out = make(map[string]any, len(keys))
		for _, k := range keys {
			kv, err := stringToJS(vm, k)
			if err != nil {
				return err
			}
			v, err := o.b.js.reflectGet(goja.Undefined(), obj, kv)
			if err != nil {
				return o.b.fromJSError(vm, err)
			}
			if out[k], err = o.b.toGo(vm, v); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// CallMethod calls the named method with the object as this.
func (o *Object) CallMethod(name any, args ...any) (any, error) {
	var out any
	err := o.with("call", func(vm *goja.Runtime, obj *goja.Object) error {
		k, err := o.propertyKey(vm, name)
		if err != nil {
			return err
		}
		m, err := o.b.js.reflectGet(goja.Undefined(), obj, k)
		if err != nil {
			return o.b.fromJSError(vm, err)
		}
		fn, ok := goja.AssertFunction(m)
		if !ok {
			return &TypeError{Op: fmt.Sprintf("call %v", name), Err: ErrNotCallable}
		}
		out, err = o.b.invoke(vm, fn, obj, args)
		return err
	})
	return out, err
}

// Typeof returns "object" or "function".
func (o *Object) Typeof() string {
	if o.kind == KindFunction || o.kind == KindBoundMethod {
		return "function"
	}
	return "object"
}

// String converts the object with the JS String function.
func (o *Object) String() string {
	var out string
	err := o.with("string", func(vm *goja.Runtime, obj *goja.Object) error {
		out = stringToGo(obj.ToString().(goja.String))
		return nil
	})
	if err != nil {
		return fmt.Sprintf("<%s: %v>", o.kind, err)
	}
	return out
}

// invoke calls fn with converted arguments and converts the result.
func (b *Bridge) invoke(vm *goja.Runtime, fn goja.Callable, this goja.Value, args []any) (any, error) {
	jsArgs, done, err := b.argsToJS(vm, args)
	if err != nil {
		return nil, err
	}
	defer done()
	res, err := fn(this, jsArgs...)
	if err != nil {
		return nil, b.fromJSError(vm, err)
	}
	return b.toGo(vm, res)
}
