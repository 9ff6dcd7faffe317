package bridge

import (
	"fmt"

	"github.com/dop251/goja"
)

// intrinsics are captured before any script runs, so scripts that replace
// globals cannot change how proxies behave.
type intrinsics struct {
	reflectGet            goja.Callable
	reflectSet            goja.Callable
	reflectHas            goja.Callable
	reflectDeleteProperty goja.Callable
	reflectOwnKeys        goja.Callable
	reflectIsExtensible   goja.Callable
	reflectPreventExt     goja.Callable
	objectKeys            goja.Callable
	objectToString        goja.Callable
	arrayIsArray          goja.Callable
	arrayFrom             goja.Callable
	arrayPush             goja.Callable
	isView                goja.Callable
	functionBind          goja.Callable
	promiseThen           goja.Callable

	date        *goja.Object
	syntaxError *goja.Object
	function    *goja.Object
	typed       map[byte]*goja.Object

	// errSym caches the *JSError of a thrown object; goErrSym links a JS
	// Error back to the Go error it was made from; timerSym marks Timeout
	// objects.
	errSym   *goja.Symbol
	goErrSym *goja.Symbol
	timerSym *goja.Symbol
}

func loadIntrinsics(vm *goja.Runtime) (*intrinsics, error) {
	js := &intrinsics{
		typed:    make(map[byte]*goja.Object, len(typecodes)),
		errSym:   goja.NewSymbol("bridge.error"),
		goErrSym: goja.NewSymbol("bridge.goError"),
		timerSym: goja.NewSymbol("bridge.timer"),
	}
	var err error
	fn := func(path ...string) goja.Callable {
		if err != nil {
			return nil
		}
		v := lookupPath(vm, path)
		f, ok := goja.AssertFunction(v)
		if !ok {
			err = fmt.Errorf("intrinsic %v is not a function", path)
		}
		return f
	}
	obj := func(path ...string) *goja.Object {
		if err != nil {
			return nil
		}
		o, ok := lookupPath(vm, path).(*goja.Object)
		if !ok {
			err = fmt.Errorf("intrinsic %v is not an object", path)
		}
		return o
	}

	js.reflectGet = fn("Reflect", "get")
	js.reflectSet = fn("Reflect", "set")
	js.reflectHas = fn("Reflect", "has")
	js.reflectDeleteProperty = fn("Reflect", "deleteProperty")
	js.reflectOwnKeys = fn("Reflect", "ownKeys")
	js.reflectIsExtensible = fn("Reflect", "isExtensible")
	js.reflectPreventExt = fn("Reflect", "preventExtensions")
	js.objectKeys = fn("Object", "keys")
	js.objectToString = fn("Object", "prototype", "toString")
	js.arrayIsArray = fn("Array", "isArray")
	js.arrayFrom = fn("Array", "from")
	js.arrayPush = fn("Array", "prototype", "push")
	js.isView = fn("ArrayBuffer", "isView")
	js.functionBind = fn("Function", "prototype", "bind")
	js.promiseThen = fn("Promise", "prototype", "then")
	js.date = obj("Date")
	js.syntaxError = obj("SyntaxError")
	js.function = obj("Function")
	for code, tc := range typecodes {
		if tc.ctor != "" {
			js.typed[code] = obj(tc.ctor)
		}
	}
	if err != nil {
		return nil, err
	}
	return js, nil
}

func lookupPath(vm *goja.Runtime, path []string) goja.Value {
	v := vm.Get(path[0])
	for _, p := range path[1:] {
		o, ok := v.(*goja.Object)
		if !ok {
			return goja.Undefined()
		}
		v = o.Get(p)
	}
	if v == nil {
		return goja.Undefined()
	}
	return v
}

// typeOf implements the typeof operator.
func typeOf(v goja.Value) string {
	switch {
	case v == nil, goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "object"
	}
	switch v := v.(type) {
	case *goja.Object:
		if _, ok := goja.AssertFunction(v); ok {
			return "function"
		}
		return "object"
	case *goja.Symbol:
		return "symbol"
	case goja.String:
		return "string"
	}
	switch v.Export().(type) {
	case bool:
		return "boolean"
	case int64, float64:
		return "number"
	default:
		return "bigint"
	}
}
