package bridge

import (
	"reflect"
	"runtime"
	"strings"
	"unsafe"
)

// hostKey identifies a Go value that has reference semantics.
type hostKey struct {
	typ reflect.Type
	ptr unsafe.Pointer
	n   int
}

// identityOf returns the key of v, or false for values without identity
// (scalars, structs, empty slices).
func identityOf(v any) (hostKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		if rv.IsNil() {
			return hostKey{}, false
		}
		return hostKey{typ: rv.Type(), ptr: rv.UnsafePointer()}, true
	case reflect.Slice:
		// distinct empty slices may share a data pointer
		if rv.Len() == 0 {
			return hostKey{}, false
		}
		return hostKey{typ: rv.Type(), ptr: rv.UnsafePointer(), n: rv.Len()}, true
	case reflect.Func:
		if rv.IsNil() {
			return hostKey{}, false
		}
		return hostKey{typ: rv.Type(), ptr: closurePointer(v)}, true
	}
	return hostKey{}, false
}

// closurePointer returns the data word of an interface holding a func,
// which points at the closure. reflect only exposes the code pointer,
// shared by every closure of the same literal.
func closurePointer(fn any) unsafe.Pointer {
	type eface struct {
		typ  unsafe.Pointer
		data unsafe.Pointer
	}
	return (*eface)(unsafe.Pointer(&fn)).data
}

// unwrapHost maps a handle target back to the value the caller passed in.
func unwrapHost(t any) any {
	if s, ok := t.(*hostSlice); ok {
		return s.value()
	}
	return t
}

func funcName(rv reflect.Value) string {
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	// closures are named func1, func2, ...
	if strings.HasPrefix(name, "func") && strings.Trim(name[len("func"):], "0123456789") == "" {
		return ""
	}
	return name
}
