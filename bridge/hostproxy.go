package bridge

import (
	"maps"
	"slices"

	"github.com/dop251/goja"
)

// hostMap exposes a map[string]any to JS. Reads and writes go straight to
// the map.
type hostMap struct {
	b *Bridge
	m map[string]any
}

func (b *Bridge) hostMapToJS(vm *goja.Runtime, m map[string]any) (goja.Value, error) {
	return b.cachedHost(m, func() (*goja.Object, error) {
		return vm.NewDynamicObject(&hostMap{b: b, m: m}), nil
	})
}

func (h *hostMap) Get(key string) goja.Value {
	v, ok := h.m[key]
	if !ok {
		return nil
	}
	return h.b.mustToJS(h.b.vm, v)
}

func (h *hostMap) Set(key string, val goja.Value) bool {
	h.m[key] = h.b.mustToGo(h.b.vm, val)
	return true
}

func (h *hostMap) Has(key string) bool {
	_, ok := h.m[key]
	return ok
}

func (h *hostMap) Delete(key string) bool {
	delete(h.m, key)
	return true
}

func (h *hostMap) Keys() []string {
	return slices.Sorted(maps.Keys(h.m))
}

// hostSlice exposes a []any to JS with JS array semantics: reads past the
// end are undefined and writes past the end grow the slice.
type hostSlice struct {
	b *Bridge
	s *[]any
	// byPointer is set when the caller passed *[]any, in which case growth
	// is visible through the caller's pointer.
	byPointer bool
}

func (b *Bridge) hostSliceToJS(vm *goja.Runtime, s []any) (goja.Value, error) {
	if s == nil {
		return goja.Null(), nil
	}
	hs := &hostSlice{b: b, s: &s}
	return b.cachedHostAs(s, hs, func() (*goja.Object, error) {
		return vm.NewDynamicArray(hs), nil
	})
}

func (b *Bridge) hostSlicePtrToJS(vm *goja.Runtime, p *[]any) (goja.Value, error) {
	hs := &hostSlice{b: b, s: p, byPointer: true}
	return b.cachedHostAs(p, hs, func() (*goja.Object, error) {
		return vm.NewDynamicArray(hs), nil
	})
}

// value is what the slice converts back to in Go.
func (h *hostSlice) value() any {
	if h.byPointer {
		return h.s
	}
	return *h.s
}

func (h *hostSlice) Len() int { return len(*h.s) }

func (h *hostSlice) Get(idx int) goja.Value {
	s := *h.s
	if idx < 0 || idx >= len(s) {
		return nil
	}
	return h.b.mustToJS(h.b.vm, s[idx])
}

// maxSliceGrowth bounds how far one write may extend a host slice past its
// length. Holes in a Go slice are allocated.
const maxSliceGrowth = 1 << 16

func (h *hostSlice) Set(idx int, val goja.Value) bool {
	if idx < 0 {
		return false
	}
	v := h.b.mustToGo(h.b.vm, val)
	if idx >= len(*h.s) {
		h.SetLen(idx + 1)
	}
	(*h.s)[idx] = v
	return true
}

func (h *hostSlice) SetLen(n int) bool {
	if n < 0 {
		return false
	}
	s := *h.s
	if n-len(s) > maxSliceGrowth {
		panic(h.b.errorToJS(h.b.vm, &RangeError{Index: n - 1, Len: len(s)}))
	}
	switch {
	case n < len(s):
		clear(s[n:])
		*h.s = s[:n]
	case n > len(s):
		*h.s = append(s, make([]any, n-len(s))...)
	}
	return true
}
