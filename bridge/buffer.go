package bridge

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/dop251/goja"
)

// Buffer describes typed memory handed to JS. Data is shared, not copied.
type Buffer struct {
	Data []byte
	// Format is a typecode: b B h H i I q Q f d (e is recognized but the
	// engine has no Float16Array).
	Format byte
	// Shape and Strides are optional; only one-dimensional contiguous
	// buffers can be exposed.
	Shape   []int
	Strides []int
}

type typecode struct {
	size int
	ctor string
}

var typecodes = map[byte]typecode{
	'b': {1, "Int8Array"},
	'B': {1, "Uint8Array"},
	'h': {2, "Int16Array"},
	'H': {2, "Uint16Array"},
	'i': {4, "Int32Array"},
	'I': {4, "Uint32Array"},
	'q': {8, "BigInt64Array"},
	'Q': {8, "BigUint64Array"},
	'f': {4, "Float32Array"},
	'd': {8, "Float64Array"},
	'e': {2, ""},
}

// viewFormats maps JS view class names to typecodes.
var viewFormats = map[string]byte{
	"Int8Array":         'b',
	"Uint8Array":        'B',
	"Uint8ClampedArray": 'B',
	"Int16Array":        'h',
	"Uint16Array":       'H',
	"Int32Array":        'i',
	"Uint32Array":       'I',
	"BigInt64Array":     'q',
	"BigUint64Array":    'Q',
	"Float32Array":      'f',
	"Float64Array":      'd',
	"DataView":          'B',
	"ArrayBuffer":       'B',
}

// ItemSize returns the element size of a typecode, or 0 if unknown.
func ItemSize(format byte) int { return typecodes[format].size }

func (b *Bridge) bytesToJS(vm *goja.Runtime, data []byte) (goja.Value, error) {
	if data == nil {
		return goja.Null(), nil
	}
	return b.cachedHost(data, func() (*goja.Object, error) {
		return vm.New(b.js.typed['B'], vm.ToValue(vm.NewArrayBuffer(data)))
	})
}

func (b *Bridge) bufferToJS(vm *goja.Runtime, buf *Buffer) (goja.Value, error) {
	if buf == nil {
		return goja.Null(), nil
	}
	tc, ok := typecodes[buf.Format]
	if !ok {
		return nil, coercionErrorf("*bridge.Buffer", "unknown format %q", buf.Format)
	}
	if tc.ctor == "" {
		return nil, coercionErrorf("*bridge.Buffer", "format %q has no typed array in this engine", buf.Format)
	}
	if len(buf.Shape) > 1 {
		return nil, coercionErrorf("*bridge.Buffer", "%d-dimensional buffers cannot be exposed as a typed array", len(buf.Shape))
	}
	if len(buf.Strides) > 1 || (len(buf.Strides) == 1 && buf.Strides[0] != tc.size) {
		return nil, coercionErrorf("*bridge.Buffer", "strides %v are not contiguous", buf.Strides)
	}
	if len(buf.Data)%tc.size != 0 {
		return nil, coercionErrorf("*bridge.Buffer", "%d bytes is not a multiple of the item size %d", len(buf.Data), tc.size)
	}
	n := len(buf.Data) / tc.size
	if len(buf.Shape) == 1 && buf.Shape[0] != n {
		return nil, coercionErrorf("*bridge.Buffer", "shape %v does not match %d items", buf.Shape, n)
	}
	return b.cachedHost(buf, func() (*goja.Object, error) {
		ab := vm.ToValue(vm.NewArrayBuffer(buf.Data))
		return vm.New(b.js.typed[buf.Format], ab, vm.ToValue(0), vm.ToValue(n))
	})
}

// TypedArray is a Go proxy of an ArrayBuffer, typed array or DataView. Its
// bytes are shared with JS.
type TypedArray struct {
	Object
	format byte
}

var arrayBufferType = reflect.TypeFor[goja.ArrayBuffer]()

// typedArrayOf wraps obj if it is a buffer or a view of one.
func (b *Bridge) typedArrayOf(vm *goja.Runtime, obj *goja.Object) (*TypedArray, bool, error) {
	var format byte
	if obj.ExportType() == arrayBufferType {
		format = 'B'
	} else {
		if !isTrue(b.js.isView(goja.Undefined(), obj)) {
			return nil, false, nil
		}
		tag, err := b.js.objectToString(obj)
		if err != nil {
			return nil, true, b.fromJSError(vm, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(tag.String(), "[object "), "]")
		var ok bool
		if format, ok = viewFormats[name]; !ok {
			return nil, true, coercionErrorf(name, "unsupported view")
		}
	}
	ta, err := newObjectProxy(b, obj, KindTypedArray, func(o Object) *TypedArray {
		return &TypedArray{Object: o, format: format}
	})
	return ta, true, err
}

// Format returns the element typecode.
func (t *TypedArray) Format() byte { return t.format }

// ItemSize returns the element size in bytes.
func (t *TypedArray) ItemSize() int { return typecodes[t.format].size }

// bytes returns the view's window onto its buffer. It must run on the loop.
func (t *TypedArray) bytes(obj *goja.Object) ([]byte, *goja.ArrayBuffer, error) {
	// exporting a view over a detached buffer panics; only the buffer is exported
	bufObj := obj
	if obj.ExportType() != arrayBufferType {
		var ok bool
		if bufObj, ok = obj.Get("buffer").(*goja.Object); !ok || bufObj.ExportType() != arrayBufferType {
			return nil, nil, coercionErrorf("typed array", "no buffer")
		}
	}
	ab, ok := bufObj.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, nil, coercionErrorf("typed array", "no buffer")
	}
	if ab.Detached() {
		return nil, nil, ErrDetached
	}
	if bufObj == obj {
		return ab.Bytes(), &ab, nil
	}
	off := toInt(obj.Get("byteOffset"))
	n := toInt(obj.Get("byteLength"))
	data := ab.Bytes()
	if off+n > len(data) {
		return nil, nil, ErrDetached
	}
	return data[off : off+n : off+n], &ab, nil
}

// Bytes returns the shared bytes. Writes are visible to JS; there is no
// locking, so concurrent writers race.
func (t *TypedArray) Bytes() ([]byte, error) {
	var out []byte
	err := t.with("bytes", func(_ *goja.Runtime, obj *goja.Object) error {
		var err error
		out, _, err = t.bytes(obj)
		return lifetimeError("bytes", err)
	})
	return out, err
}

// Len returns the number of elements.
func (t *TypedArray) Len() (int, error) {
	data, err := t.Bytes()
	if err != nil {
		return 0, err
	}
	return len(data) / t.ItemSize(), nil
}

// Buffer describes the view.
func (t *TypedArray) Buffer() (*Buffer, error) {
	data, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	size := t.ItemSize()
	return &Buffer{Data: data, Format: t.format, Shape: []int{len(data) / size}, Strides: []int{size}}, nil
}

// Detach detaches the underlying ArrayBuffer, as a transfer would. It
// returns false if the buffer cannot be detached.
func (t *TypedArray) Detach() (bool, error) {
	var ok bool
	err := t.with("detach", func(_ *goja.Runtime, obj *goja.Object) error {
		_, ab, err := t.bytes(obj)
		if err != nil {
			return lifetimeError("detach", err)
		}
		ok = ab.Detach()
		return nil
	})
	return ok, err
}

// Index returns element i, typed by the format: int8, uint8, int16,
// uint16, int32, uint32, int64, uint64, float32 or float64.
func (t *TypedArray) Index(i int) (any, error) {
	data, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	size := t.ItemSize()
	if i < 0 || i >= len(data)/size {
		return nil, &RangeError{Index: i, Len: len(data) / size}
	}
	p := data[i*size : (i+1)*size]
	ne := binary.NativeEndian
	switch t.format {
	case 'b':
		return int8(p[0]), nil
	case 'B':
		return p[0], nil
	case 'h':
		return int16(ne.Uint16(p)), nil
	case 'H':
		return ne.Uint16(p), nil
	case 'i':
		return int32(ne.Uint32(p)), nil
	case 'I':
		return ne.Uint32(p), nil
	case 'q':
		return int64(ne.Uint64(p)), nil
	case 'Q':
		return ne.Uint64(p), nil
	case 'f':
		return math.Float32frombits(ne.Uint32(p)), nil
	case 'd':
		return math.Float64frombits(ne.Uint64(p)), nil
	}
	return nil, coercionErrorf("typed array", "unsupported format %q", t.format)
}

// SetIndex stores v, which may be any Go number or *big.Int, at element i.
func (t *TypedArray) SetIndex(i int, v any) error {
	data, err := t.Bytes()
	if err != nil {
		return err
	}
	size := t.ItemSize()
	if i < 0 || i >= len(data)/size {
		return &RangeError{Index: i, Len: len(data) / size}
	}
	p := data[i*size : (i+1)*size]
	ne := binary.NativeEndian
	switch t.format {
	case 'f':
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		ne.PutUint32(p, math.Float32bits(float32(f)))
	case 'd':
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		ne.PutUint64(p, math.Float64bits(f))
	default:
		n, err := toUint64Bits(v)
		if err != nil {
			return err
		}
		switch size {
		case 1:
			p[0] = byte(n)
		case 2:
			ne.PutUint16(p, uint16(n))
		case 4:
			ne.PutUint32(p, uint32(n))
		case 8:
			ne.PutUint64(p, n)
		}
	}
	return nil
}

func toFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	}
	return 0, coercionErrorf(fmt.Sprintf("%T", v), "not a number")
}

// toUint64Bits returns the two's complement bits of an integer, truncated
// by the caller to the element size.
func toUint64Bits(v any) (uint64, error) {
	if bi, ok := v.(*big.Int); ok {
		if bi.Sign() < 0 {
			return uint64(bi.Int64()), nil
		}
		return bi.Uint64(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, nil
		}
		return uint64(int64(f)), nil
	}
	return 0, coercionErrorf(fmt.Sprintf("%T", v), "not an integer")
}
