package command

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/rivo/uniseg"
)

const (
	defaultInspectWidth = 80
	inspectDepth        = 2
	maxArrayItems       = 100
	maxStringWidth      = 10000
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	promiseType       = reflect.TypeFor[*goja.Promise]()
	arrayBufferType   = reflect.TypeFor[goja.ArrayBuffer]()
	mapType           = reflect.TypeFor[[][2]any]()
	setType           = reflect.TypeFor[[]any]()
)

// inspector renders engine values the way the Node.js REPL shows them.
// Containers are printed on one line when they fit in width display cells.
type inspector struct {
	vm        *goja.Runtime
	width     int
	depth     int
	maxString int
	path      []*goja.Object
}

func newInspector(vm *goja.Runtime, width int) *inspector {
	if width <= 0 {
		width = defaultInspectWidth
	}
	return &inspector{vm: vm, width: width, depth: inspectDepth, maxString: maxStringWidth}
}

// inspect formats v for the REPL. It must be called on the loop.
func inspect(vm *goja.Runtime, v goja.Value, width int) string {
	return newInspector(vm, width).format(v, 0, 0)
}

// display formats v like console.log: strings are written as is.
func display(vm *goja.Runtime, v goja.Value, width int) string {
	if s, ok := v.(goja.String); ok {
		return s.String()
	}
	return inspect(vm, v, width)
}

func (in *inspector) format(v goja.Value, level, indent int) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	switch x := v.(type) {
	case *goja.Object:
		return in.object(x, level, indent)
	case *goja.Symbol:
		return "Symbol(" + x.String() + ")"
	case goja.String:
		s := x.String()
		if level > 0 {
			s = truncateWidth(s, in.maxString, "...")
		}
		return quoteJS(s)
	}
	switch e := v.Export().(type) {
	case *big.Int:
		return e.String() + "n"
	case float64:
		if e == 0 && math.Signbit(e) {
			return "-0"
		}
	}
	return v.String()
}

func (in *inspector) object(obj *goja.Object, level, indent int) string {
	if slices.Contains(in.path, obj) {
		return "[Circular]"
	}

	if _, ok := goja.AssertFunction(obj); ok {
		name := obj.Get("name")
		if name == nil || name.String() == "" {
			return "[Function (anonymous)]"
		}
		return "[Function: " + name.String() + "]"
	}

	switch obj.ExportType() {
	case promiseType:
		return in.promise(obj.Export().(*goja.Promise), level, indent)
	case arrayBufferType:
		ab := obj.Export().(goja.ArrayBuffer)
		return "ArrayBuffer { byteLength: " + strconv.Itoa(len(ab.Bytes())) + " }"
	}

	switch obj.ClassName() {
	case "Error":
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) && stack.String() != "" {
			return strings.TrimRight(stack.String(), "\n")
		}
		return obj.String()
	case "Date":
		if s, ok := in.callMethod(obj, "toISOString"); ok {
			return s.String()
		}
		return "Invalid Date"
	case "RegExp", "String", "Number", "Boolean":
		return obj.String()
	}

	if level > in.depth {
		if obj.ClassName() == "Array" {
			return "[Array]"
		}
		if name := in.constructorName(obj); name != "" {
			return "[" + name + "]"
		}
		return "[Object]"
	}

	in.path = append(in.path, obj)
	defer func() { in.path = in.path[:len(in.path)-1] }()

	switch {
	case obj.ClassName() == "Array":
		return in.array(obj, "", level, indent)
	case in.isView(obj):
		name := in.constructorName(obj)
		if l := obj.Get("length"); l != nil && !goja.IsUndefined(l) {
			return in.array(obj, fmt.Sprintf("%s(%d) ", name, l.ToInteger()), level, indent)
		}
		return name + " { byteLength: " + obj.Get("byteLength").String() + " }"
	case collectionName(obj) != "":
		return in.collection(obj, collectionName(obj), level, indent)
	}

	prefix := ""
	if obj.Prototype() == nil {
		prefix = "[Object: null prototype] "
	} else if name := in.constructorName(obj); name != "" && name != "Object" {
		prefix = name + " "
	}
	keys := obj.Keys()
	entries := make([]string, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, formatKey(key)+": "+in.format(obj.Get(key), level+1, indent+2))
	}
	return in.layout(prefix, "{", "}", entries, indent)
}

func (in *inspector) array(obj *goja.Object, prefix string, level, indent int) string {
	n := int(obj.Get("length").ToInteger())
	shown := min(n, maxArrayItems)
	entries := make([]string, 0, shown+1)
	for i := range shown {
		entries = append(entries, in.format(obj.Get(strconv.Itoa(i)), level+1, indent+2))
	}
	if n > shown {
		entries = append(entries, fmt.Sprintf("... %d more item%s", n-shown, plural(n-shown)))
	}
	return in.layout(prefix, "[", "]", entries, indent)
}

// collectionName returns "Map" or "Set" for the built-in collections, which
// the engine classes as plain objects.
func collectionName(obj *goja.Object) string {
	tag := obj.GetSymbol(goja.SymToStringTag)
	if tag == nil || goja.IsUndefined(tag) {
		return ""
	}
	switch name := tag.String(); {
	case name == "Map" && obj.ExportType() == mapType,
		name == "Set" && obj.ExportType() == setType:
		return name
	}
	return ""
}

func (in *inspector) collection(obj *goja.Object, name string, level, indent int) string {
	isMap := name == "Map"
	var entries []string
	visit := in.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if isMap {
			entries = append(entries, in.format(call.Argument(1), level+1, indent+2)+" => "+in.format(call.Argument(0), level+1, indent+2))
		} else {
			entries = append(entries, in.format(call.Argument(0), level+1, indent+2))
		}
		return goja.Undefined()
	})
	forEach, ok := goja.AssertFunction(obj.Get("forEach"))
	if ok {
		_, _ = forEach(obj, visit)
	}
	size := "0"
	if s := obj.Get("size"); s != nil {
		size = s.String()
	}
	return in.layout(name+"("+size+") ", "{", "}", entries, indent)
}

func (in *inspector) promise(p *goja.Promise, level, indent int) string {
	var entry string
	switch p.State() {
	case goja.PromiseStatePending:
		entry = "<pending>"
	case goja.PromiseStateRejected:
		entry = "<rejected> " + in.format(p.Result(), level+1, indent+2)
	default:
		entry = in.format(p.Result(), level+1, indent+2)
	}
	return in.layout("Promise ", "{", "}", []string{entry}, indent)
}

// layout joins entries on one line when they fit, otherwise one per line.
func (in *inspector) layout(prefix, open, end string, entries []string, indent int) string {
	if len(entries) == 0 {
		return prefix + open + end
	}
	single := prefix + open + " " + strings.Join(entries, ", ") + " " + end
	if !strings.Contains(single, "\n") && indent+uniseg.StringWidth(single) <= in.width {
		return single
	}
	pad := strings.Repeat(" ", indent)
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(open)
	b.WriteByte('\n')
	for i, e := range entries {
		b.WriteString(pad)
		b.WriteString("  ")
		b.WriteString(e)
		if i < len(entries)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(pad)
	b.WriteString(end)
	return b.String()
}

func (in *inspector) constructorName(obj *goja.Object) string {
	proto := obj.Prototype()
	if proto == nil {
		return ""
	}
	ctor, ok := proto.Get("constructor").(*goja.Object)
	if !ok {
		return ""
	}
	if name := ctor.Get("name"); name != nil && !goja.IsUndefined(name) {
		return name.String()
	}
	return ""
}

func (in *inspector) isView(obj *goja.Object) bool {
	ab, ok := in.vm.Get("ArrayBuffer").(*goja.Object)
	if !ok {
		return false
	}
	isView, ok := goja.AssertFunction(ab.Get("isView"))
	if !ok {
		return false
	}
	res, err := isView(ab, obj)
	return err == nil && res.ToBoolean()
}

func (in *inspector) callMethod(obj *goja.Object, name string) (goja.Value, bool) {
	fn, ok := goja.AssertFunction(obj.Get(name))
	if !ok {
		return nil, false
	}
	res, err := fn(obj)
	return res, err == nil
}

func formatKey(key string) string {
	if identifierPattern.MatchString(key) {
		return key
	}
	return quoteJS(key)
}

// quoteJS quotes s as a JS string literal, preferring single quotes.
func quoteJS(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteRune(q)
	for _, r := range s {
		switch r {
		case q, '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\v':
			b.WriteString(`\v`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteRune(q)
	return b.String()
}

// truncateWidth cuts s to at most maxWidth display cells, on a grapheme
// cluster boundary, and appends tail if anything was cut.
func truncateWidth(s string, maxWidth int, tail string) string {
	if uniseg.StringWidth(s) <= maxWidth {
		return s
	}
	target := maxWidth - uniseg.StringWidth(tail)
	if target < 0 {
		return tail
	}
	var b strings.Builder
	var width int
	state := -1
	var cluster string
	var w int
	for rest := s; len(rest) > 0; {
		cluster, rest, w, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if width+w > target {
			break
		}
		width += w
		b.WriteString(cluster)
	}
	b.WriteString(tail)
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
