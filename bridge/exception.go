package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/dop251/goja"
)

// Frame is one entry of a cross-language stack trace.
type Frame struct {
	Function string
	File     string
	Line     int
	Column   int
	// Origin is "JavaScript" or "Go".
	Origin string
}

func (f Frame) String() string {
	fn := f.Function
	if fn == "" {
		fn = "<anonymous>"
	}
	if f.File == "" {
		return fn + " (" + f.Origin + ")"
	}
	if f.Column > 0 {
		return fmt.Sprintf("%s (%s:%d:%d)", fn, f.File, f.Line, f.Column)
	}
	return fmt.Sprintf("%s (%s:%d)", fn, f.File, f.Line)
}

// JSError is a value thrown by JavaScript. Converting it back to JS
// re-throws the original value.
type JSError struct {
	Name    string
	Message string
	// File, Line and Column locate the throw, when known.
	File   string
	Line   int
	Column int

	b      *Bridge
	thrown goja.Value
	value  any
	cause  error

	mu       sync.Mutex
	jsFrames []Frame
	goFrames []Frame
}

func (e *JSError) Error() string {
	var sb strings.Builder
	if e.File != "" && e.Line > 0 {
		fmt.Fprintf(&sb, "Error in file %s, on line %d, column %d:\n", e.File, e.Line, e.Column)
	}
	if e.Name != "" {
		sb.WriteString(e.Name)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// Unwrap returns the Go error the thrown value was created from, if any.
func (e *JSError) Unwrap() error { return e.cause }

// Value returns the thrown value as converted to Go.
func (e *JSError) Value() any { return e.value }

// JSValue returns the thrown engine value. It may only be used on the loop
// goroutine.
func (e *JSError) JSValue() goja.Value { return e.thrown }

// Origin reports the language the error was raised in.
func (e *JSError) Origin() string { return "JavaScript" }

// Frames returns the JS frames of the throw followed by the Go frames of
// every crossing the error made.
func (e *JSError) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Frame, 0, len(e.jsFrames)+len(e.goFrames))
	out = append(out, e.jsFrames...)
	return append(out, e.goFrames...)
}

// Stack formats Frames, one per line.
func (e *JSError) Stack() string {
	var sb strings.Builder
	for _, f := range e.Frames() {
		sb.WriteString("\tat ")
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (e *JSError) addGoFrames(frames []Frame) {
	e.mu.Lock()
	e.goFrames = append(e.goFrames, frames...)
	e.mu.Unlock()
}

// goErrorBox is stored on JS Error objects made from Go errors.
type goErrorBox struct {
	err error
}

// fromJSError converts an error returned by the engine.
func (b *Bridge) fromJSError(vm *goja.Runtime, err error) error {
	if err == nil {
		return nil
	}
	var (
		ie  *goja.InterruptedError
		soe *goja.StackOverflowError
		ex  *goja.Exception
		cse *goja.CompilerSyntaxError
	)
	switch {
	case errors.As(err, &ie), errors.As(err, &soe):
		return err
	case errors.As(err, &ex):
		return b.fromThrown(vm, ex.Value(), ex.Stack())
	case errors.As(err, &cse):
		if cse.File != nil {
			p := cse.File.Position(cse.Offset)
			return b.syntaxError(vm, fmt.Sprintf("%s: Line %d:%d %s", p.Filename, p.Line, p.Column, cse.Message))
		}
		return b.syntaxError(vm, cse.Message)
	}
	return err
}

// errorRef links a thrown Error object to its *JSError. The *JSError owns
// a proxy of the object, so the link is weak.
type errorRef struct{ p weak.Pointer[JSError] }

// fromThrown returns the *JSError for a thrown value. An Error object that
// crosses more than once keeps one *JSError while that *JSError is
// reachable, which accumulates the Go frames of every crossing.
func (b *Bridge) fromThrown(vm *goja.Runtime, thrown goja.Value, stack []goja.StackFrame) *JSError {
	obj, isObj := thrown.(*goja.Object)
	cacheable := isObj && obj.ClassName() == "Error"
	if cacheable {
		if v := obj.GetSymbol(b.js.errSym); v != nil {
			if ref, ok := v.Export().(*errorRef); ok {
				if je := ref.p.Value(); je != nil {
					je.addGoFrames(goFrames(3))
					return je
				}
			}
		}
	}

	je := &JSError{b: b, thrown: thrown}
	if cacheable {
		je.Name = propString(obj, "name")
		je.Message = propString(obj, "message")
		je.cause = b.goErrorOf(obj)
	} else {
		je.Message = safeString(vm, thrown)
	}

	for _, f := range stack {
		pos := f.Position()
		file := pos.Filename
		if file == "" {
			file = f.SrcName()
		}
		je.jsFrames = append(je.jsFrames, Frame{
			Function: f.FuncName(),
			File:     file,
			Line:     pos.Line,
			Column:   pos.Column,
			Origin:   "JavaScript",
		})
	}
	if len(je.jsFrames) == 0 && isObj {
		je.jsFrames = parseStack(propString(obj, "stack"))
	}
	for _, f := range je.jsFrames {
		if f.Line > 0 && f.File != "" && f.File != "<native>" {
			je.File, je.Line, je.Column = f.File, f.Line, f.Column
			break
		}
	}

	if v, err := b.toGo(vm, thrown); err == nil {
		je.value = v
	}
	je.addGoFrames(goFrames(3))
	if cacheable {
		_ = obj.DefineDataPropertySymbol(b.js.errSym, vm.ToValue(&errorRef{p: weak.Make(je)}), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
	}
	return je
}

func propString(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if s, ok := v.(goja.String); ok {
		return stringToGo(s)
	}
	return v.String()
}

func safeString(vm *goja.Runtime, v goja.Value) (s string) {
	if ex := vm.Try(func() {
		if str, ok := v.ToString().(goja.String); ok {
			s = stringToGo(str)
		} else {
			s = v.String()
		}
	}); ex != nil {
		return "<unprintable value>"
	}
	return s
}

// goErrorOf returns the Go error a JS Error was created from.
func (b *Bridge) goErrorOf(obj *goja.Object) error {
	v := obj.GetSymbol(b.js.goErrSym)
	if v == nil {
		return nil
	}
	if box, ok := v.Export().(*goErrorBox); ok {
		return box.err
	}
	return nil
}

// errorToJS converts a Go error into a JS Error whose message names the Go
// type, e.g. "Go error: boom". A *JSError becomes the value it was thrown
// with.
func (b *Bridge) errorToJS(vm *goja.Runtime, err error) goja.Value {
	if je, ok := err.(*JSError); ok && je.b == b && je.thrown != nil {
		return je.thrown
	}
	v, cerr := b.cachedHost(err, func() (*goja.Object, error) {
		obj := vm.NewGoError(err)
		_ = obj.Set("message", goErrorMessage(err))
		_ = obj.DefineDataPropertySymbol(b.js.goErrSym, vm.ToValue(&goErrorBox{err: err}), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		return obj, nil
	})
	if cerr != nil {
		return vm.NewGoError(err)
	}
	return v
}

func goErrorMessage(err error) string {
	name := reflect.TypeOf(err).String()
	name = strings.TrimPrefix(name, "*")
	switch name {
	case "errors.errorString", "fmt.wrapError", "fmt.wrapErrors", "errors.joinError":
		name = "error"
	}
	return "Go " + name + ": " + err.Error()
}

var syntaxPosition = regexp.MustCompile(`^(?:(.*): )?Line (\d+):(\d+) (.*?)(?: \(and \d+ more errors\))?$`)

// syntaxError turns a compiler message into a thrown SyntaxError.
func (b *Bridge) syntaxError(vm *goja.Runtime, msg string) error {
	file, line, col, text := "", 0, 0, msg
	if m := syntaxPosition.FindStringSubmatch(msg); m != nil {
		file, text = m[1], m[4]
		line, _ = strconv.Atoi(m[2])
		col, _ = strconv.Atoi(m[3])
	}
	obj, err := vm.New(b.js.syntaxError, vm.ToValue(text))
	if err != nil {
		return err
	}
	je := b.fromThrown(vm, obj, nil)
	if line > 0 {
		je.jsFrames = append([]Frame{{File: file, Line: line, Column: col, Origin: "JavaScript"}}, je.jsFrames...)
		je.File, je.Line, je.Column = file, line, col
	}
	return je
}

var stackLine = regexp.MustCompile(`^\s*at (?:(.*?) \()?(.+?):(\d+):(\d+)(?:\(\d+\))?\)?$`)

// parseStack reads frames from an Error's stack property.
func parseStack(stack string) []Frame {
	var out []Frame
	for _, line := range strings.Split(stack, "\n") {
		m := stackLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		l, _ := strconv.Atoi(m[3])
		c, _ := strconv.Atoi(m[4])
		out = append(out, Frame{Function: m[1], File: m[2], Line: l, Column: c, Origin: "JavaScript"})
	}
	return out
}

// goFrames captures the Go stack of a crossing, without engine and runtime
// internals.
func goFrames(skip int) []Frame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var out []Frame
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "github.com/dop251/") &&
			!strings.HasPrefix(f.Function, "runtime.") &&
			!strings.HasPrefix(f.Function, "github.com/joeycumines/go-jsbridge/internal/loop.") {
			out = append(out, Frame{Function: f.Function, File: f.File, Line: f.Line, Origin: "Go"})
		}
		if !more {
			break
		}
	}
	return out
}
