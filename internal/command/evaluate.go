package command

import (
	"errors"
	"regexp"

	"github.com/dop251/goja"

	"github.com/joeycumines/go-jsbridge/bridge"
)

// objectLiteralPattern matches input such as `{ a: 1 }`, which is a block
// statement unless it is parenthesized.
var objectLiteralPattern = regexp.MustCompile(`^\s*\{.*[^;\s]\s*$`)

// evaluate runs code on the loop and passes its completion value, or the
// value it threw, to report. Input that looks like an object literal is
// run as an expression first, and again as written if that is a syntax
// error.
func (s *session) evaluate(code, filename string, report func(vm *goja.Runtime, v goja.Value, thrown bool)) error {
	return s.bridge.Do(func(vm *goja.Runtime) error {
		v, err := s.runWrapped(vm, code, filename)
		if err != nil {
			report(vm, thrownValue(vm, err), true)
			return nil
		}
		report(vm, v, false)
		return nil
	})
}

func (s *session) runWrapped(vm *goja.Runtime, code, filename string) (goja.Value, error) {
	if objectLiteralPattern.MatchString(code) {
		if expr := "(" + code + ")"; bridge.IsCompilableUnit(expr) {
			v, err := s.runProgram(vm, expr, filename)
			if err == nil || !isSyntaxError(err) {
				return v, err
			}
		}
	}
	return s.runProgram(vm, code, filename)
}

func (s *session) runProgram(vm *goja.Runtime, code, filename string) (goja.Value, error) {
	prog, err := goja.Compile(filename, code, s.flags.strict)
	if err != nil {
		return nil, err
	}
	return vm.RunProgram(prog)
}

func isSyntaxError(err error) bool {
	var cse *goja.CompilerSyntaxError
	if errors.As(err, &cse) {
		return true
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if name := obj.Get("name"); name != nil && name.String() == "SyntaxError" {
				return true
			}
		}
	}
	return false
}

// thrownValue returns the JS value for an error from running code. Syntax
// errors become SyntaxError objects; other engine errors become Go errors.
func thrownValue(vm *goja.Runtime, err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	var cse *goja.CompilerSyntaxError
	if errors.As(err, &cse) {
		if obj, err := vm.New(vm.Get("SyntaxError"), vm.ToValue(cse.Error())); err == nil {
			return obj
		}
	}
	return vm.NewGoError(err)
}

// render formats a value returned by the bridge. The engine's undefined
// and null both arrive as nil and are shown as undefined.
func (s *session) render(v any, width int) (string, error) {
	if v == nil {
		return "undefined", nil
	}
	var out string
	err := s.bridge.Do(func(vm *goja.Runtime) error {
		jv, err := s.bridge.ToJS(v)
		if err != nil {
			return err
		}
		out = display(vm, jv, width)
		return nil
	})
	return out, err
}
