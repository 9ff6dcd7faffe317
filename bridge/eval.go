package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// Eval runs code as a script and returns its completion value.
func (b *Bridge) Eval(code string, opts ...EvalOption) (any, error) {
	return b.eval(code, resolveEvalOptions(1, opts))
}

// EvalAsync runs code and, if the completion value is a promise or other
// awaitable, waits for it to settle.
func (b *Bridge) EvalAsync(ctx context.Context, code string, opts ...EvalOption) (any, error) {
	v, err := b.eval(code, resolveEvalOptions(1, opts))
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case *Promise:
		return x.Await(ctx)
	case *Future:
		return x.Await(ctx)
	case *Task:
		return x.Await(ctx)
	case *Coroutine:
		// the script already started it if it came back from JS
		if x.started.Load() {
			return x.fut.Await(ctx)
		}
		return x.Await(ctx)
	}
	return v, nil
}

func (b *Bridge) eval(code string, o EvalOptions) (any, error) {
	var out any
	err := b.do(func(vm *goja.Runtime) error {
		prog, err := goja.Compile(o.Filename, positioned(code, o.LineNumber, o.Column), o.Strict)
		if err != nil {
			return b.fromJSError(vm, err)
		}
		if o.MutedErrors {
			b.muted[o.Filename] = struct{}{}
		}
		v, err := vm.RunProgram(prog)
		if err != nil {
			return b.fromJSError(vm, err)
		}
		if o.NoScriptRval {
			return nil
		}
		out, err = b.toGo(vm, v)
		return err
	})
	return out, err
}

// positioned pads code so that it starts at line, column.
func positioned(code string, line, column int) string {
	if line <= 1 && column <= 1 {
		return code
	}
	var sb strings.Builder
	sb.Grow(len(code) + line + column)
	for range line - 1 {
		sb.WriteByte('\n')
	}
	for range column - 1 {
		sb.WriteByte(' ')
	}
	sb.WriteString(code)
	return sb.String()
}

// IsCompilableUnit reports whether code could be compiled as it is. It is
// false only when more input could complete the code, e.g. an unclosed
// block; code with other syntax errors is a complete, if invalid, unit.
func IsCompilableUnit(code string) bool {
	_, err := goja.Parse("", code)
	if err == nil {
		return true
	}
	return !strings.Contains(err.Error(), "end of input")
}

// IsCompilableUnit is the package function, for callers holding a bridge.
func (b *Bridge) IsCompilableUnit(code string) bool { return IsCompilableUnit(code) }

// NewRequire returns a require function that resolves relative module ids
// against the directory of filename.
func (b *Bridge) NewRequire(filename string) (*Function, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("require for %s: %w", filename, err)
	}
	var out *Function
	err = b.do(func(vm *goja.Runtime) error {
		// the module loader resolves against the file of its caller, so the
		// trampoline is compiled under filename
		prog, err := goja.Compile(filepath.ToSlash(abs), `(function (r) { return function require(id) { return r(id); }; })`, false)
		if err != nil {
			return b.fromJSError(vm, err)
		}
		factory, err := vm.RunProgram(prog)
		if err != nil {
			return b.fromJSError(vm, err)
		}
		fn, ok := goja.AssertFunction(factory)
		if !ok {
			return &TypeError{Op: "require", Err: ErrNotCallable}
		}
		req, err := fn(goja.Undefined(), vm.Get("require"))
		if err != nil {
			return b.fromJSError(vm, err)
		}
		v, err := b.toGo(vm, req)
		if err != nil {
			return err
		}
		f, ok := v.(*Function)
		if !ok {
			return &TypeError{Op: "require", Err: ErrNotCallable}
		}
		out = f
		return nil
	})
	return out, err
}

// RegisterModule makes exports available to require(name). Modules are
// cached per runtime after their first load.
func (b *Bridge) RegisterModule(name string, exports any) {
	b.rt.Registry().RegisterNativeModule(name, func(vm *goja.Runtime, module *goja.Object) {
		_ = module.Set("exports", b.mustToJS(vm, exports))
	})
}

// RegisterNativeModule registers a module whose exports are built by
// loader with access to the InitContext.
func (b *Bridge) RegisterNativeModule(name string, loader ModuleLoader) {
	b.rt.Registry().RegisterNativeModule(name, func(_ *goja.Runtime, module *goja.Object) {
		loader(b.init, module)
	})
}
