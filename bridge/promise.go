package bridge

import (
	"context"

	"github.com/dop251/goja"
)

// Promise is a Go proxy of a JS promise. A reaction is attached as soon as
// the proxy is made, so a promise handed to Go never counts as an unhandled
// rejection.
type Promise struct {
	Object
	fut *Future
}

func (b *Bridge) newPromise(vm *goja.Runtime, obj *goja.Object) (*Promise, error) {
	// the reactions must not reference the proxy, or it could never be
	// collected while the promise is pending
	fut := &Future{b: b}
	p, err := newObjectProxy(b, obj, KindPromise, func(o Object) *Promise {
		return &Promise{Object: o, fut: fut}
	})
	if err != nil {
		return nil, err
	}
	onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		v, err := b.toGo(vm, call.Argument(0))
		if err != nil {
			fut.Reject(err)
		} else {
			fut.Resolve(v)
		}
		return goja.Undefined()
	})
	onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fut.Reject(b.fromThrown(vm, call.Argument(0), nil))
		return goja.Undefined()
	})
	if _, err := b.js.promiseThen(obj, onFulfilled, onRejected); err != nil {
		return nil, b.fromJSError(vm, err)
	}
	return p, nil
}

// State reports the promise's state as last observed by its reactions.
func (p *Promise) State() State { return p.fut.State() }

// Await blocks until the promise settles. It fails with ErrAwaitOnLoop on
// the loop goroutine.
func (p *Promise) Await(ctx context.Context) (any, error) { return p.fut.Await(ctx) }

// Then runs fn on the loop goroutine once the promise settles. A rejection
// is passed as a *JSError. fn does not run if the loop has stopped.
func (p *Promise) Then(fn func(value any, err error)) {
	rt := p.b.rt
	p.fut.onSettle(func(v any, err error) {
		if rt.OnLoop() {
			fn(v, err)
			return
		}
		rt.Post(func() { fn(v, err) })
	})
}

// Future returns a future that settles with the promise.
func (p *Promise) Future() *Future { return p.fut }
