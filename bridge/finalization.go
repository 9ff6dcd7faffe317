package bridge

import (
	"weak"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jsbridge/internal/heap"
)

// installFinalization provides WeakRef and FinalizationRegistry on top of
// the Go collector, which owns the engine's objects. Engines that already
// have them keep their own.
func (b *Bridge) installFinalization(vm *goja.Runtime) error {
	global := vm.GlobalObject()
	if v := global.Get("WeakRef"); v == nil || goja.IsUndefined(v) {
		if err := global.Set("WeakRef", b.weakRefConstructor(vm)); err != nil {
			return err
		}
	}
	if v := global.Get("FinalizationRegistry"); v == nil || goja.IsUndefined(v) {
		if err := global.Set("FinalizationRegistry", b.finalizationRegistryConstructor(vm)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) weakRefConstructor(vm *goja.Runtime) *goja.Object {
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		target, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("WeakRef: target must be an object"))
		}
		wp := weak.Make(target)
		// the target stays alive for the rest of the job that made the ref
		b.keepUntilJobEnd(target)
		_ = call.This.Set("deref", b.newHostFunction(vm, "deref", func(goja.FunctionCall) goja.Value {
			obj := wp.Value()
			if obj == nil {
				return goja.Undefined()
			}
			b.keepUntilJobEnd(obj)
			return obj
		}))
		return nil
	}).(*goja.Object)
	proto := constructorPrototype(vm, ctor)
	_ = proto.SetSymbol(goja.SymToStringTag, vm.ToValue("WeakRef"))
	return ctor
}

type registration struct {
	cancel func()
}

func (b *Bridge) finalizationRegistryConstructor(vm *goja.Runtime) *goja.Object {
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		cleanup, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("FinalizationRegistry: cleanup must be callable"))
		}
		// tokens are held weakly
		byToken := make(map[weak.Pointer[goja.Object]][]*registration)

		_ = call.This.Set("register", b.newHostFunction(vm, "register", func(c goja.FunctionCall) goja.Value {
			target, ok := c.Argument(0).(*goja.Object)
			if !ok {
				panic(vm.NewTypeError("FinalizationRegistry.prototype.register: target must be an object"))
			}
			held := c.Argument(1)
			if held == goja.Value(target) {
				panic(vm.NewTypeError("FinalizationRegistry.prototype.register: target and holdings must not be the same"))
			}
			reg := &registration{}
			var key weak.Pointer[goja.Object]
			token, hasToken := c.Argument(2).(*goja.Object)
			if hasToken {
				key = weak.Make(token)
				byToken[key] = append(byToken[key], reg)
			}
			reg.cancel = heap.OnCollected(b.heap, target, func() {
				if hasToken {
					b.dropRegistration(byToken, key, reg)
				}
				if _, err := cleanup(goja.Undefined(), held); err != nil {
					b.reportUnhandled(b.fromJSError(vm, err))
				}
			})
			return goja.Undefined()
		}))

		_ = call.This.Set("unregister", b.newHostFunction(vm, "unregister", func(c goja.FunctionCall) goja.Value {
			token, ok := c.Argument(0).(*goja.Object)
			if !ok {
				panic(vm.NewTypeError("FinalizationRegistry.prototype.unregister: token must be an object"))
			}
			key := weak.Make(token)
			regs := byToken[key]
			delete(byToken, key)
			for _, reg := range regs {
				reg.cancel()
			}
			return vm.ToValue(len(regs) > 0)
		}))
		return nil
	}).(*goja.Object)
	proto := constructorPrototype(vm, ctor)
	_ = proto.SetSymbol(goja.SymToStringTag, vm.ToValue("FinalizationRegistry"))
	return ctor
}

func (b *Bridge) dropRegistration(byToken map[weak.Pointer[goja.Object]][]*registration, key weak.Pointer[goja.Object], reg *registration) {
	regs := byToken[key]
	for i, r := range regs {
		if r == reg {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(byToken, key)
		return
	}
	byToken[key] = regs
}

func constructorPrototype(vm *goja.Runtime, ctor *goja.Object) *goja.Object {
	proto, ok := ctor.Get("prototype").(*goja.Object)
	if !ok {
		proto = vm.NewObject()
		_ = ctor.DefineDataProperty("prototype", proto, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	}
	_ = proto.DefineDataProperty("constructor", ctor, goja.FLAG_TRUE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	return proto
}
