package gojajscontext

import (
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jscontext/jscontext"
)

func (a *Adapter) weakRefConstructor(call goja.ConstructorCall) *goja.Object {
	target, ok := call.Argument(0).(*goja.Object)
	if !ok {
		panic(a.runtime.NewTypeError("WeakRef: target must be an object"))
	}
	ref := weak.Make(target)
	a.keep(target)
	_ = call.This.Set("deref", func() goja.Value {
		o := ref.Value()
		if o == nil {
			return goja.Undefined()
		}
		a.keep(o)
		return o
	})
	return call.This
}

// keep holds o until the engine's kept objects are cleared, at the end of
// the current microtask checkpoint.
func (a *Adapter) keep(o *goja.Object) {
	a.kept = append(a.kept, o)
}

// KeptObjectCount returns the number of objects held by WeakRef
// dereferences since the last checkpoint.
func (a *Adapter) KeptObjectCount() int {
	return len(a.kept)
}

// finalizationRegistry backs a script FinalizationRegistry. Cells are
// registered with runtime.AddCleanup on the target, and the cleanup
// callback is queued on the context once the target is collected.
type finalizationRegistry struct {
	cx      *jscontext.Context
	realm   *jscontext.Realm
	cleanup goja.Callable
	cells   map[*finalizationCell]struct{}
	self    runtime.Cleanup
	mu      sync.Mutex
}

type finalizationCell struct {
	r     *finalizationRegistry
	held  goja.Value
	token weak.Pointer[goja.Object]
	stop  runtime.Cleanup
}

func (a *Adapter) finalizationRegistryConstructor(call goja.ConstructorCall) *goja.Object {
	cleanup, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("FinalizationRegistry: cleanup must be callable"))
	}
	r := &finalizationRegistry{
		cx:      a.cx,
		realm:   a.realm,
		cleanup: cleanup,
		cells:   make(map[*finalizationCell]struct{}),
	}
	a.registries = append(a.registries, r)
	r.self = runtime.AddCleanup(call.This, a.registryCollected, r)

	_ = call.This.Set("register", func(c goja.FunctionCall) goja.Value {
		target, ok := c.Argument(0).(*goja.Object)
		if !ok {
			panic(a.runtime.NewTypeError("FinalizationRegistry.register: target must be an object"))
		}
		held := c.Argument(1)
		if held.SameAs(target) {
			panic(a.runtime.NewTypeError("FinalizationRegistry.register: target and holdings must not be the same"))
		}
		var token weak.Pointer[goja.Object]
		if v := c.Argument(2); !goja.IsUndefined(v) {
			obj, ok := v.(*goja.Object)
			if !ok {
				panic(a.runtime.NewTypeError("FinalizationRegistry.register: unregister token must be an object"))
			}
			token = weak.Make(obj)
		}
		r.register(target, held, token)
		return goja.Undefined()
	})
	_ = call.This.Set("unregister", func(c goja.FunctionCall) goja.Value {
		obj, ok := c.Argument(0).(*goja.Object)
		if !ok {
			panic(a.runtime.NewTypeError("FinalizationRegistry.unregister: unregister token must be an object"))
		}
		return a.runtime.ToValue(r.unregister(weak.Make(obj)))
	})
	return call.This
}

func (r *finalizationRegistry) register(target *goja.Object, held goja.Value, token weak.Pointer[goja.Object]) *finalizationCell {
	c := &finalizationCell{r: r, held: held, token: token}
	r.mu.Lock()
	r.cells[c] = struct{}{}
	r.mu.Unlock()
	c.stop = runtime.AddCleanup(target, (*finalizationCell).collected, c)
	return c
}

func (r *finalizationRegistry) unregister(token weak.Pointer[goja.Object]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed bool
	for c := range r.cells {
		if c.token == token {
			c.stop.Stop()
			delete(r.cells, c)
			removed = true
		}
	}
	return removed
}

func (r *finalizationRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

func (r *finalizationRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.cells {
		c.stop.Stop()
	}
	clear(r.cells)
}

// collected is called from the cleanup goroutine once the target is
// unreachable.
func (c *finalizationCell) collected() {
	r := c.r
	r.mu.Lock()
	_, live := r.cells[c]
	delete(r.cells, c)
	r.mu.Unlock()
	if !live || r.cx == nil {
		return
	}
	r.cx.QueueFinalizationCallback(func() error {
		_, err := r.cleanup(goja.Undefined(), c.held)
		return err
	}, r.realm)
}

// registryCollected is called from the cleanup goroutine once the script
// object of r is unreachable. r is dropped on the thread, after which its
// callbacks never run.
func (a *Adapter) registryCollected(r *finalizationRegistry) {
	if r.cx == nil {
		return
	}
	deferDelete(r.cx, func() { a.dropRegistry(r) })
}

func (a *Adapter) dropRegistry(r *finalizationRegistry) {
	r.stopAll()
	if i := slices.Index(a.registries, r); i >= 0 {
		a.registries = slices.Delete(a.registries, i, i+1)
	}
}

// deferFinalizer returns the DeferFinalize of the context's GC runtime,
// or nil, see [jscontext.RuntimeGC].
func deferFinalizer(cx *jscontext.Context) func(func()) {
	if gc, ok := cx.GCRuntime().(interface{ DeferFinalize(fn func()) }); ok {
		return gc.DeferFinalize
	}
	return nil
}

// deferDelete runs fn on the thread of cx, after the current task. The
// cycle collector's deferred deletion is used if it has one, see
// [jscontext.SimpleCollector], otherwise fn is dispatched as a task. It
// may be called from any goroutine.
func deferDelete(cx *jscontext.Context, fn func()) {
	if c, ok := cx.CycleCollector().(interface{ DeferredDelete(fn func()) }); ok {
		c.DeferredDelete(fn)
		return
	}
	// fails only once the thread has shut down
	_ = cx.Thread().DispatchFunc("FinalizationRegistryDelete", fn)
}
