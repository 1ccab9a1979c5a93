package gojajscontext

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jscontext/jscontext"
)

type promiseState uint8

const (
	promisePending promiseState = iota
	promiseFulfilled
	promiseRejected
)

// jsPromise backs a script Promise. Reactions are queued as promise jobs
// of the context, so they interleave with queueMicrotask, and are held
// back by sync operations and saved job queues like any other job.
type jsPromise struct {
	a         *Adapter
	obj       *goja.Object
	value     goja.Value
	reactions []promiseReaction
	id        uint64
	state     promiseState
	handled   bool
}

var _ jscontext.Promise = (*jsPromise)(nil)

// ID returns the promise's id, assigned on first use.
func (p *jsPromise) ID() uint64 {
	if p.id == 0 {
		p.id = p.a.promises.newID()
	}
	return p.id
}

func (p *jsPromise) IsHandled() bool { return p.handled }

func (p *jsPromise) Realm() *jscontext.Realm { return p.a.realm }

// Result returns the settled value, a [goja.Value], or undefined while
// pending.
func (p *jsPromise) Result() any {
	if p.value == nil {
		return goja.Undefined()
	}
	return p.value
}

// promiseReaction is a then registered on a promise. A nil handler passes
// the settled value on to derived.
type promiseReaction struct {
	onFulfilled goja.Callable
	onRejected  goja.Callable
	handlers    [2]goja.Value
	derived     *resolvers
}

// resolvers are the resolving functions of a promise. Only the first call
// to either has an effect.
type resolvers struct {
	p    *jsPromise
	done bool
}

func (r *resolvers) resolve(v goja.Value) {
	if r.done {
		return
	}
	r.done = true
	r.p.resolve(v)
}

func (r *resolvers) reject(v goja.Value) {
	if r.done {
		return
	}
	r.done = true
	r.p.settle(promiseRejected, v)
}

// rejectError rejects with the value thrown as err. Any other error,
// e.g. an interrupt, is returned.
func (r *resolvers) rejectError(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	r.reject(ex.Value())
	return nil
}

// functions returns the resolving functions as script values.
func (r *resolvers) functions() (resolve, reject goja.Value) {
	rt := r.p.a.runtime
	resolve = rt.ToValue(func(call goja.FunctionCall) goja.Value {
		r.resolve(call.Argument(0))
		return goja.Undefined()
	})
	reject = rt.ToValue(func(call goja.FunctionCall) goja.Value {
		r.reject(call.Argument(0))
		return goja.Undefined()
	})
	return resolve, reject
}

// resolve fulfills p with v, or follows v if it is a thenable, by way of
// a promise job calling its then.
func (p *jsPromise) resolve(v goja.Value) {
	rt := p.a.runtime
	if v.SameAs(p.obj) {
		p.settle(promiseRejected, rt.NewTypeError("Chaining cycle detected for promise"))
		return
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		p.settle(promiseFulfilled, v)
		return
	}
	var then goja.Value
	if ex := rt.Try(func() { then = obj.Get("then") }); ex != nil {
		p.settle(promiseRejected, ex.Value())
		return
	}
	thenFn, ok := goja.AssertFunction(then)
	if !ok {
		p.settle(promiseFulfilled, v)
		return
	}
	r := &resolvers{p: p}
	p.a.enqueuePromiseJob(p, func() error {
		resolve, reject := r.functions()
		if _, err := thenFn(obj, resolve, reject); err != nil {
			return r.rejectError(err)
		}
		return nil
	}, v, then)
}

func (p *jsPromise) settle(state promiseState, v goja.Value) {
	if p.state != promisePending {
		return
	}
	reactions := p.reactions
	p.state, p.value, p.reactions = state, v, nil
	if state == promiseRejected && !p.handled {
		p.a.promiseRejected(p)
	}
	for _, r := range reactions {
		p.a.enqueueReaction(p, r)
	}
}

// then registers a reaction, settling derived with its outcome.
func (p *jsPromise) then(onFulfilled, onRejected goja.Value, derived *resolvers) {
	r := promiseReaction{
		handlers: [2]goja.Value{onFulfilled, onRejected},
		derived:  derived,
	}
	r.onFulfilled, _ = goja.AssertFunction(onFulfilled)
	r.onRejected, _ = goja.AssertFunction(onRejected)

	wasHandled := p.handled
	p.handled = true
	switch {
	case p.state == promisePending:
		p.reactions = append(p.reactions, r)
		return
	case p.state == promiseRejected && !wasHandled:
		p.a.promiseHandled(p)
	}
	p.a.enqueueReaction(p, r)
}

func (a *Adapter) enqueueReaction(p *jsPromise, r promiseReaction) {
	state, v := p.state, p.value
	a.enqueuePromiseJob(p, func() error {
		handler := r.onFulfilled
		if state == promiseRejected {
			handler = r.onRejected
		}
		if handler == nil {
			switch {
			case r.derived == nil:
			case state == promiseRejected:
				r.derived.reject(v)
			default:
				r.derived.resolve(v)
			}
			return nil
		}
		result, err := handler(goja.Undefined(), v)
		switch {
		case r.derived == nil:
			return err
		case err != nil:
			return r.derived.rejectError(err)
		}
		r.derived.resolve(result)
		return nil
	}, r.handlers[0], r.handlers[1])
}

// enqueuePromiseJob queues fn as a promise job for p, with refs traced as
// the job's roots.
func (a *Adapter) enqueuePromiseJob(p *jsPromise, fn func() error, refs ...any) {
	if a.cx == nil || a.closed {
		return
	}
	if !a.cx.EnqueuePromiseJob(jscontext.PromiseJob{
		Promise:   p,
		Callback:  fn,
		Realm:     a.realm,
		Incumbent: a.realm,
		Refs:      refs,
	}) {
		a.logger.Debug().
			Str("realm", a.realm.Name()).
			Uint64("promise", p.ID()).
			Log("gojajscontext: promise job dropped")
	}
}

func (a *Adapter) promiseRejected(p *jsPromise) {
	if a.cx == nil || a.closed {
		return
	}
	a.rejected.add(p)
	a.cx.TrackPromiseRejection(p, jscontext.RejectionUnhandled, false)
}

func (a *Adapter) promiseHandled(p *jsPromise) {
	if a.cx == nil || a.closed {
		return
	}
	a.rejected.remove(p)
	a.cx.TrackPromiseRejection(p, jscontext.RejectionHandled, false)
}

// bindPromise replaces the Promise global with one whose jobs run on the
// context. goja's own promise, still used by async functions, keeps its
// internal queue.
func (a *Adapter) bindPromise() error {
	rt := a.runtime
	a.promiseKey = goja.NewSymbol("jscontext.promise")

	ctor := rt.ToValue(a.promiseConstructor).(*goja.Object)
	proto, ok := ctor.Get("prototype").(*goja.Object)
	if !ok {
		return errors.New("promise constructor has no prototype")
	}
	a.promiseCtor, a.promisePrototype = ctor, proto
	_ = ctor.DefineDataProperty("name", rt.ToValue("Promise"), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	for _, m := range []struct {
		obj  *goja.Object
		name string
		fn   func(goja.FunctionCall) goja.Value
	}{
		{proto, "then", a.promiseThen},
		{proto, "catch", a.promiseCatch},
		{proto, "finally", a.promiseFinally},
		{ctor, "resolve", a.promiseResolveStatic},
		{ctor, "reject", a.promiseRejectStatic},
		{ctor, "withResolvers", a.promiseWithResolvers},
		{ctor, "all", a.promiseAll},
		{ctor, "allSettled", a.promiseAllSettled},
		{ctor, "race", a.promiseRace},
		{ctor, "any", a.promiseAny},
	} {
		if err := m.obj.DefineDataProperty(m.name, rt.ToValue(m.fn), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
			return err
		}
	}
	if err := proto.DefineDataPropertySymbol(goja.SymToStringTag, rt.ToValue("Promise"), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	return rt.Set("Promise", ctor)
}

func (a *Adapter) promiseConstructor(call goja.ConstructorCall) *goja.Object {
	rt := a.runtime
	if call.NewTarget == nil {
		panic(rt.NewTypeError("Promise constructor cannot be invoked without 'new'"))
	}
	executor, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(rt.NewTypeError("Promise executor must be a function"))
	}
	p := a.newPromiseOn(call.This)
	r := &resolvers{p: p}
	resolve, reject := r.functions()
	if _, err := executor(goja.Undefined(), resolve, reject); err != nil {
		r.reject(a.exceptionValue(err))
	}
	return call.This
}

func (a *Adapter) newPromiseOn(obj *goja.Object) *jsPromise {
	p := &jsPromise{a: a, obj: obj}
	_ = obj.DefineDataPropertySymbol(a.promiseKey, a.runtime.ToValue(p), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	return p
}

func (a *Adapter) newPromise() *jsPromise {
	return a.newPromiseOn(a.runtime.CreateObject(a.promisePrototype))
}

// toPromise returns the promise backing v, which must be the object the
// promise was created on, not one inheriting from it.
func (a *Adapter) toPromise(v goja.Value) (*jsPromise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || a.promiseKey == nil {
		return nil, false
	}
	key := obj.GetSymbol(a.promiseKey)
	if key == nil {
		return nil, false
	}
	p, ok := key.Export().(*jsPromise)
	if !ok || p.a != a || !p.obj.SameAs(obj) {
		return nil, false
	}
	return p, true
}

// invokeThen calls v.then(onFulfilled, onRejected), throwing what it
// throws.
func (a *Adapter) invokeThen(v, onFulfilled, onRejected goja.Value) goja.Value {
	obj := v.ToObject(a.runtime)
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		panic(a.runtime.NewTypeError("then is not a function"))
	}
	res, err := then(obj, onFulfilled, onRejected)
	if err != nil {
		panic(err)
	}
	return res
}

func (a *Adapter) promiseThen(call goja.FunctionCall) goja.Value {
	p, ok := a.toPromise(call.This)
	if !ok {
		panic(a.runtime.NewTypeError("Promise.prototype.then called on incompatible receiver"))
	}
	derived := a.newPromise()
	p.then(call.Argument(0), call.Argument(1), &resolvers{p: derived})
	return derived.obj
}

func (a *Adapter) promiseCatch(call goja.FunctionCall) goja.Value {
	return a.invokeThen(call.This, goja.Undefined(), call.Argument(0))
}

func (a *Adapter) promiseFinally(call goja.FunctionCall) goja.Value {
	onFinally, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return a.invokeThen(call.This, call.Argument(0), call.Argument(0))
	}
	rt := a.runtime
	// settleAfter calls onFinally, then settles with settled once its
	// result has resolved
	settleAfter := func(settled func(goja.FunctionCall) goja.Value) goja.Value {
		res, err := onFinally(goja.Undefined())
		if err != nil {
			panic(err)
		}
		return a.invokeThen(a.promiseResolve(res), rt.ToValue(settled), goja.Undefined())
	}
	thenFinally := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		value := call.Argument(0)
		return settleAfter(func(goja.FunctionCall) goja.Value { return value })
	})
	catchFinally := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		reason := call.Argument(0)
		return settleAfter(func(goja.FunctionCall) goja.Value { panic(reason) })
	})
	return a.invokeThen(call.This, thenFinally, catchFinally)
}

// promiseResolve returns v if it is a promise of this adapter, otherwise
// a new promise resolved with v.
func (a *Adapter) promiseResolve(v goja.Value) goja.Value {
	if p, ok := a.toPromise(v); ok {
		if ctor := p.obj.Get("constructor"); ctor != nil && ctor.SameAs(a.promiseCtor) {
			return p.obj
		}
	}
	p := a.newPromise()
	(&resolvers{p: p}).resolve(v)
	return p.obj
}

func (a *Adapter) promiseResolveStatic(call goja.FunctionCall) goja.Value {
	return a.promiseResolve(call.Argument(0))
}

func (a *Adapter) promiseRejectStatic(call goja.FunctionCall) goja.Value {
	p := a.newPromise()
	(&resolvers{p: p}).reject(call.Argument(0))
	return p.obj
}

func (a *Adapter) promiseWithResolvers(goja.FunctionCall) goja.Value {
	p := a.newPromise()
	resolve, reject := (&resolvers{p: p}).functions()
	obj := a.runtime.NewObject()
	_ = obj.Set("promise", p.obj)
	_ = obj.Set("resolve", resolve)
	_ = obj.Set("reject", reject)
	return obj
}

// forEachPromise calls each for every element of iterable, resolved to a
// promise, and attaches the returned handlers with its then. An exception
// rejects result, and false is returned.
func (a *Adapter) forEachPromise(iterable goja.Value, result *resolvers, each func(i int) (onFulfilled, onRejected goja.Value)) bool {
	rt := a.runtime
	var i int
	ex := rt.Try(func() {
		rt.ForOf(iterable, func(v goja.Value) bool {
			next := a.promiseResolve(v)
			onFulfilled, onRejected := each(i)
			i++
			a.invokeThen(next, onFulfilled, onRejected)
			return true
		})
	})
	if ex != nil {
		result.reject(ex.Value())
		return false
	}
	return true
}

// function wraps fn as a script function of one argument, which only has
// an effect the first time it is called.
func (a *Adapter) function(fn func(goja.Value)) goja.Value {
	var called bool
	return a.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
		if !called {
			called = true
			fn(call.Argument(0))
		}
		return goja.Undefined()
	})
}

func (a *Adapter) promiseAll(call goja.FunctionCall) goja.Value {
	rt := a.runtime
	p := a.newPromise()
	result := &resolvers{p: p}
	_, reject := result.functions()
	var values []any
	remaining := 1
	done := func() {
		if remaining--; remaining == 0 {
			result.resolve(rt.NewArray(values...))
		}
	}
	if a.forEachPromise(call.Argument(0), result, func(i int) (goja.Value, goja.Value) {
		values = append(values, goja.Undefined())
		remaining++
		return a.function(func(v goja.Value) {
			values[i] = v
			done()
		}), reject
	}) {
		done()
	}
	return p.obj
}

func (a *Adapter) promiseAllSettled(call goja.FunctionCall) goja.Value {
	rt := a.runtime
	p := a.newPromise()
	result := &resolvers{p: p}
	var values []any
	remaining := 1
	done := func() {
		if remaining--; remaining == 0 {
			result.resolve(rt.NewArray(values...))
		}
	}
	outcome := func(i int, status, key string) goja.Value {
		return a.function(func(v goja.Value) {
			obj := rt.NewObject()
			_ = obj.Set("status", status)
			_ = obj.Set(key, v)
			values[i] = obj
			done()
		})
	}
	if a.forEachPromise(call.Argument(0), result, func(i int) (goja.Value, goja.Value) {
		values = append(values, goja.Undefined())
		remaining++
		return outcome(i, "fulfilled", "value"), outcome(i, "rejected", "reason")
	}) {
		done()
	}
	return p.obj
}

func (a *Adapter) promiseRace(call goja.FunctionCall) goja.Value {
	p := a.newPromise()
	result := &resolvers{p: p}
	resolve, reject := result.functions()
	a.forEachPromise(call.Argument(0), result, func(int) (goja.Value, goja.Value) {
		return resolve, reject
	})
	return p.obj
}

func (a *Adapter) promiseAny(call goja.FunctionCall) goja.Value {
	rt := a.runtime
	p := a.newPromise()
	result := &resolvers{p: p}
	resolve, _ := result.functions()
	var errs []any
	remaining := 1
	done := func() {
		if remaining--; remaining != 0 {
			return
		}
		agg, err := rt.New(rt.Get("AggregateError"), rt.NewArray(errs...), rt.ToValue("All promises were rejected"))
		if err != nil {
			result.reject(a.exceptionValue(err))
			return
		}
		result.reject(agg)
	}
	if a.forEachPromise(call.Argument(0), result, func(i int) (goja.Value, goja.Value) {
		errs = append(errs, goja.Undefined())
		remaining++
		return resolve, a.function(func(v goja.Value) {
			errs[i] = v
			done()
		})
	}) {
		done()
	}
	return p.obj
}
