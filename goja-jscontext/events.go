package gojajscontext

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/go-jscontext/jscontext"
)

// jsListener is a script listener registered on the realm.
type jsListener struct {
	fn goja.Value
	id jscontext.ListenerID
}

func (a *Adapter) addEventListener(call goja.FunctionCall) goja.Value {
	eventType := call.Argument(0).String()
	fnValue := call.Argument(1)
	if goja.IsUndefined(fnValue) || goja.IsNull(fnValue) {
		return goja.Undefined()
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		panic(a.runtime.NewTypeError("addEventListener requires a function as second argument"))
	}

	// the same listener is only registered once
	for _, l := range a.listeners[eventType] {
		if l.fn.SameAs(fnValue) {
			return goja.Undefined()
		}
	}

	var once bool
	if opts, ok := call.Argument(2).(*goja.Object); ok {
		if v := opts.Get("once"); v != nil {
			once = v.ToBoolean()
		}
	}

	l := &jsListener{fn: fnValue}
	listener := func(e *jscontext.Event) {
		if once {
			a.dropListener(eventType, l)
		}
		a.callListener(fn, e)
	}
	if once {
		l.id = a.realm.AddEventListenerOnce(eventType, listener)
	} else {
		l.id = a.realm.AddEventListener(eventType, listener)
	}
	a.listeners[eventType] = append(a.listeners[eventType], l)
	return goja.Undefined()
}

func (a *Adapter) removeEventListener(call goja.FunctionCall) goja.Value {
	eventType := call.Argument(0).String()
	fnValue := call.Argument(1)
	for _, l := range a.listeners[eventType] {
		if l.fn.SameAs(fnValue) {
			a.realm.RemoveEventListenerByID(eventType, l.id)
			a.dropListener(eventType, l)
			break
		}
	}
	return goja.Undefined()
}

func (a *Adapter) dropListener(eventType string, l *jsListener) {
	listeners := a.listeners[eventType]
	for i, v := range listeners {
		if v == l {
			a.listeners[eventType] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
	if len(a.listeners[eventType]) == 0 {
		delete(a.listeners, eventType)
	}
}

// callListener calls fn with the script view of e. An exception thrown by
// an "error" listener is logged, others are reported on the realm.
func (a *Adapter) callListener(fn goja.Callable, e *jscontext.Event) {
	_, err := fn(a.runtime.GlobalObject(), a.eventObject(e))
	if err == nil {
		return
	}
	if e.Type == "error" {
		a.logger.Err().
			Str("realm", a.realm.Name()).
			Err(err).
			Log("gojajscontext: error listener threw")
		return
	}
	a.realm.ReportException(err)
}

// eventObject returns the script object for e. Its methods act on e, so
// preventDefault is seen by the dispatcher.
func (a *Adapter) eventObject(e *jscontext.Event) *goja.Object {
	rt := a.runtime
	obj := rt.NewObject()
	_ = obj.Set("type", e.Type)
	_ = obj.Set("cancelable", e.Cancelable)
	_ = obj.DefineAccessorProperty("defaultPrevented",
		rt.ToValue(func() bool { return e.DefaultPrevented }), nil,
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = obj.Set("preventDefault", func() { e.PreventDefault() })
	_ = obj.Set("stopImmediatePropagation", func() { e.StopImmediatePropagation() })

	switch d := e.Detail().(type) {
	case *jscontext.PromiseRejectionEvent:
		_ = obj.Set("reason", d.Reason)
		var promise goja.Value = goja.Null()
		switch p := d.Promise.(type) {
		case *jsPromise:
			promise = p.obj
		case *promiseHandle:
			if native := p.Promise(); native != nil {
				promise = rt.ToValue(native)
			}
		}
		_ = obj.Set("promise", promise)
	case *jscontext.ErrorEvent:
		_ = obj.Set("error", a.exceptionValue(d.Err))
		_ = obj.Set("message", d.Err.Error())
	case nil:
	default:
		_ = obj.Set("detail", d)
	}
	return obj
}

// ListenerCount returns the number of script listeners for eventType.
func (a *Adapter) ListenerCount(eventType string) int {
	return len(a.listeners[eventType])
}
