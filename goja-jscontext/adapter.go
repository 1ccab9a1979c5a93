// Copyright 2025 Joseph Cumines
//
// goja-jscontext: Goja engine for the jscontext execution core
//
// This binds jscontext promise jobs, realm events and finalization to the
// Goja JavaScript runtime.

package gojajscontext

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-jscontext/jscontext"
	"github.com/joeycumines/logiface"
)

// ModuleName is the default name of the native module, loaded with
// require("jscontext").
const ModuleName = "jscontext"

var (
	// ErrNotInstalled is returned when the adapter has not been installed
	// on a context, see [jscontext.Context.Initialize].
	ErrNotInstalled = errors.New("gojajscontext: adapter is not installed")

	// ErrAlreadyInstalled is returned by a second Install.
	ErrAlreadyInstalled = errors.New("gojajscontext: adapter is already installed")

	// ErrClosed is returned once the adapter has been closed.
	ErrClosed = errors.New("gojajscontext: adapter is closed")
)

// Adapter is the [jscontext.Engine] for a [goja.Runtime]. It replaces the
// Promise global with one whose reactions are promise jobs of the
// context, routes queueMicrotask, WeakRef, FinalizationRegistry and the
// runtime's rejection tracking through the context, and binds the realm's
// events to addEventListener on the global object.
//
// All methods except [Adapter.Evaluate] must be called on the context's
// thread.
type Adapter struct {
	runtime  *goja.Runtime
	cx       *jscontext.Context
	realm    *jscontext.Realm
	opts     *adapterOptions
	logger   *logiface.Logger[logiface.Event]
	registry *require.Registry

	listeners  map[string][]*jsListener
	kept       []*goja.Object
	registries []*finalizationRegistry
	promises   promiseTable
	rejected   weakSet[jsPromise]
	closed     bool

	promiseKey       *goja.Symbol
	promiseCtor      *goja.Object
	promisePrototype *goja.Object
}

// New creates an adapter for runtime. It is installed by passing it to
// [jscontext.NewContext] and initializing the context, or with
// [NewContext].
func New(runtime *goja.Runtime, opts ...Option) (*Adapter, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime cannot be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		runtime:   runtime,
		opts:      cfg,
		logger:    cfg.logger,
		registry:  cfg.registry,
		listeners: make(map[string][]*jsListener),
	}, nil
}

// NewContext creates an adapter for runtime, and a context for it on
// thread, then initializes the context. It must be called on the
// thread's owner goroutine.
func NewContext(thread *jscontext.Thread, runtime *goja.Runtime, opts ...Option) (*Adapter, error) {
	a, err := New(runtime, opts...)
	if err != nil {
		return nil, err
	}
	cxOpts := a.opts.contextOptions
	if a.logger != nil {
		cxOpts = append([]jscontext.ContextOption{jscontext.WithLogger(a.logger)}, cxOpts...)
	}
	cx, err := jscontext.NewContext(thread, a, cxOpts...)
	if err != nil {
		return nil, err
	}
	if err := cx.Initialize(); err != nil {
		return nil, err
	}
	return a, nil
}

// Runtime returns the goja runtime.
func (a *Adapter) Runtime() *goja.Runtime { return a.runtime }

// Context returns the context the adapter is installed on, or nil.
func (a *Adapter) Context() *jscontext.Context { return a.cx }

// Realm returns the realm of the runtime's global object, or nil if the
// adapter is not installed.
func (a *Adapter) Realm() *jscontext.Realm { return a.realm }

// Registry returns the require registry, once installed.
func (a *Adapter) Registry() *require.Registry { return a.registry }

// Install implements [jscontext.Engine]. host must be a
// [*jscontext.Context].
func (a *Adapter) Install(host jscontext.EngineHost) error {
	if a.closed {
		return ErrClosed
	}
	if a.cx != nil {
		return ErrAlreadyInstalled
	}
	cx, ok := host.(*jscontext.Context)
	if !ok {
		return fmt.Errorf("gojajscontext: unsupported engine host %T", host)
	}

	a.cx = cx
	a.realm = cx.NewRealm(a.opts.realmName)
	a.realm.Global = a.runtime.GlobalObject()
	a.promises.finalize = deferFinalizer(cx)
	a.rejected.finalize = a.promises.finalize

	if err := a.bind(); err != nil {
		a.realm.MarkDying()
		a.cx, a.realm = nil, nil
		return err
	}

	a.runtime.SetPromiseRejectionTracker(a.trackRejection)

	a.logger.Debug().
		Str("realm", a.opts.realmName).
		Log("gojajscontext: installed")
	return nil
}

// Uninstall implements [jscontext.Engine].
func (a *Adapter) Uninstall() {
	a.runtime.SetPromiseRejectionTracker(nil)
	a.ClearKeptObjects()
}

// ClearKeptObjects implements [jscontext.Engine], releasing the targets
// of WeakRef dereferences.
func (a *Adapter) ClearKeptObjects() {
	clear(a.kept)
	a.kept = a.kept[:0]
}

// Close implements [jscontext.Engine]. Registered finalization cleanups
// are stopped, and the adapter may not be installed again.
func (a *Adapter) Close() error {
	if a.closed {
		return ErrClosed
	}
	a.closed = true
	for _, r := range a.registries {
		r.self.Stop()
		r.stopAll()
	}
	a.registries = nil
	a.promises.clear()
	a.rejected.clear()
	for typ := range a.listeners {
		delete(a.listeners, typ)
	}
	return nil
}

// RunScript compiles and runs src on the runtime. An exception is
// reported on the realm, then returned.
func (a *Adapter) RunScript(name, src string) (goja.Value, error) {
	if err := a.checkLive(); err != nil {
		return nil, err
	}
	prg, err := goja.Compile(name, src, false)
	if err != nil {
		a.realm.ReportException(err)
		return nil, err
	}
	v, err := a.runtime.RunProgram(prg)
	if err != nil {
		a.realm.ReportException(err)
		return nil, err
	}
	return v, nil
}

// Evaluate dispatches a task that runs src, see [Adapter.RunScript]. It
// may be called from any goroutine.
func (a *Adapter) Evaluate(name, src string) error {
	cx := a.cx
	if cx == nil {
		return ErrNotInstalled
	}
	return cx.Thread().DispatchFunc(name, func() {
		_, _ = a.RunScript(name, src)
	})
}

func (a *Adapter) checkLive() error {
	switch {
	case a.closed:
		return ErrClosed
	case a.cx == nil:
		return ErrNotInstalled
	case !a.cx.Thread().IsOwner():
		return jscontext.ErrWrongThread
	}
	return nil
}

func (a *Adapter) bind() error {
	rt := a.runtime

	if a.registry == nil {
		a.registry = require.NewRegistry()
	}
	printer := a.opts.printer
	if printer == nil {
		printer = &logPrinter{logger: a.logger}
	}
	a.registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer))
	a.registry.RegisterNativeModule(a.opts.moduleName, a.Require())
	a.registry.Enable(rt)
	console.Enable(rt)

	globals := []struct {
		name  string
		value any
	}{
		{"queueMicrotask", a.queueMicrotask},
		{"reportError", a.reportError},
		{"addEventListener", a.addEventListener},
		{"removeEventListener", a.removeEventListener},
		{"WeakRef", a.weakRefConstructor},
		{"FinalizationRegistry", a.finalizationRegistryConstructor},
	}
	for _, g := range globals {
		if err := rt.Set(g.name, g.value); err != nil {
			return fmt.Errorf("gojajscontext: binding %s: %w", g.name, err)
		}
	}
	if err := a.bindPromise(); err != nil {
		return fmt.Errorf("gojajscontext: binding Promise: %w", err)
	}
	return nil
}

func (a *Adapter) queueMicrotask(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(a.runtime.NewTypeError("queueMicrotask requires a function as first argument"))
	}
	if !a.enqueue(call.Argument(0), func() error {
		_, err := fn(goja.Undefined())
		return err
	}) {
		panic(a.runtime.NewTypeError("queueMicrotask: context is not running"))
	}
	return goja.Undefined()
}

// enqueue queues fn as a promise job of the adapter's realm.
func (a *Adapter) enqueue(ref goja.Value, fn func() error) bool {
	if a.cx == nil || a.closed {
		return false
	}
	return a.cx.EnqueuePromiseJob(jscontext.PromiseJob{
		Callback:  fn,
		Realm:     a.realm,
		Incumbent: a.realm,
		Refs:      []any{ref},
	})
}

func (a *Adapter) reportError(call goja.FunctionCall) goja.Value {
	a.realm.ReportException(&ScriptError{Value: call.Argument(0)})
	return goja.Undefined()
}

// ScriptError is a thrown value reported without an exception, e.g. by
// reportError.
type ScriptError struct {
	Value goja.Value
}

func (e *ScriptError) Error() string {
	if e.Value == nil {
		return "undefined"
	}
	return e.Value.String()
}

// exceptionValue returns the script value for err.
func (a *Adapter) exceptionValue(err error) goja.Value {
	var ex *goja.Exception
	var se *ScriptError
	switch {
	case errors.As(err, &ex):
		return ex.Value()
	case errors.As(err, &se):
		if se.Value == nil {
			return goja.Undefined()
		}
		return se.Value
	default:
		return a.runtime.NewGoError(err)
	}
}
