package gojajscontext

import (
	"errors"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-jscontext/jscontext"
)

// Require returns a [require.ModuleLoader] exposing the context to
// script. It is registered by Install under the configured module name:
//
//	const jsctx = require('jscontext');
//	jsctx.runInStableState(() => console.log('stable'));
//
// The loader panics with a GoError when the adapter is not installed.
func (a *Adapter) Require() require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		if runtime != a.runtime {
			panic(runtime.NewGoError(errors.New("gojajscontext: module loaded by a foreign runtime")))
		}
		if a.cx == nil {
			panic(runtime.NewGoError(ErrNotInstalled))
		}
		exports := module.Get("exports").(*goja.Object)
		a.setupExports(exports)
	}
}

func (a *Adapter) setupExports(exports *goja.Object) {
	_ = exports.Set("checkpoint", a.jsCheckpoint)
	_ = exports.Set("debuggerCheckpoint", a.jsDebuggerCheckpoint)
	_ = exports.Set("queueDebuggerMicrotask", a.jsQueueDebuggerMicrotask)
	_ = exports.Set("runInStableState", a.jsRunInStableState)
	_ = exports.Set("addPendingTransaction", a.jsAddPendingTransaction)
	_ = exports.Set("enterSyncOperation", a.jsEnterSyncOperation)
	_ = exports.Set("leaveSyncOperation", a.jsLeaveSyncOperation)
	_ = exports.Set("recursionDepth", a.jsRecursionDepth)
	_ = exports.Set("setTargetedMicroTaskRecursionDepth", a.jsSetTargetedDepth)
	_ = exports.Set("microTaskCount", a.jsMicroTaskCount)
	_ = exports.Set("dispatch", a.jsDispatch)
	_ = exports.Set("spinEventLoopUntil", a.jsSpinEventLoopUntil)
	_ = exports.Set("saveJobQueue", a.jsSaveJobQueue)
	_ = exports.Set("state", a.jsState)
	_ = exports.Set("metrics", a.jsMetrics)
}

// callable asserts the argument at idx is a function, throwing a
// TypeError naming fn otherwise.
func (a *Adapter) callable(call goja.FunctionCall, idx int, fn string) goja.Callable {
	f, ok := goja.AssertFunction(call.Argument(idx))
	if !ok {
		panic(a.runtime.NewTypeError(fn + " requires a function argument"))
	}
	return f
}

// callReporting calls fn, reporting an exception on the realm.
func (a *Adapter) callReporting(fn goja.Callable) {
	if _, err := fn(goja.Undefined()); err != nil {
		a.realm.ReportException(err)
	}
}

func (a *Adapter) jsCheckpoint(call goja.FunctionCall) goja.Value {
	return a.runtime.ToValue(a.cx.PerformMicroTaskCheckpoint(call.Argument(0).ToBoolean()))
}

func (a *Adapter) jsDebuggerCheckpoint(goja.FunctionCall) goja.Value {
	a.cx.PerformDebuggerMicroTaskCheckpoint()
	return goja.Undefined()
}

func (a *Adapter) jsQueueDebuggerMicrotask(call goja.FunctionCall) goja.Value {
	fn := a.callable(call, 0, "queueDebuggerMicrotask")
	task := jscontext.NewMicroTask("debugger", func() { a.callReporting(fn) })
	task.Refs = []any{call.Argument(0)}
	a.cx.DispatchToDebuggerMicroTask(task)
	return goja.Undefined()
}

func (a *Adapter) jsRunInStableState(call goja.FunctionCall) goja.Value {
	fn := a.callable(call, 0, "runInStableState")
	a.cx.RunInStableState(func() { a.callReporting(fn) })
	return goja.Undefined()
}

func (a *Adapter) jsAddPendingTransaction(call goja.FunctionCall) goja.Value {
	fn := a.callable(call, 0, "addPendingTransaction")
	a.cx.AddPendingTransaction(func() { a.callReporting(fn) })
	return goja.Undefined()
}

func (a *Adapter) jsEnterSyncOperation(goja.FunctionCall) goja.Value {
	a.realm.EnterSyncOperation()
	return goja.Undefined()
}

func (a *Adapter) jsLeaveSyncOperation(goja.FunctionCall) goja.Value {
	if !a.realm.IsInSyncOperation() {
		panic(a.runtime.NewTypeError("leaveSyncOperation: not in a sync operation"))
	}
	a.realm.LeaveSyncOperation()
	return goja.Undefined()
}

func (a *Adapter) jsRecursionDepth(goja.FunctionCall) goja.Value {
	return a.runtime.ToValue(a.cx.RecursionDepth())
}

func (a *Adapter) jsSetTargetedDepth(call goja.FunctionCall) goja.Value {
	depth := call.Argument(0).ToInteger()
	if depth < 0 || depth > int64(^uint32(0)) {
		panic(a.runtime.NewTypeError("setTargetedMicroTaskRecursionDepth: depth out of range"))
	}
	a.cx.SetTargetedMicroTaskRecursionDepth(uint32(depth))
	return goja.Undefined()
}

func (a *Adapter) jsMicroTaskCount(goja.FunctionCall) goja.Value {
	ordinary, debugger := a.cx.MicroTaskCount()
	obj := a.runtime.NewObject()
	_ = obj.Set("ordinary", ordinary)
	_ = obj.Set("debugger", debugger)
	return obj
}

func (a *Adapter) jsDispatch(call goja.FunctionCall) goja.Value {
	fn := a.callable(call, 0, "dispatch")
	if err := a.cx.Thread().DispatchFunc("script", func() { a.callReporting(fn) }); err != nil {
		panic(a.runtime.NewGoError(err))
	}
	return goja.Undefined()
}

func (a *Adapter) jsSpinEventLoopUntil(call goja.FunctionCall) goja.Value {
	cond := a.callable(call, 0, "spinEventLoopUntil")
	var thrown error
	err := a.cx.Thread().SpinEventLoopUntil(func() bool {
		v, err := cond(goja.Undefined())
		if err != nil {
			thrown = err
			return true
		}
		return v.ToBoolean()
	})
	var ex *goja.Exception
	switch {
	case errors.As(thrown, &ex):
		panic(ex)
	case err != nil:
		panic(a.runtime.NewGoError(err))
	}
	return goja.Undefined()
}

func (a *Adapter) jsSaveJobQueue(goja.FunctionCall) goja.Value {
	saved, err := a.cx.SaveJobQueue()
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}
	obj := a.runtime.NewObject()
	_ = obj.Set("restore", func() { saved.Restore() })
	return obj
}

func (a *Adapter) jsState(goja.FunctionCall) goja.Value {
	return a.runtime.ToValue(a.cx.Phase().String())
}

func (a *Adapter) jsMetrics(goja.FunctionCall) goja.Value {
	m := a.cx.Metrics()
	obj := a.runtime.NewObject()
	for _, f := range []struct {
		name  string
		value uint64
	}{
		{"checkpoints", m.Checkpoints},
		{"debuggerCheckpoints", m.DebuggerCheckpoints},
		{"microTasksRun", m.MicroTasksRun},
		{"microTasksSuppressed", m.MicroTasksSuppressed},
		{"rejectionsNotified", m.RejectionsNotified},
		{"exceptionsReported", m.ExceptionsReported},
		{"stableStateRun", m.StableStateRun},
		{"transactionsRun", m.TransactionsRun},
		{"finalizationRun", m.FinalizationRun},
		{"finalizationSkipped", m.FinalizationSkipped},
		{"idleGCPokes", m.IdleGCPokes},
	} {
		_ = obj.Set(f.name, f.value)
	}
	return obj
}
