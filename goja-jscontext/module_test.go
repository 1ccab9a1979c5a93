package gojajscontext

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/stretchr/testify/assert"
	requirepkg "github.com/stretchr/testify/require"
)

func TestModule_StableStateAndTransactions(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		jsctx.runInStableState(() => order.push('stable'));
		jsctx.addPendingTransaction(() => order.push('transaction'));
		queueMicrotask(() => order.push('micro'));
		order.push('sync');
	`)
	assert.Equal(t, []any{"sync", "micro", "transaction", "stable"}, e.export("order"))
	m := e.cx().Metrics()
	assert.Equal(t, uint64(1), m.StableStateRun)
	assert.Equal(t, uint64(1), m.TransactionsRun)
}

func TestModule_Checkpoint(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		queueMicrotask(() => order.push('micro'));
		var counts = jsctx.microTaskCount();
		var ran = jsctx.checkpoint();
		order.push('after checkpoint');
		var again = jsctx.checkpoint(true);
		var state = jsctx.state();
		var depth = jsctx.recursionDepth();
	`)
	assert.Equal(t, []any{"micro", "after checkpoint"}, e.export("order"))
	assert.Equal(t, map[string]any{"ordinary": int64(1), "debugger": int64(0)}, e.export("counts"))
	assert.True(t, e.rt.Get("ran").ToBoolean())
	assert.False(t, e.rt.Get("again").ToBoolean())
	assert.Equal(t, "TaskBoundary", e.export("state"))
	assert.Equal(t, int64(1), e.export("depth"))
}

func TestModule_DebuggerMicrotasks(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		queueMicrotask(() => order.push('ordinary'));
		jsctx.queueDebuggerMicrotask(() => order.push('debugger'));
		jsctx.debuggerCheckpoint();
		order.push('drained debugger');
	`)
	assert.Equal(t, []any{"debugger", "drained debugger", "ordinary"}, e.export("order"))
	assert.Equal(t, uint64(1), e.cx().Metrics().DebuggerCheckpoints)
}

func TestModule_SaveJobQueue(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		queueMicrotask(() => order.push('outer'));
		const saved = jsctx.saveJobQueue();
		queueMicrotask(() => order.push('interruption'));
		jsctx.checkpoint();
		saved.restore();
		order.push('restored');
	`)
	assert.Equal(t, []any{"interruption", "restored", "outer"}, e.export("order"))
}

func TestModule_DispatchAndSpin(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		var done = false;
		jsctx.dispatch(() => { order.push('task at ' + jsctx.recursionDepth()); done = true; });
		jsctx.spinEventLoopUntil(() => done);
		order.push('spun');
	`)
	assert.Equal(t, []any{"task at 2", "spun"}, e.export("order"))

	err := e.mustFail(t, `jsctx.spinEventLoopUntil(() => { throw new Error('cond'); })`)
	assert.Contains(t, err.Error(), "cond")
	e.mustFail(t, `jsctx.dispatch(1)`)
}

func TestModule_SyncOperationErrors(t *testing.T) {
	e := newTestEnv(t)
	e.mustFail(t, `require('jscontext').leaveSyncOperation()`)
	e.mustFail(t, `require('jscontext').setTargetedMicroTaskRecursionDepth(-1)`)
	e.run(t, `require('jscontext').setTargetedMicroTaskRecursionDepth(0)`)
}

func TestModule_Metrics(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `queueMicrotask(() => {})`)
	v := e.run(t, `require('jscontext').metrics()`)
	m, ok := v.Export().(map[string]any)
	requirepkg.True(t, ok)
	assert.Equal(t, int64(1), m["microTasksRun"])
	assert.Contains(t, m, "finalizationSkipped")
	assert.Len(t, m, 11)
}

func TestModule_CustomName(t *testing.T) {
	e := newTestEnv(t, WithModuleName("host"))
	e.run(t, `require('host').runInStableState(() => {})`)
	e.mustFail(t, `require('jscontext')`)
}

func TestModule_SharedRegistry(t *testing.T) {
	registry := require.NewRegistry()
	registry.RegisterNativeModule("answer", func(rt *goja.Runtime, module *goja.Object) {
		_ = module.Get("exports").(*goja.Object).Set("value", 42)
	})
	e := newTestEnv(t, WithRegistry(registry))
	assert.Same(t, registry, e.adapter.Registry())
	v := e.run(t, `require('answer').value`)
	assert.Equal(t, int64(42), v.ToInteger())
}

func TestModule_ForeignRuntime(t *testing.T) {
	e := newTestEnv(t)
	other := goja.New()
	registry := require.NewRegistry()
	registry.RegisterNativeModule("jscontext", e.adapter.Require())
	registry.Enable(other)
	_, err := other.RunString(`require('jscontext')`)
	assert.Error(t, err)
}
