package gojajscontext

import (
	"runtime"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMicrotask_Order(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var order = [];
		queueMicrotask(() => {
			order.push('m1');
			queueMicrotask(() => order.push('m3'));
		});
		queueMicrotask(() => order.push('m2'));
		Promise.resolve().then(() => order.push('reaction'));
		order.push('sync');
	`)
	assert.Equal(t, []any{"sync", "m1", "m2", "reaction", "m3"}, e.export("order"))
	assert.Equal(t, uint64(4), e.cx().Metrics().MicroTasksRun)
}

func TestQueueMicrotask_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.mustFail(t, `queueMicrotask(1)`)
	e.mustFail(t, `queueMicrotask()`)
}

func TestQueueMicrotask_ExceptionReported(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var seen = [];
		addEventListener('error', e => { seen.push(e.error.message); e.preventDefault(); });
		queueMicrotask(() => { throw new Error('boom'); });
		queueMicrotask(() => seen.push('after'));
	`)
	assert.Equal(t, []any{"boom", "after"}, e.export("seen"))
	assert.Equal(t, uint64(1), e.cx().Metrics().ExceptionsReported)
}

func TestQueueMicrotask_SuppressedInSyncOperation(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		jsctx.enterSyncOperation();
		queueMicrotask(() => order.push('held'));
		jsctx.checkpoint();
		order.push('in sync op');
		jsctx.leaveSyncOperation();
	`)
	assert.Equal(t, []any{"in sync op", "held"}, e.export("order"))
	assert.NotZero(t, e.cx().Metrics().MicroTasksSuppressed)
}

func TestUnhandledRejection_Notified(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var events = [];
		addEventListener('unhandledrejection', e => {
			events.push(['unhandled', e.reason.message, e.promise instanceof Promise, e.cancelable]);
		});
		addEventListener('rejectionhandled', e => {
			events.push(['handled', e.reason.message, e.promise === p]);
		});
		var p = Promise.reject(new Error('nope'));
	`)
	assert.Equal(t, []any{
		[]any{"unhandled", "nope", true, true},
	}, e.export("events"))
	assert.Contains(t, e.logs.String(), "jscontext: unhandled promise rejection")
	assert.Contains(t, e.logs.String(), `"reason":"Error: nope"`)
	assert.Equal(t, 1, e.adapter.TrackedRejectionCount())
	assert.Equal(t, uint64(1), e.cx().Metrics().RejectionsNotified)

	e.run(t, `p.catch(() => {})`)
	assert.Equal(t, []any{
		[]any{"unhandled", "nope", true, true},
		[]any{"handled", "nope", true},
	}, e.export("events"))
	assert.Zero(t, e.adapter.TrackedRejectionCount())
}

func TestUnhandledRejection_HandledInTime(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var events = 0;
		addEventListener('unhandledrejection', () => events++);
		Promise.reject(1).catch(() => {});
		var q = Promise.reject(2);
		Promise.resolve().then(() => q.catch(() => {}));
		var r = Promise.reject(3);
		queueMicrotask(() => r.catch(() => {}));
	`)
	assert.Equal(t, int64(0), e.rt.Get("events").ToInteger())
	assert.NotContains(t, e.logs.String(), "jscontext: unhandled promise rejection")
	assert.Zero(t, e.adapter.TrackedRejectionCount())
	assert.Zero(t, e.cx().PendingRejectionCount())
}

func TestUnhandledRejection_PreventDefault(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var prevented;
		addEventListener('unhandledrejection', e => { e.preventDefault(); prevented = e.defaultPrevented; });
		Promise.reject('quiet');
	`)
	assert.True(t, e.rt.Get("prevented").ToBoolean())
	assert.NotContains(t, e.logs.String(), "jscontext: unhandled promise rejection")
}

func TestUnhandledRejection_HandledByListener(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var handled = 0;
		addEventListener('unhandledrejection', e => e.promise.catch(() => {}));
		addEventListener('rejectionhandled', () => handled++);
		Promise.reject('late');
	`)
	assert.NotContains(t, e.logs.String(), "jscontext: unhandled promise rejection")
	assert.Equal(t, int64(0), e.rt.Get("handled").ToInteger())
}

func TestPromiseTable(t *testing.T) {
	rt := goja.New()
	p, _, reject := rt.NewPromise()
	require.NoError(t, reject("x"))

	var table promiseTable
	assert.Nil(t, table.lookup(p))

	h := table.track(p, nil)
	assert.Same(t, h, table.track(p, nil))
	assert.Same(t, h, table.lookup(p))
	assert.Equal(t, uint64(1), h.ID())
	assert.False(t, h.IsHandled())
	assert.Nil(t, h.Realm())
	assert.Same(t, p, h.Promise())
	assert.Equal(t, "x", h.Result().(goja.Value).String())
	assert.Equal(t, 1, table.len())

	table.remove(h)
	assert.Nil(t, table.lookup(p))

	h2 := table.track(p, nil)
	assert.Equal(t, uint64(2), h2.ID())
	table.clear()
	assert.Zero(t, table.len())
	runtime.KeepAlive(p)
}
