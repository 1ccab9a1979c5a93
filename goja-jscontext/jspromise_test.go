package gojajscontext

import (
	"math"
	"testing"

	"github.com/joeycumines/go-jscontext/jscontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_SharesQueueWithMicrotasks(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var order = [];
		queueMicrotask(() => order.push('A'));
		Promise.resolve().then(() => order.push('B'));
		queueMicrotask(() => order.push('C'));
	`)
	assert.Equal(t, []any{"A", "B", "C"}, e.export("order"))
	assert.Equal(t, uint64(3), e.cx().Metrics().MicroTasksRun)
}

func TestPromise_Chain(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = [];
		new Promise(resolve => resolve(1))
			.then(v => v + 1)
			.then(v => { throw new Error('at ' + v); })
			.then(() => out.push('skipped'))
			.catch(e => e.message)
			.finally(() => out.push('finally'))
			.then(v => out.push(v));
	`)
	assert.Equal(t, []any{"finally", "at 2"}, e.export("out"))
	assert.Zero(t, e.adapter.TrackedRejectionCount())
}

func TestPromise_FinallyPassesRejectionThrough(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = [];
		Promise.reject('first')
			.finally(() => out.push('finally'))
			.catch(v => out.push('caught ' + v));
		Promise.resolve('value')
			.finally(() => { throw 'replaced'; })
			.catch(v => out.push('caught ' + v));
	`)
	// a rejection passing through finally takes more jobs
	assert.Equal(t, []any{"finally", "caught replaced", "caught first"}, e.export("out"))
}

func TestPromise_Resolution(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = [];
		var p = Promise.resolve(1);
		out.push(Promise.resolve(p) === p);
		Promise.resolve({ then(resolve) { resolve('thenable'); } }).then(v => out.push(v));
		var resolveSelf;
		var self = new Promise(r => { resolveSelf = r; });
		resolveSelf(self);
		self.catch(e => out.push(e instanceof TypeError));
		new Promise(() => { throw new Error('executor'); }).catch(e => out.push(e.message));
		new Promise((resolve, reject) => { resolve('once'); reject('ignored'); }).then(v => out.push(v));
	`)
	assert.Equal(t, []any{true, true, "executor", "once", "thenable"}, e.export("out"))
	assert.Zero(t, e.cx().PendingRejectionCount())
}

func TestPromise_Combinators(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = {};
		Promise.all([1, Promise.resolve(2), { then(r) { r(3); } }]).then(v => out.all = v);
		Promise.all([Promise.reject(new Error('first')), Promise.reject(new Error('second'))])
			.catch(e => out.allRejected = e.message);
		Promise.all([]).then(v => out.empty = v.length);
		Promise.all(undefined).catch(e => out.notIterable = e instanceof TypeError);
		Promise.allSettled([1, Promise.reject('no')])
			.then(v => out.settled = v.map(x => x.status + ':' + ('value' in x ? x.value : x.reason)));
		Promise.race([new Promise(() => {}), Promise.resolve('fast')]).then(v => out.race = v);
		Promise.any([Promise.reject(1), Promise.resolve('any')]).then(v => out.any = v);
		Promise.any([Promise.reject(1), Promise.reject(2)])
			.catch(e => out.aggregate = [e instanceof AggregateError, e.errors]);
	`)
	out, ok := e.export("out").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, out["all"])
	assert.Equal(t, "first", out["allRejected"])
	assert.Equal(t, int64(0), out["empty"])
	assert.Equal(t, true, out["notIterable"])
	assert.Equal(t, []any{"fulfilled:1", "rejected:no"}, out["settled"])
	assert.Equal(t, "fast", out["race"])
	assert.Equal(t, "any", out["any"])
	assert.Equal(t, []any{true, []any{int64(1), int64(2)}}, out["aggregate"])
	assert.Zero(t, e.cx().PendingRejectionCount())
}

func TestPromise_WithResolvers(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = [];
		var { promise, resolve } = Promise.withResolvers();
		promise.then(v => out.push(v));
		out.push('sync');
		resolve('later');
		resolve('ignored');
	`)
	assert.Equal(t, []any{"sync", "later"}, e.export("out"))
}

func TestPromise_Shape(t *testing.T) {
	e := newTestEnv(t)
	v := e.run(t, `
		var p = new Promise(() => {});
		[
			p instanceof Promise,
			Object.prototype.toString.call(p),
			Promise.name,
			Object.keys(Promise.prototype).length,
			Object.create(p) instanceof Promise,
		];
	`)
	assert.Equal(t, []any{true, "[object Promise]", "Promise", int64(0), true}, v.Export())

	e.mustFail(t, `Promise(() => {})`)
	e.mustFail(t, `new Promise(1)`)
	e.mustFail(t, `Promise.prototype.then.call({}, () => {})`)
	e.mustFail(t, `Promise.prototype.then.call(Object.create(p), () => {})`)
}

func TestPromise_ReactionThrowRejectsDerived(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var events = [];
		addEventListener('unhandledrejection', e => events.push(e.reason.message));
		Promise.resolve().then(() => { throw new Error('in reaction'); });
	`)
	assert.Equal(t, []any{"in reaction"}, e.export("events"))
	assert.Zero(t, e.cx().Metrics().ExceptionsReported)
}

func TestPromise_SuppressedInSyncOperation(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		var p = Promise.resolve();
		jsctx.enterSyncOperation();
		p.then(() => order.push('held'));
		jsctx.checkpoint();
		order.push('in sync op');
		jsctx.leaveSyncOperation();
	`)
	assert.Equal(t, []any{"in sync op", "held"}, e.export("order"))
	assert.NotZero(t, e.cx().Metrics().MicroTasksSuppressed)
}

func TestPromise_HiddenBySavedJobQueue(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		const jsctx = require('jscontext');
		var order = [];
		Promise.resolve().then(() => order.push('outer'));
		const saved = jsctx.saveJobQueue();
		var hidden = jsctx.microTaskCount().ordinary;
		Promise.resolve().then(() => order.push('interruption'));
		jsctx.checkpoint();
		order.push('after checkpoint');
		saved.restore();
		order.push('restored');
	`)
	assert.Equal(t, []any{"interruption", "after checkpoint", "restored", "outer"}, e.export("order"))
	assert.Equal(t, int64(0), e.export("hidden"))
}

func TestPromise_AsyncFunctions(t *testing.T) {
	e := newTestEnv(t)
	e.run(t, `
		var out = [];
		var events = [];
		addEventListener('unhandledrejection', e => events.push(e.reason.message));
		async function add() { const v = await Promise.resolve(1); return v + 1; }
		add().then(v => out.push(v));
		async function fail() { throw new Error('async'); }
		fail();
	`)
	assert.Equal(t, []any{int64(2)}, e.export("out"))
	assert.Equal(t, []any{"async"}, e.export("events"))
}

func TestPromise_RejectionCollectionDeferredToTaskEnd(t *testing.T) {
	gc := jscontext.NewRuntimeGC(math.MaxUint64, nil)
	e := newTestEnv(t, WithContextOptions(jscontext.WithGCRuntime(gc)))
	e.run(t, `var p = Promise.reject(1)`)
	require.Equal(t, 1, e.adapter.TrackedRejectionCount())

	// the promise is still reachable, so collection is simulated
	for key := range e.adapter.rejected.entries {
		e.adapter.rejected.collected(key)
	}
	assert.Equal(t, 1, e.adapter.TrackedRejectionCount(), "finalized after the next task")

	e.run(t, ``)
	assert.Zero(t, e.adapter.TrackedRejectionCount())
}
