// Package gojajscontext installs a [goja.Runtime] as the engine of a
// [jscontext.Context].
//
// # Overview
//
// The [Adapter] implements [jscontext.Engine]. Once the context is
// initialized, the runtime's global object is the context's realm, and
// the following globals are bound:
//
//   - Promise, replacing goja's, with reactions queued as promise jobs
//     of the realm
//   - queueMicrotask(callback), queued as a promise job of the realm
//   - reportError(value)
//   - addEventListener / removeEventListener, for the realm's "error",
//     "unhandledrejection" and "rejectionhandled" events
//   - WeakRef, with targets kept alive until the end of the checkpoint
//   - FinalizationRegistry, with cleanup callbacks queued on the context
//   - console, from goja_nodejs, logging by default
//   - require, with the native module "jscontext", see [Adapter.Require]
//
// Promise reactions and queueMicrotask callbacks share the context's
// queue. They run in queueing order at the next checkpoint, and are held
// back while the realm is in a sync operation.
// Rejections are tracked by the context, so unhandled rejections are
// notified after the checkpoint that left them unhandled.
//
// # Limitations
//
// Async functions and await use goja's intrinsic promise, whose jobs are
// kept in goja's own queue, drained each time control returns from the
// runtime to Go. Those jobs run ahead of the context's checkpoint, and are
// not subject to sync operation suppression. Their rejections are still
// reported to the context, by the runtime's promise rejection tracker.
//
// # Usage
//
//	thread, _ := jscontext.NewThread()
//	adapter, err := gojajscontext.NewContext(thread, goja.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = adapter.Evaluate("main.js", `queueMicrotask(() => console.log("hello"))`)
//	_ = thread.Run(ctx)
package gojajscontext
