// Package jscontext implements the per-thread execution core that sits
// between a JavaScript engine and a single-threaded host event loop.
//
// # Overview
//
// A [Thread] is the host event loop: a FIFO task queue owned by one
// goroutine, which may be spun re-entrantly via [Thread.ProcessNextEvent].
// A [Context] is bound to a Thread and to an [Engine]. It owns the
// engine's microtask queues and drives them at well-defined points:
//
//   - before a task that might block ([Context.BeforeProcessTask])
//   - after every task ([Context.AfterProcessTask]): microtask checkpoint,
//     stable state, idle GC poke, deferred finalization
//   - explicitly ([Context.PerformMicroTaskCheckpoint],
//     [Context.PerformDebuggerMicroTaskCheckpoint])
//
// The Context also tracks promise rejections and fires
// "unhandledrejection" and "rejectionhandled" events at the owning
// [Realm], runs stable-state callbacks ([Context.RunInStableState]) and
// recursion-depth-scoped transaction callbacks
// ([Context.AddPendingTransaction]), and batches finalization-registry
// cleanup callbacks onto the Thread ([Context.QueueFinalizationCallback]).
//
// # Ordering
//
//   - Each microtask queue is FIFO. Work queued by a running microtask is
//     appended and drained by the same checkpoint.
//   - The debugger queue always drains before the ordinary queue.
//   - Microtasks whose realm is inside a synchronous operation are set
//     aside in a batch and put back, in order, once the operation ends.
//   - Stable-state callbacks run after the microtask queue is empty.
//   - A pending transaction only runs when cleanup reaches the exact
//     recursion depth it was registered at.
//
// # Threading
//
// Everything except [Thread.Dispatch], [Thread.DispatchIdle],
// [Thread.Shutdown] and [Context.QueueFinalizationCallback] must be called
// from the goroutine that owns the Thread. Violations of ordering
// contracts (re-entrant stable-state flushes, non-empty queues at
// teardown, unbalanced sync operations) panic with an [*InvariantError].
//
// # Usage
//
//	thread, err := jscontext.NewThread()
//	if err != nil {
//	    return err
//	}
//	cx, err := jscontext.NewContext(thread, engine)
//	if err != nil {
//	    return err
//	}
//	if err := cx.Initialize(); err != nil {
//	    return err
//	}
//	defer cx.Destroy()
//
//	_ = thread.DispatchFunc("main", func() { /* run script */ })
//	for {
//	    processed, err := thread.ProcessNextEvent(false)
//	    if err != nil || !processed {
//	        break
//	    }
//	}
package jscontext
