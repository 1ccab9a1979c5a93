package jscontext

import (
	"sync"
	"weak"
)

// finalizationCallback is a FinalizationRegistry cleanup job. The
// incumbent realm is held weakly, the callback is skipped if it is gone.
type finalizationCallback struct {
	fn        func() error
	incumbent weak.Pointer[Realm]
	hasRealm  bool
}

// finalizationQueue batches cleanup callbacks onto a single thread task.
// Callbacks may be queued from any goroutine, since the Go runtime runs
// cleanups on its own.
type finalizationQueue struct {
	cx        *Context
	callbacks []finalizationCallback
	mu        sync.Mutex
	destroyed bool
}

// QueueFinalizationCallback implements [FinalizationHost]. The first
// callback queued since the last flush dispatches the flush task. It is
// safe to call from any goroutine.
func (cx *Context) QueueFinalizationCallback(fn func() error, incumbent *Realm) {
	if fn == nil {
		return
	}
	q := &cx.finalization

	cb := finalizationCallback{fn: fn}
	if incumbent != nil {
		cb.incumbent = weak.Make(incumbent)
		cb.hasRealm = true
	}

	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	first := len(q.callbacks) == 0
	q.callbacks = append(q.callbacks, cb)
	q.mu.Unlock()

	if !first {
		return
	}
	if err := cx.thread.DispatchFunc("FinalizationRegistryCleanup", q.doCleanup); err != nil {
		cx.logger.Debug().
			Str("context", cx.idStr).
			Err(err).
			Log("jscontext: finalization cleanup dropped")
		q.mu.Lock()
		q.callbacks = nil
		q.mu.Unlock()
	}
}

// doCleanup runs the queued callbacks, each in its incumbent realm.
func (q *finalizationQueue) doCleanup() {
	cx := q.cx

	q.mu.Lock()
	callbacks := q.callbacks
	q.callbacks = nil
	q.mu.Unlock()

	for _, cb := range callbacks {
		if !cx.state.Load().live() {
			return
		}
		var realm *Realm
		if cb.hasRealm {
			realm = cb.incumbent.Value()
			if realm == nil || realm.IsDying() {
				cx.metrics.finalizationSkipped.Add(1)
				continue
			}
		}
		cx.runFinalizationCallback(cb.fn, realm)
		cx.metrics.finalizationRun.Add(1)
	}
}

func (cx *Context) runFinalizationCallback(fn func() error, realm *Realm) {
	prev := cx.incumbent
	cx.incumbent = realm
	defer func() {
		cx.incumbent = prev
		if r := recover(); r != nil {
			cx.reportException(realm, recoverValue(r))
		}
	}()
	if err := fn(); err != nil {
		cx.reportException(realm, err)
	}
}

// PendingFinalizationCount returns the number of callbacks waiting for
// the flush task.
func (cx *Context) PendingFinalizationCount() int {
	q := &cx.finalization
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.callbacks)
}

// destroy drops queued callbacks and refuses new ones.
func (q *finalizationQueue) destroy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.callbacks)
	q.callbacks = nil
	q.destroyed = true
	return n
}
