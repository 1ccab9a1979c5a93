package jscontext

import "fmt"

// RejectionObserver is notified of promise rejections in batches, by
// [Context.FlushRejections]. This is the debugging view of rejections: it
// sees muted rejections too, and is independent of the realm events.
type RejectionObserver interface {
	// OnLeftUncaught is called for a rejection that had no handler when
	// the batch was flushed.
	OnLeftUncaught(p Promise)

	// OnConsumed is called for a rejection that was reported as uncaught
	// in an earlier batch, and has since been handled.
	OnConsumed(p Promise)
}

// rejectionState is the rejection bookkeeping of a context.
type rejectionState struct {
	// pending maps the id of every unhandled, unmuted rejection that has
	// not been resolved by a notification pass
	pending map[uint64]Promise

	// aboutToNotify is handed to the next notification task, handled
	// entries are set to nil rather than removed
	aboutToNotify []Promise

	uncaught       []Promise
	consumed       []Promise
	observers      []RejectionObserver
	flushScheduled bool
}

func (x *rejectionState) reset() {
	x.pending = make(map[uint64]Promise)
	x.aboutToNotify = nil
	x.uncaught = nil
	x.consumed = nil
	x.flushScheduled = false
}

// TrackPromiseRejection implements [PromiseRejectionTracker].
//
// An unhandled rejection is queued for the next "unhandledrejection"
// notification, unless mutedErrors. A handled transition cancels a queued
// notification; if the promise was already notified about, a
// "rejectionhandled" event is dispatched to its realm on a later task.
func (cx *Context) TrackPromiseRejection(p Promise, state RejectionState, mutedErrors bool) {
	if p == nil {
		return
	}
	x := &cx.rejections
	id := p.ID()

	cx.logger.Trace().
		Str("context", cx.idStr).
		Uint64("promise", id).
		Stringer("state", state).
		Bool("muted", mutedErrors).
		Log("jscontext: promise rejection tracked")

	if state == RejectionUnhandled {
		cx.addUncaughtRejection(p)
		if !mutedErrors {
			x.aboutToNotify = append(x.aboutToNotify, p)
			x.pending[id] = p
		}
		return
	}

	cx.addConsumedRejection(p)

	for i, q := range x.aboutToNotify {
		if q != nil && q.ID() == id {
			// not yet notified, so there is nothing to retract
			x.aboutToNotify[i] = nil
			delete(x.pending, id)
			return
		}
	}

	_, found := x.pending[id]
	delete(x.pending, id)
	if found || mutedErrors {
		return
	}

	realm := p.Realm()
	if realm == nil {
		return
	}
	ev := NewPromiseRejectionEvent("rejectionhandled", p, false)
	if err := cx.thread.DispatchFunc("rejectionhandled", func() {
		if !realm.IsDying() {
			realm.DispatchEvent(&ev.Event)
		}
	}); err != nil {
		cx.logger.Debug().
			Str("context", cx.idStr).
			Uint64("promise", id).
			Err(err).
			Log("jscontext: rejectionhandled dropped")
	}
}

// HasPendingRejection reports whether the promise with the given id has
// an "unhandledrejection" notification queued, and is not yet handled.
func (cx *Context) HasPendingRejection(id uint64) bool {
	_, ok := cx.rejections.pending[id]
	return ok
}

// PendingRejectionCount returns the size of the pending rejection table.
func (cx *Context) PendingRejectionCount() int {
	return len(cx.rejections.pending)
}

// notifyAboutRejectedPromises hands the about-to-notify list to a task.
func (cx *Context) notifyAboutRejectedPromises() {
	x := &cx.rejections
	if len(x.aboutToNotify) == 0 {
		return
	}
	task := &notifyUnhandledRejections{cx: cx, promises: x.aboutToNotify}
	x.aboutToNotify = nil
	if err := cx.thread.Dispatch(task); err != nil {
		cx.logger.Debug().
			Str("context", cx.idStr).
			Err(err).
			Log("jscontext: rejection notification dropped")
		task.Cancel()
	}
}

// notifyUnhandledRejections fires "unhandledrejection" for each promise
// still unhandled when the task runs.
type notifyUnhandledRejections struct {
	cx       *Context
	promises []Promise
}

func (t *notifyUnhandledRejections) Name() string { return "NotifyUnhandledRejections" }

func (t *notifyUnhandledRejections) Run() {
	cx := t.cx
	for _, p := range t.promises {
		if p == nil {
			continue
		}
		if !cx.state.Load().live() {
			return
		}

		id := p.ID()
		if !p.IsHandled() {
			cx.metrics.rejectionsNotified.Add(1)
			realm := p.Realm()
			notCanceled := true
			if realm != nil && !realm.IsDying() {
				ev := NewPromiseRejectionEvent("unhandledrejection", p, true)
				notCanceled = realm.DispatchEvent(&ev.Event)
			}
			if notCanceled && !p.IsHandled() {
				b := cx.logger.Warning().
					Limit().
					Str("context", cx.idStr).
					Uint64("promise", id)
				if s, ok := p.Result().(fmt.Stringer); ok {
					b = b.Stringer("reason", s)
				} else {
					b = b.Any("reason", p.Result())
				}
				if realm != nil {
					b = b.Str("realm", realm.name)
				}
				b.Log("jscontext: unhandled promise rejection")
			}
		}

		// a listener may have handled it, in which case the tracker
		// already removed it
		if !p.IsHandled() {
			delete(cx.rejections.pending, id)
		}
	}
}

// Cancel removes the task's promises from the pending table.
func (t *notifyUnhandledRejections) Cancel() {
	for _, p := range t.promises {
		if p != nil {
			delete(t.cx.rejections.pending, p.ID())
		}
	}
}

// AddRejectionObserver registers o with [Context.FlushRejections].
func (cx *Context) AddRejectionObserver(o RejectionObserver) {
	if o != nil {
		cx.rejections.observers = append(cx.rejections.observers, o)
	}
}

// RemoveRejectionObserver unregisters o, returning false if it was not
// registered.
func (cx *Context) RemoveRejectionObserver(o RejectionObserver) bool {
	obs := cx.rejections.observers
	for i, v := range obs {
		if v == o {
			cx.rejections.observers = append(obs[:i:i], obs[i+1:]...)
			return true
		}
	}
	return false
}

func (cx *Context) addUncaughtRejection(p Promise) {
	x := &cx.rejections
	x.uncaught = append(x.uncaught, p)
	cx.scheduleFlushRejections()
}

// addConsumedRejection records a handled transition. A promise still in
// the uncaught batch was never reported, so it is just dropped from it.
func (cx *Context) addConsumedRejection(p Promise) {
	x := &cx.rejections
	id := p.ID()
	for i, q := range x.uncaught {
		if q != nil && q.ID() == id {
			x.uncaught[i] = nil
			return
		}
	}
	x.consumed = append(x.consumed, p)
	cx.scheduleFlushRejections()
}

func (cx *Context) scheduleFlushRejections() {
	x := &cx.rejections
	if x.flushScheduled {
		return
	}
	if err := cx.thread.DispatchFunc("FlushRejections", cx.FlushRejections); err != nil {
		return
	}
	x.flushScheduled = true
}

// FlushRejections delivers the current batch of uncaught and consumed
// rejections to the registered observers.
func (cx *Context) FlushRejections() {
	x := &cx.rejections
	x.flushScheduled = false
	uncaught, consumed := x.uncaught, x.consumed
	x.uncaught, x.consumed = nil, nil

	for _, p := range uncaught {
		if p == nil || p.IsHandled() {
			continue
		}
		for _, o := range x.observers {
			o.OnLeftUncaught(p)
		}
	}
	for _, p := range consumed {
		for _, o := range x.observers {
			o.OnConsumed(p)
		}
	}
}
