package jscontext

// RunInStableState queues fn to run once the current task's microtasks
// have drained, i.e. on the next [Context.ProcessStableStateQueue].
func (cx *Context) RunInStableState(fn func()) {
	if fn == nil {
		return
	}
	cx.stableState = append(cx.stableState, fn)
}

// ProcessStableStateQueue runs the stable-state callbacks in order.
// Callbacks queued while it runs are run by the same call. Re-entry, from
// a callback or from pending transaction cleanup, is fatal.
func (cx *Context) ProcessStableStateQueue() {
	if cx.doingStableStates {
		fatalf("ProcessStableStateQueue", "re-entered")
	}
	cx.doingStableStates = true

	// index iteration, since callbacks may append
	for i := 0; i < len(cx.stableState); i++ {
		fn := cx.stableState[i]
		cx.stableState[i] = nil
		cx.runGuarded("StableState", fn)
		cx.metrics.stableStateRun.Add(1)
	}

	cx.stableState = cx.stableState[:0]
	cx.doingStableStates = false
}

// runGuarded calls fn, recovering and reporting a panic. An
// *InvariantError is not recovered.
func (cx *Context) runGuarded(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cx.reportException(nil, WrapError(name, recoverValue(r)))
		}
	}()
	fn()
}
