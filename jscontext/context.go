package jscontext

import (
	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

// Context is the per-thread execution core of a script [Engine]. It owns
// the engine's microtask queues, tracks promise rejections, and runs
// stable-state callbacks and pending transactions, at the points where
// its [Thread] notifies it before and after each task.
//
// A Context is single threaded: except where documented, methods must be
// called from the goroutine owning its Thread.
type Context struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	engine Engine
	thread *Thread
	opts   *contextOptions
	logger *logiface.Logger[logiface.Event]
	realms *realmRegistry

	// suppressed is the batch currently collecting suppressed runnables
	suppressed *suppressedMicroTasks

	// recycledJob is the one-slot recycle cache
	recycledJob *promiseJobRunnable

	incumbent        *Realm
	pendingException error

	microTasks         chunkedQueue[MicroTaskRunnable]
	debuggerMicroTasks chunkedQueue[MicroTaskRunnable]
	traceSet           microTaskList

	rejections   rejectionState
	stableState  []func()
	transactions []pendingTransaction
	finalization finalizationQueue

	metrics contextMetrics

	state fastState[ContextState]

	idStr string
	id    uuid.UUID

	lastMicroTaskID       uint64
	suppressionGeneration uint64

	baseRecursionDepth uint32

	// microTaskRecursionDepth is the depth of the innermost draining
	// checkpoint, valid if hasMicroTaskRecursionDepth
	microTaskRecursionDepth    uint32
	hasMicroTaskRecursionDepth bool

	targetedMicroTaskRecursionDepth uint32
	debuggerRecursionDepth          uint32
	syncOperations                  uint32
	microTaskLevel                  uint32

	doingStableStates bool
}

var _ EngineHost = (*Context)(nil)

// NewContext creates an uninitialized Context for engine on thread.
func NewContext(thread *Thread, engine Engine, opts ...ContextOption) (*Context, error) {
	if thread == nil {
		return nil, ErrNilThread
	}
	if engine == nil {
		return nil, ErrNilEngine
	}
	cfg, err := resolveContextOptions(opts)
	if err != nil {
		return nil, err
	}
	cx := &Context{
		engine: engine,
		thread: thread,
		opts:   cfg,
		logger: cfg.logger,
		realms: newRealmRegistry(),
		id:     cfg.id,
		idStr:  cfg.id.String(),
	}
	cx.rejections.reset()
	cx.finalization.cx = cx
	cx.state.Store(ContextUninitialized)
	return cx, nil
}

// ID returns the context's id.
func (cx *Context) ID() uuid.UUID { return cx.id }

// Engine returns the engine.
func (cx *Context) Engine() Engine { return cx.engine }

// Thread returns the owning thread.
func (cx *Context) Thread() *Thread { return cx.thread }

// GCRuntime returns the GC runtime, see [WithGCRuntime].
func (cx *Context) GCRuntime() GCRuntime { return cx.opts.gc }

// CycleCollector returns the cycle collector, see [WithCycleCollector].
func (cx *Context) CycleCollector() CycleCollector { return cx.opts.collector }

// State returns the lifecycle state.
func (cx *Context) State() ContextState { return cx.state.Load() }

// Phase returns the innermost drain phase: ContextTaskBoundary,
// ContextMicroTaskCheckpoint or ContextDebuggerCheckpoint. Outside of
// the running states it returns the lifecycle state.
func (cx *Context) Phase() ContextState {
	s := cx.state.Load()
	if s == ContextInitialized {
		return ContextTaskBoundary
	}
	return s
}

// Metrics returns a snapshot of the context's counters.
func (cx *Context) Metrics() ContextMetrics { return cx.metrics.snapshot() }

func (cx *Context) checkOwner() error {
	if !cx.thread.IsOwner() {
		return ErrWrongThread
	}
	return nil
}

// Initialize installs the context's hooks into the engine, records the
// base recursion depth, attaches the context to its thread, and registers
// it with the cycle collector.
func (cx *Context) Initialize() error {
	if err := cx.checkOwner(); err != nil {
		return err
	}
	switch cx.state.Load() {
	case ContextUninitialized:
	case ContextDestroying, ContextDestroyed:
		return ErrContextDestroyed
	default:
		return ErrContextAlreadyInitialized
	}
	if cx.thread.context != nil {
		return ErrThreadHasContext
	}
	if cx.thread.State() == ThreadTerminated {
		return ErrThreadTerminated
	}
	if !cx.state.TryTransition(ContextUninitialized, ContextInitialized) {
		return ErrContextAlreadyInitialized
	}

	cx.baseRecursionDepth = cx.thread.RecursionDepth()
	cx.thread.context = cx
	cx.thread.observer = cx

	if err := cx.engine.Install(cx); err != nil {
		cx.thread.context = nil
		cx.thread.observer = nil
		cx.state.Store(ContextUninitialized)
		return WrapError("jscontext: engine install", err)
	}

	cx.opts.collector.RegisterContext(cx)

	cx.logger.Debug().
		Str("context", cx.idStr).
		Str("thread", cx.thread.name).
		Uint64("base_depth", uint64(cx.baseRecursionDepth)).
		Log("jscontext: context initialized")

	return nil
}

// RecursionDepth is the thread's recursion depth plus the number of
// active debugger interruptions, so that a debugger checkpoint does not
// clean up transactions started before the interruption.
func (cx *Context) RecursionDepth() uint32 {
	return cx.thread.RecursionDepth() + cx.debuggerRecursionDepth
}

// BaseRecursionDepth is the thread's recursion depth at Initialize.
func (cx *Context) BaseRecursionDepth() uint32 {
	return cx.baseRecursionDepth
}

// DebuggerRecursionDepth is the number of saved job queues not yet
// restored.
func (cx *Context) DebuggerRecursionDepth() uint32 {
	return cx.debuggerRecursionDepth
}

// SetTargetedMicroTaskRecursionDepth restricts ordinary checkpoints to
// run only at the given depth (plus the debugger depth). Zero removes the
// restriction.
func (cx *Context) SetTargetedMicroTaskRecursionDepth(depth uint32) {
	cx.targetedMicroTaskRecursionDepth = depth
}

// TargetedMicroTaskRecursionDepth returns the depth set by
// SetTargetedMicroTaskRecursionDepth.
func (cx *Context) TargetedMicroTaskRecursionDepth() uint32 {
	return cx.targetedMicroTaskRecursionDepth
}

// PendingException returns the exception stashed by SetPendingException.
func (cx *Context) PendingException() error { return cx.pendingException }

// SetPendingException stashes err, e.g. across a nested event loop.
func (cx *Context) SetPendingException(err error) { cx.pendingException = err }

// EnterSyncOperation starts a synchronous host operation, during which
// suppressible microtasks are held back.
func (cx *Context) EnterSyncOperation() {
	cx.syncOperations++
}

// LeaveSyncOperation balances EnterSyncOperation. Leaving the outermost
// operation starts a new suppression generation, releasing held back
// microtasks at the next checkpoint.
func (cx *Context) LeaveSyncOperation() {
	if cx.syncOperations == 0 {
		fatalf("LeaveSyncOperation", "not in a sync operation")
	}
	cx.syncOperations--
	if cx.syncOperations == 0 {
		cx.suppressionGeneration++
	}
}

// IsInSyncOperation reports whether a sync operation is active.
func (cx *Context) IsInSyncOperation() bool {
	return cx.syncOperations > 0
}

// SuppressionGeneration is incremented whenever the outermost sync
// operation ends.
func (cx *Context) SuppressionGeneration() uint64 {
	return cx.suppressionGeneration
}

// EnterMicroTask marks the start of script run by the host outside of a
// task, e.g. a callback from a nested event loop.
func (cx *Context) EnterMicroTask() {
	cx.microTaskLevel++
}

// LeaveMicroTask balances EnterMicroTask, performing a checkpoint when
// leaving the outermost level.
func (cx *Context) LeaveMicroTask() {
	if cx.microTaskLevel == 0 {
		fatalf("LeaveMicroTask", "not in a micro task")
	}
	cx.microTaskLevel--
	if cx.microTaskLevel == 0 {
		cx.PerformMicroTaskCheckpoint(false)
	}
}

// MicroTaskLevel returns the EnterMicroTask nesting level.
func (cx *Context) MicroTaskLevel() uint32 {
	return cx.microTaskLevel
}

// MicroTaskCount returns the number of runnables in the ordinary queue,
// including a suppressed batch, and the debugger queue.
func (cx *Context) MicroTaskCount() (ordinary, debugger int) {
	return cx.microTasks.Len(), cx.debuggerMicroTasks.Len()
}

// BeforeProcessTask is called by the thread before each task. If the
// thread might block, queued microtasks are drained first, and a no-op
// task is dispatched if any ran, so that a nested loop spinning on a
// condition set by a promise reaction does not block.
func (cx *Context) BeforeProcessTask(mightBlock bool) {
	if !cx.state.Load().live() {
		return
	}
	cx.state.TryTransition(ContextInitialized, ContextTaskBoundary)
	if mightBlock && cx.PerformMicroTaskCheckpoint(false) {
		if err := cx.thread.DispatchFunc("BeforeProcessTask", func() {}); err != nil {
			cx.logger.Debug().
				Str("context", cx.idStr).
				Err(err).
				Log("jscontext: wakeup task dropped")
		}
	}
}

// AfterProcessTask is called by the thread after each task: microtask
// checkpoint, stable state, GC poke, deferred finalization and deletion.
func (cx *Context) AfterProcessTask(recursionDepth uint32) {
	if !cx.state.Load().live() {
		return
	}
	cx.state.TryTransition(ContextInitialized, ContextTaskBoundary)

	cx.PerformMicroTaskCheckpoint(false)
	cx.ProcessStableStateQueue()
	cx.MaybePokeGC()
	cx.opts.gc.FinalizeDeferredThings()
	cx.opts.collector.MaybeDoDeferredDeletion()

	if n := cx.realms.Scavenge(cx.opts.scavengeBatch); n != 0 {
		cx.logger.Trace().
			Str("context", cx.idStr).
			Int("removed", n).
			Uint64("depth", uint64(recursionDepth)).
			Log("jscontext: realms scavenged")
	}
}

// MaybePokeGC dispatches an idle task running an idle-time GC, if the GC
// runtime wants one.
func (cx *Context) MaybePokeGC() {
	gc := cx.opts.gc
	if !gc.IsIdleGCTaskNeeded() {
		return
	}
	if err := cx.thread.DispatchIdle(&namedTask{fn: gc.RunIdleTimeGCTask, name: "IdleTimeGCTask"}); err != nil {
		return
	}
	gc.SetPendingIdleGCTask()
	cx.metrics.idleGCPokes.Add(1)
}

// PerformMicroTaskCheckpoint drains the debugger queue, then the ordinary
// queue, until both are empty, and returns whether anything ran.
//
// It does nothing if a checkpoint is already draining at the current
// recursion depth (unless force), if a targeted depth is set and not
// reached, or if it is not safe to run script, in which case it retries
// once it is. Runnables suppressed by a sync operation are moved into a
// batch which goes back on the queue.
func (cx *Context) PerformMicroTaskCheckpoint(force bool) bool {
	if !cx.state.Load().live() {
		return false
	}

	if cx.microTasks.Len() == 0 && cx.debuggerMicroTasks.Len() == 0 {
		cx.afterProcessMicrotasks()
		return false
	}

	currentDepth := cx.RecursionDepth()
	if cx.hasMicroTaskRecursionDepth && cx.microTaskRecursionDepth >= currentDepth && !force {
		return false
	}

	if cx.targetedMicroTaskRecursionDepth != 0 &&
		cx.targetedMicroTaskRecursionDepth+cx.debuggerRecursionDepth != currentDepth {
		return false
	}

	if !cx.thread.IsSafeToRunScript() {
		cx.thread.AddScriptRunner(func() {
			cx.PerformMicroTaskCheckpoint(false)
		})
		return false
	}

	prevDepth, prevHasDepth := cx.microTaskRecursionDepth, cx.hasMicroTaskRecursionDepth
	prevState := cx.state.Load()
	cx.microTaskRecursionDepth, cx.hasMicroTaskRecursionDepth = currentDepth, true
	cx.state.Store(ContextMicroTaskCheckpoint)
	defer func() {
		cx.microTaskRecursionDepth, cx.hasMicroTaskRecursionDepth = prevDepth, prevHasDepth
		cx.state.Store(prevState)
	}()

	cx.logger.Trace().
		Str("context", cx.idStr).
		Uint64("depth", uint64(currentDepth)).
		Log("jscontext: microtask checkpoint")

	didProcess := false
	for {
		r, ok := cx.debuggerMicroTasks.PopFront()
		if !ok {
			r, ok = cx.microTasks.PopFront()
			if !ok {
				break
			}
		}

		if (cx.IsInSyncOperation() || cx.suppressed != nil) && r.Suppressed() {
			cx.metrics.microTasksSuppressed.Add(1)
			if batch, isBatch := r.(*suppressedMicroTasks); !isBatch || batch != cx.suppressed {
				if cx.suppressed == nil {
					cx.suppressed = newSuppressedMicroTasks(cx)
				}
				cx.suppressed.push(r)
			}
			continue
		}

		didProcess = true
		cx.runMicroTask(r)
	}

	// put the batch back, to be released once the sync operation ends
	if cx.suppressed != nil {
		cx.microTasks.PushBack(cx.suppressed)
	}

	cx.afterProcessMicrotasks()
	cx.metrics.checkpoints.Add(1)

	return didProcess
}

// PerformDebuggerMicroTaskCheckpoint drains the debugger queue only,
// without any of the gating of PerformMicroTaskCheckpoint.
func (cx *Context) PerformDebuggerMicroTaskCheckpoint() {
	if !cx.state.Load().live() {
		return
	}

	prevState := cx.state.Load()
	cx.state.Store(ContextDebuggerCheckpoint)
	defer cx.state.Store(prevState)

	for {
		r, ok := cx.debuggerMicroTasks.PopFront()
		if !ok {
			break
		}
		cx.runMicroTask(r)
	}

	cx.afterProcessMicrotasks()
	cx.metrics.debuggerCheckpoints.Add(1)
}

// runMicroTask unlinks r from the trace set and runs it. Re-dispatching r
// while it runs links it again.
func (cx *Context) runMicroTask(r MicroTaskRunnable) {
	cx.traceSet.remove(r)

	cx.logger.Trace().
		Str("context", cx.idStr).
		Uint64("microtask", r.microTaskLink().id).
		Str("name", r.microTaskLink().name).
		Log("jscontext: run microtask")

	defer func() {
		if rec := recover(); rec != nil {
			cx.reportException(nil, WrapError("jscontext: microtask "+r.microTaskLink().name, recoverValue(rec)))
		}
	}()

	cx.metrics.microTasksRun.Add(1)
	r.Run()
}

// afterProcessMicrotasks notifies about rejected promises, cleans up
// pending transactions at the current depth, and clears kept objects.
func (cx *Context) afterProcessMicrotasks() {
	cx.notifyAboutRejectedPromises()
	cx.CleanupPendingTransactions(cx.RecursionDepth())
	cx.engine.ClearKeptObjects()
}

// Trace reports everything the context keeps alive on behalf of script:
// queued runnables, promises pending rejection notification, the pending
// exception, and the incumbent realm.
func (cx *Context) Trace(tracer Tracer) {
	cx.TraceMicroTasks(tracer)
	for _, p := range cx.rejections.pending {
		tracer.Trace("PendingUnhandledRejection", p)
	}
	for _, p := range cx.rejections.aboutToNotify {
		if p != nil {
			tracer.Trace("AboutToBeNotifiedRejection", p)
		}
	}
	if cx.pendingException != nil {
		tracer.Trace("PendingException", cx.pendingException)
	}
	if cx.incumbent != nil {
		tracer.Trace("IncumbentRealm", cx.incumbent)
	}
}

// Destroy tears the context down: pending transactions at the base depth
// and then any remaining ones run, followed by the stable-state queue.
// Both microtask queues must then be empty, otherwise it panics. Finally
// rejection bookkeeping and queued finalization callbacks are dropped,
// realms are marked dying, and the engine is uninstalled and closed.
//
// Destroy returns ErrContextBusy if called while a checkpoint is
// draining.
func (cx *Context) Destroy() error {
	if err := cx.checkOwner(); err != nil {
		return err
	}

	from, ok := cx.state.TransitionAny([]ContextState{ContextInitialized, ContextTaskBoundary}, ContextDestroying)
	if !ok {
		switch from {
		case ContextUninitialized:
			return ErrContextNotInitialized
		case ContextDestroying, ContextDestroyed:
			return ErrContextDestroyed
		default:
			return ErrContextBusy
		}
	}

	cx.recycledJob = nil
	cx.thread.observer = nil

	cx.CleanupPendingTransactions(cx.baseRecursionDepth)
	cx.flushAllPendingTransactions()
	cx.ProcessStableStateQueue()

	cx.pendingException = nil

	if ordinary, debugger := cx.MicroTaskCount(); ordinary != 0 || debugger != 0 {
		fatalf("Destroy", "%d microtasks and %d debugger microtasks still queued", ordinary, debugger)
	}

	observers := cx.rejections.observers
	cx.rejections.reset()
	cx.rejections.observers = nil
	if len(observers) != 0 {
		cx.logger.Trace().
			Str("context", cx.idStr).
			Int("observers", len(observers)).
			Log("jscontext: rejection observers released")
	}

	if n := cx.finalization.destroy(); n != 0 {
		cx.logger.Warning().
			Str("context", cx.idStr).
			Int("callbacks", n).
			Log("jscontext: finalization callbacks dropped")
	}

	cx.realms.markAllDying()

	cx.engine.Uninstall()
	err := cx.engine.Close()

	cx.opts.collector.ForgetContext(cx)
	cx.thread.context = nil
	cx.traceSet.clear()
	cx.suppressed = nil

	cx.state.Store(ContextDestroyed)

	cx.logger.Debug().
		Str("context", cx.idStr).
		Stringer("from", from).
		Log("jscontext: context destroyed")

	if err != nil {
		return WrapError("jscontext: engine close", err)
	}
	return nil
}
