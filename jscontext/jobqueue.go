package jscontext

// promiseJobRunnable runs a [PromiseJob]. After running it resets itself
// and parks in the context's one-slot recycle cache.
type promiseJobRunnable struct {
	MicroTaskLink
	cx  *Context
	job PromiseJob
}

func (r *promiseJobRunnable) Run() {
	cx := r.cx
	job := r.job
	if job.Realm == nil || !job.Realm.IsDying() {
		cx.callPromiseJob(&job)
	}
	r.job = PromiseJob{}
	r.id = 0
	if cx.opts.recyclePromiseJobs && cx.state.Load().live() {
		cx.recycledJob = r
	}
}

func (r *promiseJobRunnable) Suppressed() bool {
	return r.job.Realm != nil && r.job.Realm.IsInSyncOperation()
}

func (r *promiseJobRunnable) TraceMicroTask(tracer Tracer) {
	if r.job.Promise != nil {
		tracer.Trace(r.name, r.job.Promise)
	}
	for _, ref := range r.job.Refs {
		tracer.Trace(r.name, ref)
	}
}

// callPromiseJob runs the callback with the incumbent realm set, reporting
// script exceptions and recovered panics on the job's realm.
func (cx *Context) callPromiseJob(job *PromiseJob) {
	prev := cx.incumbent
	cx.incumbent = job.Incumbent
	defer func() {
		cx.incumbent = prev
		if r := recover(); r != nil {
			cx.reportException(job.Realm, recoverValue(r))
		}
	}()
	if err := job.Callback(); err != nil {
		cx.reportException(job.Realm, err)
	}
}

// EnqueuePromiseJob implements [JobQueue]. It returns false if the
// context is not running or the job has no callback.
func (cx *Context) EnqueuePromiseJob(job PromiseJob) bool {
	if job.Callback == nil || !cx.state.Load().live() {
		cx.logger.Debug().
			Str("context", cx.idStr).
			Log("jscontext: promise job rejected")
		return false
	}
	r := cx.recycledJob
	if r != nil {
		cx.recycledJob = nil
	} else {
		r = &promiseJobRunnable{cx: cx}
		r.name = "PromiseJob"
	}
	r.job = job
	cx.DispatchToMicroTask(r)
	return true
}

// RunJobs implements [JobQueue].
func (cx *Context) RunJobs() {
	cx.PerformMicroTaskCheckpoint(false)
}

// Empty implements [JobQueue]. Only the ordinary queue is considered.
func (cx *Context) Empty() bool {
	return cx.microTasks.Len() == 0
}

// SavedJobQueue holds the ordinary microtask queue while a debugger
// interruption runs with an empty one. Restore must be called exactly
// once, after the interruption has drained its own work.
type SavedJobQueue struct {
	cx       *Context
	queue    chunkedQueue[MicroTaskRunnable]
	restored bool
}

// SaveJobQueue implements [JobQueue]. The debugger recursion depth is
// incremented until the returned queue is restored.
func (cx *Context) SaveJobQueue() (*SavedJobQueue, error) {
	if err := cx.checkOwner(); err != nil {
		return nil, err
	}
	if !cx.state.Load().live() {
		return nil, ErrContextNotInitialized
	}
	s := &SavedJobQueue{cx: cx}
	cx.debuggerRecursionDepth++
	cx.microTasks.Swap(&s.queue)
	cx.logger.Trace().
		Str("context", cx.idStr).
		Uint64("debugger_depth", uint64(cx.debuggerRecursionDepth)).
		Log("jscontext: job queue saved")
	return s, nil
}

// Restore puts the saved queue back. A suppressed batch left over from
// the interruption is moved to the back of the restored queue; any other
// leftover work is fatal.
func (s *SavedJobQueue) Restore() {
	if s.restored {
		fatalf("SavedJobQueue.Restore", "queue already restored")
	}
	s.restored = true

	cx := s.cx
	if n := cx.microTasks.Len(); n > 1 {
		fatalf("SavedJobQueue.Restore", "%d microtasks left by the interruption", n)
	}
	if cx.debuggerRecursionDepth == 0 {
		fatalf("SavedJobQueue.Restore", "debugger recursion depth is zero")
	}

	leftover, ok := cx.microTasks.PopFront()
	cx.debuggerRecursionDepth--
	cx.microTasks.Swap(&s.queue)
	if !ok {
		return
	}

	// at most one suppressed batch may be queued
	if batch, isBatch := leftover.(*suppressedMicroTasks); isBatch {
		queued := false
		cx.microTasks.Each(func(r MicroTaskRunnable) {
			other, ok := r.(*suppressedMicroTasks)
			switch {
			case !ok:
			case other == batch:
				queued = true
			default:
				fatalf("SavedJobQueue.Restore", "more than one suppressed batch")
			}
		})
		if queued {
			return
		}
	}
	cx.microTasks.PushBack(leftover)
}

// DispatchToMicroTask appends r to the ordinary queue, linking it into
// the trace set if it is not already linked.
func (cx *Context) DispatchToMicroTask(r MicroTaskRunnable) {
	cx.linkMicroTask(r)
	cx.microTasks.PushBack(r)
}

// DispatchToDebuggerMicroTask appends r to the debugger queue.
func (cx *Context) DispatchToDebuggerMicroTask(r MicroTaskRunnable) {
	cx.linkMicroTask(r)
	cx.debuggerMicroTasks.PushBack(r)
}

func (cx *Context) linkMicroTask(r MicroTaskRunnable) {
	if r == nil {
		fatalf("DispatchToMicroTask", "nil runnable")
	}
	l := r.microTaskLink()
	if l.id == 0 {
		cx.lastMicroTaskID++
		l.id = cx.lastMicroTaskID
	}
	cx.traceSet.insert(r)
}

// TraceMicroTasks reports every queued runnable to tracer, including
// those held back by suppression.
func (cx *Context) TraceMicroTasks(tracer Tracer) {
	cx.traceSet.each(func(r MicroTaskRunnable) {
		r.TraceMicroTask(tracer)
	})
}
