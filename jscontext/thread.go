package jscontext

import (
	"context"
	"sync"

	"github.com/joeycumines/go-jscontext/internal/goroutineid"
	"github.com/joeycumines/logiface"
)

// Task is a unit of work run by a [Thread].
type Task interface {
	Run()
}

// TaskFunc adapts a function to [Task].
type TaskFunc func()

// Run implements [Task].
func (f TaskFunc) Run() { f() }

// Canceler may be implemented by a [Task]. Tasks still queued when a
// thread shuts down are canceled rather than run, if they implement it.
type Canceler interface {
	Cancel()
}

// namedTask is the Task used by DispatchFunc.
type namedTask struct {
	fn   func()
	name string
}

func (t *namedTask) Run()         { t.fn() }
func (t *namedTask) Name() string { return t.name }

func taskName(task Task) string {
	if v, ok := task.(interface{ Name() string }); ok {
		return v.Name()
	}
	return ""
}

// threadObserver is notified around every task, see Context.
type threadObserver interface {
	BeforeProcessTask(mightBlock bool)
	AfterProcessTask(recursionDepth uint32)
}

// Thread is a single-threaded host event loop: a FIFO task queue, plus an
// idle-priority queue, owned by the goroutine that created it.
//
// Tasks may be dispatched from any goroutine. They are only run by the
// owning goroutine, either by [Thread.Run], or by driving
// [Thread.ProcessNextEvent] directly, which may be nested to spin a
// nested event loop from within a task.
type Thread struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	// observer and context are set by the attached Context
	observer threadObserver
	context  *Context

	// wakeup is signaled, without blocking, whenever a task is queued or
	// shutdown is requested
	wakeup chan struct{}

	// loopDone is closed when Run returns
	loopDone chan struct{}

	state fastState[ThreadState]

	name string

	// guarded by mu
	tasks chunkedQueue[Task]
	idle  chunkedQueue[Task]

	scriptRunners []func()

	metrics threadMetrics

	mu       sync.Mutex
	stopOnce sync.Once

	owner          uint64
	recursionDepth uint32
	scriptBlockers uint32
	running        bool
}

// NewThread creates a Thread owned by the calling goroutine.
func NewThread(opts ...ThreadOption) (*Thread, error) {
	cfg, err := resolveThreadOptions(opts)
	if err != nil {
		return nil, err
	}
	t := &Thread{
		logger:   cfg.logger,
		name:     cfg.name,
		wakeup:   make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		owner:    goroutineid.Get(),
	}
	t.state.Store(ThreadAwake)
	return t, nil
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// State returns the current state of the thread.
func (t *Thread) State() ThreadState { return t.state.Load() }

// Context returns the Context initialized on this thread, or nil.
func (t *Thread) Context() *Context { return t.context }

// IsOwner reports whether the caller is the owning goroutine.
func (t *Thread) IsOwner() bool {
	return goroutineid.Get() == t.owner
}

// RecursionDepth returns the number of ProcessNextEvent calls currently
// on the stack. Owning goroutine only.
func (t *Thread) RecursionDepth() uint32 {
	return t.recursionDepth
}

// Dispatch queues task. It is safe to call from any goroutine. Tasks may
// still be queued while the thread is terminating.
func (t *Thread) Dispatch(task Task) error {
	return t.dispatch(task, false)
}

// DispatchFunc queues fn as a named task.
func (t *Thread) DispatchFunc(name string, fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return t.dispatch(&namedTask{fn: fn, name: name}, false)
}

// DispatchIdle queues task at idle priority: it only runs when no normal
// task is queued.
func (t *Thread) DispatchIdle(task Task) error {
	return t.dispatch(task, true)
}

func (t *Thread) dispatch(task Task, idle bool) error {
	if task == nil {
		return ErrNilTask
	}
	t.mu.Lock()
	if t.state.Load() == ThreadTerminated {
		t.mu.Unlock()
		return ErrThreadTerminated
	}
	if idle {
		t.idle.PushBack(task)
	} else {
		t.tasks.PushBack(task)
	}
	t.mu.Unlock()
	t.wake()
	return nil
}

func (t *Thread) wake() {
	select {
	case t.wakeup <- struct{}{}:
	default:
	}
}

func (t *Thread) pop() (Task, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task, ok := t.tasks.PopFront(); ok {
		return task, false, true
	}
	if task, ok := t.idle.PopFront(); ok {
		return task, true, true
	}
	return nil, false, false
}

// HasPendingEvents reports whether any task is queued.
func (t *Thread) HasPendingEvents() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks.Len() != 0 || t.idle.Len() != 0
}

// ProcessNextEvent runs the next task, if any. With mayWait, it blocks
// until a task is available, unless the thread is shutting down. The
// attached Context is notified before and after, whether or not a task
// ran. Owning goroutine only; it may be called from within a task.
func (t *Thread) ProcessNextEvent(mayWait bool) (bool, error) {
	if !t.IsOwner() {
		return false, ErrWrongThread
	}
	if t.state.Load() == ThreadTerminated {
		return false, ErrThreadTerminated
	}

	t.recursionDepth++
	depth := t.recursionDepth
	defer func() { t.recursionDepth-- }()

	if obs := t.observer; obs != nil {
		obs.BeforeProcessTask(mayWait && t.state.Load() < ThreadTerminating)
	}

	task, idle, ok := t.pop()
	for !ok && mayWait && t.state.Load() < ThreadTerminating {
		sleeping := t.state.TryTransition(ThreadRunning, ThreadSleeping)
		<-t.wakeup
		if sleeping {
			t.state.TryTransition(ThreadSleeping, ThreadRunning)
		}
		task, idle, ok = t.pop()
	}

	if ok {
		t.safeExecute(task)
		if idle {
			t.metrics.idleTasksRun.Add(1)
		} else {
			t.metrics.tasksRun.Add(1)
		}
	}

	if obs := t.observer; obs != nil {
		obs.AfterProcessTask(depth)
	}

	return ok, nil
}

// SpinEventLoopUntil processes events, waiting as necessary, until cond
// returns true.
func (t *Thread) SpinEventLoopUntil(cond func() bool) error {
	for !cond() {
		if t.state.Load() >= ThreadTerminating {
			return ErrThreadTerminated
		}
		if _, err := t.ProcessNextEvent(true); err != nil {
			return err
		}
	}
	return nil
}

// Run processes events until the thread is shut down or ctx is done. It
// must be called by the owning goroutine, and not from within a task.
func (t *Thread) Run(ctx context.Context) error {
	if !t.IsOwner() {
		return ErrWrongThread
	}
	if t.running || t.recursionDepth != 0 {
		return ErrReentrantRun
	}

	if !t.state.TryTransition(ThreadAwake, ThreadRunning) {
		if t.state.Load() >= ThreadTerminating {
			return ErrThreadTerminated
		}
		return ErrThreadAlreadyRunning
	}

	t.running = true
	defer func() { t.running = false }()

	// Close loopDone when run exits to signal completion to Shutdown waiters
	defer close(t.loopDone)

	t.logger.Debug().
		Str("thread", t.name).
		Log("jscontext: thread running")

	// wake the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.requestTermination()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for t.state.Load() < ThreadTerminating {
		if _, err := t.ProcessNextEvent(true); err != nil {
			return err
		}
	}

	t.finish()

	return ctx.Err()
}

// requestTermination moves the thread to ThreadTerminating, returning the
// state it was in, or false if it was already terminating.
func (t *Thread) requestTermination() (ThreadState, bool) {
	for {
		current := t.state.Load()
		if current >= ThreadTerminating {
			return current, false
		}
		if t.state.TryTransition(current, ThreadTerminating) {
			t.wake()
			return current, true
		}
	}
}

// Shutdown stops the thread. Queued tasks still run, except for those
// implementing [Canceler], which are canceled.
//
// If the thread is running, Shutdown waits for Run to drain the queue, or
// for ctx to be done. When called by the owning goroutine from within
// Run, it returns immediately and Run finishes once the current task
// returns. If the thread is not running, the owning goroutine drains it
// inline, while any other goroutine cancels or drops the queued tasks.
func (t *Thread) Shutdown(ctx context.Context) error {
	result := ErrThreadTerminated
	t.stopOnce.Do(func() {
		result = t.shutdownImpl(ctx)
	})
	return result
}

func (t *Thread) shutdownImpl(ctx context.Context) error {
	from, ok := t.requestTermination()
	if !ok {
		return ErrThreadTerminated
	}

	t.logger.Debug().
		Str("thread", t.name).
		Stringer("from", from).
		Log("jscontext: thread shutting down")

	if from == ThreadAwake {
		if t.IsOwner() {
			t.finish()
		} else {
			t.abandon()
		}
		return nil
	}

	if t.IsOwner() {
		return nil
	}

	select {
	case <-t.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish drains the queues on the owning goroutine, then terminates.
func (t *Thread) finish() {
	for {
		t.mu.Lock()
		task, ok := t.tasks.PopFront()
		if !ok {
			task, ok = t.idle.PopFront()
		}
		if !ok {
			t.state.Store(ThreadTerminated)
			t.mu.Unlock()
			break
		}
		t.mu.Unlock()

		if c, ok := task.(Canceler); ok {
			t.cancelTask(task, c)
			continue
		}

		t.recursionDepth++
		depth := t.recursionDepth
		if obs := t.observer; obs != nil {
			obs.BeforeProcessTask(false)
		}
		t.safeExecute(task)
		t.metrics.tasksRun.Add(1)
		if obs := t.observer; obs != nil {
			obs.AfterProcessTask(depth)
		}
		t.recursionDepth--
	}

	t.logger.Debug().
		Str("thread", t.name).
		Log("jscontext: thread terminated")
}

// abandon terminates without running anything, for a shutdown initiated
// away from the owning goroutine while the thread is not running.
func (t *Thread) abandon() {
	var tasks []Task
	t.mu.Lock()
	for {
		task, ok := t.tasks.PopFront()
		if !ok {
			task, ok = t.idle.PopFront()
		}
		if !ok {
			break
		}
		tasks = append(tasks, task)
	}
	t.state.Store(ThreadTerminated)
	t.mu.Unlock()

	dropped := 0
	for _, task := range tasks {
		if c, ok := task.(Canceler); ok {
			t.cancelTask(task, c)
		} else {
			dropped++
		}
	}
	if dropped != 0 {
		t.logger.Warning().
			Str("thread", t.name).
			Int("dropped", dropped).
			Log("jscontext: tasks dropped at shutdown")
	}
}

func (t *Thread) cancelTask(task Task, c Canceler) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Err().
				Str("thread", t.name).
				Str("task", taskName(task)).
				Err(recoverValue(r)).
				Log("jscontext: task cancel panicked")
		}
	}()
	c.Cancel()
	t.metrics.tasksCanceled.Add(1)
}

// safeExecute executes a task with panic recovery.
func (t *Thread) safeExecute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			err := recoverValue(r)
			t.metrics.taskPanics.Add(1)
			t.logger.Err().
				Str("thread", t.name).
				Str("task", taskName(task)).
				Err(err).
				Log("jscontext: task panicked")
		}
	}()
	task.Run()
}

// AddScriptBlocker marks it unsafe to run script, until balanced by
// RemoveScriptBlocker. Owning goroutine only.
func (t *Thread) AddScriptBlocker() {
	t.scriptBlockers++
}

// RemoveScriptBlocker balances AddScriptBlocker. Removing the last
// blocker runs the queued script runners, in order.
func (t *Thread) RemoveScriptBlocker() {
	if t.scriptBlockers == 0 {
		fatalf("Thread.RemoveScriptBlocker", "no script blocker to remove")
	}
	t.scriptBlockers--
	for t.scriptBlockers == 0 && len(t.scriptRunners) != 0 {
		fn := t.scriptRunners[0]
		t.scriptRunners[0] = nil
		t.scriptRunners = t.scriptRunners[1:]
		fn()
		t.metrics.scriptRunnersRun.Add(1)
	}
}

// IsSafeToRunScript reports whether no script blocker is active.
func (t *Thread) IsSafeToRunScript() bool {
	return t.scriptBlockers == 0
}

// AddScriptRunner runs fn now if it is safe to run script, otherwise
// once the last script blocker is removed.
func (t *Thread) AddScriptRunner(fn func()) {
	if fn == nil {
		return
	}
	if t.IsSafeToRunScript() {
		fn()
		t.metrics.scriptRunnersRun.Add(1)
		return
	}
	t.scriptRunners = append(t.scriptRunners, fn)
}

// Metrics returns a snapshot of the thread's counters.
func (t *Thread) Metrics() ThreadMetrics {
	t.mu.Lock()
	n := t.tasks.Len() + t.idle.Len()
	t.mu.Unlock()
	return ThreadMetrics{
		TasksRun:         t.metrics.tasksRun.Load(),
		IdleTasksRun:     t.metrics.idleTasksRun.Load(),
		TasksCanceled:    t.metrics.tasksCanceled.Load(),
		TaskPanics:       t.metrics.taskPanics.Load(),
		ScriptRunnersRun: t.metrics.scriptRunnersRun.Load(),
		QueueLength:      n,
	}
}
