package jscontext

import (
	"sync/atomic"
)

// ContextMetrics is a snapshot of a [Context]'s counters.
type ContextMetrics struct {
	// Checkpoints is the number of microtask checkpoints that drained.
	Checkpoints uint64
	// DebuggerCheckpoints is the number of debugger checkpoints.
	DebuggerCheckpoints uint64
	// MicroTasksRun is the number of runnables run, by either checkpoint.
	MicroTasksRun uint64
	// MicroTasksSuppressed counts each time a runnable was held back.
	MicroTasksSuppressed uint64
	// RejectionsNotified is the number of unhandled rejections notified.
	RejectionsNotified uint64
	// ExceptionsReported is the number of script exceptions reported.
	ExceptionsReported uint64
	// StableStateRun is the number of stable-state callbacks run.
	StableStateRun uint64
	// TransactionsRun is the number of pending transactions run.
	TransactionsRun uint64
	// FinalizationRun is the number of finalization callbacks run.
	FinalizationRun uint64
	// FinalizationSkipped counts callbacks skipped for a dead realm.
	FinalizationSkipped uint64
	// IdleGCPokes is the number of idle GC tasks dispatched.
	IdleGCPokes uint64
}

type contextMetrics struct {
	checkpoints          atomic.Uint64
	debuggerCheckpoints  atomic.Uint64
	microTasksRun        atomic.Uint64
	microTasksSuppressed atomic.Uint64
	rejectionsNotified   atomic.Uint64
	exceptionsReported   atomic.Uint64
	stableStateRun       atomic.Uint64
	transactionsRun      atomic.Uint64
	finalizationRun      atomic.Uint64
	finalizationSkipped  atomic.Uint64
	idleGCPokes          atomic.Uint64
}

func (x *contextMetrics) snapshot() ContextMetrics {
	return ContextMetrics{
		Checkpoints:          x.checkpoints.Load(),
		DebuggerCheckpoints:  x.debuggerCheckpoints.Load(),
		MicroTasksRun:        x.microTasksRun.Load(),
		MicroTasksSuppressed: x.microTasksSuppressed.Load(),
		RejectionsNotified:   x.rejectionsNotified.Load(),
		ExceptionsReported:   x.exceptionsReported.Load(),
		StableStateRun:       x.stableStateRun.Load(),
		TransactionsRun:      x.transactionsRun.Load(),
		FinalizationRun:      x.finalizationRun.Load(),
		FinalizationSkipped:  x.finalizationSkipped.Load(),
		IdleGCPokes:          x.idleGCPokes.Load(),
	}
}

// ThreadMetrics is a snapshot of a [Thread]'s counters.
type ThreadMetrics struct {
	// TasksRun is the number of normal priority tasks run.
	TasksRun uint64
	// IdleTasksRun is the number of idle tasks run.
	IdleTasksRun uint64
	// TasksCanceled is the number of tasks canceled at shutdown.
	TasksCanceled uint64
	// TaskPanics is the number of tasks that panicked.
	TaskPanics uint64
	// ScriptRunnersRun is the number of script runners run.
	ScriptRunnersRun uint64
	// QueueLength is the number of queued tasks, of either priority.
	QueueLength int
}

type threadMetrics struct {
	tasksRun         atomic.Uint64
	idleTasksRun     atomic.Uint64
	tasksCanceled    atomic.Uint64
	taskPanics       atomic.Uint64
	scriptRunnersRun atomic.Uint64
}
