package jscontext

import (
	"sync/atomic"
)

// ThreadState represents the current state of a [Thread].
//
// State Machine:
//
//	ThreadAwake → ThreadRunning           [Run()]
//	ThreadRunning → ThreadSleeping        [ProcessNextEvent(true) blocks]
//	ThreadSleeping → ThreadRunning        [task dispatched / wakeup]
//	ThreadAwake|Running|Sleeping → ThreadTerminating [Shutdown()]
//	ThreadTerminating → ThreadTerminated  [queue drained]
//	ThreadTerminated → (terminal)
//
// A thread that is never Run (driven manually via ProcessNextEvent)
// stays in ThreadAwake until Shutdown.
type ThreadState uint64

const (
	// ThreadAwake indicates the thread has been created but Run has not
	// been called.
	ThreadAwake ThreadState = iota
	// ThreadRunning indicates Run is processing tasks.
	ThreadRunning
	// ThreadSleeping indicates Run is blocked waiting for a task.
	ThreadSleeping
	// ThreadTerminating indicates shutdown has been requested.
	ThreadTerminating
	// ThreadTerminated indicates the thread no longer accepts or runs tasks.
	ThreadTerminated
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case ThreadAwake:
		return "Awake"
	case ThreadRunning:
		return "Running"
	case ThreadSleeping:
		return "Sleeping"
	case ThreadTerminating:
		return "Terminating"
	case ThreadTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ContextState represents the lifecycle state of a [Context].
//
// State Machine:
//
//	ContextUninitialized → ContextInitialized     [Initialize()]
//	ContextInitialized → ContextTaskBoundary      [first Before/AfterProcessTask]
//	ContextTaskBoundary ⇄ ContextMicroTaskCheckpoint  [PerformMicroTaskCheckpoint]
//	ContextTaskBoundary ⇄ ContextDebuggerCheckpoint   [PerformDebuggerMicroTaskCheckpoint]
//	ContextMicroTaskCheckpoint ⇄ ContextDebuggerCheckpoint (nested)
//	ContextInitialized|ContextTaskBoundary → ContextDestroying [Destroy()]
//	ContextDestroying → ContextDestroyed
//
// Checkpoint states are entered and left in strict LIFO order, the
// previous state being restored when a checkpoint returns.
type ContextState uint64

const (
	// ContextUninitialized is the state of a context returned by NewContext.
	ContextUninitialized ContextState = iota
	// ContextInitialized indicates hooks are installed but no task has run.
	ContextInitialized
	// ContextTaskBoundary indicates the context is between tasks, or
	// running a task outside of any checkpoint.
	ContextTaskBoundary
	// ContextMicroTaskCheckpoint indicates a microtask checkpoint is draining.
	ContextMicroTaskCheckpoint
	// ContextDebuggerCheckpoint indicates a debugger checkpoint is draining.
	ContextDebuggerCheckpoint
	// ContextDestroying indicates teardown is in progress.
	ContextDestroying
	// ContextDestroyed indicates the engine has been released.
	ContextDestroyed
)

// String returns a human-readable representation of the state.
func (s ContextState) String() string {
	switch s {
	case ContextUninitialized:
		return "Uninitialized"
	case ContextInitialized:
		return "Initialized"
	case ContextTaskBoundary:
		return "TaskBoundary"
	case ContextMicroTaskCheckpoint:
		return "MicroTaskCheckpoint"
	case ContextDebuggerCheckpoint:
		return "DebuggerCheckpoint"
	case ContextDestroying:
		return "Destroying"
	case ContextDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// live reports whether the context may run script and accept work.
func (s ContextState) live() bool {
	return s >= ContextInitialized && s <= ContextDebuggerCheckpoint
}

// fastState is a lock-free state machine with cache-line padding.
//
// TryTransition is used for states that are left again (checkpoints,
// sleeping); Store only for terminal or owner-only transitions.
type fastState[S ~uint64] struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // state value
	_ [56]byte      //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState[S]) Load() S {
	return S(s.v.Load())
}

// Store atomically stores a new state, without validation.
func (s *fastState[S]) Store(state S) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState[S]) TryTransition(from, to S) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts to transition from any of validFrom to the target,
// returning the state it transitioned from.
func (s *fastState[S]) TransitionAny(validFrom []S, to S) (S, bool) {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return from, true
		}
	}
	return s.Load(), false
}
