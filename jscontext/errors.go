package jscontext

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrContextNotInitialized is returned when an operation requires an
	// initialized context.
	ErrContextNotInitialized = errors.New("jscontext: context is not initialized")

	// ErrContextAlreadyInitialized is returned by a second Initialize.
	ErrContextAlreadyInitialized = errors.New("jscontext: context is already initialized")

	// ErrContextDestroyed is returned when operations are attempted on a
	// destroyed context.
	ErrContextDestroyed = errors.New("jscontext: context has been destroyed")

	// ErrContextBusy is returned by Destroy while a checkpoint is draining.
	ErrContextBusy = errors.New("jscontext: context is draining microtasks")

	// ErrWrongThread is returned when an owner-only operation is called from
	// a goroutine other than the one owning the thread.
	ErrWrongThread = errors.New("jscontext: not called from the owning thread")

	// ErrThreadHasContext is returned when a second context is initialized
	// on the same thread.
	ErrThreadHasContext = errors.New("jscontext: thread already has a context")

	// ErrThreadTerminated is returned when tasks are dispatched to, or
	// processed on, a terminated thread.
	ErrThreadTerminated = errors.New("jscontext: thread has been terminated")

	// ErrThreadAlreadyRunning is returned when Run is called on a thread
	// that is already running.
	ErrThreadAlreadyRunning = errors.New("jscontext: thread is already running")

	// ErrReentrantRun is returned when Run is called from within a task.
	ErrReentrantRun = errors.New("jscontext: cannot call Run from within a task")

	// ErrNilThread is returned by NewContext when thread is nil.
	ErrNilThread = errors.New("jscontext: thread cannot be nil")

	// ErrNilEngine is returned by NewContext when engine is nil.
	ErrNilEngine = errors.New("jscontext: engine cannot be nil")

	// ErrNilTask is returned when a nil task is dispatched.
	ErrNilTask = errors.New("jscontext: task cannot be nil")
)

// InvariantError is the panic value used when an ordering or lifetime
// contract is broken, e.g. destroying a context that still has queued
// microtasks. These indicate a bug in the caller and are never recovered
// by the task or microtask runners.
type InvariantError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Op == "" {
		return "jscontext: invariant violated: " + e.Message
	}
	return "jscontext: invariant violated in " + e.Op + ": " + e.Message
}

func fatalf(op, format string, args ...any) {
	panic(&InvariantError{Op: op, Message: fmt.Sprintf(format, args...)})
}

// PanicError wraps a value recovered from a panicking task or microtask.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("jscontext: task panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// WrapError wraps an error with a message, preserving the cause chain.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// recoverValue converts a recovered value to an error, re-panicking when
// it is an *InvariantError.
func recoverValue(r any) error {
	if ie, ok := r.(*InvariantError); ok {
		panic(ie)
	}
	return PanicError{Value: r}
}
