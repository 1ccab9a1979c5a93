package jscontext

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cancelableTask struct {
	ran, canceled bool
}

func (c *cancelableTask) Run()    { c.ran = true }
func (c *cancelableTask) Cancel() { c.canceled = true }

func TestThread_Defaults(t *testing.T) {
	thread := newTestThread(t)
	assert.Equal(t, "main", thread.Name())
	assert.Equal(t, ThreadAwake, thread.State())
	assert.Equal(t, "Awake", thread.State().String())
	assert.True(t, thread.IsOwner())
	assert.Nil(t, thread.Context())

	named := newTestThread(t, WithThreadName("worker"), nil)
	assert.Equal(t, "worker", named.Name())
}

func TestThread_OrderAndIdlePriority(t *testing.T) {
	thread := newTestThread(t)
	var rec recorder

	require.NoError(t, thread.DispatchIdle(TaskFunc(func() { rec.add("idle") })))
	require.NoError(t, thread.DispatchFunc("a", func() {
		rec.add("a")
		require.NoError(t, thread.DispatchFunc("c", func() { rec.add("c") }))
	}))
	require.NoError(t, thread.Dispatch(TaskFunc(func() { rec.add("b") })))
	assert.True(t, thread.HasPendingEvents())

	drain(t, thread)
	assert.Equal(t, []string{"a", "b", "c", "idle"}, rec.order)
	assert.False(t, thread.HasPendingEvents())

	m := thread.Metrics()
	assert.Equal(t, uint64(3), m.TasksRun)
	assert.Equal(t, uint64(1), m.IdleTasksRun)
	assert.Zero(t, m.QueueLength)
}

func TestThread_DispatchErrors(t *testing.T) {
	thread := newTestThread(t)
	assert.ErrorIs(t, thread.Dispatch(nil), ErrNilTask)
	assert.ErrorIs(t, thread.DispatchFunc("nil", nil), ErrNilTask)
	assert.ErrorIs(t, thread.DispatchIdle(nil), ErrNilTask)

	require.NoError(t, thread.Shutdown(t.Context()))
	assert.ErrorIs(t, thread.DispatchFunc("late", func() {}), ErrThreadTerminated)
	_, err := thread.ProcessNextEvent(false)
	assert.ErrorIs(t, err, ErrThreadTerminated)
	assert.ErrorIs(t, thread.Shutdown(t.Context()), ErrThreadTerminated)
}

func TestThread_WrongGoroutine(t *testing.T) {
	thread := newTestThread(t)
	done := make(chan error, 2)
	go func() {
		_, err := thread.ProcessNextEvent(false)
		done <- err
		done <- thread.Run(context.Background())
	}()
	assert.ErrorIs(t, <-done, ErrWrongThread)
	assert.ErrorIs(t, <-done, ErrWrongThread)
}

func TestThread_NestedRecursionDepth(t *testing.T) {
	thread := newTestThread(t)
	var depths []uint32

	require.NoError(t, thread.DispatchFunc("outer", func() {
		depths = append(depths, thread.RecursionDepth())
		require.NoError(t, thread.DispatchFunc("inner", func() {
			depths = append(depths, thread.RecursionDepth())
		}))
		_, err := thread.ProcessNextEvent(false)
		require.NoError(t, err)
		assert.ErrorIs(t, thread.Run(context.Background()), ErrReentrantRun)
	}))
	drain(t, thread)

	assert.Equal(t, []uint32{1, 2}, depths)
	assert.Zero(t, thread.RecursionDepth())
}

func TestThread_PanicRecovered(t *testing.T) {
	logger, writer := newTestLogger(logiface.LevelError)
	thread := newTestThread(t, WithLogger(logger))
	ran := false

	require.NoError(t, thread.DispatchFunc("boom", func() { panic("boom") }))
	require.NoError(t, thread.DispatchFunc("after", func() { ran = true }))
	drain(t, thread)

	assert.True(t, ran)
	assert.Equal(t, uint64(1), thread.Metrics().TaskPanics)
	assert.Equal(t, []string{"jscontext: task panicked"}, writer.messages(logiface.LevelError))
}

func TestThread_InvariantPanicsEscape(t *testing.T) {
	thread := newTestThread(t)
	require.NoError(t, thread.DispatchFunc("fatal", func() { fatalf("test", "broken") }))
	ie := requireInvariant(t, func() { _, _ = thread.ProcessNextEvent(false) })
	assert.Equal(t, "test", ie.Op)
}

func TestThread_RunAndShutdown(t *testing.T) {
	started := make(chan *Thread)
	result := make(chan error)
	var rec recorder
	var mu sync.Mutex

	go func() {
		thread, err := NewThread()
		if err != nil {
			result <- err
			return
		}
		started <- thread
		result <- thread.Run(context.Background())
	}()
	thread := <-started

	// dispatched from this goroutine, run by the owner
	for _, name := range []string{"a", "b"} {
		require.NoError(t, thread.DispatchFunc(name, func() {
			mu.Lock()
			defer mu.Unlock()
			rec.add(name)
		}))
	}
	c := &cancelableTask{}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(rec.order) == 2
	}, time.Second, time.Millisecond)

	// the loop goes to sleep once idle
	require.Eventually(t, func() bool { return thread.State() == ThreadSleeping }, time.Second, time.Millisecond)

	require.NoError(t, thread.DispatchFunc("block", func() {
		// queued behind this task, then canceled by the shutdown
		_ = thread.Dispatch(c)
		for thread.State() != ThreadTerminating {
			time.Sleep(time.Millisecond)
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, thread.Shutdown(ctx))
	require.NoError(t, <-result)

	assert.Equal(t, ThreadTerminated, thread.State())
	assert.Equal(t, []string{"a", "b"}, rec.order)
	assert.True(t, c.canceled)
	assert.False(t, c.ran)
	assert.ErrorIs(t, thread.Shutdown(ctx), ErrThreadTerminated)
}

func TestThread_RunContextCanceled(t *testing.T) {
	thread := newTestThread(t)
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	require.NoError(t, thread.DispatchFunc("cancel", func() {
		cancel()
		require.NoError(t, thread.DispatchFunc("drained", func() { ran = true }))
	}))

	assert.ErrorIs(t, thread.Run(ctx), context.Canceled)
	assert.Equal(t, ThreadTerminated, thread.State())
	assert.True(t, ran)

	assert.ErrorIs(t, thread.Run(context.Background()), ErrThreadTerminated)
}

func TestThread_ShutdownFromWithinRun(t *testing.T) {
	thread := newTestThread(t)
	var shutdownErr error
	ran := false
	require.NoError(t, thread.DispatchFunc("stop", func() {
		shutdownErr = thread.Shutdown(context.Background())
		require.NoError(t, thread.DispatchFunc("after", func() { ran = true }))
	}))

	require.NoError(t, thread.Run(context.Background()))
	assert.NoError(t, shutdownErr)
	assert.True(t, ran)
}

func TestThread_ShutdownAwake(t *testing.T) {
	t.Run("owner drains", func(t *testing.T) {
		thread := newTestThread(t)
		c := &cancelableTask{}
		ran := false
		require.NoError(t, thread.Dispatch(c))
		require.NoError(t, thread.DispatchFunc("run", func() { ran = true }))

		require.NoError(t, thread.Shutdown(t.Context()))
		assert.True(t, ran)
		assert.True(t, c.canceled)
		assert.Equal(t, uint64(1), thread.Metrics().TasksCanceled)
	})

	t.Run("other goroutine abandons", func(t *testing.T) {
		logger, writer := newTestLogger(logiface.LevelWarning)
		thread := newTestThread(t, WithLogger(logger))
		c := &cancelableTask{}
		ran := false
		require.NoError(t, thread.Dispatch(c))
		require.NoError(t, thread.DispatchFunc("run", func() { ran = true }))

		done := make(chan error)
		go func() { done <- thread.Shutdown(context.Background()) }()
		require.NoError(t, <-done)

		assert.Equal(t, ThreadTerminated, thread.State())
		assert.False(t, ran)
		assert.True(t, c.canceled)
		assert.Equal(t, []string{"jscontext: tasks dropped at shutdown"}, writer.messages(logiface.LevelWarning))
	})
}

func TestThread_SpinEventLoopUntil(t *testing.T) {
	thread := newTestThread(t)
	count := 0
	for range 3 {
		require.NoError(t, thread.DispatchFunc("inc", func() { count++ }))
	}
	require.NoError(t, thread.SpinEventLoopUntil(func() bool { return count == 2 }))
	assert.Equal(t, 2, count)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = thread.DispatchFunc("late", func() { count = 10 })
	}()
	require.NoError(t, thread.SpinEventLoopUntil(func() bool { return count == 10 }))
}

func TestThread_ScriptBlockers(t *testing.T) {
	thread := newTestThread(t)
	var rec recorder

	thread.AddScriptRunner(func() { rec.add("now") })
	thread.AddScriptRunner(nil)
	assert.Equal(t, []string{"now"}, rec.order)

	thread.AddScriptBlocker()
	thread.AddScriptBlocker()
	thread.AddScriptRunner(func() { rec.add("first") })
	thread.AddScriptRunner(func() { rec.add("second") })

	thread.RemoveScriptBlocker()
	assert.False(t, thread.IsSafeToRunScript())
	assert.Equal(t, []string{"now"}, rec.order)

	thread.RemoveScriptBlocker()
	assert.True(t, thread.IsSafeToRunScript())
	assert.Equal(t, []string{"now", "first", "second"}, rec.order)
	assert.Equal(t, uint64(3), thread.Metrics().ScriptRunnersRun)

	ie := requireInvariant(t, thread.RemoveScriptBlocker)
	assert.Equal(t, "Thread.RemoveScriptBlocker", ie.Op)
}

func TestThreadState_String(t *testing.T) {
	for state, want := range map[ThreadState]string{
		ThreadRunning:     "Running",
		ThreadSleeping:    "Sleeping",
		ThreadTerminating: "Terminating",
		ThreadTerminated:  "Terminated",
		ThreadState(99):   "Unknown",
	} {
		assert.Equal(t, want, state.String())
	}
	for state, want := range map[ContextState]string{
		ContextInitialized:         "Initialized",
		ContextTaskBoundary:        "TaskBoundary",
		ContextMicroTaskCheckpoint: "MicroTaskCheckpoint",
		ContextDebuggerCheckpoint:  "DebuggerCheckpoint",
		ContextDestroying:          "Destroying",
		ContextDestroyed:           "Destroyed",
		ContextState(99):           "Unknown",
	} {
		assert.Equal(t, want, state.String())
	}
}
