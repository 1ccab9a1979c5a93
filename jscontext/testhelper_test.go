package jscontext

import (
	"errors"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"
)

// testEvent is a minimal logiface.Event implementation, recording fields.
type testEvent struct {
	logiface.UnimplementedEvent
	fields map[string]any
	msg    string
	level  logiface.Level
}

func (e *testEvent) Level() logiface.Level { return e.level }

func (e *testEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

func (e *testEvent) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

// testEventFactory creates testEvent instances.
type testEventFactory struct{}

func (f *testEventFactory) NewEvent(level logiface.Level) *testEvent {
	return &testEvent{level: level}
}

// testEventWriter records written events.
type testEventWriter struct {
	events []*testEvent
	mu     sync.Mutex
}

func (w *testEventWriter) Write(event *testEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *testEventWriter) messages(level logiface.Level) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, e := range w.events {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func (w *testEventWriter) find(msg string) *testEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.events {
		if e.msg == msg {
			return e
		}
	}
	return nil
}

func newTestLogger(level logiface.Level) (*logiface.Logger[logiface.Event], *testEventWriter) {
	writer := &testEventWriter{}
	typedLogger := logiface.New[*testEvent](
		logiface.WithEventFactory[*testEvent](&testEventFactory{}),
		logiface.WithWriter[*testEvent](writer),
		logiface.WithLevel[*testEvent](level),
	)
	return typedLogger.Logger(), writer
}

// fakeEngine records the calls made by a Context.
type fakeEngine struct {
	host        EngineHost
	installErr  error
	closeErr    error
	calls       []string
	clearKept   int
	installed   bool
	uninstalled bool
	closed      bool
}

func (e *fakeEngine) Install(host EngineHost) error {
	e.calls = append(e.calls, "Install")
	if e.installErr != nil {
		return e.installErr
	}
	e.host = host
	e.installed = true
	return nil
}

func (e *fakeEngine) Uninstall() {
	e.calls = append(e.calls, "Uninstall")
	e.uninstalled = true
	e.host = nil
}

func (e *fakeEngine) ClearKeptObjects() { e.clearKept++ }

func (e *fakeEngine) Close() error {
	e.calls = append(e.calls, "Close")
	e.closed = true
	return e.closeErr
}

// fakePromise is a rejected promise.
type fakePromise struct {
	result  any
	realm   *Realm
	id      uint64
	handled bool
}

func (p *fakePromise) ID() uint64      { return p.id }
func (p *fakePromise) IsHandled() bool { return p.handled }
func (p *fakePromise) Result() any     { return p.result }
func (p *fakePromise) Realm() *Realm   { return p.realm }

// recorder collects the order in which things ran.
type recorder struct {
	order []string
}

func (r *recorder) add(s string) { r.order = append(r.order, s) }

func (r *recorder) task(name string) *FuncMicroTask {
	return NewMicroTask(name, func() { r.add(name) })
}

func newTestThread(t *testing.T, opts ...ThreadOption) *Thread {
	t.Helper()
	thread, err := NewThread(opts...)
	require.NoError(t, err)
	return thread
}

func newTestContext(t *testing.T, opts ...ContextOption) (*Thread, *Context, *fakeEngine) {
	t.Helper()
	thread := newTestThread(t)
	engine := &fakeEngine{}
	cx, err := NewContext(thread, engine, opts...)
	require.NoError(t, err)
	require.NoError(t, cx.Initialize())
	return thread, cx, engine
}

// drain processes every queued task without blocking.
func drain(t *testing.T, thread *Thread) {
	t.Helper()
	for i := 0; ; i++ {
		require.Less(t, i, 10000, "thread did not go idle")
		ok, err := thread.ProcessNextEvent(false)
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

func requireInvariant(t *testing.T, fn func()) *InvariantError {
	t.Helper()
	var ie *InvariantError
	require.Panics(t, func() {
		defer func() {
			r := recover()
			if v, ok := r.(*InvariantError); ok {
				ie = v
			}
			panic(r)
		}()
		fn()
	})
	require.NotNil(t, ie, "panic value was not an *InvariantError")
	return ie
}

var errTest = errors.New("test error")
