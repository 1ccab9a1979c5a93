package gojajscontext

import (
	"bytes"
	"testing"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-jscontext/jscontext"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// recordingPrinter captures console output.
type recordingPrinter struct {
	lines []string
}

func (p *recordingPrinter) Log(s string)   { p.lines = append(p.lines, "log: "+s) }
func (p *recordingPrinter) Warn(s string)  { p.lines = append(p.lines, "warn: "+s) }
func (p *recordingPrinter) Error(s string) { p.lines = append(p.lines, "error: "+s) }

type testEnv struct {
	thread  *jscontext.Thread
	adapter *Adapter
	rt      *goja.Runtime
	printer *recordingPrinter
	logs    *bytes.Buffer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	thread, err := jscontext.NewThread()
	require.NoError(t, err)

	logs := new(bytes.Buffer)
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(logs), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	printer := &recordingPrinter{}
	rt := goja.New()

	a, err := NewContext(thread, rt, append([]Option{WithLogger(logger), WithPrinter(printer)}, opts...)...)
	require.NoError(t, err)

	e := &testEnv{thread: thread, adapter: a, rt: rt, printer: printer, logs: logs}
	t.Cleanup(func() {
		cx := a.Context()
		if cx == nil || cx.State() == jscontext.ContextDestroyed {
			return
		}
		e.drain(t)
		require.NoError(t, cx.Destroy())
	})
	return e
}

func (e *testEnv) cx() *jscontext.Context { return e.adapter.Context() }

// drain processes every queued task without blocking.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	for i := 0; ; i++ {
		require.Less(t, i, 10000, "thread did not go idle")
		ok, err := e.thread.ProcessNextEvent(false)
		require.NoError(t, err)
		if !ok {
			return
		}
	}
}

// exec runs code in a task, then drains the thread, returning the
// completion value and exception.
func (e *testEnv) exec(t *testing.T, code string) (goja.Value, error) {
	t.Helper()
	var (
		v   goja.Value
		err error
	)
	require.NoError(t, e.thread.DispatchFunc("test", func() {
		v, err = e.adapter.RunScript("test.js", code)
	}))
	e.drain(t)
	return v, err
}

func (e *testEnv) run(t *testing.T, code string) goja.Value {
	t.Helper()
	v, err := e.exec(t, code)
	require.NoError(t, err)
	return v
}

func (e *testEnv) mustFail(t *testing.T, code string) error {
	t.Helper()
	_, err := e.exec(t, code)
	require.Error(t, err)
	return err
}

// export returns the exported value of a global.
func (e *testEnv) export(name string) any {
	return e.rt.Get(name).Export()
}
