package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dop251/goja"
	gojajscontext "github.com/joeycumines/go-jscontext/goja-jscontext"
	"github.com/joeycumines/go-jscontext/jscontext"
	"github.com/joeycumines/logiface"
)

// session is a thread, context and goja runtime, driven from the calling
// goroutine. Console output and the realm's error and rejection events are
// recorded as lines, and copied to out if it is not nil.
type session struct {
	thread    *jscontext.Thread
	adapter   *gojajscontext.Adapter
	gc        *jscontext.RuntimeGC
	collector *jscontext.SimpleCollector
	out       io.Writer
	lines     []string
	threw     int
}

func newSession(cfg *config, realm string, logger *logiface.Logger[logiface.Event], out io.Writer) (*session, error) {
	thread, err := jscontext.NewThread(jscontext.WithThreadName("jsctx"), jscontext.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if realm == "" {
		realm = cfg.Realm
	}

	s := &session{
		thread:    thread,
		gc:        jscontext.NewRuntimeGC(cfg.GCThreshold, cfg.rateLimits()),
		collector: jscontext.NewSimpleCollector(),
		out:       out,
	}

	cxOpts := []jscontext.ContextOption{
		jscontext.WithGCRuntime(s.gc),
		jscontext.WithCycleCollector(s.collector),
	}
	if cfg.PromiseJobRecycling != nil {
		cxOpts = append(cxOpts, jscontext.WithPromiseJobRecycling(*cfg.PromiseJobRecycling))
	}
	s.adapter, err = gojajscontext.NewContext(thread, goja.New(),
		gojajscontext.WithLogger(logger),
		gojajscontext.WithPrinter(s),
		gojajscontext.WithRealmName(realm),
		gojajscontext.WithContextOptions(cxOpts...),
	)
	if err != nil {
		return nil, err
	}

	r := s.adapter.Realm()
	r.AddEventListener("error", func(e *jscontext.Event) {
		if ee, ok := jscontext.AsErrorEvent(e); ok {
			s.emit("[error] " + describeError(ee.Err))
		}
	})
	for _, eventType := range []string{"unhandledrejection", "rejectionhandled"} {
		r.AddEventListener(eventType, func(e *jscontext.Event) {
			if pe, ok := jscontext.AsPromiseRejectionEvent(e); ok {
				s.emit(fmt.Sprintf("[%s] %v", eventType, pe.Reason))
			}
		})
	}

	return s, nil
}

func (s *session) Log(msg string)   { s.emit("log: " + msg) }
func (s *session) Warn(msg string)  { s.emit("warn: " + msg) }
func (s *session) Error(msg string) { s.emit("error: " + msg) }

func (s *session) emit(line string) {
	s.lines = append(s.lines, line)
	if s.out != nil {
		_, _ = fmt.Fprintln(s.out, line)
	}
}

// takeLines returns and resets the recorded lines.
func (s *session) takeLines() []string {
	lines := s.lines
	s.lines = nil
	return lines
}

// evaluate runs src as a task, then processes events until the thread is
// idle. A script that throws is counted, its exception having been
// reported on the realm.
func (s *session) evaluate(name, src string) error {
	var runErr error
	if err := s.thread.DispatchFunc(name, func() {
		_, runErr = s.adapter.RunScript(name, src)
	}); err != nil {
		return err
	}
	if err := s.drain(); err != nil {
		return err
	}
	if runErr != nil {
		s.threw++
	}
	return nil
}

func (s *session) drain() error {
	for {
		ok, err := s.thread.ProcessNextEvent(false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// close drains the thread, destroys the context, then shuts the thread
// down.
func (s *session) close() error {
	if err := s.drain(); err != nil {
		return err
	}
	if err := s.adapter.Context().Destroy(); err != nil {
		return err
	}
	return s.thread.Shutdown(context.Background())
}

// describeError renders a reported exception as the thrown value.
func describeError(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value().String()
	}
	return err.Error()
}
