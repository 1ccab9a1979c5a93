package jscontext

import (
	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
)

// contextOptions holds configuration options for Context creation.
type contextOptions struct {
	logger             *logiface.Logger[logiface.Event]
	collector          CycleCollector
	gc                 GCRuntime
	id                 uuid.UUID
	scavengeBatch      int
	recyclePromiseJobs bool
}

// threadOptions holds configuration options for Thread creation.
type threadOptions struct {
	logger *logiface.Logger[logiface.Event]
	name   string
}

// --- Context Options ---

// ContextOption configures a Context instance.
type ContextOption interface {
	applyContext(*contextOptions) error
}

// contextOptionImpl implements ContextOption.
type contextOptionImpl struct {
	applyContextFunc func(*contextOptions) error
}

func (c *contextOptionImpl) applyContext(opts *contextOptions) error {
	return c.applyContextFunc(opts)
}

// WithCycleCollector sets the collector notified of the context's
// lifetime and asked to run deferred deletions after each task.
func WithCycleCollector(collector CycleCollector) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.collector = collector
		return nil
	}}
}

// WithGCRuntime sets the GC hooks polled after each task.
func WithGCRuntime(gc GCRuntime) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.gc = gc
		return nil
	}}
}

// WithPromiseJobRecycling sets whether a finished promise job runnable is
// kept for reuse by the next EnqueuePromiseJob. Enabled by default.
func WithPromiseJobRecycling(enabled bool) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.recyclePromiseJobs = enabled
		return nil
	}}
}

// WithContextID sets the id attached to the context's log events. A
// random id is used by default.
func WithContextID(id uuid.UUID) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.id = id
		return nil
	}}
}

// WithRealmScavengeBatch sets how many realm registry slots are checked
// after each task. Zero disables scavenging.
func WithRealmScavengeBatch(n int) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.scavengeBatch = max(n, 0)
		return nil
	}}
}

// --- Thread Options ---

// ThreadOption configures a Thread instance.
type ThreadOption interface {
	applyThread(*threadOptions) error
}

// threadOptionImpl implements ThreadOption.
type threadOptionImpl struct {
	applyThreadFunc func(*threadOptions) error
}

func (t *threadOptionImpl) applyThread(opts *threadOptions) error {
	return t.applyThreadFunc(opts)
}

// WithThreadName sets the name attached to the thread's log events.
func WithThreadName(name string) ThreadOption {
	return &threadOptionImpl{func(opts *threadOptions) error {
		opts.name = name
		return nil
	}}
}

// --- Shared Options ---

// Option configures both a Context and a Thread.
type Option interface {
	ContextOption
	ThreadOption
}

type optionImpl struct {
	applyContextFunc func(*contextOptions) error
	applyThreadFunc  func(*threadOptions) error
}

func (o *optionImpl) applyContext(opts *contextOptions) error {
	return o.applyContextFunc(opts)
}

func (o *optionImpl) applyThread(opts *threadOptions) error {
	return o.applyThreadFunc(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{
		applyContextFunc: func(opts *contextOptions) error {
			opts.logger = logger
			return nil
		},
		applyThreadFunc: func(opts *threadOptions) error {
			opts.logger = logger
			return nil
		},
	}
}

// resolveContextOptions applies ContextOption instances to contextOptions.
func resolveContextOptions(opts []ContextOption) (*contextOptions, error) {
	cfg := &contextOptions{
		recyclePromiseJobs: true,
		scavengeBatch:      16,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.collector == nil {
		cfg.collector = noopCollector{}
	}
	if cfg.gc == nil {
		cfg.gc = noopGCRuntime{}
	}
	if cfg.id == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, WrapError("jscontext: context id", err)
		}
		cfg.id = id
	}
	return cfg, nil
}

// resolveThreadOptions applies ThreadOption instances to threadOptions.
func resolveThreadOptions(opts []ThreadOption) (*threadOptions, error) {
	cfg := &threadOptions{name: "main"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyThread(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
