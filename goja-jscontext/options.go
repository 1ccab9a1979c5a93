package gojajscontext

import (
	"errors"

	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-jscontext/jscontext"
	"github.com/joeycumines/logiface"
)

// adapterOptions holds configuration for an [Adapter] instance.
type adapterOptions struct {
	logger         *logiface.Logger[logiface.Event]
	printer        console.Printer
	registry       *require.Registry
	realmName      string
	moduleName     string
	contextOptions []jscontext.ContextOption
}

// Option configures an [Adapter] instance. Options are applied during
// adapter construction.
type Option interface {
	applyOption(*adapterOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*adapterOptions) error
}

func (o *optionFunc) applyOption(opts *adapterOptions) error {
	return o.fn(opts)
}

// WithLogger sets the logger used by the adapter, and by the default
// console printer. [NewContext] passes it on to the context.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPrinter sets the printer behind the console global. If not set,
// console output is logged.
func WithPrinter(printer console.Printer) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		opts.printer = printer
		return nil
	}}
}

// WithRegistry configures the [require.Registry] the console and
// jscontext modules are registered with. If not set, a new registry is
// created and enabled on the runtime.
func WithRegistry(registry *require.Registry) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		opts.registry = registry
		return nil
	}}
}

// WithRealmName sets the name of the realm created for the runtime's
// global object. Defaults to "main".
func WithRealmName(name string) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		if name == "" {
			return errors.New("realm name cannot be empty")
		}
		opts.realmName = name
		return nil
	}}
}

// WithModuleName sets the name the native module is registered under.
// Defaults to [ModuleName].
func WithModuleName(name string) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		if name == "" {
			return errors.New("module name cannot be empty")
		}
		opts.moduleName = name
		return nil
	}}
}

// WithContextOptions adds options for the context created by
// [NewContext]. They are ignored by [New].
func WithContextOptions(options ...jscontext.ContextOption) Option {
	return &optionFunc{fn: func(opts *adapterOptions) error {
		opts.contextOptions = append(opts.contextOptions, options...)
		return nil
	}}
}

// resolveOptions applies the given options to a default [adapterOptions].
func resolveOptions(opts []Option) (*adapterOptions, error) {
	cfg := &adapterOptions{
		realmName:  "main",
		moduleName: ModuleName,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
