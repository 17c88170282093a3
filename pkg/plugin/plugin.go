// Package plugin defines the contract every stack correction implements and
// the shared machinery behind it: typed configuration binding, dotted-path
// setters, bounding boxes and optimization sampling.
//
// A plugin is constructed from a possibly partial Dictionary that is merged
// over its default template. Its live configuration is an exported Config
// struct; Configuration() always reflects the current values.
package plugin

import (
	"context"
	"log/slog"

	"bmiptools/internal/logging"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/stack"
)

// Plugin is a named, configurable stack transformation.
type Plugin interface {
	// Name returns the operation name, e.g. "Destriper"
	Name() string

	// DefaultConfiguration returns the canonical template with every key set
	DefaultConfiguration() Dictionary

	// Configuration returns the current configuration
	Configuration() Dictionary

	// Configure replaces the configuration with d merged over the defaults
	Configure(d Dictionary) error

	// Set assigns one configuration value by dotted path
	Set(path string, value any) error

	// Transform mutates s in place
	Transform(ctx context.Context, s *stack.Stack) error
}

// Fitter is implemented by plugins whose transform depends on state
// learned from a stack.
type Fitter interface {
	Plugin
	Fit(ctx context.Context, s *stack.Stack) error
	Fitted() bool
}

// Stateful plugins carry state beyond their configuration that must be
// persisted with a pipeline.
type Stateful interface {
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// Optimizable plugins expose their most recent parameter search.
type Optimizable interface {
	LastOptimization() *optimizer.Result
}

// Option configures runtime behaviour that is not part of the persisted
// configuration.
type Option func(*runtime)

type runtime struct {
	logger   *slog.Logger
	workers  int
	progress optimizer.ProgressCallback
}

// WithLogger sets the plugin logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWorkers bounds concurrent candidate evaluations during optimization.
func WithWorkers(n int) Option {
	return func(r *runtime) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithProgress receives the progress of every parameter search the plugin
// runs.
func WithProgress(cb optimizer.ProgressCallback) Option {
	return func(r *runtime) { r.progress = cb }
}

func newRuntime(opts []Option) runtime {
	r := runtime{logger: logging.Nop(), workers: 1}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}
