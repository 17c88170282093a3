// Package pipeline composes plugins into an ordered, persistable sequence.
//
// A pipeline moves through BUILT -> INITIALIZED -> APPLIED. A pipeline
// restored with Load is LOADED, which behaves like INITIALIZED.
//
// An operation entry may be prefixed with "fit_" (e.g. "fit_Registrator"):
// that step only fits the plugin on the stack as it is at that position,
// and the next later step of the same operation reuses the fitted instance.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bmiptools/internal/logging"
	"bmiptools/pkg/errors"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/registry"
	"bmiptools/pkg/stack"
)

// FitPrefix marks an operation entry that only fits its plugin.
const FitPrefix = "fit_"

// State is the lifecycle state of a pipeline.
type State int

const (
	Built State = iota
	Initialized
	Applied
	Loaded
)

func (s State) String() string {
	switch s {
	case Built:
		return "BUILT"
	case Initialized:
		return "INITIALIZED"
	case Applied:
		return "APPLIED"
	case Loaded:
		return "LOADED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StepInfo describes one step.
type StepInfo struct {
	Key       string
	Operation string
	Fit       bool
}

type step struct {
	StepInfo
	plugin plugin.Plugin
}

// Pipeline is an ordered sequence of plugin steps.
type Pipeline struct {
	name       string
	folder     string
	operations []string
	runID      uuid.UUID

	registry *registry.Registry
	steps    []*step
	state    State

	logger   *slog.Logger
	workers  int
	progress optimizer.ProgressCallback
}

// Option configures runtime behaviour of a pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used by the pipeline and its plugins.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgress forwards the progress of every parameter search run by an
// optimizable step.
func WithProgress(cb optimizer.ProgressCallback) Option {
	return func(p *Pipeline) { p.progress = cb }
}

// WithWorkers bounds concurrent candidate evaluations in optimizable plugins.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New builds a pipeline from an ordered list of operation names. Every
// name is resolved immediately; an empty name is replaced by a generated
// one.
func New(reg *registry.Registry, operations []string, folder, name string, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		name:       name,
		folder:     folder,
		operations: append([]string(nil), operations...),
		runID:      uuid.New(),
		registry:   reg,
		logger:     logging.Nop(),
		workers:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name == "" {
		p.name = "pipeline_" + strings.ReplaceAll(p.runID.String(), "-", "")[:8]
	}
	if len(operations) == 0 {
		return nil, errors.NewConfigurationError(p.name, "operations", "at least one operation is required")
	}
	p.logger = p.logger.With("pipeline", p.name)
	steps, err := p.build()
	if err != nil {
		return nil, err
	}
	p.steps = steps
	return p, nil
}

// build creates fresh plugin instances with default configurations. The
// pipeline itself is left untouched.
func (p *Pipeline) build() ([]*step, error) {
	pluginOpts := []plugin.Option{
		plugin.WithLogger(p.logger),
		plugin.WithWorkers(p.workers),
		plugin.WithProgress(p.progress),
	}
	seen := make(map[string]int)
	pendingFit := make(map[string]plugin.Plugin)
	steps := make([]*step, 0, len(p.operations))

	for _, entry := range p.operations {
		op, fit := strings.CutPrefix(entry, FitPrefix)

		key := entry
		if n := seen[entry]; n > 0 {
			key = fmt.Sprintf("%s_%d", entry, n)
		}
		seen[entry]++

		s := &step{StepInfo: StepInfo{Key: key, Operation: op, Fit: fit}}
		switch shared, ok := pendingFit[op]; {
		case fit:
			e, err := p.registry.Lookup(op)
			if err != nil {
				return nil, err
			}
			if !e.Fitter {
				return nil, errors.NewConfigurationError(p.name, entry, fmt.Sprintf("%s has no fitted state", op))
			}
			if ok {
				return nil, errors.NewConfigurationError(p.name, entry, fmt.Sprintf("previous %s%s has no %s step to feed", FitPrefix, op, op))
			}
			if s.plugin, err = e.New(nil, pluginOpts...); err != nil {
				return nil, err
			}
			pendingFit[op] = s.plugin
		case ok:
			s.plugin = shared
			delete(pendingFit, op)
		default:
			var err error
			if s.plugin, err = p.registry.Build(op, nil, pluginOpts...); err != nil {
				return nil, err
			}
		}
		steps = append(steps, s)
	}

	for op := range pendingFit {
		return nil, errors.NewConfigurationError(p.name, FitPrefix+op, fmt.Sprintf("no later %s step uses the fitted plugin", op))
	}
	return steps, nil
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Folder() string { return p.folder }

// Operations returns the operation entries as given to New.
func (p *Pipeline) Operations() []string { return append([]string(nil), p.operations...) }

// RunID identifies this pipeline instance; it is persisted by Save.
func (p *Pipeline) RunID() uuid.UUID { return p.runID }

func (p *Pipeline) State() State { return p.state }

// Steps returns the step keys and operations in order.
func (p *Pipeline) Steps() []StepInfo {
	out := make([]StepInfo, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.StepInfo
	}
	return out
}

// Plugin returns the plugin of the step with the given key.
func (p *Pipeline) Plugin(key string) (plugin.Plugin, bool) {
	for _, s := range p.steps {
		if s.Key == key {
			return s.plugin, true
		}
	}
	return nil, false
}

// Apply runs every step on s in order. Steps mutate s in place; a failing
// step leaves s as the previous steps produced it.
func (p *Pipeline) Apply(ctx context.Context, s *stack.Stack) error {
	if p.state != Initialized && p.state != Loaded {
		return errors.NewPipelineStateError(p.name, "apply", p.state.String())
	}

	p.logger.Info("applying pipeline", "steps", len(p.steps), "shape", s.Shape().String())
	started := time.Now()
	for i, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := p.logger.With("step", st.Key, "index", i)
		log.Info("step started")
		stepStart := time.Now()

		var err error
		if st.Fit {
			err = st.plugin.(plugin.Fitter).Fit(ctx, s)
		} else {
			err = st.plugin.Transform(ctx, s)
		}
		if err != nil {
			log.Error("step failed", "error", err)
			return fmt.Errorf("step %s: %w", st.Key, err)
		}
		log.Info("step finished", "shape", s.Shape().String(), "duration", time.Since(stepStart))
	}
	p.state = Applied
	p.logger.Info("pipeline applied", "duration", time.Since(started))
	return nil
}
