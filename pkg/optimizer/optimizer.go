// Package optimizer runs the exhaustive parameter searches used by the
// self-calibrating corrections.
//
// A search evaluates an objective on every candidate of a Space, keeps the
// candidate with the lowest finite loss, and optionally widens the space
// once when the winner sits on the boundary of a widenable axis:
//
//	space := optimizer.NewSpace(
//		optimizer.Axis{Name: "sigma", Values: optimizer.Values([]float64{1, 2, 4})},
//	)
//	res, err := optimizer.Search(ctx, space, objective, optimizer.WithWorkers(4))
//
// Ties are resolved in favour of the candidate that comes first in search
// order, independent of the number of workers.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"bmiptools/internal/logging"
	"bmiptools/pkg/errors"
)

// Objective computes the loss of one candidate. Implementations must not
// mutate shared state; they may be called concurrently.
type Objective func(ctx context.Context, c Candidate) (float64, error)

// ProgressCallback reports progress during a search. completed counts
// evaluated candidates of the current pass out of total. message names the
// operation, and on the last call of a pass also the winner. Calls may come
// from concurrent workers.
type ProgressCallback func(completed, total int, message string)

// Result describes a finished search.
type Result struct {
	Best      Candidate `json:"best"`
	Loss      float64   `json:"loss"`
	Evaluated int       `json:"evaluated"`
	Failed    int       `json:"failed"`
	Widened   bool      `json:"widened"`

	// Losses holds the loss of every candidate of the final pass in search
	// order; failed candidates are NaN.
	Losses []float64 `json:"-"`
}

type options struct {
	operation string
	workers   int
	widen     bool
	logger    *slog.Logger
	progress  ProgressCallback
}

// Option configures Search.
type Option func(*options)

// WithOperation names the operation in errors and logs.
func WithOperation(name string) Option {
	return func(o *options) { o.operation = name }
}

// WithWorkers bounds the number of concurrent objective evaluations.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithWidening enables the single boundary widening pass.
func WithWidening(enabled bool) Option {
	return func(o *options) { o.widen = enabled }
}

// WithLogger sets the logger used for per-candidate debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(o *options) { o.progress = cb }
}

// Search evaluates objective over space and returns the winning candidate.
//
// An empty space is a ConfigurationError. When every candidate fails
// (error, NaN or infinite loss) the result is an OptimizationError wrapping
// the last failure. Context cancellation aborts the search.
func Search(ctx context.Context, space Space, objective Objective, opts ...Option) (Result, error) {
	o := options{operation: "optimizer", workers: 1, logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if space.Size() == 0 {
		return Result{}, errors.NewConfigurationError(o.operation, "optimization_setting", "empty parameter space")
	}

	res, err := runPass(ctx, space, objective, o)
	if err != nil {
		return res, err
	}
	if !o.widen {
		return res, nil
	}

	widened, ok := widenSpace(space, res.Best)
	if !ok {
		return res, nil
	}
	o.logger.Info("optimum on parameter space boundary, widening once",
		"operation", o.operation,
		"best", res.Best.Format(space.Axes),
		"candidates", widened.Size())

	second, err := runPass(ctx, widened, objective, o)
	if err != nil {
		return res, err
	}
	second.Evaluated += res.Evaluated
	second.Failed += res.Failed
	second.Widened = true
	return second, nil
}

func runPass(ctx context.Context, space Space, objective Objective, o options) (Result, error) {
	candidates := space.Candidates()
	total := len(candidates)
	losses := make([]float64, total)
	errs := make([]error, total)
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			loss, err := objective(gctx, c)
			if err == nil && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
				err = fmt.Errorf("non-finite loss %v", loss)
			}
			if err != nil {
				losses[i] = math.NaN()
				errs[i] = err
				o.logger.Debug("candidate failed", "operation", o.operation, "candidate", c.Format(space.Axes), "error", err)
			} else {
				losses[i] = loss
				o.logger.Debug("candidate evaluated", "operation", o.operation, "candidate", c.Format(space.Axes), "loss", loss)
			}
			if o.progress != nil {
				o.progress(int(completed.Add(1)), total, o.operation)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{Loss: math.Inf(1), Evaluated: total, Losses: losses}
	bestIdx := -1
	var lastErr error
	for i := range candidates {
		if errs[i] != nil {
			res.Failed++
			lastErr = errs[i]
			continue
		}
		// strict comparison keeps the first minimum
		if losses[i] < res.Loss {
			res.Loss = losses[i]
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return res, errors.NewOptimizationError(o.operation, total, lastErr)
	}
	res.Best = candidates[bestIdx]

	if o.progress != nil {
		o.progress(total, total, fmt.Sprintf("%s: best %s (loss %.6g)", o.operation, res.Best.Format(space.Axes), res.Loss))
	}
	return res, nil
}

// widenSpace extends every widenable axis whose winning value is its first
// or last value. It reports false when nothing changed.
func widenSpace(space Space, best Candidate) (Space, bool) {
	axes := make([]Axis, len(space.Axes))
	changed := false
	for i, a := range space.Axes {
		axes[i] = a
		if a.Widen == nil || len(a.Values) == 0 {
			continue
		}
		v := best[a.Name]
		atUpper := v == a.Values[len(a.Values)-1]
		atLower := v == a.Values[0]
		if !atUpper && !atLower {
			continue
		}
		values := a.Values
		if atLower {
			values = a.Widen(values, true)
		}
		if atUpper {
			values = a.Widen(values, false)
		}
		if len(values) != len(a.Values) {
			axes[i].Values = values
			changed = true
		}
	}
	return Space{Axes: axes}, changed
}
