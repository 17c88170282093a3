package plugin

import (
	"context"
	"fmt"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/stack"
)

// BoundingBox restricts loss evaluation to a sub-region of each sampled
// slice. It never limits where the final transform is applied.
type BoundingBox struct {
	UseBoundingBox bool       `json:"use_bounding_box"`
	YLimits        stack.Span `json:"y_limits_bbox"`
	XLimits        stack.Span `json:"x_limits_bbox"`
}

// DefaultBoundingBox selects the bottom-right 500x500 corner.
func DefaultBoundingBox() BoundingBox {
	return BoundingBox{
		UseBoundingBox: true,
		YLimits:        stack.From(-500),
		XLimits:        stack.From(-500),
	}
}

// SampleSetting is embedded in the optimization section of every
// optimizable plugin.
type SampleSetting struct {
	OptBoundingBox BoundingBox `json:"opt_bounding_box"`

	// FitStep samples slices 0, FitStep, 2*FitStep, ...
	FitStep int `json:"fit_step"`
}

// DefaultSampleSetting returns the default bounding box with fit_step 10.
func DefaultSampleSetting() SampleSetting {
	return SampleSetting{OptBoundingBox: DefaultBoundingBox(), FitStep: 10}
}

// Validate checks the sampling stride.
func (s SampleSetting) Validate() error {
	if s.FitStep < 1 {
		return fmt.Errorf("fit_step must be >= 1, got %d", s.FitStep)
	}
	return nil
}

// OptimizationSample copies the slices used for loss evaluation, restricted
// to the bounding box when enabled. An empty selection is a
// ConfigurationError.
func OptimizationSample(operation string, s *stack.Stack, setting SampleSetting) ([]filters.Image, error) {
	step := setting.FitStep
	if step < 1 {
		return nil, errors.NewConfigurationError(operation, "fit_step", "must be >= 1")
	}

	yspan, xspan := stack.Full(), stack.Full()
	if setting.OptBoundingBox.UseBoundingBox {
		yspan, xspan = setting.OptBoundingBox.YLimits, setting.OptBoundingBox.XLimits
	}

	shape := s.Shape()
	y0, y1 := yspan.Resolve(shape.Height)
	x0, x1 := xspan.Resolve(shape.Width)
	if y1 <= y0 || x1 <= x0 {
		return nil, errors.NewConfigurationError(operation, "opt_bounding_box",
			fmt.Sprintf("bounding box y%s x%s is empty for slices of %dx%d", yspan, xspan, shape.Height, shape.Width))
	}

	var sample []filters.Image
	for z := 0; z < shape.Slices; z += step {
		plane := filters.Wrap(s.Slice(z), shape.Width, shape.Height)
		sample = append(sample, plane.Sub(x0, y0, x1-x0, y1-y0))
	}
	return sample, nil
}

// SliceLoss computes the loss of one sampled slice for a candidate.
type SliceLoss func(img filters.Image, c optimizer.Candidate) (float64, error)

// SampleObjective averages a per-slice loss over the sample.
func SampleObjective(sample []filters.Image, loss SliceLoss) optimizer.Objective {
	return func(ctx context.Context, c optimizer.Candidate) (float64, error) {
		losses := make([]float64, 0, len(sample))
		for _, img := range sample {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			l, err := loss(img, c)
			if err != nil {
				return 0, err
			}
			losses = append(losses, l)
		}
		return optimizer.MeanLoss(losses), nil
	}
}

// Optimize runs a search on behalf of the plugin with its logger and worker
// settings, and logs the outcome.
func (b *Base[C]) Optimize(ctx context.Context, space optimizer.Space, objective optimizer.Objective, widen bool) (*optimizer.Result, error) {
	log := b.Logger()
	log.Info("optimizing parameters", "candidates", space.Size(), "workers", b.Workers(), "widen", widen)

	res, err := optimizer.Search(ctx, space, objective,
		optimizer.WithOperation(b.name),
		optimizer.WithWorkers(b.Workers()),
		optimizer.WithWidening(widen),
		optimizer.WithLogger(log),
		optimizer.WithProgress(b.runtime.progress),
	)
	if err != nil {
		return nil, err
	}
	log.Info("optimal parameters found",
		"best", res.Best.Format(space.Axes),
		"loss", res.Loss,
		"evaluated", res.Evaluated,
		"failed", res.Failed,
		"widened", res.Widened)
	return &res, nil
}

// MapSlices replaces every slice of s with fn applied to it.
func MapSlices(s *stack.Stack, fn func(z int, img filters.Image) (filters.Image, error)) error {
	shape := s.Shape()
	for z := 0; z < shape.Slices; z++ {
		out, err := fn(z, filters.Wrap(s.Slice(z), shape.Width, shape.Height))
		if err != nil {
			return err
		}
		if err := s.SetSlice(z, out.Pix); err != nil {
			return err
		}
	}
	return nil
}
