package transform

import (
	"context"
	"fmt"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/metrics"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

type FlatterParams struct {
	Sigma float64 `json:"sigma"`
}

type FlatterSetting struct {
	plugin.SampleSetting
	SigmaMin  float64 `json:"sigma_min"`
	SigmaMax  float64 `json:"sigma_max"`
	SigmaStep float64 `json:"sigma_step"`
}

func (s FlatterSetting) sigmas() optimizer.Triplet {
	return optimizer.Triplet{s.SigmaMin, s.SigmaMax, s.SigmaStep}
}

type FlatterConfig struct {
	AutoOptimize             bool           `json:"auto_optimize"`
	TransformationParameters FlatterParams  `json:"transformation_parameters"`
	OptimizationSetting      FlatterSetting `json:"optimization_setting"`
}

func (c FlatterConfig) Validate() error {
	if c.TransformationParameters.Sigma <= 0 {
		return fmt.Errorf("sigma must be > 0, got %v", c.TransformationParameters.Sigma)
	}
	if err := c.OptimizationSetting.SampleSetting.Validate(); err != nil {
		return err
	}
	if c.OptimizationSetting.SigmaMin <= 0 {
		return fmt.Errorf("sigma_min must be > 0, got %v", c.OptimizationSetting.SigmaMin)
	}
	return c.OptimizationSetting.sigmas().Validate()
}

func DefaultFlatterConfig() FlatterConfig {
	return FlatterConfig{
		AutoOptimize:             true,
		TransformationParameters: FlatterParams{Sigma: 50},
		OptimizationSetting: FlatterSetting{
			SampleSetting: plugin.DefaultSampleSetting(),
			SigmaMin:      20,
			SigmaMax:      120,
			SigmaStep:     20,
		},
	}
}

// Flatter compensates uneven illumination by dividing every slice by its
// Gaussian background and restoring the mean level.
type Flatter struct {
	plugin.Base[FlatterConfig]
	searchRecord
}

func NewFlatter(d plugin.Dictionary, opts ...plugin.Option) (*Flatter, error) {
	p := &Flatter{}
	if err := p.Init(NameFlatter, DefaultFlatterConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Flatter) Transform(ctx context.Context, s *stack.Stack) error {
	if p.Config.AutoOptimize {
		if err := p.optimize(ctx, s); err != nil {
			return err
		}
	}

	sigma := p.Config.TransformationParameters.Sigma
	err := plugin.MapSlices(s, func(_ int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		return flatten(img, sigma), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameFlatter, err)
	}
	p.Logger().Debug("stack flattened", "sigma", sigma)
	return nil
}

func (p *Flatter) optimize(ctx context.Context, s *stack.Stack) error {
	setting := p.Config.OptimizationSetting
	sample, err := plugin.OptimizationSample(NameFlatter, s, setting.SampleSetting)
	if err != nil {
		return err
	}
	space := optimizer.NewSpace(optimizer.Axis{Name: "sigma", Values: optimizer.Values(setting.sigmas().Values())})
	objective := plugin.SampleObjective(sample, func(img filters.Image, c optimizer.Candidate) (float64, error) {
		sigma := c.Float("sigma")
		return backgroundLoss(img, flatten(img, sigma), sigma), nil
	})

	res, err := p.Optimize(ctx, space, objective, false)
	if err != nil {
		return err
	}
	p.last = res
	p.Config.TransformationParameters.Sigma = res.Best.Float("sigma")
	return nil
}

// flatten divides by the background after lifting the slice to strictly
// positive values, then undoes the lift.
func flatten(img filters.Image, sigma float64) filters.Image {
	min, _ := metrics.MinMax(img.Pix)
	lifted := img.Clone()
	for i := range lifted.Pix {
		lifted.Pix[i] += 1 - min
	}
	bg := filters.GaussianBlur(lifted, sigma)
	level := bg.Mean()
	out := filters.NewImage(img.Width, img.Height)
	for i, v := range lifted.Pix {
		out.Pix[i] = v/bg.Pix[i]*level + min - 1
	}
	return out
}
