package transform

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const (
	DechargerGlobal = "global_GF2RBGF"
	DechargerLocal  = "local_GF2RBGF"
)

// DechargerParams describe the background estimate. threshold only applies
// to the local decharger and is measured in standard deviations of the
// background deviation.
type DechargerParams struct {
	Sigma     float64 `json:"sigma"`
	Threshold float64 `json:"threshold"`
	Strength  float64 `json:"strength"`
}

func (p DechargerParams) Validate() error {
	if p.Sigma <= 0 {
		return fmt.Errorf("sigma must be > 0, got %v", p.Sigma)
	}
	if p.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %v", p.Threshold)
	}
	if p.Strength < 0 || p.Strength > 1 {
		return fmt.Errorf("strength must be in [0, 1], got %v", p.Strength)
	}
	return nil
}

type DechargerSetting struct {
	plugin.SampleSetting
	DechargerTypeList []string          `json:"decharger_type_list"`
	SigmaRange        optimizer.Triplet `json:"sigma_range"`
	ThresholdRange    optimizer.Triplet `json:"threshold_range"`
}

func (s DechargerSetting) Validate() error {
	if err := s.SampleSetting.Validate(); err != nil {
		return err
	}
	if len(s.DechargerTypeList) == 0 {
		return fmt.Errorf("decharger_type_list must not be empty")
	}
	for _, t := range s.DechargerTypeList {
		if !oneOf(t, DechargerGlobal, DechargerLocal) {
			return fmt.Errorf("unknown decharger type %q", t)
		}
	}
	if err := s.SigmaRange.Validate(); err != nil {
		return fmt.Errorf("sigma_range: %w", err)
	}
	if s.SigmaRange[0] <= 0 {
		return fmt.Errorf("sigma_range must start above 0")
	}
	if err := s.ThresholdRange.Validate(); err != nil {
		return fmt.Errorf("threshold_range: %w", err)
	}
	return nil
}

type DechargerConfig struct {
	AutoOptimize             bool             `json:"auto_optimize"`
	DechargerType            string           `json:"decharger_type"`
	TransformationParameters DechargerParams  `json:"transformation_parameters"`
	OptimizationSetting      DechargerSetting `json:"optimization_setting"`
}

func (c DechargerConfig) Validate() error {
	if !oneOf(c.DechargerType, DechargerGlobal, DechargerLocal) {
		return fmt.Errorf("decharger_type must be %q or %q, got %q", DechargerGlobal, DechargerLocal, c.DechargerType)
	}
	if err := c.TransformationParameters.Validate(); err != nil {
		return err
	}
	return c.OptimizationSetting.Validate()
}

func DefaultDechargerConfig() DechargerConfig {
	return DechargerConfig{
		AutoOptimize:             true,
		DechargerType:            DechargerLocal,
		TransformationParameters: DechargerParams{Sigma: 20, Threshold: 1, Strength: 1},
		OptimizationSetting: DechargerSetting{
			SampleSetting:     plugin.DefaultSampleSetting(),
			DechargerTypeList: []string{DechargerGlobal, DechargerLocal},
			SigmaRange:        optimizer.Triplet{5, 50, 15},
			ThresholdRange:    optimizer.Triplet{0.5, 2, 0.5},
		},
	}
}

// Decharger removes charging artifacts: bright or dark halos estimated as
// the deviation of a Gaussian background from its mean. The global variant
// subtracts the whole deviation, the local one only where it exceeds the
// threshold.
type Decharger struct {
	plugin.Base[DechargerConfig]
	searchRecord
}

func NewDecharger(d plugin.Dictionary, opts ...plugin.Option) (*Decharger, error) {
	p := &Decharger{}
	if err := p.Init(NameDecharger, DefaultDechargerConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Decharger) Transform(ctx context.Context, s *stack.Stack) error {
	if p.Config.AutoOptimize {
		if err := p.optimize(ctx, s); err != nil {
			return err
		}
	}

	kind, params := p.Config.DechargerType, p.Config.TransformationParameters
	err := plugin.MapSlices(s, func(_ int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		return decharge(img, kind, params), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameDecharger, err)
	}
	p.Logger().Debug("stack decharged", "type", kind, "sigma", params.Sigma, "threshold", params.Threshold)
	return nil
}

func (p *Decharger) optimize(ctx context.Context, s *stack.Stack) error {
	setting := p.Config.OptimizationSetting
	sample, err := plugin.OptimizationSample(NameDecharger, s, setting.SampleSetting)
	if err != nil {
		return err
	}
	strength := p.Config.TransformationParameters.Strength

	space := optimizer.NewSpace(
		optimizer.Axis{Name: "decharger_type", Values: optimizer.Values(setting.DechargerTypeList)},
		optimizer.Axis{Name: "sigma", Values: optimizer.Values(setting.SigmaRange.Values())},
		optimizer.Axis{Name: "threshold", Values: optimizer.Values(setting.ThresholdRange.Values())},
	)
	objective := plugin.SampleObjective(sample, func(img filters.Image, c optimizer.Candidate) (float64, error) {
		params := DechargerParams{Sigma: c.Float("sigma"), Threshold: c.Float("threshold"), Strength: strength}
		return backgroundLoss(img, decharge(img, c.String("decharger_type"), params), params.Sigma), nil
	})

	res, err := p.Optimize(ctx, space, objective, false)
	if err != nil {
		return err
	}
	p.last = res
	p.Config.DechargerType = res.Best.String("decharger_type")
	p.Config.TransformationParameters.Sigma = res.Best.Float("sigma")
	p.Config.TransformationParameters.Threshold = res.Best.Float("threshold")
	return nil
}

// decharge subtracts the background deviation from its mean, everywhere
// (global) or softly gated by the threshold (local).
func decharge(img filters.Image, kind string, params DechargerParams) filters.Image {
	bg := filters.GaussianBlur(img, params.Sigma)
	mean := bg.Mean()
	dev := make([]float64, len(bg.Pix))
	for i, v := range bg.Pix {
		dev[i] = v - mean
	}

	out := img.Clone()
	if kind == DechargerGlobal {
		for i := range out.Pix {
			out.Pix[i] -= params.Strength * dev[i]
		}
		return out
	}

	std := stat.PopStdDev(dev, nil)
	if std == 0 {
		return out
	}
	for i := range out.Pix {
		gate := math.Min(math.Max(math.Abs(dev[i])/std-params.Threshold, 0), 1)
		out.Pix[i] -= params.Strength * gate * dev[i]
	}
	return out
}
