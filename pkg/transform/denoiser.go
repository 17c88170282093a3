package transform

import (
	"context"
	"fmt"
	"math"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const (
	FilterGaussian    = "gaussian"
	FilterMedian      = "median"
	FilterTVChambolle = "tv_chambolle"
)

// DenoiserParams select one filter; only its own parameter is used.
type DenoiserParams struct {
	Filter        string  `json:"filter"`
	GaussianSigma float64 `json:"gaussian_sigma"`
	MedianSize    int     `json:"median_size"`
	TVWeight      float64 `json:"tv_weight"`
}

func (p DenoiserParams) Validate() error {
	switch p.Filter {
	case FilterGaussian:
		if p.GaussianSigma <= 0 {
			return fmt.Errorf("gaussian_sigma must be > 0, got %v", p.GaussianSigma)
		}
	case FilterMedian:
		if p.MedianSize < 1 {
			return fmt.Errorf("median_size must be >= 1, got %d", p.MedianSize)
		}
	case FilterTVChambolle:
		if p.TVWeight <= 0 {
			return fmt.Errorf("tv_weight must be > 0, got %v", p.TVWeight)
		}
	default:
		return fmt.Errorf("unknown filter %q", p.Filter)
	}
	return nil
}

type GaussianSearch struct {
	SigmaRange optimizer.Triplet `json:"sigma_range"`
}

type MedianSearch struct {
	SizeRange optimizer.Triplet `json:"size_range"`
}

type TVChambolleSearch struct {
	WeightsRange optimizer.Triplet `json:"weights_tvch_range"`
}

type DenoiserSetting struct {
	plugin.SampleSetting
	TestedFilters []string          `json:"tested_filters_list"`
	Gaussian      GaussianSearch    `json:"gaussian"`
	Median        MedianSearch      `json:"median"`
	TVChambolle   TVChambolleSearch `json:"tv_chambolle"`
}

func (s DenoiserSetting) Validate() error {
	if err := s.SampleSetting.Validate(); err != nil {
		return err
	}
	if len(s.TestedFilters) == 0 {
		return fmt.Errorf("tested_filters_list must not be empty")
	}
	for _, f := range s.TestedFilters {
		var err error
		switch f {
		case FilterGaussian:
			err = s.Gaussian.SigmaRange.Validate()
		case FilterMedian:
			err = s.Median.SizeRange.Validate()
		case FilterTVChambolle:
			err = s.TVChambolle.WeightsRange.Validate()
		default:
			err = fmt.Errorf("unknown filter")
		}
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

type DenoiserConfig struct {
	AutoOptimize             bool            `json:"auto_optimize"`
	TransformationParameters DenoiserParams  `json:"transformation_parameters"`
	OptimizationSetting      DenoiserSetting `json:"optimization_setting"`
}

func (c DenoiserConfig) Validate() error {
	if err := c.TransformationParameters.Validate(); err != nil {
		return err
	}
	return c.OptimizationSetting.Validate()
}

func DefaultDenoiserConfig() DenoiserConfig {
	return DenoiserConfig{
		AutoOptimize: true,
		TransformationParameters: DenoiserParams{
			Filter:        FilterTVChambolle,
			GaussianSigma: 1,
			MedianSize:    3,
			TVWeight:      0.1,
		},
		OptimizationSetting: DenoiserSetting{
			SampleSetting: plugin.DefaultSampleSetting(),
			TestedFilters: []string{FilterGaussian, FilterMedian, FilterTVChambolle},
			Gaussian:      GaussianSearch{SigmaRange: optimizer.Triplet{0.5, 3, 0.5}},
			Median:        MedianSearch{SizeRange: optimizer.Triplet{3, 9, 2}},
			TVChambolle:   TVChambolleSearch{WeightsRange: optimizer.Triplet{0.05, 0.5, 0.05}},
		},
	}
}

// denoiseChoice is one point of the denoiser search: a filter and the value
// of its single parameter.
type denoiseChoice struct {
	Filter string
	Value  float64
}

func (c denoiseChoice) params() DenoiserParams {
	p := DenoiserParams{Filter: c.Filter}
	switch c.Filter {
	case FilterGaussian:
		p.GaussianSigma = c.Value
	case FilterMedian:
		p.MedianSize = int(math.Round(c.Value))
	case FilterTVChambolle:
		p.TVWeight = c.Value
	}
	return p
}

// Denoiser removes noise with a Gaussian, median or total variation filter.
// The optimizer compares filters with a self-supervised masked-pixel loss.
type Denoiser struct {
	plugin.Base[DenoiserConfig]
	searchRecord
}

func NewDenoiser(d plugin.Dictionary, opts ...plugin.Option) (*Denoiser, error) {
	p := &Denoiser{}
	if err := p.Init(NameDenoiser, DefaultDenoiserConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Denoiser) Transform(ctx context.Context, s *stack.Stack) error {
	if p.Config.AutoOptimize {
		if err := p.optimize(ctx, s); err != nil {
			return err
		}
	}

	params := p.Config.TransformationParameters
	err := plugin.MapSlices(s, func(_ int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		return denoise(img, params), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameDenoiser, err)
	}
	p.Logger().Debug("stack denoised", "filter", params.Filter)
	return nil
}

func (p *Denoiser) optimize(ctx context.Context, s *stack.Stack) error {
	setting := p.Config.OptimizationSetting
	sample, err := plugin.OptimizationSample(NameDenoiser, s, setting.SampleSetting)
	if err != nil {
		return err
	}

	var choices []denoiseChoice
	for _, f := range setting.TestedFilters {
		var values []float64
		switch f {
		case FilterGaussian:
			values = setting.Gaussian.SigmaRange.Values()
		case FilterMedian:
			values = setting.Median.SizeRange.Values()
		case FilterTVChambolle:
			values = setting.TVChambolle.WeightsRange.Values()
		}
		for _, v := range values {
			choices = append(choices, denoiseChoice{Filter: f, Value: v})
		}
	}

	space := optimizer.NewSpace(optimizer.Axis{Name: "setting", Values: optimizer.Values(choices)})
	objective := plugin.SampleObjective(sample, func(img filters.Image, c optimizer.Candidate) (float64, error) {
		choice, ok := c["setting"].(denoiseChoice)
		if !ok {
			return 0, fmt.Errorf("unexpected candidate %v", c)
		}
		loss := maskedLoss(img, choice.params())
		if !finite(loss) {
			return 0, fmt.Errorf("non-finite loss for %v", choice)
		}
		return loss, nil
	})

	res, err := p.Optimize(ctx, space, objective, false)
	if err != nil {
		return err
	}
	p.last = res
	best := res.Best["setting"].(denoiseChoice).params()
	current := &p.Config.TransformationParameters
	current.Filter = best.Filter
	switch best.Filter {
	case FilterGaussian:
		current.GaussianSigma = best.GaussianSigma
	case FilterMedian:
		current.MedianSize = best.MedianSize
	case FilterTVChambolle:
		current.TVWeight = best.TVWeight
	}
	return nil
}

func denoise(img filters.Image, params DenoiserParams) filters.Image {
	switch params.Filter {
	case FilterGaussian:
		return filters.GaussianBlur(img, params.GaussianSigma)
	case FilterMedian:
		return filters.MedianFilter(img, params.MedianSize)
	default:
		return filters.TVChambolle(img, params.TVWeight)
	}
}

// maskedLoss is the self-supervised denoising loss: on each half of a
// checkerboard, masked pixels are replaced by the mean of their in-bounds
// neighbours, the plane is denoised and the output is compared with the
// original values at the masked pixels only.
func maskedLoss(img filters.Image, params DenoiserParams) float64 {
	sum := 0.0
	for parity := 0; parity < 2; parity++ {
		masked := img.Clone()
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				if (x+y)%2 == parity {
					masked.Set(x, y, neighbourMean(img, x, y))
				}
			}
		}
		out := denoise(masked, params)
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				if (x+y)%2 == parity {
					d := out.At(x, y) - img.At(x, y)
					sum += d * d
				}
			}
		}
	}
	return sum / float64(len(img.Pix))
}

func neighbourMean(img filters.Image, x, y int) float64 {
	sum, n := 0.0, 0
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= img.Width || ny >= img.Height {
			continue
		}
		sum += img.At(nx, ny)
		n++
	}
	if n == 0 {
		return img.At(x, y)
	}
	return sum / float64(n)
}
