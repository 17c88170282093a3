package transform

import (
	"context"
	"fmt"
	"math"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/metrics"
	"bmiptools/pkg/optimizer"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

type DestriperParams struct {
	Wavelet            string  `json:"wavelet"`
	Sigma              float64 `json:"sigma"`
	DecompositionLevel int     `json:"decomposition_level"`
}

func (p DestriperParams) Validate() error {
	if _, err := filters.LookupWavelet(p.Wavelet); err != nil {
		return err
	}
	if p.Sigma <= 0 {
		return fmt.Errorf("sigma must be > 0, got %v", p.Sigma)
	}
	if p.DecompositionLevel < 1 {
		return fmt.Errorf("decomposition_level must be >= 1, got %d", p.DecompositionLevel)
	}
	return nil
}

type SigmaRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

func (r SigmaRange) Triplet() optimizer.Triplet {
	return optimizer.Triplet{r.Min, r.Max, r.Step}
}

type WaveletChoice struct {
	UseWavelet []string `json:"use_wavelet"`
}

// LevelRange is an inclusive range of decomposition levels.
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`

	// IncreaseDuringInference widens the level axis once when the best
	// level is the deepest one tried.
	IncreaseDuringInference bool `json:"increase_decomposition_level_during_inference"`
}

type DestriperSetting struct {
	plugin.SampleSetting
	Sigma              SigmaRange    `json:"sigma"`
	Wavelet            WaveletChoice `json:"wavelet"`
	DecompositionLevel LevelRange    `json:"decomposition_level"`
}

func (s DestriperSetting) Validate() error {
	if err := s.SampleSetting.Validate(); err != nil {
		return err
	}
	if err := s.Sigma.Triplet().Validate(); err != nil {
		return fmt.Errorf("sigma: %w", err)
	}
	if s.Sigma.Min <= 0 {
		return fmt.Errorf("sigma.min must be > 0, got %v", s.Sigma.Min)
	}
	if len(s.Wavelet.UseWavelet) == 0 {
		return fmt.Errorf("wavelet.use_wavelet must list at least one wavelet")
	}
	for _, name := range s.Wavelet.UseWavelet {
		if _, err := filters.LookupWavelet(name); err != nil {
			return err
		}
	}
	if s.DecompositionLevel.Min < 1 || s.DecompositionLevel.Max < s.DecompositionLevel.Min {
		return fmt.Errorf("decomposition_level range [%d, %d] is invalid", s.DecompositionLevel.Min, s.DecompositionLevel.Max)
	}
	return nil
}

type DestriperConfig struct {
	AutoOptimize             bool             `json:"auto_optimize"`
	TransformationParameters DestriperParams  `json:"transformation_parameters"`
	OptimizationSetting      DestriperSetting `json:"optimization_setting"`
}

func (c DestriperConfig) Validate() error {
	if err := c.TransformationParameters.Validate(); err != nil {
		return err
	}
	return c.OptimizationSetting.Validate()
}

func DefaultDestriperConfig() DestriperConfig {
	return DestriperConfig{
		AutoOptimize:             true,
		TransformationParameters: DestriperParams{Wavelet: "db3", Sigma: 4, DecompositionLevel: 4},
		OptimizationSetting: DestriperSetting{
			SampleSetting:      plugin.DefaultSampleSetting(),
			Sigma:              SigmaRange{Min: 1, Max: 9, Step: 2},
			Wavelet:            WaveletChoice{UseWavelet: []string{"db2", "db3"}},
			DecompositionLevel: LevelRange{Min: 2, Max: 4},
		},
	}
}

// Destriper removes vertical stripes (curtaining) by damping the low
// vertical frequencies of the vertical detail coefficients at every
// wavelet level.
type Destriper struct {
	plugin.Base[DestriperConfig]
	searchRecord
}

func NewDestriper(d plugin.Dictionary, opts ...plugin.Option) (*Destriper, error) {
	p := &Destriper{}
	if err := p.Init(NameDestriper, DefaultDestriperConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Destriper) Transform(ctx context.Context, s *stack.Stack) error {
	if p.Config.AutoOptimize {
		if err := p.optimize(ctx, s); err != nil {
			return err
		}
	}

	params := p.Config.TransformationParameters
	w, err := filters.LookupWavelet(params.Wavelet)
	if err != nil {
		return errors.WrapTransformError(NameDestriper, err)
	}
	err = plugin.MapSlices(s, func(_ int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		return destripe(img, w, params.Sigma, params.DecompositionLevel)
	})
	if err != nil {
		return errors.WrapTransformError(NameDestriper, err)
	}
	p.Logger().Debug("stack destriped", "wavelet", params.Wavelet, "sigma", params.Sigma, "level", params.DecompositionLevel)
	return nil
}

func (p *Destriper) optimize(ctx context.Context, s *stack.Stack) error {
	setting := p.Config.OptimizationSetting
	sample, err := plugin.OptimizationSample(NameDestriper, s, setting.SampleSetting)
	if err != nil {
		return err
	}

	deepest := 0
	for _, name := range setting.Wavelet.UseWavelet {
		w, _ := filters.LookupWavelet(name)
		deepest = max(deepest, w.MaxLevel(sample[0].Width, sample[0].Height))
	}
	levels := optimizer.IntRange(setting.DecompositionLevel.Min, setting.DecompositionLevel.Max)

	space := optimizer.NewSpace(
		optimizer.Axis{Name: "wavelet", Values: optimizer.Values(setting.Wavelet.UseWavelet)},
		optimizer.Axis{Name: "sigma", Values: optimizer.Values(setting.Sigma.Triplet().Values())},
		optimizer.Axis{Name: "decomposition_level", Values: optimizer.Values(levels), Widen: deeperLevel(deepest)},
	)
	objective := plugin.SampleObjective(sample, func(img filters.Image, c optimizer.Candidate) (float64, error) {
		w, err := filters.LookupWavelet(c.String("wavelet"))
		if err != nil {
			return 0, err
		}
		out, err := destripe(img, w, c.Float("sigma"), c.Int("decomposition_level"))
		if err != nil {
			return 0, err
		}
		return stripeLoss(img, out), nil
	})

	res, err := p.Optimize(ctx, space, objective, setting.DecompositionLevel.IncreaseDuringInference)
	if err != nil {
		return err
	}
	p.last = res
	p.Config.TransformationParameters = DestriperParams{
		Wavelet:            res.Best.String("wavelet"),
		Sigma:              res.Best.Float("sigma"),
		DecompositionLevel: res.Best.Int("decomposition_level"),
	}
	return nil
}

// deeperLevel widens a level axis by one level at its upper end, up to
// limit.
func deeperLevel(limit int) optimizer.WidenFunc {
	return func(values []any, atLower bool) []any {
		if atLower || len(values) == 0 {
			return values
		}
		last, _ := values[len(values)-1].(int)
		if last+1 > limit {
			return values
		}
		return append(append([]any(nil), values...), last+1)
	}
}

// destripe damps the vertical details of every level along y with the
// transfer 1 - exp(-k^2 / (2 sigma^2)).
func destripe(img filters.Image, w filters.Wavelet, sigma float64, level int) (filters.Image, error) {
	dec, err := filters.Wavedec2(img, w, level)
	if err != nil {
		return img, err
	}
	transfer := func(k int) float64 {
		return 1 - math.Exp(-float64(k*k)/(2*sigma*sigma))
	}
	for l := range dec.Levels {
		dec.Levels[l].Vertical = filters.FilterColumns(dec.Levels[l].Vertical, transfer)
	}
	return filters.Waverec2(dec), nil
}

// stripeLoss is 2R + Q, where R penalizes removed content that varies
// along y and Q penalizes horizontal structure left in the output.
func stripeLoss(input, output filters.Image) float64 {
	stripes := filters.Subtract(input, output)
	gxStripes := filters.Gradient(stripes, filters.AxisX)
	gxInput := filters.Gradient(input, filters.AxisX)
	return optimizer.Weighted(
		optimizer.Term{Name: "regularity", Weight: 2, Value: filters.MeanAbsGradient(stripes, filters.AxisY)},
		optimizer.Term{Name: "fidelity", Weight: 1, Value: metrics.MeanAbs(filters.Subtract(gxStripes, gxInput).Pix)},
	)
}
