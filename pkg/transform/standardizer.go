package transform

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"bmiptools/pkg/metrics"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const (
	StandardizeMeanStd = "mean/std"
	StandardizeZeroOne = "0/1"

	ModeFullStack    = "full-stack"
	ModeSliceBySlice = "slice-by-slice"
)

// StandardizerConfig selects the normalization and its scope.
type StandardizerConfig struct {
	Type string `json:"standardization_type"`
	Mode string `json:"standardization_mode"`
}

func (c StandardizerConfig) Validate() error {
	if !oneOf(c.Type, StandardizeMeanStd, StandardizeZeroOne) {
		return fmt.Errorf("standardization_type must be %q or %q, got %q", StandardizeMeanStd, StandardizeZeroOne, c.Type)
	}
	if !oneOf(c.Mode, ModeFullStack, ModeSliceBySlice) {
		return fmt.Errorf("standardization_mode must be %q or %q, got %q", ModeFullStack, ModeSliceBySlice, c.Mode)
	}
	return nil
}

func DefaultStandardizerConfig() StandardizerConfig {
	return StandardizerConfig{Type: StandardizeMeanStd, Mode: ModeFullStack}
}

// Standardizer rescales intensities to zero mean and unit variance, or onto [0, 1].
type Standardizer struct {
	plugin.Base[StandardizerConfig]
}

func NewStandardizer(d plugin.Dictionary, opts ...plugin.Option) (*Standardizer, error) {
	p := &Standardizer{}
	if err := p.Init(NameStandardizer, DefaultStandardizerConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Standardizer) Transform(_ context.Context, s *stack.Stack) error {
	if p.Config.Mode == ModeFullStack {
		standardize(s.Data(), p.Config.Type)
	} else {
		for z := 0; z < s.Shape().Slices; z++ {
			standardize(s.Slice(z), p.Config.Type)
		}
	}
	s.Metadata.DType = stack.Float64
	p.Logger().Debug("stack standardized", "type", p.Config.Type, "mode", p.Config.Mode)
	return nil
}

// standardize normalizes data in place. Constant data maps to 0.
func standardize(data []float64, kind string) {
	if len(data) == 0 {
		return
	}
	var offset, scale float64
	switch kind {
	case StandardizeZeroOne:
		min, max := metrics.MinMax(data)
		offset, scale = min, max-min
	default:
		offset, scale = stat.PopMeanStdDev(data, nil)
	}
	for i, v := range data {
		if scale == 0 {
			data[i] = 0
			continue
		}
		data[i] = (v - offset) / scale
	}
}
