package transform

import (
	"context"
	"fmt"
	"strconv"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

// HistogramMatcherConfig names the reference slice: "first", "middle",
// "last" or a slice index written as a decimal string.
type HistogramMatcherConfig struct {
	ReferenceSliceIdx string `json:"reference_slice_idx"`
}

func (c HistogramMatcherConfig) Validate() error {
	if oneOf(c.ReferenceSliceIdx, "first", "middle", "last") {
		return nil
	}
	idx, err := strconv.Atoi(c.ReferenceSliceIdx)
	if err != nil || idx < 0 {
		return fmt.Errorf("reference_slice_idx must be first, middle, last or a slice index, got %q", c.ReferenceSliceIdx)
	}
	return nil
}

func DefaultHistogramMatcherConfig() HistogramMatcherConfig {
	return HistogramMatcherConfig{ReferenceSliceIdx: "middle"}
}

// HistogramMatcher maps every slice onto the intensity distribution of a
// reference slice.
type HistogramMatcher struct {
	plugin.Base[HistogramMatcherConfig]
}

func NewHistogramMatcher(d plugin.Dictionary, opts ...plugin.Option) (*HistogramMatcher, error) {
	p := &HistogramMatcher{}
	if err := p.Init(NameHistogramMatcher, DefaultHistogramMatcherConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

// referenceIndex resolves the configured reference against n slices.
func (p *HistogramMatcher) referenceIndex(n int) (int, error) {
	switch p.Config.ReferenceSliceIdx {
	case "first":
		return 0, nil
	case "middle":
		return n / 2, nil
	case "last":
		return n - 1, nil
	}
	idx, _ := strconv.Atoi(p.Config.ReferenceSliceIdx)
	if idx >= n {
		return 0, errors.NewTransformError(NameHistogramMatcher, "reference slice %d out of range for %d slices", idx, n)
	}
	return idx, nil
}

func (p *HistogramMatcher) Transform(ctx context.Context, s *stack.Stack) error {
	shape := s.Shape()
	ref, err := p.referenceIndex(shape.Slices)
	if err != nil {
		return err
	}
	reference := append([]float64(nil), s.Slice(ref)...)

	err = plugin.MapSlices(s, func(z int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		if z == ref {
			return img, nil
		}
		return filters.Wrap(filters.MatchHistogram(img.Pix, reference), img.Width, img.Height), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameHistogramMatcher, err)
	}
	p.Logger().Debug("histograms matched", "reference", ref)
	return nil
}
