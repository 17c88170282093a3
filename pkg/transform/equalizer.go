package transform

import (
	"context"
	"fmt"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const (
	EqualizerGlobal   = "global"
	EqualizerAdaptive = "adaptive"
)

// EqualizerConfig selects global or tile-based (CLAHE) equalization.
// tile_size and clip_limit only apply to the adaptive equalizer.
type EqualizerConfig struct {
	EqualizerType string  `json:"equalizer_type"`
	Nbins         int     `json:"nbins"`
	TileSize      int     `json:"tile_size"`
	ClipLimit     float64 `json:"clip_limit"`
}

func (c EqualizerConfig) Validate() error {
	if !oneOf(c.EqualizerType, EqualizerGlobal, EqualizerAdaptive) {
		return fmt.Errorf("equalizer_type must be %q or %q, got %q", EqualizerGlobal, EqualizerAdaptive, c.EqualizerType)
	}
	if c.Nbins < 2 {
		return fmt.Errorf("nbins must be >= 2, got %d", c.Nbins)
	}
	if c.TileSize < 1 {
		return fmt.Errorf("tile_size must be >= 1, got %d", c.TileSize)
	}
	if c.ClipLimit < 0 || c.ClipLimit > 1 {
		return fmt.Errorf("clip_limit must be in [0, 1], got %v", c.ClipLimit)
	}
	return nil
}

func DefaultEqualizerConfig() EqualizerConfig {
	return EqualizerConfig{
		EqualizerType: EqualizerGlobal,
		Nbins:         256,
		TileSize:      64,
		ClipLimit:     0.01,
	}
}

// Equalizer flattens the intensity histogram of every slice onto [0, 1].
type Equalizer struct {
	plugin.Base[EqualizerConfig]
}

func NewEqualizer(d plugin.Dictionary, opts ...plugin.Option) (*Equalizer, error) {
	p := &Equalizer{}
	if err := p.Init(NameEqualizer, DefaultEqualizerConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Equalizer) Transform(ctx context.Context, s *stack.Stack) error {
	cfg := p.Config
	err := plugin.MapSlices(s, func(_ int, img filters.Image) (filters.Image, error) {
		if err := ctx.Err(); err != nil {
			return img, err
		}
		if cfg.EqualizerType == EqualizerAdaptive {
			return filters.EqualizeAdaptive(img, cfg.Nbins, cfg.TileSize, cfg.ClipLimit), nil
		}
		return filters.Wrap(filters.Equalize(img.Pix, cfg.Nbins), img.Width, img.Height), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameEqualizer, err)
	}
	s.Metadata.DType = stack.Float64
	p.Logger().Debug("slices equalized", "type", cfg.EqualizerType)
	return nil
}
