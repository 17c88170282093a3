package transform

import (
	"context"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

// CropperConfig selects the sub-volume to keep.
type CropperConfig struct {
	ZRange stack.Span `json:"z_range"`
	YRange stack.Span `json:"y_range"`
	XRange stack.Span `json:"x_range"`
}

func (CropperConfig) Validate() error { return nil }

// DefaultCropperConfig keeps the whole stack.
func DefaultCropperConfig() CropperConfig {
	return CropperConfig{ZRange: stack.Full(), YRange: stack.Full(), XRange: stack.Full()}
}

// Cropper restricts the stack to a sub-volume.
type Cropper struct {
	plugin.Base[CropperConfig]
}

func NewCropper(d plugin.Dictionary, opts ...plugin.Option) (*Cropper, error) {
	c := &Cropper{}
	if err := c.Init(NameCropper, DefaultCropperConfig(), d, opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cropper) Transform(_ context.Context, s *stack.Stack) error {
	before := s.Shape()
	if err := s.Crop(c.Config.ZRange, c.Config.YRange, c.Config.XRange); err != nil {
		return errors.WrapTransformError(NameCropper, err)
	}
	c.Logger().Debug("stack cropped", "from", before.String(), "to", s.Shape().String())
	return nil
}
