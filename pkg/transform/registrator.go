package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/filters"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const AlgorithmPhaseCorrelation = "Phase_correlation"

// RegistratorConfig controls how consecutive slices are aligned.
type RegistratorConfig struct {
	Algorithm             string             `json:"registration_algorithm"`
	RefineWithOpticalFlow bool               `json:"refine_with_optical_flow"`
	MaxShift              int                `json:"max_shift"`
	OptBoundingBox        plugin.BoundingBox `json:"opt_bounding_box"`
}

func (c RegistratorConfig) Validate() error {
	if c.Algorithm != AlgorithmPhaseCorrelation {
		return fmt.Errorf("registration_algorithm %q is not supported, use %q", c.Algorithm, AlgorithmPhaseCorrelation)
	}
	if c.MaxShift < 0 {
		return fmt.Errorf("max_shift must be >= 0, got %d", c.MaxShift)
	}
	return nil
}

// DefaultRegistratorConfig estimates shifts on the bottom-right 500x500
// corner with no shift limit.
func DefaultRegistratorConfig() RegistratorConfig {
	return RegistratorConfig{
		Algorithm:      AlgorithmPhaseCorrelation,
		OptBoundingBox: plugin.DefaultBoundingBox(),
	}
}

// SliceShift is the translation applied to one slice, in pixels.
type SliceShift struct {
	DY float64 `cbor:"1,keyasint" json:"dy"`
	DX float64 `cbor:"2,keyasint" json:"dx"`
}

type registratorState struct {
	Fitted bool         `cbor:"1,keyasint"`
	Shifts []SliceShift `cbor:"2,keyasint"`
}

// Registrator aligns every slice to the first one. Shifts learned by Fit
// are reused by Transform; otherwise Transform estimates them on the stack
// it receives.
type Registrator struct {
	plugin.Base[RegistratorConfig]

	fitted bool
	shifts []SliceShift
}

func NewRegistrator(d plugin.Dictionary, opts ...plugin.Option) (*Registrator, error) {
	p := &Registrator{}
	if err := p.Init(NameRegistrator, DefaultRegistratorConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Shifts returns the most recent per-slice shifts.
func (p *Registrator) Shifts() []SliceShift {
	return append([]SliceShift(nil), p.shifts...)
}

func (p *Registrator) Fitted() bool { return p.fitted }

// Fit estimates and stores the shifts of s without modifying it.
func (p *Registrator) Fit(ctx context.Context, s *stack.Stack) error {
	shifts, err := p.estimate(ctx, s)
	if err != nil {
		return err
	}
	p.shifts, p.fitted = shifts, true
	p.Logger().Info("registration fitted", "slices", len(shifts))
	return nil
}

func (p *Registrator) Transform(ctx context.Context, s *stack.Stack) error {
	shape := s.Shape()
	if !p.fitted {
		shifts, err := p.estimate(ctx, s)
		if err != nil {
			return err
		}
		p.shifts = shifts
	}
	if len(p.shifts) != shape.Slices {
		return errors.NewTransformError(NameRegistrator, "fitted on %d slices, got %d", len(p.shifts), shape.Slices)
	}

	err := plugin.MapSlices(s, func(z int, img filters.Image) (filters.Image, error) {
		sh := p.shifts[z]
		if sh.DY == math.Trunc(sh.DY) && sh.DX == math.Trunc(sh.DX) {
			return filters.Shift(img, int(sh.DY), int(sh.DX), 0), nil
		}
		return filters.ShiftBilinear(img, sh.DY, sh.DX, 0), nil
	})
	if err != nil {
		return errors.WrapTransformError(NameRegistrator, err)
	}
	p.Logger().Debug("slices registered", "slices", shape.Slices, "prefitted", p.fitted)
	return nil
}

// estimate computes cumulative shifts between consecutive slices, measured
// inside the bounding box.
func (p *Registrator) estimate(ctx context.Context, s *stack.Stack) ([]SliceShift, error) {
	shape := s.Shape()
	yspan, xspan := stack.Full(), stack.Full()
	if p.Config.OptBoundingBox.UseBoundingBox {
		yspan, xspan = p.Config.OptBoundingBox.YLimits, p.Config.OptBoundingBox.XLimits
	}
	y0, y1 := yspan.Resolve(shape.Height)
	x0, x1 := xspan.Resolve(shape.Width)
	if y1 <= y0 || x1 <= x0 {
		return nil, errors.NewConfigurationError(NameRegistrator, "opt_bounding_box",
			fmt.Sprintf("bounding box y%s x%s is empty for slices of %dx%d", yspan, xspan, shape.Height, shape.Width))
	}

	region := func(z int) filters.Image {
		return filters.Wrap(s.Slice(z), shape.Width, shape.Height).Sub(x0, y0, x1-x0, y1-y0)
	}

	shifts := make([]SliceShift, shape.Slices)
	prev := region(0)
	for z := 1; z < shape.Slices; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := region(z)
		step := p.pairShift(prev, cur)
		shifts[z] = SliceShift{DY: shifts[z-1].DY + step.DY, DX: shifts[z-1].DX + step.DX}
		prev = cur
	}
	return shifts, nil
}

// pairShift estimates the shift aligning moving onto reference.
func (p *Registrator) pairShift(reference, moving filters.Image) SliceShift {
	dy, dx := filters.PhaseCorrelation(reference, moving)
	if limit := p.Config.MaxShift; limit > 0 && (abs(dy) > limit || abs(dx) > limit) {
		p.Logger().Warn("shift above max_shift ignored", "dy", dy, "dx", dx, "max_shift", limit)
		dy, dx = 0, 0
	}
	shift := SliceShift{DY: float64(dy), DX: float64(dx)}
	if !p.Config.RefineWithOpticalFlow {
		return shift
	}

	aligned := filters.Shift(moving, dy, dx, 0)
	ry, rx, ok := filters.FlowTranslation(
		innerRegion(reference, dy, dx), innerRegion(aligned, dy, dx))
	if ok && math.Abs(ry) <= 1 && math.Abs(rx) <= 1 {
		shift.DY += ry
		shift.DX += rx
	}
	return shift
}

// innerRegion drops the border uncovered by an integer shift.
func innerRegion(m filters.Image, dy, dx int) filters.Image {
	x0, y0 := max(dx, 0), max(dy, 0)
	w, h := m.Width-abs(dx), m.Height-abs(dy)
	if w <= 2 || h <= 2 {
		return m
	}
	return m.Sub(x0, y0, w, h)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (p *Registrator) MarshalState() ([]byte, error) {
	return cbor.Marshal(registratorState{Fitted: p.fitted, Shifts: p.shifts})
}

func (p *Registrator) UnmarshalState(data []byte) error {
	var st registratorState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode registrator state: %w", err)
	}
	p.fitted, p.shifts = st.Fitted, st.Shifts
	return nil
}
