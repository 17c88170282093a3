package transform

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bmiptools/pkg/errors"
	"bmiptools/pkg/plugin"
	"bmiptools/pkg/stack"
)

const (
	ApplyTranslation = "translation"
	ApplyRotation    = "rotation"
	ApplyScaling     = "scaling"
	ApplyShearing    = "shearing"
	ApplyAll         = "all"

	OriginZero   = "zero"
	OriginCenter = "center"
)

// Vectors are written in (x, y, z) order, z being the slice axis.

type Translation struct {
	Vector [3]float64 `json:"translation_vector"`
}

// Rotation is an angle in degrees around an axis through the origin.
type Rotation struct {
	Angle float64    `json:"rotation_angle"`
	Axis  [3]float64 `json:"rotation_axis"`
}

type Scaling struct {
	Factors [3]float64 `json:"scaling_factors"`
}

// Shearing holds the off-diagonal factors xy, xz, yx, yz, zx, zy.
type Shearing struct {
	Factors [6]float64 `json:"shearing_factors"`
}

type AffineConfig struct {
	Apply                string      `json:"apply"`
	ReferenceFrameOrigin string      `json:"reference_frame_origin"`
	Translation          Translation `json:"translation"`
	Rotation             Rotation    `json:"rotation"`
	Scaling              Scaling     `json:"scaling"`
	Shearing             Shearing    `json:"shearing"`
	InterpolationOrder   int         `json:"interpolation_order"`
}

func (c AffineConfig) Validate() error {
	if !oneOf(c.Apply, ApplyTranslation, ApplyRotation, ApplyScaling, ApplyShearing, ApplyAll) {
		return fmt.Errorf("apply must be one of translation, rotation, scaling, shearing, all; got %q", c.Apply)
	}
	if !oneOf(c.ReferenceFrameOrigin, OriginZero, OriginCenter) {
		return fmt.Errorf("reference_frame_origin must be %q or %q, got %q", OriginZero, OriginCenter, c.ReferenceFrameOrigin)
	}
	if c.uses(ApplyRotation) && floats.Norm(c.Rotation.Axis[:], 2) == 0 {
		return fmt.Errorf("rotation_axis must be non-zero")
	}
	if c.uses(ApplyScaling) {
		for _, f := range c.Scaling.Factors {
			if f == 0 {
				return fmt.Errorf("scaling_factors must be non-zero, got %v", c.Scaling.Factors)
			}
		}
	}
	if c.InterpolationOrder != 0 && c.InterpolationOrder != 1 {
		return fmt.Errorf("interpolation_order must be 0 or 1, got %d", c.InterpolationOrder)
	}
	return nil
}

func (c AffineConfig) uses(kind string) bool {
	return c.Apply == kind || c.Apply == ApplyAll
}

// DefaultAffineConfig is the identity transform.
func DefaultAffineConfig() AffineConfig {
	return AffineConfig{
		Apply:                ApplyAll,
		ReferenceFrameOrigin: OriginCenter,
		Rotation:             Rotation{Axis: [3]float64{0, 0, 1}},
		Scaling:              Scaling{Factors: [3]float64{1, 1, 1}},
		InterpolationOrder:   1,
	}
}

// Affine resamples the stack under a 3D affine map. Voxels mapped from
// outside the input are zero.
type Affine struct {
	plugin.Base[AffineConfig]
}

func NewAffine(d plugin.Dictionary, opts ...plugin.Option) (*Affine, error) {
	p := &Affine{}
	if err := p.Init(NameAffine, DefaultAffineConfig(), d, opts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Matrix returns the homogeneous forward map in (x, y, z) coordinates for
// a stack of the given shape.
func (p *Affine) Matrix(shape stack.Shape) *mat.Dense {
	c := p.Config
	m := identity4()
	if c.uses(ApplyScaling) {
		s := identity4()
		for i, f := range c.Scaling.Factors {
			s.Set(i, i, f)
		}
		m.Mul(s, m)
	}
	if c.uses(ApplyShearing) {
		f := c.Shearing.Factors
		sh := mat.NewDense(4, 4, []float64{
			1, f[0], f[1], 0,
			f[2], 1, f[3], 0,
			f[4], f[5], 1, 0,
			0, 0, 0, 1,
		})
		m.Mul(sh, m)
	}
	if c.uses(ApplyRotation) {
		m.Mul(rodrigues(c.Rotation.Angle, c.Rotation.Axis), m)
	}
	if c.uses(ApplyTranslation) {
		m.Mul(translation4(c.Translation.Vector), m)
	}
	if c.ReferenceFrameOrigin == OriginCenter {
		centre := [3]float64{
			float64(shape.Width-1) / 2,
			float64(shape.Height-1) / 2,
			float64(shape.Slices-1) / 2,
		}
		back := [3]float64{-centre[0], -centre[1], -centre[2]}
		m.Mul(m, translation4(back))
		m.Mul(translation4(centre), m)
	}
	return m
}

func (p *Affine) Transform(ctx context.Context, s *stack.Stack) error {
	shape := s.Shape()
	var inv mat.Dense
	if err := inv.Inverse(p.Matrix(shape)); err != nil {
		return errors.WrapTransformError(NameAffine, fmt.Errorf("affine map is not invertible: %w", err))
	}

	src := s.Clone()
	data := s.Data()
	order := p.Config.InterpolationOrder
	for z := 0; z < shape.Slices; z++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				fx, fy, fz := float64(x), float64(y), float64(z)
				sx := inv.At(0, 0)*fx + inv.At(0, 1)*fy + inv.At(0, 2)*fz + inv.At(0, 3)
				sy := inv.At(1, 0)*fx + inv.At(1, 1)*fy + inv.At(1, 2)*fz + inv.At(1, 3)
				sz := inv.At(2, 0)*fx + inv.At(2, 1)*fy + inv.At(2, 2)*fz + inv.At(2, 3)
				data[(z*shape.Height+y)*shape.Width+x] = sample3(src, sz, sy, sx, order)
			}
		}
	}
	p.Logger().Debug("affine transform applied", "apply", p.Config.Apply, "origin", p.Config.ReferenceFrameOrigin)
	return nil
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func translation4(v [3]float64) *mat.Dense {
	t := identity4()
	t.Set(0, 3, v[0])
	t.Set(1, 3, v[1])
	t.Set(2, 3, v[2])
	return t
}

// rodrigues builds the rotation by degrees around axis.
func rodrigues(degrees float64, axis [3]float64) *mat.Dense {
	u := axis
	floats.Scale(1/floats.Norm(u[:], 2), u[:])
	theta := degrees * math.Pi / 180
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return mat.NewDense(4, 4, []float64{
		c + u[0]*u[0]*t, u[0]*u[1]*t - u[2]*s, u[0]*u[2]*t + u[1]*s, 0,
		u[1]*u[0]*t + u[2]*s, c + u[1]*u[1]*t, u[1]*u[2]*t - u[0]*s, 0,
		u[2]*u[0]*t - u[1]*s, u[2]*u[1]*t + u[0]*s, c + u[2]*u[2]*t, 0,
		0, 0, 0, 1,
	})
}

const sampleTolerance = 1e-9

// sample3 reads s at a fractional position, nearest (order 0) or trilinear
// (order 1). Positions outside the volume read as zero.
func sample3(s *stack.Stack, z, y, x float64, order int) float64 {
	shape := s.Shape()
	if z < -sampleTolerance || y < -sampleTolerance || x < -sampleTolerance ||
		z > float64(shape.Slices-1)+sampleTolerance ||
		y > float64(shape.Height-1)+sampleTolerance ||
		x > float64(shape.Width-1)+sampleTolerance {
		return 0
	}
	if order == 0 {
		return s.At(roundIndex(z, shape.Slices), roundIndex(y, shape.Height), roundIndex(x, shape.Width))
	}

	z0, wz := splitIndex(z, shape.Slices)
	y0, wy := splitIndex(y, shape.Height)
	x0, wx := splitIndex(x, shape.Width)
	z1, y1, x1 := minIdx(z0+1, shape.Slices), minIdx(y0+1, shape.Height), minIdx(x0+1, shape.Width)

	lerp := func(a, b, w float64) float64 { return a + (b-a)*w }
	c00 := lerp(s.At(z0, y0, x0), s.At(z0, y0, x1), wx)
	c01 := lerp(s.At(z0, y1, x0), s.At(z0, y1, x1), wx)
	c10 := lerp(s.At(z1, y0, x0), s.At(z1, y0, x1), wx)
	c11 := lerp(s.At(z1, y1, x0), s.At(z1, y1, x1), wx)
	return lerp(lerp(c00, c01, wy), lerp(c10, c11, wy), wz)
}

func roundIndex(v float64, n int) int {
	i := int(math.Round(v))
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func splitIndex(v float64, n int) (int, float64) {
	i := int(math.Floor(v))
	if i < 0 {
		return 0, 0
	}
	if i >= n-1 {
		return n - 1, 0
	}
	return i, v - float64(i)
}

func minIdx(i, n int) int {
	if i > n-1 {
		return n - 1
	}
	return i
}
