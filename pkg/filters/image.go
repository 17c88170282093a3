// Package filters implements the 2D numeric kernels the stack corrections
// are built from. Every function works on one plane and returns a new
// Image unless its name says otherwise.
package filters

import "math"

// Image is a single-channel float plane in row-major order.
type Image struct {
	Pix    []float64
	Width  int
	Height int
}

// NewImage allocates a zero image.
func NewImage(width, height int) Image {
	return Image{Pix: make([]float64, width*height), Width: width, Height: height}
}

// Wrap returns an Image that shares pix.
func Wrap(pix []float64, width, height int) Image {
	return Image{Pix: pix, Width: width, Height: height}
}

// Clone returns a deep copy.
func (m Image) Clone() Image {
	out := NewImage(m.Width, m.Height)
	copy(out.Pix, m.Pix)
	return out
}

func (m Image) At(x, y int) float64 {
	return m.Pix[y*m.Width+x]
}

func (m Image) Set(x, y int, v float64) {
	m.Pix[y*m.Width+x] = v
}

// AtClamped returns the pixel at (x, y) with edge replication outside the image.
func (m Image) AtClamped(x, y int) float64 {
	return m.Pix[clamp(y, 0, m.Height-1)*m.Width+clamp(x, 0, m.Width-1)]
}

// Sub returns a copy of the window [x0, x0+w) x [y0, y0+h).
func (m Image) Sub(x0, y0, w, h int) Image {
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		copy(out.Pix[y*w:(y+1)*w], m.Pix[(y0+y)*m.Width+x0:(y0+y)*m.Width+x0+w])
	}
	return out
}

// PadEdge extends the image to w x h by replicating its last row and column.
func (m Image) PadEdge(w, h int) Image {
	if w == m.Width && h == m.Height {
		return m.Clone()
	}
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = m.AtClamped(x, y)
		}
	}
	return out
}

// Sum returns the sum of all pixels.
func (m Image) Sum() float64 {
	s := 0.0
	for _, v := range m.Pix {
		s += v
	}
	return s
}

// Mean returns the average pixel value.
func (m Image) Mean() float64 {
	if len(m.Pix) == 0 {
		return 0
	}
	return m.Sum() / float64(len(m.Pix))
}

// Subtract returns a - b pixelwise. Both images must share dimensions.
func Subtract(a, b Image) Image {
	out := NewImage(a.Width, a.Height)
	for i := range out.Pix {
		out.Pix[i] = a.Pix[i] - b.Pix[i]
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Axis selects a gradient direction.
type Axis int

const (
	// AxisY differentiates along rows (top to bottom)
	AxisY Axis = iota
	// AxisX differentiates along columns (left to right)
	AxisX
)

// Gradient returns the derivative along axis using central differences in
// the interior and one-sided differences at the borders.
func Gradient(m Image, axis Axis) Image {
	out := NewImage(m.Width, m.Height)
	n := m.Height
	if axis == AxisX {
		n = m.Width
	}
	if n < 2 {
		return out
	}
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := x
			if axis == AxisY {
				i = y
			}
			var d float64
			switch i {
			case 0:
				d = step(m, x, y, axis, 1) - m.At(x, y)
			case n - 1:
				d = m.At(x, y) - step(m, x, y, axis, -1)
			default:
				d = (step(m, x, y, axis, 1) - step(m, x, y, axis, -1)) / 2
			}
			out.Pix[y*m.Width+x] = d
		}
	}
	return out
}

func step(m Image, x, y int, axis Axis, d int) float64 {
	if axis == AxisX {
		return m.At(x+d, y)
	}
	return m.At(x, y+d)
}

// MeanAbsGradient returns mean(|Gradient(m, axis)|).
func MeanAbsGradient(m Image, axis Axis) float64 {
	g := Gradient(m, axis)
	s := 0.0
	for _, v := range g.Pix {
		s += math.Abs(v)
	}
	if len(g.Pix) == 0 {
		return 0
	}
	return s / float64(len(g.Pix))
}
