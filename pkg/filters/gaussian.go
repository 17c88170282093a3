package filters

import (
	"math"
	"sort"
)

// GaussianKernel returns a normalized 1D kernel truncated at 3 sigma.
func GaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur smooths m with a separable Gaussian of the given sigma.
// Borders are handled by edge replication. sigma <= 0 returns a copy.
func GaussianBlur(m Image, sigma float64) Image {
	if sigma <= 0 {
		return m.Clone()
	}
	kernel := GaussianKernel(sigma)
	radius := len(kernel) / 2

	tmp := NewImage(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			s := 0.0
			for k, w := range kernel {
				s += w * m.AtClamped(x+k-radius, y)
			}
			tmp.Pix[y*m.Width+x] = s
		}
	}

	out := NewImage(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			s := 0.0
			for k, w := range kernel {
				s += w * tmp.AtClamped(x, y+k-radius)
			}
			out.Pix[y*m.Width+x] = s
		}
	}
	return out
}

// MedianFilter replaces each pixel by the median of its size x size window.
// Even sizes are rounded up to the next odd size.
func MedianFilter(m Image, size int) Image {
	if size <= 1 {
		return m.Clone()
	}
	radius := size / 2
	window := make([]float64, 0, (2*radius+1)*(2*radius+1))
	out := NewImage(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			window = window[:0]
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					window = append(window, m.AtClamped(x+dx, y+dy))
				}
			}
			sort.Float64s(window)
			out.Pix[y*m.Width+x] = window[len(window)/2]
		}
	}
	return out
}
