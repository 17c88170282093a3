package filters

import "math"

const (
	tvEpsilon  = 2e-4
	tvMaxIters = 200
)

// TVChambolle denoises m by total variation minimization using Chambolle's
// projection algorithm. Larger weights remove more noise at the cost of
// fidelity. weight <= 0 returns a copy.
func TVChambolle(m Image, weight float64) Image {
	if weight <= 0 {
		return m.Clone()
	}
	w, h := m.Width, m.Height
	n := w * h

	px := make([]float64, n)
	py := make([]float64, n)
	gx := make([]float64, n)
	gy := make([]float64, n)
	d := make([]float64, n)
	out := m.Clone()

	const tau = 0.25
	var ePrev, eInit float64
	for iter := 0; iter < tvMaxIters; iter++ {
		if iter > 0 {
			// d = -div(p) with backward differences
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					i := y*w + x
					v := -px[i] - py[i]
					if x > 0 {
						v += px[i-1]
					}
					if y > 0 {
						v += py[i-w]
					}
					d[i] = v
					out.Pix[i] = m.Pix[i] + v
				}
			}
		}

		energy := 0.0
		for _, v := range d {
			energy += v * v
		}

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				i := y*w + x
				gx[i], gy[i] = 0, 0
				if x < w-1 {
					gx[i] = out.Pix[i+1] - out.Pix[i]
				}
				if y < h-1 {
					gy[i] = out.Pix[i+w] - out.Pix[i]
				}
			}
		}

		for i := 0; i < n; i++ {
			norm := math.Sqrt(gx[i]*gx[i] + gy[i]*gy[i])
			energy += weight * norm
			norm = 1 + norm*tau/weight
			px[i] = (px[i] - tau*gx[i]) / norm
			py[i] = (py[i] - tau*gy[i]) / norm
		}
		energy /= float64(n)

		if iter == 0 {
			eInit, ePrev = energy, energy
			continue
		}
		if math.Abs(ePrev-energy) < tvEpsilon*eInit {
			break
		}
		ePrev = energy
	}
	return out
}
