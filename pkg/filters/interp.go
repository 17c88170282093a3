package filters

import "math"

// ShiftBilinear translates m by a fractional (dy, dx). Pixels sampled from
// outside m are set to fill.
func ShiftBilinear(m Image, dy, dx, fill float64) Image {
	out := NewImage(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		sy := float64(y) - dy
		for x := 0; x < m.Width; x++ {
			out.Pix[y*m.Width+x] = m.Bilinear(float64(x)-dx, sy, fill)
		}
	}
	return out
}

// Bilinear samples m at a fractional position, returning fill outside.
func (m Image) Bilinear(x, y, fill float64) float64 {
	const tol = 1e-9
	if x < -tol || y < -tol || x > float64(m.Width-1)+tol || y > float64(m.Height-1)+tol {
		return fill
	}
	x0 := clamp(int(math.Floor(x)), 0, m.Width-1)
	y0 := clamp(int(math.Floor(y)), 0, m.Height-1)
	x1 := clamp(x0+1, 0, m.Width-1)
	y1 := clamp(y0+1, 0, m.Height-1)
	wx := clampF(x-float64(x0), 0, 1)
	wy := clampF(y-float64(y0), 0, 1)
	top := m.At(x0, y0)*(1-wx) + m.At(x1, y0)*wx
	bottom := m.At(x0, y1)*(1-wx) + m.At(x1, y1)*wx
	return top*(1-wy) + bottom*wy
}

// FlowTranslation estimates the global sub-pixel translation such that
// ShiftBilinear(moving, dy, dx) approximates reference, by least squares on the brightness constancy
// equation (Lucas-Kanade over the whole plane). ok is false when the
// system is singular.
func FlowTranslation(reference, moving Image) (dy, dx float64, ok bool) {
	gx := Gradient(reference, AxisX)
	gy := Gradient(reference, AxisY)
	var sxx, sxy, syy, sxt, syt float64
	for i := range reference.Pix {
		it := moving.Pix[i] - reference.Pix[i]
		sxx += gx.Pix[i] * gx.Pix[i]
		sxy += gx.Pix[i] * gy.Pix[i]
		syy += gy.Pix[i] * gy.Pix[i]
		sxt += gx.Pix[i] * it
		syt += gy.Pix[i] * it
	}
	det := sxx*syy - sxy*sxy
	if math.Abs(det) < 1e-12 {
		return 0, 0, false
	}
	// moving(p) ~ reference(p - u), G u = -b, and the correction is -u.
	ux := (syy*sxt - sxy*syt) / det
	uy := (sxx*syt - sxy*sxt) / det
	return uy, ux, true
}
