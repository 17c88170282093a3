package filters

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is the 2D discrete Fourier transform of an Image, row-major.
type Spectrum struct {
	Coeff  []complex128
	Width  int
	Height int
}

// FFT2 computes the 2D FFT of m by transforming rows, then columns.
// Any size is accepted.
func FFT2(m Image) Spectrum {
	w, h := m.Width, m.Height
	result := make([]complex128, w*h)

	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row[x] = complex(m.Pix[y*w+x], 0)
		}
		rowFFT.Coefficients(result[y*w:(y+1)*w], row)
	}

	transformColumns(result, w, h, false)
	return Spectrum{Coeff: result, Width: w, Height: h}
}

// IFFT2 inverts FFT2 and returns the normalized complex plane.
func IFFT2(s Spectrum) []complex128 {
	w, h := s.Width, s.Height
	result := make([]complex128, w*h)
	copy(result, s.Coeff)

	transformColumns(result, w, h, true)

	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, result[y*w:(y+1)*w])
		rowFFT.Sequence(result[y*w:(y+1)*w], row)
	}

	scale := complex(1/float64(w*h), 0)
	for i := range result {
		result[i] *= scale
	}
	return result
}

func transformColumns(data []complex128, w, h int, inverse bool) {
	colFFT := fourier.NewCmplxFFT(h)
	colIn := make([]complex128, h)
	colOut := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			colIn[y] = data[y*w+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = colOut[y]
		}
	}
}

// FilterColumns multiplies the spectrum of every column of m by transfer,
// which receives the frequency index k in [0, h/2] of each coefficient.
// transfer is assumed symmetric in k, so the output stays real.
func FilterColumns(m Image, transfer func(k int) float64) Image {
	w, h := m.Width, m.Height
	out := NewImage(w, h)
	if h < 2 {
		copy(out.Pix, m.Pix)
		return out
	}

	fft := fourier.NewFFT(h)
	col := make([]float64, h)
	coeff := make([]complex128, h/2+1)
	gain := make([]float64, len(coeff))
	for k := range gain {
		gain[k] = transfer(k)
	}

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = m.Pix[y*w+x]
		}
		fft.Coefficients(coeff, col)
		for k := range coeff {
			coeff[k] *= complex(gain[k], 0)
		}
		fft.Sequence(col, coeff)
		for y := 0; y < h; y++ {
			out.Pix[y*w+x] = col[y] / float64(h)
		}
	}
	return out
}

// PhaseCorrelation estimates the integer translation that aligns moving
// onto reference. Shift(moving, dy, dx) approximately reproduces reference.
func PhaseCorrelation(reference, moving Image) (dy, dx int) {
	fr := FFT2(reference)
	fm := FFT2(moving)

	cross := Spectrum{Coeff: make([]complex128, len(fr.Coeff)), Width: fr.Width, Height: fr.Height}
	for i := range fr.Coeff {
		c := fr.Coeff[i] * cmplx.Conj(fm.Coeff[i])
		if mag := cmplx.Abs(c); mag > 1e-12 {
			c /= complex(mag, 0)
		} else {
			c = 0
		}
		cross.Coeff[i] = c
	}

	corr := IFFT2(cross)
	best := math.Inf(-1)
	w, h := reference.Width, reference.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if v := real(corr[y*w+x]); v > best {
				best = v
				dy, dx = y, x
			}
		}
	}
	if dy > h/2 {
		dy -= h
	}
	if dx > w/2 {
		dx -= w
	}
	return dy, dx
}

// Shift translates m by (dy, dx) pixels. Uncovered pixels are set to fill.
func Shift(m Image, dy, dx int, fill float64) Image {
	out := NewImage(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		sy := y - dy
		for x := 0; x < m.Width; x++ {
			sx := x - dx
			if sy < 0 || sy >= m.Height || sx < 0 || sx >= m.Width {
				out.Pix[y*m.Width+x] = fill
				continue
			}
			out.Pix[y*m.Width+x] = m.Pix[sy*m.Width+sx]
		}
	}
	return out
}
