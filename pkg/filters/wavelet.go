package filters

import (
	"fmt"
	"math"
	"sort"
)

// Wavelet is an orthogonal wavelet given by its analysis lowpass filter.
type Wavelet struct {
	Name string
	lo   []float64
	hi   []float64
}

var wavelets = map[string]Wavelet{}

func init() {
	s2 := math.Sqrt2
	s3 := math.Sqrt(3)
	register("haar", []float64{1 / s2, 1 / s2})
	register("db2", []float64{
		(1 + s3) / (4 * s2),
		(3 + s3) / (4 * s2),
		(3 - s3) / (4 * s2),
		(1 - s3) / (4 * s2),
	})
	register("db3", []float64{
		0.3326705529509569,
		0.8068915093133388,
		0.4598775021193313,
		-0.13501102001039084,
		-0.08544127388224149,
		0.035226291882100656,
	})
}

func register(name string, lo []float64) {
	n := len(lo)
	hi := make([]float64, n)
	for k := 0; k < n; k++ {
		sign := 1.0
		if k%2 == 1 {
			sign = -1
		}
		hi[k] = sign * lo[n-1-k]
	}
	wavelets[name] = Wavelet{Name: name, lo: lo, hi: hi}
}

// WaveletNames returns the supported wavelet names, sorted.
func WaveletNames() []string {
	names := make([]string, 0, len(wavelets))
	for n := range wavelets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupWavelet returns the named wavelet.
func LookupWavelet(name string) (Wavelet, error) {
	w, ok := wavelets[name]
	if !ok {
		return Wavelet{}, fmt.Errorf("unsupported wavelet %q", name)
	}
	return w, nil
}

// Len returns the filter length.
func (w Wavelet) Len() int {
	return len(w.lo)
}

// MaxLevel returns the deepest useful decomposition level for a plane of
// the given dimensions.
func (w Wavelet) MaxLevel(width, height int) int {
	n := width
	if height < n {
		n = height
	}
	if n < w.Len() {
		return 0
	}
	return int(math.Floor(math.Log2(float64(n) / float64(w.Len()-1))))
}

// Details holds the detail coefficients of one decomposition level.
// Horizontal and Vertical name the orientation of the edges they respond to:
// Vertical is highpass along x, lowpass along y.
type Details struct {
	Horizontal Image
	Vertical   Image
	Diagonal   Image
}

// Decomposition is a multilevel 2D wavelet transform. Levels[0] is the
// finest level.
type Decomposition struct {
	Wavelet Wavelet
	Approx  Image
	Levels  []Details

	width, height int
}

// Wavedec2 decomposes m over level levels with periodic extension. The plane
// is edge-padded to a multiple of 2^level first; Waverec2 crops it back.
func Wavedec2(m Image, w Wavelet, level int) (Decomposition, error) {
	if level < 1 {
		return Decomposition{}, fmt.Errorf("decomposition level must be >= 1, got %d", level)
	}
	block := 1 << level
	pw := (m.Width + block - 1) / block * block
	ph := (m.Height + block - 1) / block * block

	dec := Decomposition{Wavelet: w, width: m.Width, height: m.Height}
	approx := m.PadEdge(pw, ph)
	for l := 0; l < level; l++ {
		var d Details
		approx, d = dwt2(approx, w)
		dec.Levels = append(dec.Levels, d)
	}
	dec.Approx = approx
	return dec, nil
}

// Waverec2 reconstructs the plane from a decomposition.
func Waverec2(dec Decomposition) Image {
	approx := dec.Approx
	for l := len(dec.Levels) - 1; l >= 0; l-- {
		approx = idwt2(approx, dec.Levels[l], dec.Wavelet)
	}
	if approx.Width == dec.width && approx.Height == dec.height {
		return approx
	}
	return approx.Sub(0, 0, dec.width, dec.height)
}

func dwt2(m Image, w Wavelet) (Image, Details) {
	hw := m.Width / 2

	// rows
	lowX := NewImage(hw, m.Height)
	highX := NewImage(hw, m.Height)
	row := make([]float64, m.Width)
	a := make([]float64, hw)
	d := make([]float64, hw)
	for y := 0; y < m.Height; y++ {
		copy(row, m.Pix[y*m.Width:(y+1)*m.Width])
		dwt1(row, a, d, w)
		copy(lowX.Pix[y*hw:(y+1)*hw], a)
		copy(highX.Pix[y*hw:(y+1)*hw], d)
	}

	// columns
	ll, lh := columnsDWT(lowX, w)
	hl, hh := columnsDWT(highX, w)
	return ll, Details{Horizontal: lh, Vertical: hl, Diagonal: hh}
}

func columnsDWT(m Image, w Wavelet) (Image, Image) {
	hh := m.Height / 2
	lo := NewImage(m.Width, hh)
	hi := NewImage(m.Width, hh)
	col := make([]float64, m.Height)
	a := make([]float64, hh)
	d := make([]float64, hh)
	for x := 0; x < m.Width; x++ {
		for y := 0; y < m.Height; y++ {
			col[y] = m.Pix[y*m.Width+x]
		}
		dwt1(col, a, d, w)
		for y := 0; y < hh; y++ {
			lo.Pix[y*m.Width+x] = a[y]
			hi.Pix[y*m.Width+x] = d[y]
		}
	}
	return lo, hi
}

func idwt2(approx Image, det Details, w Wavelet) Image {
	lowX := columnsIDWT(approx, det.Horizontal, w)
	highX := columnsIDWT(det.Vertical, det.Diagonal, w)

	hw := lowX.Width
	out := NewImage(2*hw, lowX.Height)
	row := make([]float64, 2*hw)
	for y := 0; y < lowX.Height; y++ {
		idwt1(lowX.Pix[y*hw:(y+1)*hw], highX.Pix[y*hw:(y+1)*hw], row, w)
		copy(out.Pix[y*out.Width:(y+1)*out.Width], row)
	}
	return out
}

func columnsIDWT(lo, hi Image, w Wavelet) Image {
	hh := lo.Height
	out := NewImage(lo.Width, 2*hh)
	a := make([]float64, hh)
	d := make([]float64, hh)
	col := make([]float64, 2*hh)
	for x := 0; x < lo.Width; x++ {
		for y := 0; y < hh; y++ {
			a[y] = lo.Pix[y*lo.Width+x]
			d[y] = hi.Pix[y*lo.Width+x]
		}
		idwt1(a, d, col, w)
		for y := 0; y < 2*hh; y++ {
			out.Pix[y*out.Width+x] = col[y]
		}
	}
	return out
}

// dwt1 computes one periodized analysis step of x (even length) into a and d.
func dwt1(x, a, d []float64, w Wavelet) {
	n := len(x)
	for k := range a {
		var sa, sd float64
		for j := range w.lo {
			v := x[(2*k+j)%n]
			sa += w.lo[j] * v
			sd += w.hi[j] * v
		}
		a[k] = sa
		d[k] = sd
	}
}

// idwt1 is the transpose of dwt1, which is its inverse for orthogonal filters.
func idwt1(a, d, x []float64, w Wavelet) {
	n := len(x)
	for i := range x {
		x[i] = 0
	}
	for k := range a {
		for j := range w.lo {
			x[(2*k+j)%n] += w.lo[j]*a[k] + w.hi[j]*d[k]
		}
	}
}
