package filters

import (
	"math"
	"sort"

	"bmiptools/pkg/metrics"
)

// Histogram counts data into nbins equal bins over [min, max]. Values outside
// the range land in the first or last bin.
func Histogram(data []float64, nbins int, min, max float64) []float64 {
	hist := make([]float64, nbins)
	if nbins == 0 || len(data) == 0 {
		return hist
	}
	width := (max - min) / float64(nbins)
	for _, v := range data {
		idx := 0
		if width > 0 {
			idx = int((v - min) / width)
		}
		hist[clamp(idx, 0, nbins-1)]++
	}
	return hist
}

// CDF returns the cumulative distribution of hist normalized to end at 1.
func CDF(hist []float64) []float64 {
	cdf := make([]float64, len(hist))
	total := 0.0
	for i, v := range hist {
		total += v
		cdf[i] = total
	}
	if total > 0 {
		for i := range cdf {
			cdf[i] /= total
		}
	}
	return cdf
}

// Equalize performs global histogram equalization of data with nbins bins.
// The result lies in [0, 1].
func Equalize(data []float64, nbins int) []float64 {
	out := make([]float64, len(data))
	min, max := metrics.MinMax(data)
	if max <= min {
		return out
	}
	cdf := CDF(Histogram(data, nbins, min, max))
	width := (max - min) / float64(nbins)
	for i, v := range data {
		out[i] = cdf[clamp(int((v-min)/width), 0, nbins-1)]
	}
	return out
}

// EqualizeAdaptive performs contrast limited adaptive histogram equalization.
// The plane is split into tiles of tileSize pixels; each tile histogram is
// clipped at clipLimit (a fraction of the tile pixel count, 0 disables
// clipping) and mappings are bilinearly interpolated between tile centres.
// The result lies in [0, 1].
func EqualizeAdaptive(m Image, nbins, tileSize int, clipLimit float64) Image {
	out := NewImage(m.Width, m.Height)
	min, max := metrics.MinMax(m.Pix)
	if max <= min || nbins <= 0 {
		return out
	}
	if tileSize <= 0 {
		tileSize = 8
	}
	width := (max - min) / float64(nbins)
	bin := func(v float64) int { return clamp(int((v-min)/width), 0, nbins-1) }

	tx := (m.Width + tileSize - 1) / tileSize
	ty := (m.Height + tileSize - 1) / tileSize
	maps := make([][]float64, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			x0, y0 := i*tileSize, j*tileSize
			x1 := minInt(x0+tileSize, m.Width)
			y1 := minInt(y0+tileSize, m.Height)
			hist := make([]float64, nbins)
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[bin(m.At(x, y))]++
				}
			}
			if clipLimit > 0 {
				clipHistogram(hist, clipLimit*float64((x1-x0)*(y1-y0)))
			}
			maps[j*tx+i] = CDF(hist)
		}
	}

	for y := 0; y < m.Height; y++ {
		fy := (float64(y)+0.5)/float64(tileSize) - 0.5
		j0 := clamp(int(math.Floor(fy)), 0, ty-1)
		j1 := clamp(j0+1, 0, ty-1)
		wy := clampF(fy-float64(j0), 0, 1)
		for x := 0; x < m.Width; x++ {
			fx := (float64(x)+0.5)/float64(tileSize) - 0.5
			i0 := clamp(int(math.Floor(fx)), 0, tx-1)
			i1 := clamp(i0+1, 0, tx-1)
			wx := clampF(fx-float64(i0), 0, 1)
			b := bin(m.At(x, y))
			top := (1-wx)*maps[j0*tx+i0][b] + wx*maps[j0*tx+i1][b]
			bottom := (1-wx)*maps[j1*tx+i0][b] + wx*maps[j1*tx+i1][b]
			out.Pix[y*m.Width+x] = (1-wy)*top + wy*bottom
		}
	}
	return out
}

// clipHistogram caps every bin at limit and spreads the excess uniformly.
func clipHistogram(hist []float64, limit float64) {
	if limit <= 0 {
		return
	}
	excess := 0.0
	for i, v := range hist {
		if v > limit {
			excess += v - limit
			hist[i] = limit
		}
	}
	add := excess / float64(len(hist))
	for i := range hist {
		hist[i] += add
	}
}

// MatchHistogram maps the values of source so that their distribution
// matches reference, by interpolating between matching quantiles.
func MatchHistogram(source, reference []float64) []float64 {
	out := make([]float64, len(source))
	if len(source) == 0 || len(reference) == 0 {
		return out
	}
	srcValues, srcQuantiles := quantiles(source)
	refValues, refQuantiles := quantiles(reference)

	mapped := make(map[float64]float64, len(srcValues))
	for i, v := range srcValues {
		mapped[v] = interpolate(srcQuantiles[i], refQuantiles, refValues)
	}
	for i, v := range source {
		out[i] = mapped[v]
	}
	return out
}

// quantiles returns the sorted unique values of data and their cumulative
// share of samples.
func quantiles(data []float64) ([]float64, []float64) {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	var values, q []float64
	n := float64(len(sorted))
	for i, v := range sorted {
		if i+1 < len(sorted) && sorted[i+1] == v {
			continue
		}
		values = append(values, v)
		q = append(q, float64(i+1)/n)
	}
	return values, q
}

// interpolate evaluates the piecewise linear function through (xs, ys) at x,
// clamping outside the domain. xs must be increasing.
func interpolate(x float64, xs, ys []float64) float64 {
	if x <= xs[0] {
		return ys[0]
	}
	last := len(xs) - 1
	if x >= xs[last] {
		return ys[last]
	}
	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}
	t := (x - xs[i-1]) / (xs[i] - xs[i-1])
	return ys[i-1] + t*(ys[i]-ys[i-1])
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampF(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
