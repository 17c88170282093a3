// Package metrics provides the image quality measures used by the
// optimization losses and by stack statistics.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// EntropyBins is the histogram resolution used by Entropy and MutualInformation.
const EntropyBins = 256

// RMSE computes the root mean square error between two equally sized signals.
// It returns 0 when the lengths differ or the inputs are empty.
func RMSE(original, processed []float64) float64 {
	n := len(original)
	if n != len(processed) || n == 0 {
		return 0
	}

	mse := 0.0
	for i := 0; i < n; i++ {
		diff := original[i] - processed[i]
		mse += diff * diff
	}
	mse /= float64(n)

	return math.Sqrt(mse)
}

// MeanAbsDiff computes the mean absolute difference between two signals.
func MeanAbsDiff(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(n)
}

// MeanAbs computes the mean absolute value of a signal.
func MeanAbs(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range a {
		sum += math.Abs(v)
	}
	return sum / float64(len(a))
}

// SSIM computes a global structural similarity index between two signals.
// dynamicRange is the expected value range of the data (1 for normalized data).
func SSIM(original, processed []float64, dynamicRange float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(processed) || n == 0 {
		return 0
	}
	if dynamicRange <= 0 {
		dynamicRange = 1
	}

	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(processed, nil)

	var sigmaX, sigmaY, sigmaXY float64
	if n > 1 {
		sigmaX = stat.Variance(original, nil)
		sigmaY = stat.Variance(processed, nil)
		sigmaXY = stat.Covariance(original, processed, nil)
	}

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)

	if den > 0 {
		return num / den
	}
	return 0
}

// Entropy computes the Shannon entropy (bits) of the data's 256-bin histogram.
func Entropy(data []float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	min, max := MinMax(data)
	if max <= min {
		return 0
	}

	hist := make([]float64, EntropyBins)
	binWidth := (max - min) / float64(EntropyBins)
	for _, v := range data {
		hist[binIndex(v, min, binWidth, EntropyBins)]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// EntropyDifference returns |H(original) - H(processed)|.
func EntropyDifference(original, processed []float64) float64 {
	if len(original) != len(processed) || len(original) == 0 {
		return 0
	}
	return math.Abs(Entropy(original) - Entropy(processed))
}

// MutualInformation computes the histogram based mutual information (bits)
// between two equally sized signals, using a joint histogram with bins
// cells per axis.
func MutualInformation(a, b []float64, bins int) float64 {
	n := len(a)
	if n != len(b) || n == 0 {
		return 0
	}
	if bins <= 0 {
		bins = 32
	}
	minA, maxA := MinMax(a)
	minB, maxB := MinMax(b)
	if maxA <= minA || maxB <= minB {
		return 0
	}
	wA := (maxA - minA) / float64(bins)
	wB := (maxB - minB) / float64(bins)

	joint := make([]float64, bins*bins)
	pa := make([]float64, bins)
	pb := make([]float64, bins)
	for i := 0; i < n; i++ {
		ia := binIndex(a[i], minA, wA, bins)
		ib := binIndex(b[i], minB, wB, bins)
		joint[ia*bins+ib]++
		pa[ia]++
		pb[ib]++
	}

	total := float64(n)
	mi := 0.0
	for i := 0; i < bins; i++ {
		for j := 0; j < bins; j++ {
			pxy := joint[i*bins+j] / total
			if pxy == 0 {
				continue
			}
			mi += pxy * math.Log2(pxy/((pa[i]/total)*(pb[j]/total)))
		}
	}
	return mi
}

func binIndex(v, min, width float64, bins int) int {
	idx := int((v - min) / width)
	if idx >= bins {
		idx = bins - 1
	} else if idx < 0 {
		idx = 0
	}
	return idx
}

// MinMax returns the minimum and maximum values of data, or (0, 0) when empty.
func MinMax(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0, 0
	}
	return floats.Min(data), floats.Max(data)
}

// Median calculates the median of data without modifying it.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
