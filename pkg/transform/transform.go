// Package transform holds the closed set of stack corrections.
//
// Geometric: Cropper, Affine. Intensity: Standardizer, HistogramMatcher,
// Equalizer. Alignment: Registrator. Restoration: Destriper, Decharger,
// Flatter, Denoiser. The restoration plugins are optimizable: with
// auto_optimize enabled they search their parameter space on a bounding-box
// sample of the stack, commit the winner into transformation_parameters and
// then transform every slice.
package transform

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"bmiptools/pkg/filters"
	"bmiptools/pkg/metrics"
	"bmiptools/pkg/optimizer"
)

// Operation names.
const (
	NameCropper          = "Cropper"
	NameStandardizer     = "Standardizer"
	NameHistogramMatcher = "HistogramMatcher"
	NameEqualizer        = "Equalizer"
	NameAffine           = "Affine"
	NameRegistrator      = "Registrator"
	NameDestriper        = "Destriper"
	NameDecharger        = "Decharger"
	NameFlatter          = "Flatter"
	NameDenoiser         = "Denoiser"
)

const lossEpsilon = 1e-12

// flatnessTerm measures the low-frequency variation left in corrected
// relative to the input contrast.
func flatnessTerm(input, corrected filters.Image, sigma float64) float64 {
	bg := filters.GaussianBlur(corrected, sigma)
	return stat.PopStdDev(bg.Pix, nil) / (stat.PopStdDev(input.Pix, nil) + lossEpsilon)
}

// fidelityTerm measures how much fine detail the correction altered.
func fidelityTerm(input, corrected filters.Image) float64 {
	in := filters.Subtract(input, filters.GaussianBlur(input, 1))
	out := filters.Subtract(corrected, filters.GaussianBlur(corrected, 1))
	return metrics.MeanAbsDiff(in.Pix, out.Pix) / (stat.PopStdDev(input.Pix, nil) + lossEpsilon)
}

// backgroundLoss is the loss shared by the background removal plugins.
func backgroundLoss(input, corrected filters.Image, sigma float64) float64 {
	return optimizer.Weighted(
		optimizer.Term{Name: "flatness", Weight: 1, Value: flatnessTerm(input, corrected, sigma)},
		optimizer.Term{Name: "fidelity", Weight: 1, Value: fidelityTerm(input, corrected)},
	)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// searchRecord keeps the most recent parameter search of an optimizable
// plugin.
type searchRecord struct {
	last *optimizer.Result
}

func (r *searchRecord) LastOptimization() *optimizer.Result { return r.last }
