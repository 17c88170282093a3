package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMSE(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 0},
		{"constant offset", []float64{0, 0, 0, 0}, []float64{2, 2, 2, 2}, 2},
		{"length mismatch", []float64{1, 2}, []float64{1}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RMSE(tt.a, tt.b), 1e-12)
		})
	}
}

func TestSSIM(t *testing.T) {
	a := []float64{0.1, 0.5, 0.9, 0.3, 0.7}
	assert.InDelta(t, 1.0, SSIM(a, a, 1), 1e-9)

	inverted := make([]float64, len(a))
	for i, v := range a {
		inverted[i] = 1 - v
	}
	assert.Less(t, SSIM(a, inverted, 1), 0.5)
	assert.Equal(t, 0.0, SSIM(a, a[:2], 1))
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy([]float64{3, 3, 3}))
	assert.Equal(t, 0.0, Entropy(nil))

	// Two equally populated values give one bit.
	assert.InDelta(t, 1.0, Entropy([]float64{0, 1, 0, 1}), 1e-12)
}

func TestMutualInformation(t *testing.T) {
	a := []float64{0, 1, 0, 1, 0, 1, 0, 1}
	assert.InDelta(t, 1.0, MutualInformation(a, a, 2), 1e-12)

	b := []float64{0, 0, 1, 1, 0, 0, 1, 1}
	assert.InDelta(t, 0.0, MutualInformation(a, b, 2), 1e-12)
}

func TestMedianAndMinMax(t *testing.T) {
	data := []float64{5, 1, 4, 2}
	assert.Equal(t, 3.0, Median(data))
	assert.Equal(t, []float64{5, 1, 4, 2}, data, "median must not reorder input")
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))

	min, max := MinMax(data)
	assert.Equal(t, 1.0, min)
	assert.Equal(t, 5.0, max)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}

func TestMeanAbs(t *testing.T) {
	assert.Equal(t, 2.0, MeanAbs([]float64{-2, 2}))
	assert.Equal(t, 1.0, MeanAbsDiff([]float64{0, 2}, []float64{1, 1}))
}
