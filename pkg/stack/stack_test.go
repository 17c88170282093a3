package stack

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmiptools/internal/models"
)

// ramp returns a stack whose sample value encodes its position.
func ramp(t *testing.T, slices, height, width int) *Stack {
	t.Helper()
	s, err := New(slices, height, width)
	require.NoError(t, err)
	for z := 0; z < slices; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				s.Set(z, y, x, float64(z*10000+y*100+x))
			}
		}
	}
	return s
}

func TestSpanResolve(t *testing.T) {
	tests := []struct {
		name   string
		span   Span
		n      int
		lo, hi int
	}{
		{"full", Full(), 10, 0, 10},
		{"bounded", NewSpan(2, 5), 10, 2, 5},
		{"negative start", From(-3), 10, 7, 10},
		{"start beyond length", From(-500), 10, 0, 10},
		{"stop clamped", Until(50), 10, 0, 10},
		{"negative stop", NewSpan(1, -1), 10, 1, 9},
		{"inverted", NewSpan(6, 3), 10, 6, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := tt.span.Resolve(tt.n)
			assert.Equal(t, tt.lo, lo)
			assert.Equal(t, tt.hi, hi)
		})
	}
}

func TestSpanJSON(t *testing.T) {
	data, err := json.Marshal(From(-500))
	require.NoError(t, err)
	assert.JSONEq(t, `[-500, null]`, string(data))

	var s Span
	require.NoError(t, json.Unmarshal([]byte(`[20, 40.0]`), &s))
	assert.True(t, s.Equal(NewSpan(20, 40)))

	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.True(t, s.IsFull())

	assert.Error(t, json.Unmarshal([]byte(`[1, 2, 3]`), &s))
	assert.Error(t, json.Unmarshal([]byte(`[1.5, 2]`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"a"`), &s))
}

func TestNewRejectsInvalidShape(t *testing.T) {
	_, err := New(0, 4, 4)
	assert.Error(t, err)

	_, err = FromArray([]float64{1, 2, 3}, 1, 2, 2)
	assert.Error(t, err)
}

func TestFromSlicesEnforcesShape(t *testing.T) {
	a := models.Slice{Pixels: make([]float64, 4), Width: 2, Height: 2, BitDepth: 8}
	b := models.Slice{Pixels: make([]float64, 6), Width: 3, Height: 2, BitDepth: 8}

	_, err := FromSlices([]models.Slice{a, b})
	assert.Error(t, err)

	c := models.Slice{Pixels: make([]float64, 4), Width: 2, Height: 2, BitDepth: 16}
	s, err := FromSlices([]models.Slice{a, c})
	require.NoError(t, err)
	assert.Equal(t, Shape{Slices: 2, Height: 2, Width: 2}, s.Shape())
	assert.Equal(t, Uint16, s.Metadata.DType)
}

func TestSetSliceValidates(t *testing.T) {
	s := ramp(t, 2, 3, 3)
	assert.Error(t, s.SetSlice(2, make([]float64, 9)))
	assert.Error(t, s.SetSlice(0, make([]float64, 8)))

	require.NoError(t, s.SetSlice(1, make([]float64, 9)))
	assert.Equal(t, 0.0, s.At(1, 2, 2))
}

func TestSetDataValidates(t *testing.T) {
	s := ramp(t, 1, 2, 2)
	assert.Error(t, s.SetData(make([]float64, 5), Shape{Slices: 1, Height: 2, Width: 2}))
	require.NoError(t, s.SetData(make([]float64, 6), Shape{Slices: 1, Height: 2, Width: 3}))
	assert.Equal(t, Shape{Slices: 1, Height: 2, Width: 3}, s.Shape())
}

func TestCloneIsIndependent(t *testing.T) {
	s := ramp(t, 2, 2, 2)
	s.Metadata.Attributes = map[string]string{"k": "v"}
	c := s.Clone()

	c.Set(0, 0, 0, -1)
	c.Metadata.Attributes["k"] = "changed"

	assert.Equal(t, 0.0, s.At(0, 0, 0))
	assert.Equal(t, "v", s.Metadata.Attributes["k"])
	assert.False(t, s.Equal(c))
}

func TestRegionAndCrop(t *testing.T) {
	s := ramp(t, 4, 10, 10)

	r, err := s.Region(NewSpan(1, 3), NewSpan(2, 5), From(-2))
	require.NoError(t, err)
	assert.Equal(t, Shape{Slices: 2, Height: 3, Width: 2}, r.Shape())
	assert.Equal(t, s.At(1, 2, 8), r.At(0, 0, 0))
	assert.Equal(t, s.At(2, 4, 9), r.At(1, 2, 1))

	_, err = s.Region(Full(), NewSpan(5, 5), Full())
	assert.Error(t, err)

	require.NoError(t, s.Crop(Full(), NewSpan(0, 5), NewSpan(0, 5)))
	assert.Equal(t, Shape{Slices: 4, Height: 5, Width: 5}, s.Shape())
	assert.Equal(t, 30404.0, s.At(3, 4, 4))
}

func TestStatistics(t *testing.T) {
	s, err := FromArray([]float64{1, 2, 3, 4}, 1, 2, 2)
	require.NoError(t, err)

	st := s.Statistics()
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 4.0, st.Max)
	assert.Equal(t, 2.5, st.Mean)
	assert.Equal(t, 2.5, st.Median)
	assert.InDelta(t, 1.118034, st.Std, 1e-6)
	assert.InDelta(t, 2.0, st.Entropy, 1e-12)
}
