package stack

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGray(t *testing.T, path string, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.SetGray(x, y, color.Gray{Y: value})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadFolderSortsNumerically(t *testing.T) {
	dir := t.TempDir()
	writeGray(t, filepath.Join(dir, "slice_10.png"), 30)
	writeGray(t, filepath.Join(dir, "slice_2.png"), 20)
	writeGray(t, filepath.Join(dir, "slice_1.png"), 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	s, err := LoadFolder(dir, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, Shape{Slices: 3, Height: 2, Width: 3}, s.Shape())
	assert.Equal(t, 10.0, s.At(0, 0, 0))
	assert.Equal(t, 20.0, s.At(1, 1, 2))
	assert.Equal(t, 30.0, s.At(2, 0, 1))
	assert.Equal(t, []string{"slice_1.png", "slice_2.png", "slice_10.png"}, s.Metadata.Filenames)
	assert.Equal(t, Uint8, s.Metadata.DType)

	sub, err := LoadFolder(dir, LoadOptions{Slices: []int{2, 0}, Extension: "png"})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Shape().Slices)
	assert.Equal(t, 30.0, sub.At(0, 0, 0))

	_, err = LoadFolder(dir, LoadOptions{Slices: []int{3}})
	assert.Error(t, err)

	_, err = LoadFolder(dir, LoadOptions{Extension: ".tiff"})
	assert.Error(t, err)
}

func TestSaveSliceBySliceRoundTrip(t *testing.T) {
	s := ramp(t, 2, 3, 4)
	for i := range s.Data() {
		s.Data()[i] = float64(i * 5)
	}
	dir := t.TempDir()

	require.NoError(t, s.Save(dir, "out", SaveOptions{DataType: Uint16, SaveMetadata: true}))
	assert.FileExists(t, filepath.Join(dir, "out_metadata.json"))

	loaded, err := LoadFolder(dir, LoadOptions{Extension: ".png"})
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded))
	assert.Equal(t, Uint16, loaded.Metadata.DType)
}

func TestSaveClipsAndStandardizes(t *testing.T) {
	s, err := FromArray([]float64{-10, 0, 100, 400}, 1, 2, 2)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, s.Save(dir, "clip", SaveOptions{DataType: Uint8}))
	clipped, err := LoadFile(filepath.Join(dir, "clip_0000.png"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 100, 255}, clipped.Data())

	require.NoError(t, s.Save(dir, "std", SaveOptions{DataType: Uint8, Standardized: true}))
	std, err := LoadFile(filepath.Join(dir, "std_0000.png"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, std.Data()[0])
	assert.Equal(t, 255.0, std.Data()[3])
}

func TestSaveWholeRoundTrip(t *testing.T) {
	s := ramp(t, 3, 4, 5)
	s.Data()[7] = 0.25
	dir := t.TempDir()

	require.NoError(t, s.Save(dir, "vol", SaveOptions{DataType: Float64, Mode: Whole, SaveMetadata: true}))

	loaded, err := LoadFile(filepath.Join(dir, "vol.raw"))
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded))
	assert.Equal(t, Float64, loaded.Metadata.DType)

	fromHeader, err := LoadFile(filepath.Join(dir, "vol.json"))
	require.NoError(t, err)
	assert.True(t, s.Equal(fromHeader))
}

func TestSaveRejectsFloatSlices(t *testing.T) {
	s := ramp(t, 1, 2, 2)
	err := s.Save(t.TempDir(), "f", SaveOptions{DataType: Float64, Mode: SliceBySlice})
	assert.Error(t, err)

	err = s.Save(t.TempDir(), "f", SaveOptions{Mode: "bogus"})
	assert.Error(t, err)
}

func TestExtractNumber(t *testing.T) {
	assert.Equal(t, 12, extractNumber("img_12.png"))
	assert.Equal(t, 0, extractNumber("plain.png"))
}
