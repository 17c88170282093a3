package stack

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"

	"bmiptools/internal/models"
	"bmiptools/pkg/metrics"
)

// SupportedExtensions lists the slice image formats LoadFolder reads.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// SaveMode selects how a stack is written to disk.
type SaveMode string

const (
	// SliceBySlice writes one PNG per slice
	SliceBySlice SaveMode = "slice_by_slice"
	// Whole writes one raw little-endian volume plus a JSON header
	Whole SaveMode = "whole"
)

// LoadOptions controls LoadFolder.
type LoadOptions struct {
	// Slices restricts loading to these positions of the sorted file list.
	// Nil loads every slice.
	Slices []int

	// Extension restricts loading to one file extension (".tiff"). Empty
	// accepts every supported extension.
	Extension string
}

// SaveOptions controls Stack.Save.
type SaveOptions struct {
	// DataType is the on-disk sample type. Empty uses the stack's source
	// dtype, falling back to uint8.
	DataType DType

	// Standardized rescales the stack's [min, max] onto the full dtype range
	// instead of clipping.
	Standardized bool

	Mode SaveMode

	// SaveMetadata writes <name>_metadata.json next to the slices
	SaveMetadata bool
}

// volumeHeader describes a raw volume written in Whole mode.
type volumeHeader struct {
	Data      string    `json:"data"`
	Shape     Shape     `json:"shape"`
	DType     DType     `json:"dtype"`
	ByteOrder string    `json:"byte_order"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// LoadFolder reads every slice image of a folder into a stack. Files are
// ordered by the number embedded in their name (slice_2.png before
// slice_10.png).
func LoadFolder(path string, opts LoadOptions) (*Stack, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(opts.Extension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	var imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fe := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != "" && fe != ext {
			continue
		}
		if isSupported(fe) {
			imageFiles = append(imageFiles, entry.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", path)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI := extractNumber(imageFiles[i])
		numJ := extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})

	if opts.Slices != nil {
		selected := make([]string, 0, len(opts.Slices))
		for _, idx := range opts.Slices {
			if idx < 0 || idx >= len(imageFiles) {
				return nil, fmt.Errorf("slice index %d out of range [0,%d)", idx, len(imageFiles))
			}
			selected = append(selected, imageFiles[idx])
		}
		imageFiles = selected
	}

	slices := make([]models.Slice, 0, len(imageFiles))
	for i, filename := range imageFiles {
		sl, err := loadSlice(filepath.Join(path, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", filename, err)
		}
		sl.Index = i
		slices = append(slices, sl)
	}

	s, err := FromSlices(slices)
	if err != nil {
		return nil, err
	}
	s.Metadata.Source = path
	return s, nil
}

// LoadFile reads a stack from a single file: a slice image, or a volume
// written in Whole mode (either its .raw data or its .json header).
func LoadFile(path string) (*Stack, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".raw":
		return loadVolume(strings.TrimSuffix(path, filepath.Ext(path)) + ".json")
	case ext == ".json":
		return loadVolume(path)
	case isSupported(ext):
		sl, err := loadSlice(path)
		if err != nil {
			return nil, err
		}
		s, err := FromSlices([]models.Slice{sl})
		if err != nil {
			return nil, err
		}
		s.Metadata.Source = path
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported stack file %s", path)
	}
}

func isSupported(ext string) bool {
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

func loadSlice(path string) (models.Slice, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Slice{}, err
	}
	defer file.Close()

	img, _, err := image.Decode(bufio.NewReader(file))
	if err != nil {
		return models.Slice{}, err
	}

	pixels, depth := imageToFloat(img)
	bounds := img.Bounds()
	return models.Slice{
		Pixels:   pixels,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Filename: filepath.Base(path),
		BitDepth: depth,
	}, nil
}

// imageToFloat converts an image to grey-level samples in the native range
// of its bit depth (0-255 or 0-65535).
func imageToFloat(img image.Image) ([]float64, int) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return result, 8
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return result, 16
	}

	depth := 8
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64:
		depth = 16
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			v := float64(g.Y)
			if depth == 8 {
				v = math.Round(v / 257)
			}
			result[y*width+x] = v
		}
	}
	return result, depth
}

// floatToImage converts one slice to a grey image of the requested dtype.
func floatToImage(data []float64, width, height int, dtype DType, scale func(float64) float64) image.Image {
	if dtype == Uint16 {
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(scale(data[y*width+x]))})
			}
		}
		return img
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(scale(data[y*width+x]))})
		}
	}
	return img
}

// Save writes the stack under dir using name as the file prefix.
func (s *Stack) Save(dir, name string, opts SaveOptions) error {
	if name == "" {
		return fmt.Errorf("save: empty name")
	}
	dtype := opts.DataType
	if dtype == "" {
		dtype = s.Metadata.DType
		if dtype == "" || dtype == Float64 {
			dtype = Uint8
		}
	}
	mode := opts.Mode
	if mode == "" {
		mode = SliceBySlice
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	scale := s.sampleScaler(dtype, opts.Standardized)
	switch mode {
	case SliceBySlice:
		if dtype != Uint8 && dtype != Uint16 {
			return fmt.Errorf("save: %s mode does not support dtype %s", mode, dtype)
		}
		if err := s.saveSlices(dir, name, dtype, scale); err != nil {
			return err
		}
		if opts.SaveMetadata {
			return writeJSON(filepath.Join(dir, name+"_metadata.json"), s.Metadata)
		}
		return nil
	case Whole:
		return s.saveVolume(dir, name, dtype, scale, opts.SaveMetadata)
	default:
		return fmt.Errorf("save: unknown mode %q", mode)
	}
}

// sampleScaler maps stack samples onto the representable range of dtype.
func (s *Stack) sampleScaler(dtype DType, standardized bool) func(float64) float64 {
	if dtype == Float64 {
		return func(v float64) float64 { return v }
	}
	top := dtype.MaxValue()
	if standardized {
		min, max := metrics.MinMax(s.data)
		span := max - min
		return func(v float64) float64 {
			if span == 0 {
				return 0
			}
			return math.Round((v - min) / span * top)
		}
	}
	return func(v float64) float64 {
		return math.Round(math.Max(0, math.Min(top, v)))
	}
}

func (s *Stack) saveSlices(dir, name string, dtype DType, scale func(float64) float64) error {
	for i := 0; i < s.shape.Slices; i++ {
		img := floatToImage(s.Slice(i), s.shape.Width, s.shape.Height, dtype, scale)
		filename := filepath.Join(dir, fmt.Sprintf("%s_%04d.png", name, i))
		if err := savePNG(filename, img); err != nil {
			return err
		}
	}
	return nil
}

func savePNG(filename string, img image.Image) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

func (s *Stack) saveVolume(dir, name string, dtype DType, scale func(float64) float64, withMetadata bool) error {
	header := volumeHeader{
		Data:      name + ".raw",
		Shape:     s.shape,
		DType:     dtype,
		ByteOrder: "little",
	}
	if withMetadata {
		md := s.Metadata
		header.Metadata = &md
	}

	file, err := os.Create(filepath.Join(dir, header.Data))
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	switch dtype {
	case Uint8:
		out := make([]uint8, len(s.data))
		for i, v := range s.data {
			out[i] = uint8(scale(v))
		}
		err = binary.Write(w, binary.LittleEndian, out)
	case Uint16:
		out := make([]uint16, len(s.data))
		for i, v := range s.data {
			out[i] = uint16(scale(v))
		}
		err = binary.Write(w, binary.LittleEndian, out)
	case Float64:
		err = binary.Write(w, binary.LittleEndian, s.data)
	default:
		return fmt.Errorf("save: unknown dtype %q", dtype)
	}
	if err != nil {
		return fmt.Errorf("failed to write volume: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	return writeJSON(filepath.Join(dir, name+".json"), header)
}

func loadVolume(headerPath string) (*Stack, error) {
	raw, err := os.ReadFile(headerPath)
	if err != nil {
		return nil, err
	}
	var header volumeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("invalid volume header %s: %w", headerPath, err)
	}
	if header.ByteOrder != "" && header.ByteOrder != "little" {
		return nil, fmt.Errorf("unsupported byte order %q", header.ByteOrder)
	}

	file, err := os.Open(filepath.Join(filepath.Dir(headerPath), header.Data))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := bufio.NewReader(file)

	n := header.Shape.Len()
	data := make([]float64, n)
	switch header.DType {
	case Uint8:
		in := make([]uint8, n)
		err = binary.Read(r, binary.LittleEndian, in)
		for i, v := range in {
			data[i] = float64(v)
		}
	case Uint16:
		in := make([]uint16, n)
		err = binary.Read(r, binary.LittleEndian, in)
		for i, v := range in {
			data[i] = float64(v)
		}
	case Float64:
		err = binary.Read(r, binary.LittleEndian, data)
	default:
		return nil, fmt.Errorf("unknown dtype %q in %s", header.DType, headerPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read volume: %w", err)
	}

	s, err := FromArray(data, header.Shape.Slices, header.Shape.Height, header.Shape.Width)
	if err != nil {
		return nil, err
	}
	if header.Metadata != nil {
		s.Metadata = *header.Metadata
	}
	s.Metadata.DType = header.DType
	s.Metadata.Source = headerPath
	return s, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
