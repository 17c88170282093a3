// Package stack provides the in-memory 3D volume every correction operates on.
//
// A Stack is an ordered sequence of 2D slices sharing one height and width,
// stored as a single row-major []float64 (slice, row, column). Operations
// mutate a Stack in place; use Clone to keep an independent copy.
package stack

import (
	"fmt"

	"bmiptools/internal/models"
)

// DType names the sample type a stack was loaded from or is saved as.
type DType string

const (
	Float64 DType = "float64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
)

// BitDepth returns the number of bits of an integer dtype, 64 for floats.
func (d DType) BitDepth() int {
	switch d {
	case Uint8:
		return 8
	case Uint16:
		return 16
	default:
		return 64
	}
}

// MaxValue returns the largest representable sample of an integer dtype.
func (d DType) MaxValue() float64 {
	switch d {
	case Uint8:
		return 255
	case Uint16:
		return 65535
	default:
		return 1
	}
}

// Metadata holds provenance and acquisition information of a stack.
type Metadata struct {
	// Source is the file or folder the stack was loaded from
	Source string `json:"source,omitempty"`

	// DType is the sample type of the source data
	DType DType `json:"dtype,omitempty"`

	// Filenames lists the slice files in stack order when loaded from a folder
	Filenames []string `json:"filenames,omitempty"`

	// Attributes holds free-form acquisition information
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Shape is the (slices, height, width) extent of a stack.
type Shape struct {
	Slices int `json:"slices"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// Len returns the number of samples of the shape.
func (s Shape) Len() int {
	return s.Slices * s.Height * s.Width
}

// PlaneLen returns the number of samples in one slice.
func (s Shape) PlaneLen() int {
	return s.Height * s.Width
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Slices, s.Height, s.Width)
}

// Stack is a 3D volume of equally sized 2D slices.
type Stack struct {
	data  []float64
	shape Shape

	// Metadata is optional provenance information
	Metadata Metadata
}

// New creates a zero-filled stack with the given shape.
func New(slices, height, width int) (*Stack, error) {
	shape := Shape{Slices: slices, Height: height, Width: width}
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	return &Stack{data: make([]float64, shape.Len()), shape: shape, Metadata: Metadata{DType: Float64}}, nil
}

// FromArray creates a stack holding a copy of data, which must be laid out
// in row-major (slice, row, column) order.
func FromArray(data []float64, slices, height, width int) (*Stack, error) {
	s, err := New(slices, height, width)
	if err != nil {
		return nil, err
	}
	if len(data) != s.shape.Len() {
		return nil, fmt.Errorf("stack: data length %d does not match shape %s", len(data), s.shape)
	}
	copy(s.data, data)
	return s, nil
}

// FromPlanes creates a stack from individual slices of identical size.
func FromPlanes(planes [][]float64, height, width int) (*Stack, error) {
	s, err := New(len(planes), height, width)
	if err != nil {
		return nil, err
	}
	for i, p := range planes {
		if err := s.SetSlice(i, p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FromSlices creates a stack from loaded slices. All slices must share
// the dimensions of the first one.
func FromSlices(slices []models.Slice) (*Stack, error) {
	if len(slices) == 0 {
		return nil, fmt.Errorf("stack: no slices")
	}
	first := slices[0]
	s, err := New(len(slices), first.Height, first.Width)
	if err != nil {
		return nil, err
	}
	dtype := Uint8
	for i, sl := range slices {
		if !sl.SameShape(first) {
			return nil, fmt.Errorf("stack: slice %d (%s) is %dx%d, expected %dx%d",
				i, sl.Filename, sl.Width, sl.Height, first.Width, first.Height)
		}
		if err := s.SetSlice(i, sl.Pixels); err != nil {
			return nil, err
		}
		if sl.Filename != "" {
			s.Metadata.Filenames = append(s.Metadata.Filenames, sl.Filename)
		}
		if sl.BitDepth > 8 {
			dtype = Uint16
		}
	}
	s.Metadata.DType = dtype
	return s, nil
}

func validateShape(shape Shape) error {
	if shape.Slices <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return fmt.Errorf("stack: invalid shape %s", shape)
	}
	return nil
}

// Shape returns the current extent of the stack.
func (s *Stack) Shape() Shape {
	return s.shape
}

// Data returns the live backing array. Writes through it mutate the stack.
func (s *Stack) Data() []float64 {
	return s.data
}

// SetData replaces the whole volume. The stack keeps a reference to data.
func (s *Stack) SetData(data []float64, shape Shape) error {
	if err := validateShape(shape); err != nil {
		return err
	}
	if len(data) != shape.Len() {
		return fmt.Errorf("stack: data length %d does not match shape %s", len(data), shape)
	}
	s.data = data
	s.shape = shape
	return nil
}

// Slice returns a live view of slice i.
func (s *Stack) Slice(i int) []float64 {
	n := s.shape.PlaneLen()
	return s.data[i*n : (i+1)*n : (i+1)*n]
}

// SetSlice copies plane into slice i.
func (s *Stack) SetSlice(i int, plane []float64) error {
	if i < 0 || i >= s.shape.Slices {
		return fmt.Errorf("stack: slice index %d out of range [0,%d)", i, s.shape.Slices)
	}
	if len(plane) != s.shape.PlaneLen() {
		return fmt.Errorf("stack: slice length %d does not match %dx%d", len(plane), s.shape.Height, s.shape.Width)
	}
	copy(s.Slice(i), plane)
	return nil
}

func (s *Stack) index(z, y, x int) int {
	return z*s.shape.Height*s.shape.Width + y*s.shape.Width + x
}

// At returns the sample at slice z, row y, column x.
func (s *Stack) At(z, y, x int) float64 {
	return s.data[s.index(z, y, x)]
}

// Set assigns the sample at slice z, row y, column x.
func (s *Stack) Set(z, y, x int, v float64) {
	s.data[s.index(z, y, x)] = v
}

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	c := &Stack{
		data:     make([]float64, len(s.data)),
		shape:    s.shape,
		Metadata: s.Metadata,
	}
	copy(c.data, s.data)
	if s.Metadata.Filenames != nil {
		c.Metadata.Filenames = append([]string(nil), s.Metadata.Filenames...)
	}
	if s.Metadata.Attributes != nil {
		c.Metadata.Attributes = make(map[string]string, len(s.Metadata.Attributes))
		for k, v := range s.Metadata.Attributes {
			c.Metadata.Attributes[k] = v
		}
	}
	return c
}

// Region returns a copy of the sub-volume selected by the three spans.
// It fails if the selection is empty along any axis.
func (s *Stack) Region(z, y, x Span) (*Stack, error) {
	z0, z1 := z.Resolve(s.shape.Slices)
	y0, y1 := y.Resolve(s.shape.Height)
	x0, x1 := x.Resolve(s.shape.Width)
	if z1 <= z0 || y1 <= y0 || x1 <= x0 {
		return nil, fmt.Errorf("stack: region z%s y%s x%s is empty for shape %s", z, y, x, s.shape)
	}

	out, err := New(z1-z0, y1-y0, x1-x0)
	if err != nil {
		return nil, err
	}
	out.Metadata = s.Metadata
	out.Metadata.Filenames = nil
	if s.Metadata.Filenames != nil && len(s.Metadata.Filenames) == s.shape.Slices {
		out.Metadata.Filenames = append([]string(nil), s.Metadata.Filenames[z0:z1]...)
	}

	w := x1 - x0
	for zz := z0; zz < z1; zz++ {
		for yy := y0; yy < y1; yy++ {
			src := s.index(zz, yy, x0)
			dst := out.index(zz-z0, yy-y0, 0)
			copy(out.data[dst:dst+w], s.data[src:src+w])
		}
	}
	return out, nil
}

// Crop restricts the stack in place to the sub-volume selected by the spans.
func (s *Stack) Crop(z, y, x Span) error {
	r, err := s.Region(z, y, x)
	if err != nil {
		return err
	}
	s.data = r.data
	s.shape = r.shape
	s.Metadata.Filenames = r.Metadata.Filenames
	return nil
}

// Equal reports whether two stacks have the same shape and samples.
func (s *Stack) Equal(o *Stack) bool {
	if s.shape != o.shape {
		return false
	}
	for i := range s.data {
		if s.data[i] != o.data[i] {
			return false
		}
	}
	return true
}
