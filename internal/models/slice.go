package models

// Slice represents a single 2D plane of a stack as read from disk
type Slice struct {
	// Pixels is the plane data in row-major order
	Pixels []float64

	// Width and Height are the plane dimensions in pixels
	Width  int
	Height int

	// Index is the position of this slice in the sequence
	Index int

	// Filename is the original filename of the slice
	Filename string

	// BitDepth is the sample depth of the source image (8, 16 or 64 for float data)
	BitDepth int
}

// Len returns the number of pixels in the slice
func (s Slice) Len() int {
	return s.Width * s.Height
}

// SameShape reports whether two slices have identical dimensions
func (s Slice) SameShape(o Slice) bool {
	return s.Width == o.Width && s.Height == o.Height
}
