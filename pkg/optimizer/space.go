package optimizer

import (
	"fmt"
	"strings"
)

// Candidate is one point of a parameter space, keyed by axis name.
type Candidate map[string]any

// Float returns the named value as float64. Integers are converted.
func (c Candidate) Float(name string) float64 {
	switch v := c[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the named value as int. Floats are truncated.
func (c Candidate) Int(name string) int {
	switch v := c[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// String returns the named value as string.
func (c Candidate) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Format renders the candidate in axis order for logs.
func (c Candidate) Format(axes []Axis) string {
	parts := make([]string, 0, len(axes))
	for _, a := range axes {
		parts = append(parts, fmt.Sprintf("%s=%v", a.Name, c[a.Name]))
	}
	return strings.Join(parts, " ")
}

// WidenFunc extends the values of an axis whose winner sits on the lower
// (atLower) or upper boundary. It returns the new value list.
type WidenFunc func(values []any, atLower bool) []any

// Axis is one named dimension of a parameter space.
type Axis struct {
	Name   string
	Values []any

	// Widen is nil for axes that cannot be extended
	Widen WidenFunc
}

// Space is an ordered list of axes. Its candidates are the Cartesian
// product of the axis values with the first axis outermost.
type Space struct {
	Axes []Axis
}

// NewSpace builds a space from axes in declaration order.
func NewSpace(axes ...Axis) Space {
	return Space{Axes: axes}
}

// Size returns the number of candidates, 0 for an empty space.
func (s Space) Size() int {
	if len(s.Axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range s.Axes {
		n *= len(a.Values)
	}
	return n
}

// Candidates enumerates the space. The last axis varies fastest.
func (s Space) Candidates() []Candidate {
	total := s.Size()
	if total == 0 {
		return nil
	}
	out := make([]Candidate, 0, total)
	idx := make([]int, len(s.Axes))
	for {
		c := make(Candidate, len(s.Axes))
		for i, a := range s.Axes {
			c[a.Name] = a.Values[idx[i]]
		}
		out = append(out, c)

		// odometer increment from the last axis
		i := len(idx) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(s.Axes[i].Values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

// Values converts a typed slice into axis values.
func Values[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
