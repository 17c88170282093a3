package stack

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Span is a half-open index range [Start, Stop) along one axis.
//
// Either end may be nil, meaning unbounded on that side. Negative values
// count from the end of the axis, the same way slice expressions do in
// array languages, and out-of-range values are clamped. In JSON a Span is
// a two-element array whose elements may be null: [20, 40], [-500, null].
type Span struct {
	Start *int
	Stop  *int
}

// NewSpan returns the span [start, stop).
func NewSpan(start, stop int) Span {
	return Span{Start: &start, Stop: &stop}
}

// From returns the span [start, end of axis).
func From(start int) Span {
	return Span{Start: &start}
}

// Until returns the span [0, stop).
func Until(stop int) Span {
	return Span{Stop: &stop}
}

// Full returns the unbounded span.
func Full() Span {
	return Span{}
}

// IsFull reports whether both ends are unbounded.
func (s Span) IsFull() bool {
	return s.Start == nil && s.Stop == nil
}

// Resolve maps the span onto an axis of length n and returns the concrete
// bounds. The result always satisfies 0 <= lo <= hi <= n.
func (s Span) Resolve(n int) (lo, hi int) {
	lo = resolveBound(s.Start, n, 0)
	hi = resolveBound(s.Stop, n, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Len returns the number of indices the span selects on an axis of length n.
func (s Span) Len(n int) int {
	lo, hi := s.Resolve(n)
	return hi - lo
}

func resolveBound(v *int, n, fallback int) int {
	if v == nil {
		return fallback
	}
	b := *v
	if b < 0 {
		b += n
		if b < 0 {
			b = 0
		}
	}
	if b > n {
		b = n
	}
	return b
}

// Equal reports whether two spans have the same bounds.
func (s Span) Equal(o Span) bool {
	return ptrEqual(s.Start, o.Start) && ptrEqual(s.Stop, o.Stop)
}

func ptrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s Span) String() string {
	return fmt.Sprintf("[%s:%s]", boundString(s.Start), boundString(s.Stop))
}

func boundString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// MarshalJSON encodes the span as [start, stop].
func (s Span) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*int{s.Start, s.Stop})
}

// UnmarshalJSON accepts null or a two-element array of integers or nulls.
// Integral floats are accepted since dictionaries carry numbers as float64.
func (s *Span) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Span{}
		return nil
	}
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("span: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("span: expected [start, stop], got %d elements", len(raw))
	}
	start, err := toIntPtr(raw[0])
	if err != nil {
		return err
	}
	stop, err := toIntPtr(raw[1])
	if err != nil {
		return err
	}
	*s = Span{Start: start, Stop: stop}
	return nil
}

func toIntPtr(f *float64) (*int, error) {
	if f == nil {
		return nil, nil
	}
	if *f != math.Trunc(*f) || math.IsInf(*f, 0) {
		return nil, fmt.Errorf("span: bound %v is not an integer", *f)
	}
	v := int(*f)
	return &v, nil
}
