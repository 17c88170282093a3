package optimizer

import (
	"fmt"
	"math"
)

// maxValues bounds every generated range.
const maxValues = 10000

// Arange returns start, start+step, ... strictly below stop. Values are
// rounded to 1e-9 to avoid floating point accumulation. It returns nil for a
// non-positive step, an empty interval, or more than maxValues values.
func Arange(start, stop, step float64) []float64 {
	if step <= 0 || !(start < stop) {
		return nil
	}

	expectedCount := int(math.Ceil((stop - start) / step))
	if expectedCount > maxValues || expectedCount < 0 {
		return nil
	}

	result := make([]float64, 0, expectedCount)
	for i := 0; i < expectedCount; i++ {
		v := math.Round((start+float64(i)*step)*1e9) / 1e9
		if v >= stop {
			break
		}
		result = append(result, v)
	}
	return result
}

// ArangeInt returns start, start+step, ... strictly below stop.
func ArangeInt(start, stop, step int) []int {
	if step <= 0 || start >= stop {
		return nil
	}
	expectedCount := (stop - start + step - 1) / step
	if expectedCount > maxValues {
		return nil
	}
	result := make([]int, 0, expectedCount)
	for v := start; v < stop; v += step {
		result = append(result, v)
	}
	return result
}

// IntRange returns the inclusive integer range [min, max].
func IntRange(min, max int) []int {
	if min > max {
		return nil
	}
	return ArangeInt(min, max+1, 1)
}

// Triplet is a [start, stop, step] range as written in plugin dictionaries.
type Triplet [3]float64

// Validate checks that the triplet generates at least one value.
func (t Triplet) Validate() error {
	if t[2] <= 0 {
		return fmt.Errorf("step must be positive, got %v", t[2])
	}
	if !(t[0] < t[1]) {
		return fmt.Errorf("start %v must be below stop %v", t[0], t[1])
	}
	if len(Arange(t[0], t[1], t[2])) == 0 {
		return fmt.Errorf("range [%v, %v, %v] generates no values", t[0], t[1], t[2])
	}
	return nil
}

// Values expands the triplet with Arange.
func (t Triplet) Values() []float64 {
	return Arange(t[0], t[1], t[2])
}
