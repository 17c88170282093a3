package stack

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"bmiptools/pkg/metrics"
)

// Statistics summarizes the sample distribution of a stack.
type Statistics struct {
	Shape   Shape   `json:"shape"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Median  float64 `json:"median"`
	Entropy float64 `json:"entropy"`
}

// Statistics computes the summary over every sample of the stack.
func (s *Stack) Statistics() Statistics {
	st := Statistics{Shape: s.shape}
	if len(s.data) == 0 {
		return st
	}

	st.Min, st.Max = metrics.MinMax(s.data)
	st.Mean, st.Std = stat.PopMeanStdDev(s.data, nil)

	sorted := make([]float64, len(s.data))
	copy(sorted, s.data)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		st.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		st.Median = sorted[n/2]
	}

	st.Entropy = metrics.Entropy(s.data)
	return st
}
