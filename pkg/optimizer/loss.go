package optimizer

// Term is one weighted component of a composite loss.
type Term struct {
	Name   string
	Weight float64
	Value  float64
}

// Weighted returns the weighted sum of terms.
func Weighted(terms ...Term) float64 {
	total := 0.0
	for _, t := range terms {
		total += t.Weight * t.Value
	}
	return total
}

// MeanLoss averages per-slice losses. It returns 0 for no slices.
func MeanLoss(losses []float64) float64 {
	if len(losses) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(losses))
}
