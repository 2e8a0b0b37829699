package flood

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Threshold is the intensity that best separates a histogram into two classes.
type Threshold struct {
	Value float64 `json:"value"`
	// Split is the number of buckets in the lower class.
	Split int `json:"split"`
	// Variance is the between-class variance at Split.
	Variance float64 `json:"between_class_variance"`
}

// SolveThreshold applies Otsu's method to a bucketed histogram. Buckets
// 1..k form the lower class for each candidate split k; the split with the
// largest between-class variance wins, the highest k on exact ties. The
// returned value is the mean of bucket k.
func SolveThreshold(h *Histogram) (Threshold, error) {
	curve := VarianceCurve(h)

	best := -1
	for k, v := range curve {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v >= curve[best] {
			best = k
		}
	}
	if best < 0 {
		return Threshold{}, &DegenerateHistogramError{NonEmptyBuckets: h.NonEmpty()}
	}

	return Threshold{
		Value:    h.Buckets[best].Mean,
		Split:    best + 1,
		Variance: curve[best],
	}, nil
}

// VarianceCurve returns the between-class variance for every split, indexed
// by the last bucket of the lower class. Splits leaving a class empty are NaN.
func VarianceCurve(h *Histogram) []float64 {
	n := len(h.Buckets)
	if n == 0 {
		return nil
	}

	counts := make([]float64, n)
	weighted := make([]float64, n)
	for i, b := range h.Buckets {
		counts[i] = float64(b.Count)
		weighted[i] = float64(b.Count) * b.Mean
	}
	cumCounts := floats.CumSum(make([]float64, n), counts)
	cumSums := floats.CumSum(make([]float64, n), weighted)

	total := cumCounts[n-1]
	globalSum := cumSums[n-1]
	curve := make([]float64, n)
	if total == 0 {
		for k := range curve {
			curve[k] = math.NaN()
		}
		return curve
	}
	globalMean := globalSum / total

	for k := range curve {
		countA := cumCounts[k]
		countB := total - countA
		if countA == 0 || countB == 0 {
			curve[k] = math.NaN()
			continue
		}
		meanA := cumSums[k] / countA
		meanB := (globalSum - countA*meanA) / countB
		da, db := meanA-globalMean, meanB-globalMean
		curve[k] = countA*da*da + countB*db*db
	}
	return curve
}
