package flood

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

// Bucket is one histogram bin: how many samples fell in it and their mean.
type Bucket struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
}

// Histogram is a discretized intensity distribution, buckets ordered by
// increasing mean.
type Histogram struct {
	Buckets []Bucket `json:"buckets"`
	Min     float64  `json:"min"`
	Width   float64  `json:"bucket_width"`

	// Diagnostics, not used by the solver.
	Samples  int64   `json:"samples"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Scale    float64 `json:"scale"`

	Approximation *ApproximationAppliedWarning `json:"approximation,omitempty"`
}

// NonEmpty returns the number of buckets holding at least one sample.
func (h *Histogram) NonEmpty() int {
	n := 0
	for _, b := range h.Buckets {
		if b.Count > 0 {
			n++
		}
	}
	return n
}

// BuildHistogram samples r over aoi and bins the valid values.
func BuildHistogram(ctx context.Context, r *raster.Raster, aoi region.Region, opts HistogramOptions) (*Histogram, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "flood: histogram")
	}

	factor := scaleFactor(r.Scale(), opts.Scale)
	factor, warn, err := fitBudget("histogram", r.Grid(), aoi, factor, opts.BestEffort, opts.MaxPixels)
	if err != nil {
		return nil, err
	}
	sampled := r.Coarsen(factor, raster.Mean)

	cells := aoi.Footprint(sampled.Grid())
	values := make([]float64, 0, len(cells))
	for _, c := range cells {
		if v, ok := sampled.Index(c); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, &InsufficientSamplesError{Region: aoi.ID}
	}

	lo, hi := sampleRange(values)
	if opts.Range != nil {
		lo, hi = opts.Range[0], opts.Range[1]
	}
	if hi <= lo {
		hi = lo + 1
	}

	n := opts.BucketCount
	var buckets []Bucket
	for {
		var peak int64
		buckets, peak = bin(values, lo, hi, n)
		if float64(peak) <= skewedBucketShareTrigger*float64(len(values)) || n >= opts.MaxBuckets {
			break
		}
		n = min(n*histogramRebuildIncrement, opts.MaxBuckets)
	}

	mean, variance := stat.MeanVariance(values, nil)
	if len(values) < 2 {
		variance = 0
	}

	h := &Histogram{
		Buckets:       buckets,
		Min:           lo,
		Width:         (hi - lo) / float64(len(buckets)),
		Samples:       int64(len(values)),
		Mean:          mean,
		Variance:      variance,
		Scale:         sampled.Scale(),
		Approximation: warn,
	}

	zap.L().Debug("flood: built histogram",
		zap.String("region", aoi.ID),
		zap.Int("buckets", len(buckets)),
		zap.Int("non_empty", h.NonEmpty()),
		zap.Int64("samples", h.Samples),
		zap.Float64("scale", h.Scale),
		zap.Bool("approximated", warn != nil),
	)
	return h, nil
}

func sampleRange(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// bin counts values into n equal-width buckets over [lo, hi]. Values outside
// the span land in the edge buckets. It returns the largest bucket count.
func bin(values []float64, lo, hi float64, n int) ([]Bucket, int64) {
	width := (hi - lo) / float64(n)
	sums := make([]float64, n)
	buckets := make([]Bucket, n)
	for _, v := range values {
		i := int(math.Floor((v - lo) / width))
		i = max(0, min(i, n-1))
		buckets[i].Count++
		sums[i] += v
	}

	var peak int64
	for i := range buckets {
		if buckets[i].Count == 0 {
			buckets[i].Mean = lo + (float64(i)+0.5)*width
			continue
		}
		buckets[i].Mean = sums[i] / float64(buckets[i].Count)
		peak = max(peak, buckets[i].Count)
	}
	return buckets, peak
}
