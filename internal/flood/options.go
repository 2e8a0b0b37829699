// Package flood implements unsupervised flood mapping from SAR backscatter:
// preprocessing, histogram construction, Otsu thresholding, classification and
// population-weighted zonal aggregation.
package flood

import (
	"github.com/rotisserie/eris"
)

// Polarity selects which side of the threshold is flood.
type Polarity string

const (
	// LowIsFlood marks cells below the threshold (smooth open water) as flood.
	LowIsFlood Polarity = "lowIsFlood"
	// HighIsFlood marks cells at or above the threshold as flood.
	HighIsFlood Polarity = "highIsFlood"
)

// ParsePolarity validates a polarity name.
func ParsePolarity(s string) (Polarity, error) {
	switch Polarity(s) {
	case LowIsFlood, HighIsFlood:
		return Polarity(s), nil
	}
	return "", eris.Errorf("flood: unknown polarity %q", s)
}

// Native requests aggregation at the weight raster's own resolution.
const Native = 0

// Default settings, taken from the Sentinel-1 workflow this tool reproduces.
const (
	DefaultSpeckleRadius      = 30.0
	DefaultSeasonalThreshold  = -16.0
	DefaultLandValue          = 1.0
	DefaultBucketCount        = 255
	DefaultMaxBuckets         = 1024
	DefaultHistogramScale     = 30.0
	DefaultMaxPixels          = 10_000_000
	DefaultZonalConcurrency   = 4
	skewedBucketShareTrigger  = 0.5
	histogramRebuildIncrement = 2
)

// PreprocessOptions configures masking and speckle filtering.
type PreprocessOptions struct {
	LandValue           float64
	SpeckleFilterRadius float64
	SeasonalThresholdDb float64
}

// HistogramOptions configures histogram construction.
type HistogramOptions struct {
	BucketCount int
	MaxBuckets  int
	Scale       float64
	BestEffort  bool
	MaxPixels   int
	// Range fixes the bucket span; nil uses the sample min/max.
	Range *[2]float64
}

// ZonalOptions configures zonal aggregation.
type ZonalOptions struct {
	Scale       float64
	BestEffort  bool
	MaxPixels   int
	Concurrency int
}

// Options is the validated configuration of one assessment.
type Options struct {
	Preprocess PreprocessOptions
	Histogram  HistogramOptions
	Zonal      ZonalOptions
	Polarity   Polarity
}

// DefaultOptions returns the settings of the reference workflow.
func DefaultOptions() Options {
	return Options{
		Preprocess: PreprocessOptions{
			LandValue:           DefaultLandValue,
			SpeckleFilterRadius: DefaultSpeckleRadius,
			SeasonalThresholdDb: DefaultSeasonalThreshold,
		},
		Histogram: HistogramOptions{
			BucketCount: DefaultBucketCount,
			MaxBuckets:  DefaultMaxBuckets,
			Scale:       DefaultHistogramScale,
			BestEffort:  true,
			MaxPixels:   DefaultMaxPixels,
		},
		Zonal: ZonalOptions{
			Scale:       Native,
			BestEffort:  true,
			MaxPixels:   DefaultMaxPixels,
			Concurrency: DefaultZonalConcurrency,
		},
		Polarity: LowIsFlood,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if o.Preprocess.SpeckleFilterRadius < 0 {
		return eris.Errorf("flood: speckle filter radius %g is negative", o.Preprocess.SpeckleFilterRadius)
	}
	h := o.Histogram
	if h.BucketCount < 2 {
		return eris.Errorf("flood: histogram bucket count %d is below 2", h.BucketCount)
	}
	if h.MaxBuckets < h.BucketCount {
		return eris.Errorf("flood: histogram max buckets %d is below bucket count %d", h.MaxBuckets, h.BucketCount)
	}
	if h.Scale < 0 || o.Zonal.Scale < 0 {
		return eris.New("flood: scales must be positive or native")
	}
	if h.MaxPixels <= 0 || o.Zonal.MaxPixels <= 0 {
		return eris.New("flood: max pixels must be positive")
	}
	if h.Range != nil && h.Range[0] >= h.Range[1] {
		return eris.Errorf("flood: histogram range [%g, %g] is empty", h.Range[0], h.Range[1])
	}
	if _, err := ParsePolarity(string(o.Polarity)); err != nil {
		return err
	}
	return nil
}
