package flood

import (
	"fmt"

	"github.com/sells-group/flood-cli/internal/raster"
)

// GeometryMismatchError reports inputs whose grids cannot be combined.
type GeometryMismatchError = raster.GeometryMismatchError

// InsufficientSamplesError reports a region with no valid pixels.
type InsufficientSamplesError struct {
	Region string
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("insufficient samples: no valid pixels in region %q", e.Region)
}

// DegenerateHistogramError reports a histogram with no two-class split.
type DegenerateHistogramError struct {
	NonEmptyBuckets int
}

func (e *DegenerateHistogramError) Error() string {
	return fmt.Sprintf("degenerate histogram: %d non-empty bucket(s), no bimodal split", e.NonEmptyBuckets)
}

// BudgetExceededError reports a query larger than the compute budget when
// best-effort approximation is disabled.
type BudgetExceededError struct {
	Stage     string
	Region    string
	Pixels    int
	MaxPixels int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s: region %q needs %d pixels, budget is %d (enable best effort to approximate)",
		e.Stage, e.Region, e.Pixels, e.MaxPixels)
}

// ApproximationAppliedWarning records that resolution was coarsened to fit the
// compute budget. It is attached to results, never returned as a failure.
type ApproximationAppliedWarning struct {
	Stage          string  `json:"stage"`
	Region         string  `json:"region"`
	RequestedScale float64 `json:"requested_scale"`
	EffectiveScale float64 `json:"effective_scale"`
	Pixels         int     `json:"pixels"`
	MaxPixels      int     `json:"max_pixels"`
}

func (w *ApproximationAppliedWarning) Error() string {
	return fmt.Sprintf("%s: region %q approximated at scale %g (requested %g) to fit %d-pixel budget",
		w.Stage, w.Region, w.EffectiveScale, w.RequestedScale, w.MaxPixels)
}

// StageError identifies the pipeline stage and region that failed.
type StageError struct {
	Stage  string
	Region string
	Err    error
}

func (e *StageError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s (region %s): %v", e.Stage, e.Region, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
