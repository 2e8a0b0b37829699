package flood

import (
	"math"

	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

// scaleFactor converts a requested ground scale into an integer coarsening
// factor. Requests finer than native resolution use native resolution.
func scaleFactor(native, requested float64) int {
	if native <= 0 || requested <= native {
		return 1
	}
	return max(1, int(math.Round(requested/native)))
}

// fitBudget returns the coarsening factor at which the region's pixel window
// fits maxPixels. Without best effort an oversized request fails; with it the
// factor doubles until the window fits and a warning describes the change.
func fitBudget(stage string, g raster.Grid, r region.Region, factor int, bestEffort bool, maxPixels int) (int, *ApproximationAppliedWarning, error) {
	pixels := r.FootprintSize(g.Coarsened(factor))
	if pixels <= maxPixels {
		return factor, nil, nil
	}
	if !bestEffort {
		return 0, nil, &BudgetExceededError{Stage: stage, Region: r.ID, Pixels: pixels, MaxPixels: maxPixels}
	}

	requested, requestedPixels := g.Scale()*float64(factor), pixels
	for pixels > maxPixels {
		factor *= 2
		pixels = r.FootprintSize(g.Coarsened(factor))
	}
	return factor, &ApproximationAppliedWarning{
		Stage:          stage,
		Region:         r.ID,
		RequestedScale: requested,
		EffectiveScale: g.Scale() * float64(factor),
		Pixels:         requestedPixels,
		MaxPixels:      maxPixels,
	}, nil
}
