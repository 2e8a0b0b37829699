package flood

import (
	"github.com/sells-group/flood-cli/internal/raster"
)

// Classification cell values.
const (
	NotFlood = 0.0
	Flooded  = 1.0
)

// Classify labels every valid cell flood or not-flood against t. Masked cells
// stay masked.
func Classify(r *raster.Raster, t Threshold, p Polarity) *raster.Raster {
	isFlood := func(v float64) bool { return v < t.Value }
	if p == HighIsFlood {
		isFlood = func(v float64) bool { return v >= t.Value }
	}
	return r.Map(func(v float64) (float64, bool) {
		if isFlood(v) {
			return Flooded, true
		}
		return NotFlood, true
	})
}
