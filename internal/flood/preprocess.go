package flood

import (
	"go.uber.org/zap"

	"github.com/sells-group/flood-cli/internal/raster"
)

// Preprocess masks non-land cells, suppresses speckle with a circular focal
// median and drops cells at or below the seasonal-water floor.
func Preprocess(raw, landMask *raster.Raster, opts PreprocessOptions) (*raster.Raster, error) {
	land, err := raw.UpdateMask(landMask, func(mv float64) bool {
		return mv == opts.LandValue
	})
	if err != nil {
		return nil, err
	}

	smoothed := land.FocalMedian(opts.SpeckleFilterRadius)
	out := smoothed.Where(func(v float64) bool {
		return v > opts.SeasonalThresholdDb
	})

	zap.L().Debug("flood: preprocessed backscatter",
		zap.Int("raw_valid", raw.ValidCount()),
		zap.Int("land_valid", land.ValidCount()),
		zap.Int("valid", out.ValidCount()),
		zap.Float64("speckle_radius", opts.SpeckleFilterRadius),
		zap.Float64("seasonal_threshold_db", opts.SeasonalThresholdDb),
	)
	return out, nil
}
