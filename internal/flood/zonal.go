package flood

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

// ZonalRow is the weighted exposure of one region.
type ZonalRow struct {
	RegionID   string  `json:"region_id"`
	RegionName string  `json:"region_name,omitempty"`
	Baseline   float64 `json:"baseline"`
	Affected   float64 `json:"affected"`
}

// ZonalResult holds one row per input region, in input order.
type ZonalResult struct {
	Rows     []ZonalRow                     `json:"rows"`
	Warnings []*ApproximationAppliedWarning `json:"warnings,omitempty"`
}

// Totals sums baseline and affected weight over all rows.
func (z *ZonalResult) Totals() (baseline, affected float64) {
	for _, r := range z.Rows {
		baseline += r.Baseline
		affected += r.Affected
	}
	return baseline, affected
}

// Aggregate sums weight per region, once over all valid weight cells and once
// restricted to cells the mask labels flood. Regions with no cells or no
// weight report zero.
func Aggregate(ctx context.Context, weight, mask *raster.Raster, regions []region.Region, opts ZonalOptions) (*ZonalResult, error) {
	affected, err := raster.Combine(weight, mask, func(w, m float64) (float64, bool) {
		if m == Flooded {
			return w, true
		}
		return 0, true
	})
	if err != nil {
		return nil, err
	}

	layers := &coarsenedLayers{weight: weight, affected: affected, byFactor: map[int][2]*raster.Raster{}}
	requested := scaleFactor(weight.Scale(), opts.Scale)

	rows := make([]ZonalRow, len(regions))
	warnings := make([]*ApproximationAppliedWarning, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))
	for i, reg := range regions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "flood: zonal")
			}
			factor, warn, err := fitBudget("zonal", weight.Grid(), reg, requested, opts.BestEffort, opts.MaxPixels)
			if err != nil {
				return err
			}
			w, a := layers.at(factor)
			rows[i] = ZonalRow{
				RegionID:   reg.ID,
				RegionName: reg.Name,
				Baseline:   sumOver(w, reg),
				Affected:   sumOver(a, reg),
			}
			warnings[i] = warn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ZonalResult{Rows: rows}
	for _, w := range warnings {
		if w != nil {
			res.Warnings = append(res.Warnings, w)
		}
	}

	baseline, total := res.Totals()
	zap.L().Debug("flood: aggregated zones",
		zap.Int("regions", len(rows)),
		zap.Float64("baseline", baseline),
		zap.Float64("affected", total),
		zap.Int("approximations", len(res.Warnings)),
	)
	return res, nil
}

// coarsenedLayers shares the block-summed weight and affected layers between
// regions evaluated at the same factor.
type coarsenedLayers struct {
	mu       sync.Mutex
	weight   *raster.Raster
	affected *raster.Raster
	byFactor map[int][2]*raster.Raster
}

func (c *coarsenedLayers) at(factor int) (*raster.Raster, *raster.Raster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.byFactor[factor]; ok {
		return l[0], l[1]
	}
	l := [2]*raster.Raster{
		c.weight.Coarsen(factor, raster.Sum),
		c.affected.Coarsen(factor, raster.Sum),
	}
	c.byFactor[factor] = l
	return l[0], l[1]
}

func sumOver(r *raster.Raster, reg region.Region) float64 {
	var sum float64
	for _, c := range reg.Footprint(r.Grid()) {
		if v, ok := r.Index(c); ok {
			sum += v
		}
	}
	return sum
}
