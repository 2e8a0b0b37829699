// Package pipeline wires the flood-mapping stages into a lazy evaluation graph
// and materializes the outputs of one assessment.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/graph"
	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

// Stage names, used as graph node labels and in StageError.
const (
	StageSAR        = "sar"
	StageLandMask   = "land_mask"
	StagePopulation = "population"
	StageRegions    = "regions"
	StageAOI        = "aoi"
	StagePreprocess = "preprocess"
	StageHistogram  = "histogram"
	StageThreshold  = "threshold"
	StageClassify   = "classify"
	StageZonal      = "zonal"
)

// AOIRegionID identifies the union of all regions when it is used as the
// histogram area.
const AOIRegionID = "aoi"

// Inputs are the deferred sources of one assessment. AOI is optional and
// defaults to the union of Regions.
type Inputs struct {
	SAR        *graph.Node[*raster.Raster]
	LandMask   *graph.Node[*raster.Raster]
	Population *graph.Node[*raster.Raster]
	Regions    *graph.Node[[]region.Region]
	AOI        *graph.Node[region.Region]
}

// Values wraps in-memory inputs.
func Values(sar, landMask, population *raster.Raster, regions []region.Region) Inputs {
	return Inputs{
		SAR:        graph.Const(StageSAR, sar),
		LandMask:   graph.Const(StageLandMask, landMask),
		Population: graph.Const(StagePopulation, population),
		Regions:    graph.Const(StageRegions, regions),
	}
}

// Plan holds the unevaluated stage nodes of an assessment.
type Plan struct {
	AOI            *graph.Node[region.Region]
	Preprocessed   *graph.Node[*raster.Raster]
	Histogram      *graph.Node[*flood.Histogram]
	Threshold      *graph.Node[flood.Threshold]
	Classification *graph.Node[*raster.Raster]
	Zonal          *graph.Node[*flood.ZonalResult]
}

// Build assembles the stage graph. Nothing is computed until a node is
// materialized.
func Build(in Inputs, opts flood.Options) *Plan {
	p := &Plan{AOI: in.AOI}
	if p.AOI == nil {
		p.AOI = graph.Map(StageAOI, in.Regions, func(_ context.Context, regions []region.Region) (region.Region, error) {
			return region.Union(AOIRegionID, regions)
		})
	}

	p.Preprocessed = graph.Map2(StagePreprocess, in.SAR, in.LandMask,
		func(_ context.Context, sar, land *raster.Raster) (*raster.Raster, error) {
			return flood.Preprocess(sar, land, opts.Preprocess)
		})

	p.Histogram = graph.Map2(StageHistogram, p.Preprocessed, p.AOI,
		func(ctx context.Context, r *raster.Raster, aoi region.Region) (*flood.Histogram, error) {
			h, err := flood.BuildHistogram(ctx, r, aoi, opts.Histogram)
			if err != nil {
				return nil, err
			}
			if h.Approximation != nil {
				graph.Warn(ctx, h.Approximation)
			}
			return h, nil
		})

	p.Threshold = graph.Map(StageThreshold, p.Histogram,
		func(_ context.Context, h *flood.Histogram) (flood.Threshold, error) {
			return flood.SolveThreshold(h)
		})

	p.Classification = graph.Map2(StageClassify, p.Preprocessed, p.Threshold,
		func(_ context.Context, r *raster.Raster, t flood.Threshold) (*raster.Raster, error) {
			return flood.Classify(r, t, opts.Polarity), nil
		})

	p.Zonal = graph.Map3(StageZonal, in.Population, p.Classification, in.Regions,
		func(ctx context.Context, pop, mask *raster.Raster, regions []region.Region) (*flood.ZonalResult, error) {
			z, err := flood.Aggregate(ctx, pop, mask, regions, opts.Zonal)
			if err != nil {
				return nil, err
			}
			for _, w := range z.Warnings {
				graph.Warn(ctx, w)
			}
			return z, nil
		})
	return p
}

// Result is a completed assessment.
type Result struct {
	Classification *raster.Raster
	Histogram      *flood.Histogram
	Threshold      flood.Threshold
	Zonal          *flood.ZonalResult
	Warnings       []*flood.ApproximationAppliedWarning
	Report         *graph.Report
}

// Assess runs every stage and returns the classification and zonal table, or
// a *flood.StageError naming the stage and region that failed.
func Assess(ctx context.Context, in Inputs, opts flood.Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("polarity", string(opts.Polarity)))
	log.Info("pipeline: starting assessment")
	start := time.Now()

	plan := Build(in, opts)
	s := graph.NewSession()

	res := &Result{}
	var err error
	// Zonal depends on every other stage, so the remaining reads hit the
	// session cache.
	if res.Zonal, err = graph.Evaluate(ctx, s, plan.Zonal); err != nil {
		return nil, stageError(err)
	}
	if res.Classification, err = graph.Evaluate(ctx, s, plan.Classification); err != nil {
		return nil, stageError(err)
	}
	if res.Threshold, err = graph.Evaluate(ctx, s, plan.Threshold); err != nil {
		return nil, stageError(err)
	}
	if res.Histogram, err = graph.Evaluate(ctx, s, plan.Histogram); err != nil {
		return nil, stageError(err)
	}

	res.Report = s.Report()
	res.Warnings = approximations(res.Report)

	baseline, affected := res.Zonal.Totals()
	log.Info("pipeline: assessment complete",
		zap.Float64("threshold", res.Threshold.Value),
		zap.Int("regions", len(res.Zonal.Rows)),
		zap.Float64("baseline", baseline),
		zap.Float64("affected", affected),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Threshold runs only the stages needed for the threshold: preprocessing,
// the AOI histogram and the solver.
func Threshold(ctx context.Context, in Inputs, opts flood.Options) (*flood.Histogram, flood.Threshold, []*flood.ApproximationAppliedWarning, error) {
	if err := opts.Validate(); err != nil {
		return nil, flood.Threshold{}, nil, err
	}
	plan := Build(in, opts)
	s := graph.NewSession()

	t, err := graph.Evaluate(ctx, s, plan.Threshold)
	if err != nil {
		return nil, flood.Threshold{}, nil, stageError(err)
	}
	h, err := graph.Evaluate(ctx, s, plan.Histogram)
	if err != nil {
		return nil, flood.Threshold{}, nil, stageError(err)
	}
	return h, t, approximations(s.Report()), nil
}

func approximations(r *graph.Report) []*flood.ApproximationAppliedWarning {
	var out []*flood.ApproximationAppliedWarning
	for _, w := range r.Warnings {
		var a *flood.ApproximationAppliedWarning
		if errors.As(w, &a) {
			out = append(out, a)
		}
	}
	return out
}

// stageError converts a graph failure into a StageError for the failing node.
func stageError(err error) error {
	var nodeErr *graph.NodeError
	if !errors.As(err, &nodeErr) {
		return eris.Wrap(err, "pipeline: materialize")
	}
	se := &flood.StageError{Stage: nodeErr.Node, Err: nodeErr.Err}

	var (
		insufficient *flood.InsufficientSamplesError
		budget       *flood.BudgetExceededError
	)
	switch {
	case errors.As(err, &insufficient):
		se.Region = insufficient.Region
	case errors.As(err, &budget):
		se.Region = budget.Region
	case nodeErr.Node == StageHistogram || nodeErr.Node == StageThreshold:
		se.Region = AOIRegionID
	}
	return se
}
