package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/graph"
	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

// 50x40 cells of 10 m; the northern half is open water.
var sceneGrid = raster.Grid{Width: 50, Height: 40, Transform: raster.GeoTransform{0, 10, 0, 400, 0, -10}}

func scene(t *testing.T) (sar, land, pop *raster.Raster, regions []region.Region) {
	t.Helper()
	wet := distuv.Normal{Mu: -20, Sigma: 2}
	dry := distuv.Normal{Mu: -8, Sigma: 2}
	n := sceneGrid.Size() / 2

	var err error
	sar, err = raster.Build(sceneGrid, func(x, y int) (float64, bool) {
		i := y*sceneGrid.Width + x
		if i < n {
			return wet.Quantile((float64(i) + 0.5) / float64(n)), true
		}
		return dry.Quantile((float64(i-n) + 0.5) / float64(n)), true
	})
	require.NoError(t, err)
	land = constant(t, sceneGrid, 1)
	pop = constant(t, sceneGrid, 1)

	north, err := region.FromBounds("north", 0, 200, 500, 400)
	require.NoError(t, err)
	south, err := region.FromBounds("south", 0, 0, 500, 200)
	require.NoError(t, err)
	return sar, land, pop, []region.Region{north, south}
}

func constant(t *testing.T, g raster.Grid, v float64) *raster.Raster {
	t.Helper()
	r, err := raster.Build(g, func(int, int) (float64, bool) { return v, true })
	require.NoError(t, err)
	return r
}

func testOptions() flood.Options {
	opts := flood.DefaultOptions()
	opts.Preprocess.SpeckleFilterRadius = 0
	opts.Preprocess.SeasonalThresholdDb = -40
	opts.Histogram.Scale = flood.Native
	opts.Histogram.Range = &[2]float64{-30, 0}
	return opts
}

func TestAssess_EndToEnd(t *testing.T) {
	sar, land, pop, regions := scene(t)

	res, err := Assess(context.Background(), Values(sar, land, pop, regions), testOptions())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Threshold.Value, -16.0)
	assert.LessOrEqual(t, res.Threshold.Value, -12.0)
	assert.Len(t, res.Histogram.Buckets, 255)
	assert.Empty(t, res.Warnings)

	require.Len(t, res.Zonal.Rows, 2)
	north, south := res.Zonal.Rows[0], res.Zonal.Rows[1]
	assert.Equal(t, "north", north.RegionID)
	assert.Equal(t, 1000.0, north.Baseline)
	assert.InDelta(t, 1000, north.Affected, 50)
	assert.Equal(t, 1000.0, south.Baseline)
	assert.InDelta(t, 0, south.Affected, 50)

	assert.Equal(t, sar.ValidCount(), res.Classification.ValidCount())

	evaluated := map[string]int{}
	for _, ev := range res.Report.Evaluated {
		evaluated[ev.Node]++
	}
	for _, stage := range []string{StagePreprocess, StageAOI, StageHistogram, StageThreshold, StageClassify, StageZonal} {
		assert.Equal(t, 1, evaluated[stage], stage)
	}
}

func TestAssess_ApproximationWarnings(t *testing.T) {
	sar, land, pop, regions := scene(t)
	opts := testOptions()
	opts.Histogram.MaxPixels = 500
	opts.Zonal.MaxPixels = 500

	res, err := Assess(context.Background(), Values(sar, land, pop, regions), opts)
	require.NoError(t, err)

	stages := map[string]bool{}
	for _, w := range res.Warnings {
		stages[w.Stage] = true
	}
	assert.True(t, stages["histogram"])
	assert.True(t, stages["zonal"])
	assert.InDelta(t, 2000, res.Zonal.Rows[0].Baseline+res.Zonal.Rows[1].Baseline, 1e-9)

	opts.Histogram.BestEffort = false
	_, err = Assess(context.Background(), Values(sar, land, pop, regions), opts)
	var se *flood.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageHistogram, se.Stage)
	assert.Equal(t, AOIRegionID, se.Region)
	var budget *flood.BudgetExceededError
	assert.True(t, errors.As(err, &budget))
}

func TestAssess_InsufficientSamples(t *testing.T) {
	sar, _, pop, regions := scene(t)
	water := constant(t, sceneGrid, 0)

	_, err := Assess(context.Background(), Values(sar, water, pop, regions), testOptions())
	var se *flood.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageHistogram, se.Stage)
	assert.Equal(t, AOIRegionID, se.Region)
	var insufficient *flood.InsufficientSamplesError
	assert.True(t, errors.As(err, &insufficient))
}

func TestAssess_GeometryMismatch(t *testing.T) {
	sar, _, pop, regions := scene(t)
	coarse := constant(t, sceneGrid.Coarsened(2), 1)

	_, err := Assess(context.Background(), Values(sar, coarse, pop, regions), testOptions())
	var se *flood.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StagePreprocess, se.Stage)
	var mismatch *flood.GeometryMismatchError
	assert.True(t, errors.As(err, &mismatch))

	_, err = Assess(context.Background(), Values(sar, constant(t, sceneGrid, 1), coarse, regions), testOptions())
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageZonal, se.Stage)
}

func TestAssess_InvalidOptions(t *testing.T) {
	sar, land, pop, regions := scene(t)
	opts := testOptions()
	opts.Histogram.BucketCount = 1

	_, err := Assess(context.Background(), Values(sar, land, pop, regions), opts)
	require.Error(t, err)
	var se *flood.StageError
	assert.False(t, errors.As(err, &se))
}

func TestThreshold_SkipsZonalInputs(t *testing.T) {
	sar, land, _, regions := scene(t)
	in := Values(sar, land, nil, regions)
	var read atomic.Bool
	in.Population = graph.Source(StagePopulation, func(context.Context) (*raster.Raster, error) {
		read.Store(true)
		return nil, errors.New("population read")
	})

	h, th, warnings, err := Threshold(context.Background(), in, testOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), h.Samples)
	assert.GreaterOrEqual(t, th.Value, -16.0)
	assert.LessOrEqual(t, th.Value, -12.0)
	assert.Empty(t, warnings)
	assert.False(t, read.Load())
}

func TestThreshold_DegenerateScene(t *testing.T) {
	_, land, _, regions := scene(t)
	flat := constant(t, sceneGrid, -10)

	_, _, _, err := Threshold(context.Background(), Values(flat, land, nil, regions), testOptions())
	var se *flood.StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageThreshold, se.Stage)
	var degenerate *flood.DegenerateHistogramError
	assert.True(t, errors.As(err, &degenerate))
}

func TestAssess_CustomAOI(t *testing.T) {
	sar, land, pop, regions := scene(t)
	in := Values(sar, land, pop, regions)
	south := regions[1]
	south.ID = "south-only"
	in.AOI = graph.Const(StageAOI, south)

	h, _, _, err := Threshold(context.Background(), in, testOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), h.Samples)
}
