package flood

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/region"
)

func testGrid(w, h int, pixel float64) raster.Grid {
	return raster.Grid{Width: w, Height: h, Transform: raster.GeoTransform{0, pixel, 0, float64(h) * pixel, 0, -pixel}}
}

func mustRaster(t *testing.T, g raster.Grid, data []float64, valid []bool) *raster.Raster {
	t.Helper()
	r, err := raster.New(g, data, valid)
	require.NoError(t, err)
	return r
}

func filled(t *testing.T, g raster.Grid, v float64) *raster.Raster {
	t.Helper()
	data := make([]float64, g.Size())
	for i := range data {
		data[i] = v
	}
	return mustRaster(t, g, data, nil)
}

func extent(t *testing.T, g raster.Grid) region.Region {
	t.Helper()
	b := g.Bounds()
	r, err := region.FromBounds("extent", b[0], b[1], b[2], b[3])
	require.NoError(t, err)
	return r
}

func box(t *testing.T, id string, minX, minY, maxX, maxY float64) region.Region {
	t.Helper()
	r, err := region.FromBounds(id, minX, minY, maxX, maxY)
	require.NoError(t, err)
	return r
}

func assertCell(t *testing.T, r *raster.Raster, i int, want float64) {
	t.Helper()
	v, ok := r.Index(i)
	require.True(t, ok, "cell %d masked", i)
	assert.Equal(t, want, v, "cell %d", i)
}

// twoClusters lays out n cells drawn deterministically from N(-20, 2) followed
// by n cells from N(-8, 2).
func twoClusters(t *testing.T, n int) *raster.Raster {
	t.Helper()
	wet := distuv.Normal{Mu: -20, Sigma: 2}
	dry := distuv.Normal{Mu: -8, Sigma: 2}
	data := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		data = append(data, wet.Quantile((float64(i)+0.5)/float64(n)))
	}
	for i := 0; i < n; i++ {
		data = append(data, dry.Quantile((float64(i)+0.5)/float64(n)))
	}
	return mustRaster(t, testGrid(50, 2*n/50, 10), data, nil)
}

func nativeHistogram() HistogramOptions {
	return HistogramOptions{
		BucketCount: 255,
		MaxBuckets:  1024,
		Scale:       Native,
		MaxPixels:   DefaultMaxPixels,
	}
}

func TestEndToEnd_TwoClusters(t *testing.T) {
	sar := twoClusters(t, 1000)
	aoi := extent(t, sar.Grid())

	opts := nativeHistogram()
	opts.Range = &[2]float64{-30, 0}
	h, err := BuildHistogram(context.Background(), sar, aoi, opts)
	require.NoError(t, err)
	require.Len(t, h.Buckets, 255)
	assert.Equal(t, int64(2000), h.Samples)
	assert.InDelta(t, -14.0, h.Mean, 0.01)
	assert.Nil(t, h.Approximation)

	th, err := SolveThreshold(h)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, th.Value, -16.0)
	assert.LessOrEqual(t, th.Value, -12.0)

	mask := Classify(sar, th, LowIsFlood)
	flooded := 0
	for _, v := range mask.Values() {
		if v == Flooded {
			flooded++
		}
	}
	assert.InDelta(t, 1000, flooded, 50)
}

func TestBuildHistogram_Diagnostics(t *testing.T) {
	r := mustRaster(t, testGrid(4, 1, 10), []float64{1, 2, 3, 4}, nil)

	h, err := BuildHistogram(context.Background(), r, extent(t, r.Grid()), HistogramOptions{
		BucketCount: 4, MaxBuckets: 4, MaxPixels: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), h.Samples)
	assert.InDelta(t, 2.5, h.Mean, 1e-12)
	assert.InDelta(t, 5.0/3.0, h.Variance, 1e-12)
	assert.Equal(t, 1.0, h.Min)
	assert.InDelta(t, 0.75, h.Width, 1e-12)
	assert.Equal(t, 4, h.NonEmpty())
	for i := 1; i < len(h.Buckets); i++ {
		assert.Less(t, h.Buckets[i-1].Mean, h.Buckets[i].Mean)
	}
}

func TestBuildHistogram_RangeClampsOutliers(t *testing.T) {
	r := mustRaster(t, testGrid(4, 1, 10), []float64{-50, 2, 6, 50}, nil)

	h, err := BuildHistogram(context.Background(), r, extent(t, r.Grid()), HistogramOptions{
		BucketCount: 2, MaxBuckets: 2, MaxPixels: 100, Range: &[2]float64{0, 10},
	})
	require.NoError(t, err)
	require.Len(t, h.Buckets, 2)
	assert.Equal(t, int64(2), h.Buckets[0].Count)
	assert.Equal(t, int64(2), h.Buckets[1].Count)
	assert.InDelta(t, -24.0, h.Buckets[0].Mean, 1e-12)
}

func TestBuildHistogram_SkewedRebuild(t *testing.T) {
	data := make([]float64, 100)
	for i := 90; i < 100; i++ {
		data[i] = float64(i - 89)
	}
	r := mustRaster(t, testGrid(100, 1, 10), data, nil)

	h, err := BuildHistogram(context.Background(), r, extent(t, r.Grid()), HistogramOptions{
		BucketCount: 2, MaxBuckets: 8, MaxPixels: 1000,
	})
	require.NoError(t, err)
	assert.Len(t, h.Buckets, 8)
}

func TestBuildHistogram_InsufficientSamples(t *testing.T) {
	g := testGrid(3, 3, 10)
	r := mustRaster(t, g, make([]float64, 9), make([]bool, 9))

	_, err := BuildHistogram(context.Background(), r, extent(t, g), nativeHistogram())
	var insufficient *InsufficientSamplesError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "extent", insufficient.Region)

	outside := box(t, "far", 1000, 1000, 2000, 2000)
	full := filled(t, g, -10)
	_, err = BuildHistogram(context.Background(), full, outside, nativeHistogram())
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "far", insufficient.Region)
}

func TestBuildHistogram_SingleValueIsDegenerate(t *testing.T) {
	g := testGrid(5, 5, 10)
	h, err := BuildHistogram(context.Background(), filled(t, g, -11), extent(t, g), nativeHistogram())
	require.NoError(t, err)
	assert.Equal(t, 1, h.NonEmpty())

	_, err = SolveThreshold(h)
	var degenerate *DegenerateHistogramError
	assert.True(t, errors.As(err, &degenerate))
}

func TestBuildHistogram_Cancelled(t *testing.T) {
	g := testGrid(2, 2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildHistogram(ctx, filled(t, g, 1), extent(t, g), nativeHistogram())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildHistogram_CoarserScale(t *testing.T) {
	g := testGrid(10, 10, 10)
	r, err := raster.Build(g, func(x, y int) (float64, bool) { return float64(x), true })
	require.NoError(t, err)

	opts := nativeHistogram()
	opts.Scale = 20
	h, err := BuildHistogram(context.Background(), r, extent(t, g), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(25), h.Samples)
	assert.Equal(t, 20.0, h.Scale)
	assert.Nil(t, h.Approximation)
}

func TestApproximationTransparency(t *testing.T) {
	g := testGrid(100, 100, 10)
	sar := filled(t, g, -12)
	aoi := extent(t, g)

	opts := nativeHistogram()
	opts.MaxPixels = 1000

	_, err := BuildHistogram(context.Background(), sar, aoi, opts)
	var budget *BudgetExceededError
	require.True(t, errors.As(err, &budget))
	assert.Equal(t, "histogram", budget.Stage)
	assert.Equal(t, 10000, budget.Pixels)
	assert.Equal(t, 1000, budget.MaxPixels)

	opts.BestEffort = true
	h, err := BuildHistogram(context.Background(), sar, aoi, opts)
	require.NoError(t, err)
	require.NotNil(t, h.Approximation)
	assert.Equal(t, "histogram", h.Approximation.Stage)
	assert.Equal(t, 10.0, h.Approximation.RequestedScale)
	assert.Equal(t, 40.0, h.Approximation.EffectiveScale)
	assert.Equal(t, 10000, h.Approximation.Pixels)
	assert.Equal(t, 40.0, h.Scale)
	assert.Equal(t, int64(625), h.Samples)

	mask := filled(t, g, Flooded)
	zopts := ZonalOptions{Scale: Native, MaxPixels: 1000, Concurrency: 2}
	_, err = Aggregate(context.Background(), sar, mask, []region.Region{aoi}, zopts)
	require.True(t, errors.As(err, &budget))
	assert.Equal(t, "zonal", budget.Stage)

	zopts.BestEffort = true
	res, err := Aggregate(context.Background(), filled(t, g, 1), mask, []region.Region{aoi}, zopts)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "zonal", res.Warnings[0].Stage)
	assert.InDelta(t, 10000, res.Rows[0].Baseline, 1e-9)
	assert.InDelta(t, 10000, res.Rows[0].Affected, 1e-9)
}

func TestPreprocess(t *testing.T) {
	g := testGrid(3, 3, 10)
	raw := mustRaster(t, g, []float64{-10, -10, -10, -10, -20, -10, -10, -10, -10}, nil)
	land := mustRaster(t, g, []float64{0, 1, 1, 1, 1, 1, 1, 1, 1}, nil)

	opts := PreprocessOptions{LandValue: 1, SpeckleFilterRadius: 0, SeasonalThresholdDb: -16}
	out, err := Preprocess(raw, land, opts)
	require.NoError(t, err)

	_, ok := out.Index(0)
	assert.False(t, ok, "water cell masked")
	_, ok = out.Index(4)
	assert.False(t, ok, "seasonal water cell masked")
	assert.Equal(t, 7, out.ValidCount())

	// A radius covering the four neighbours smooths the dark pixel away.
	opts.SpeckleFilterRadius = 10
	out, err = Preprocess(raw, land, opts)
	require.NoError(t, err)
	assertCell(t, out, 4, -10)
	assert.Equal(t, 8, out.ValidCount())
}

func TestPreprocess_GeometryMismatch(t *testing.T) {
	raw := filled(t, testGrid(3, 3, 10), -10)
	land := filled(t, testGrid(3, 3, 20), 1)

	_, err := Preprocess(raw, land, DefaultOptions().Preprocess)
	var mismatch *GeometryMismatchError
	assert.True(t, errors.As(err, &mismatch))
}

func TestAggregate_PartitionInvariant(t *testing.T) {
	g := testGrid(10, 10, 10)
	weight, err := raster.Build(g, func(x, y int) (float64, bool) {
		return float64(x*7+y*3) + 0.25, (x+y)%9 != 0
	})
	require.NoError(t, err)
	all := filled(t, g, NotFlood)

	parts := []region.Region{
		box(t, "west", 0, 0, 50, 100),
		box(t, "north-east", 50, 60, 100, 100),
		box(t, "south-east", 50, 0, 100, 60),
	}
	opts := ZonalOptions{Scale: Native, MaxPixels: 1000, Concurrency: 3}

	split, err := Aggregate(context.Background(), weight, all, parts, opts)
	require.NoError(t, err)
	whole, err := Aggregate(context.Background(), weight, all, []region.Region{extent(t, g)}, opts)
	require.NoError(t, err)

	baseline, affected := split.Totals()
	assert.InDelta(t, whole.Rows[0].Baseline, baseline, 1e-9)
	assert.Zero(t, affected)

	require.Len(t, split.Rows, 3)
	assert.Equal(t, "west", split.Rows[0].RegionID)
	assert.Equal(t, "north-east", split.Rows[1].RegionID)
	assert.Equal(t, "south-east", split.Rows[2].RegionID)
}

func TestAggregate_PartitionThroughCellCentres(t *testing.T) {
	g := testGrid(10, 10, 10)
	weight := filled(t, g, 1)
	all := filled(t, g, NotFlood)
	opts := ZonalOptions{Scale: Native, MaxPixels: 1000, Concurrency: 2}

	// x=45 passes through the centres of the fifth column.
	parts := []region.Region{
		box(t, "west", 0, 0, 45, 100),
		box(t, "east", 45, 0, 100, 100),
	}
	split, err := Aggregate(context.Background(), weight, all, parts, opts)
	require.NoError(t, err)
	whole, err := Aggregate(context.Background(), weight, all, []region.Region{extent(t, g)}, opts)
	require.NoError(t, err)

	require.Len(t, split.Rows, 2)
	assert.InDelta(t, 40, split.Rows[0].Baseline, 1e-9)
	assert.InDelta(t, 60, split.Rows[1].Baseline, 1e-9)
	baseline, _ := split.Totals()
	assert.InDelta(t, 100, whole.Rows[0].Baseline, 1e-9)
	assert.InDelta(t, whole.Rows[0].Baseline, baseline, 1e-9)
}

func TestAggregate_AffectedRestrictedToFlood(t *testing.T) {
	g := testGrid(2, 2, 10)
	weight := mustRaster(t, g, []float64{10, 20, 30, 40}, nil)
	mask := mustRaster(t, g, []float64{Flooded, NotFlood, Flooded, 0}, []bool{true, true, true, false})

	res, err := Aggregate(context.Background(), weight, mask, []region.Region{extent(t, g)}, ZonalOptions{MaxPixels: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Rows[0].Baseline)
	assert.Equal(t, 40.0, res.Rows[0].Affected)
	assert.Empty(t, res.Warnings)
}

func TestAggregate_ZeroWeightAndEmptyRegions(t *testing.T) {
	g := testGrid(4, 4, 10)
	weight, err := raster.Build(g, func(x, y int) (float64, bool) {
		if x < 2 {
			return 0, true
		}
		return 5, true
	})
	require.NoError(t, err)
	mask := filled(t, g, Flooded)

	regions := []region.Region{
		box(t, "empty-pop", 0, 0, 20, 40),
		box(t, "offshore", 500, 500, 600, 600),
		box(t, "town", 20, 0, 40, 40),
	}
	res, err := Aggregate(context.Background(), weight, mask, regions, ZonalOptions{MaxPixels: 100, Concurrency: 1})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	assert.Zero(t, res.Rows[0].Baseline)
	assert.Zero(t, res.Rows[0].Affected)
	assert.Equal(t, "offshore", res.Rows[1].RegionID)
	assert.Zero(t, res.Rows[1].Baseline)
	assert.Equal(t, 40.0, res.Rows[2].Baseline)
	assert.Equal(t, 40.0, res.Rows[2].Affected)
}

func TestAggregate_CoarserScaleKeepsTotals(t *testing.T) {
	g := testGrid(8, 8, 10)
	weight := filled(t, g, 2)
	mask := filled(t, g, Flooded)

	res, err := Aggregate(context.Background(), weight, mask, []region.Region{extent(t, g)}, ZonalOptions{Scale: 40, MaxPixels: 100})
	require.NoError(t, err)
	assert.Equal(t, 128.0, res.Rows[0].Baseline)
	assert.Equal(t, 128.0, res.Rows[0].Affected)
}

func TestAggregate_GeometryMismatch(t *testing.T) {
	weight := filled(t, testGrid(4, 4, 10), 1)
	mask := filled(t, testGrid(2, 2, 10), Flooded)

	_, err := Aggregate(context.Background(), weight, mask, nil, ZonalOptions{MaxPixels: 100})
	var mismatch *GeometryMismatchError
	require.True(t, errors.As(err, &mismatch))
}

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	tests := []struct {
		name   string
		mutate func(o *Options)
		want   string
	}{
		{"buckets", func(o *Options) { o.Histogram.BucketCount = 1 }, "bucket count"},
		{"max buckets", func(o *Options) { o.Histogram.MaxBuckets = 10 }, "max buckets"},
		{"radius", func(o *Options) { o.Preprocess.SpeckleFilterRadius = -1 }, "radius"},
		{"scale", func(o *Options) { o.Zonal.Scale = -30 }, "scales"},
		{"pixels", func(o *Options) { o.Histogram.MaxPixels = 0 }, "max pixels"},
		{"range", func(o *Options) { o.Histogram.Range = &[2]float64{0, 0} }, "range"},
		{"polarity", func(o *Options) { o.Polarity = "sideways" }, "polarity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParsePolarity(t *testing.T) {
	p, err := ParsePolarity("highIsFlood")
	require.NoError(t, err)
	assert.Equal(t, HighIsFlood, p)

	_, err = ParsePolarity("")
	assert.Error(t, err)
}

func TestStageError(t *testing.T) {
	inner := &InsufficientSamplesError{Region: "r1"}
	err := &StageError{Stage: "histogram", Region: "r1", Err: inner}

	assert.Equal(t, `stage histogram (region r1): insufficient samples: no valid pixels in region "r1"`, err.Error())
	var target *InsufficientSamplesError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "stage classify: boom", (&StageError{Stage: "classify", Err: errors.New("boom")}).Error())
}
