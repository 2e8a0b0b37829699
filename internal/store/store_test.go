package store

import (
	"time"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/model"
)

func sampleAssessment(name string) *model.Assessment {
	return &model.Assessment{
		Name:      name,
		Status:    model.AssessmentComplete,
		Polarity:  flood.LowIsFlood,
		Threshold: &flood.Threshold{Value: -18.5, Split: 12, Variance: 42},
		Histogram: &model.HistogramSummary{Buckets: 32, NonEmpty: 20, Samples: 1000, Mean: -14, Variance: 9, Scale: 10},
		Baseline:  300,
		Affected:  120,
		Warnings: []*flood.ApproximationAppliedWarning{
			{Stage: "zonal", Region: "north", RequestedScale: 10, EffectiveScale: 40, Pixels: 2000, MaxPixels: 1000},
		},
		Zones: []model.Zone{
			{RegionID: "north", RegionName: "North", Baseline: 200, Affected: 120, Geometry: []byte{1, 2, 3}},
			{RegionID: "south", RegionName: "South", Baseline: 100},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}
