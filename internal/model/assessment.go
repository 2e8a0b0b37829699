// Package model defines the persisted records of flood assessments.
package model

import (
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/pipeline"
	"github.com/sells-group/flood-cli/internal/region"
)

// AssessmentStatus is the outcome of an assessment run.
type AssessmentStatus string

const (
	AssessmentComplete AssessmentStatus = "complete"
	AssessmentFailed   AssessmentStatus = "failed"
)

// Assessment is one stored run of the flood pipeline.
type Assessment struct {
	ID        string                               `json:"id"`
	Name      string                               `json:"name"`
	Status    AssessmentStatus                     `json:"status"`
	Polarity  flood.Polarity                       `json:"polarity"`
	Threshold *flood.Threshold                     `json:"threshold,omitempty"`
	Histogram *HistogramSummary                    `json:"histogram,omitempty"`
	Baseline  float64                              `json:"baseline_population"`
	Affected  float64                              `json:"affected_population"`
	Warnings  []*flood.ApproximationAppliedWarning `json:"warnings,omitempty"`
	Failure   *Failure                             `json:"failure,omitempty"`
	Zones     []Zone                               `json:"zones,omitempty"`
	CreatedAt time.Time                            `json:"created_at"`
}

// HistogramSummary keeps the histogram diagnostics without the buckets.
type HistogramSummary struct {
	Buckets  int     `json:"buckets"`
	NonEmpty int     `json:"non_empty"`
	Samples  int64   `json:"samples"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Scale    float64 `json:"scale"`
}

// Failure records the stage and region a failed assessment stopped at.
type Failure struct {
	Stage   string `json:"stage"`
	Region  string `json:"region,omitempty"`
	Message string `json:"message"`
}

// Zone is the stored exposure of one region.
type Zone struct {
	RegionID   string  `json:"region_id"`
	RegionName string  `json:"region_name,omitempty"`
	Baseline   float64 `json:"baseline_population"`
	Affected   float64 `json:"affected_population"`
	// Geometry is the region outline as EWKB, if known.
	Geometry []byte `json:"-"`
}

// NewAssessment records a completed pipeline run. regions, when given, must
// be the regions the result was aggregated over; their outlines are kept.
func NewAssessment(name string, polarity flood.Polarity, res *pipeline.Result, regions []region.Region) (*Assessment, error) {
	if regions != nil && len(regions) != len(res.Zonal.Rows) {
		return nil, eris.Errorf("model: %d regions for %d zone rows", len(regions), len(res.Zonal.Rows))
	}

	t := res.Threshold
	h := res.Histogram
	a := &Assessment{
		Name:      name,
		Status:    AssessmentComplete,
		Polarity:  polarity,
		Threshold: &t,
		Histogram: &HistogramSummary{
			Buckets:  len(h.Buckets),
			NonEmpty: h.NonEmpty(),
			Samples:  h.Samples,
			Mean:     h.Mean,
			Variance: h.Variance,
			Scale:    h.Scale,
		},
		Warnings: res.Warnings,
		Zones:    make([]Zone, len(res.Zonal.Rows)),
	}
	a.Baseline, a.Affected = res.Zonal.Totals()

	for i, row := range res.Zonal.Rows {
		z := Zone{RegionID: row.RegionID, RegionName: row.RegionName, Baseline: row.Baseline, Affected: row.Affected}
		if regions != nil {
			if regions[i].ID != row.RegionID {
				return nil, eris.Errorf("model: zone %d is %s, region is %s", i, row.RegionID, regions[i].ID)
			}
			wkb, err := regions[i].WKB()
			if err != nil {
				return nil, err
			}
			z.Geometry = wkb
		}
		a.Zones[i] = z
	}
	return a, nil
}

// FailedAssessment records a run that stopped with err.
func FailedAssessment(name string, polarity flood.Polarity, err error) *Assessment {
	f := &Failure{Message: err.Error()}
	var se *flood.StageError
	if errors.As(err, &se) {
		f.Stage, f.Region = se.Stage, se.Region
	}
	return &Assessment{Name: name, Status: AssessmentFailed, Polarity: polarity, Failure: f}
}

// ZonalRows converts the stored zones back to pipeline rows.
func (a *Assessment) ZonalRows() []flood.ZonalRow {
	rows := make([]flood.ZonalRow, len(a.Zones))
	for i, z := range a.Zones {
		rows[i] = flood.ZonalRow{RegionID: z.RegionID, RegionName: z.RegionName, Baseline: z.Baseline, Affected: z.Affected}
	}
	return rows
}
