package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names of the exposure workbook.
const (
	ZonesSheet   = "zones"
	SummarySheet = "summary"
)

// WriteZonalXLSX writes a workbook with the per-region table and a summary
// of the threshold, the histogram and any approximations.
func WriteZonalXLSX(w io.Writer, s Summary) error {
	f := xlsx.NewFile()

	zones, err := f.AddSheet(ZonesSheet)
	if err != nil {
		return eris.Wrap(err, "export: add zones sheet")
	}
	stringRow(zones, "regionId", "regionName", "baselinePopulation", "affectedPopulation", "affectedShare")
	for _, r := range s.Zonal.Rows {
		row := zones.AddRow()
		row.AddCell().SetString(r.RegionID)
		row.AddCell().SetString(r.RegionName)
		row.AddCell().SetFloat(r.Baseline)
		row.AddCell().SetFloat(r.Affected)
		share := 0.0
		if r.Baseline > 0 {
			share = r.Affected / r.Baseline
		}
		row.AddCell().SetFloat(share)
	}

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	baseline, affected := s.Zonal.Totals()
	stringRow(summary, "name", s.Name)
	floatRow(summary, "threshold", s.Threshold.Value)
	floatRow(summary, "betweenClassVariance", s.Threshold.Variance)
	if h := s.Histogram; h != nil {
		floatRow(summary, "samples", float64(h.Samples))
		floatRow(summary, "sampleMean", h.Mean)
		floatRow(summary, "sampleVariance", h.Variance)
		floatRow(summary, "buckets", float64(len(h.Buckets)))
		floatRow(summary, "histogramScale", h.Scale)
	}
	floatRow(summary, "baselinePopulation", baseline)
	floatRow(summary, "affectedPopulation", affected)
	for _, warn := range s.Warnings {
		stringRow(summary, "warning", warn.Error())
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}

func stringRow(sh *xlsx.Sheet, values ...string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func floatRow(sh *xlsx.Sheet, label string, v float64) {
	row := sh.AddRow()
	row.AddCell().SetString(label)
	row.AddCell().SetFloat(v)
}
