package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/flood"
)

// zoneRecord is one row of the exposure table.
type zoneRecord struct {
	RegionID string  `csv:"regionId"`
	Baseline float64 `csv:"baselinePopulation"`
	Affected float64 `csv:"affectedPopulation"`
}

// WriteZonalCSV writes one row per region with a header line.
func WriteZonalCSV(w io.Writer, rows []flood.ZonalRow) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(zoneRecord{}); err != nil {
		return eris.Wrap(err, "export: csv header")
	}
	for _, r := range rows {
		if err := enc.Encode(zoneRecord{RegionID: r.RegionID, Baseline: r.Baseline, Affected: r.Affected}); err != nil {
			return eris.Wrapf(err, "export: csv row %s", r.RegionID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// ReadZonalCSV parses a table written by WriteZonalCSV.
func ReadZonalCSV(r io.Reader) ([]flood.ZonalRow, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if eris.Is(err, io.EOF) {
			return nil, eris.New("export: empty csv")
		}
		return nil, eris.Wrap(err, "export: csv header")
	}

	var rows []flood.ZonalRow
	for {
		var rec zoneRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "export: csv row %d", len(rows)+1)
		}
		rows = append(rows, flood.ZonalRow{RegionID: rec.RegionID, Baseline: rec.Baseline, Affected: rec.Affected})
	}
	return rows, nil
}
