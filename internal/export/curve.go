package export

import (
	"encoding/csv"
	"io"
	"math"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/flood"
)

// curveRecord is one candidate split of the threshold solver.
type curveRecord struct {
	Split    int      `csv:"split"`
	Mean     float64  `csv:"bucketMean"`
	Count    int64    `csv:"count"`
	Variance *float64 `csv:"betweenClassVariance,omitempty"`
}

// WriteVarianceCurve writes the between-class variance of every split of h.
// Splits that leave a class empty have an empty variance.
func WriteVarianceCurve(w io.Writer, h *flood.Histogram) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(curveRecord{}); err != nil {
		return eris.Wrap(err, "export: curve header")
	}
	for k, v := range flood.VarianceCurve(h) {
		rec := curveRecord{Split: k + 1, Mean: h.Buckets[k].Mean, Count: h.Buckets[k].Count}
		if !math.IsNaN(v) {
			rec.Variance = &v
		}
		if err := enc.Encode(rec); err != nil {
			return eris.Wrapf(err, "export: curve row %d", k+1)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush curve")
}
