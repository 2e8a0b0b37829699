// Package export writes assessment outputs: the classification raster and the
// per-region exposure table.
package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/rasterio"
)

// Summary is the data behind an exposure workbook.
type Summary struct {
	Name      string
	Threshold flood.Threshold
	Histogram *flood.Histogram
	Zonal     *flood.ZonalResult
	Warnings  []*flood.ApproximationAppliedWarning
}

// WriteClassification writes the flood classification raster to path.
func WriteClassification(path string, r *raster.Raster) error {
	if err := rasterio.WriteClassification(path, r); err != nil {
		return err
	}
	zap.L().Info("export: wrote classification", zap.String("path", path), zap.Int("valid", r.ValidCount()))
	return nil
}

// WriteTable writes the exposure table to path as CSV (.csv) or a workbook
// (.xlsx).
func WriteTable(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "export: create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = WriteZonalCSV(f, s.Zonal.Rows)
	case ".xlsx":
		err = WriteZonalXLSX(f, s)
	default:
		err = eris.Errorf("export: unsupported table format %s (want .csv or .xlsx)", path)
	}
	if err != nil {
		f.Close()       //nolint:errcheck
		os.Remove(path) //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "export: close %s", path)
	}

	zap.L().Info("export: wrote table", zap.String("path", path), zap.Int("rows", len(s.Zonal.Rows)))
	return nil
}
