// Package rasterio reads input rasters from disk and writes classification
// rasters. ESRI ASCII grids and plain TIFF with a world file are handled in
// Go; every other format goes through GDAL when built with -tags gdal.
package rasterio

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-cli/internal/raster"
)

// Classification codes written to integer rasters.
const (
	CodeDry    = 0
	CodeFlood  = 1
	CodeMasked = 255
)

// ASCIINoData marks masked cells in ASCII grids written by this package.
const ASCIINoData = -9999.0

type readOptions struct {
	noData *float64
}

// Option customizes Read.
type Option func(*readOptions)

// WithNoData masks cells equal to v in addition to any nodata value the file
// declares.
func WithNoData(v float64) Option {
	return func(o *readOptions) { o.noData = &v }
}

// Read loads the first band of a raster file.
func Read(path string, opts ...Option) (*raster.Raster, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		r   *raster.Raster
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".asc":
		r, err = readASCIIFile(path, o)
	case gdalEnabled:
		r, err = readGDAL(path, o)
	case ext == ".tif" || ext == ".tiff":
		r, err = readTIFFFile(path, o)
	default:
		return nil, eris.Errorf("rasterio: unsupported raster %s (build with -tags gdal for more formats)", path)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("rasterio: read raster",
		zap.String("path", path),
		zap.Int("width", r.Width()),
		zap.Int("height", r.Height()),
		zap.Float64("scale", r.Scale()),
		zap.Int("valid", r.ValidCount()),
	)
	return r, nil
}

// WriteClassification writes a flood classification raster. ".asc" writes an
// ASCII grid; ".tif" writes a GeoTIFF through GDAL when available and a plain
// TIFF plus world file otherwise.
func WriteClassification(path string, r *raster.Raster) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "rasterio: create directory for %s", path)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".asc":
		return writeASCIIFile(path, r)
	case ext == ".tif" || ext == ".tiff":
		if gdalEnabled {
			return writeGDAL(path, r)
		}
		return writeTIFFFile(path, r)
	default:
		return eris.Errorf("rasterio: unsupported output %s (want .tif or .asc)", path)
	}
}

// classCodes encodes classification values as bytes.
func classCodes(r *raster.Raster) []byte {
	out := make([]byte, r.Grid().Size())
	for i := range out {
		v, ok := r.Index(i)
		switch {
		case !ok:
			out[i] = CodeMasked
		case v != 0:
			out[i] = CodeFlood
		default:
			out[i] = CodeDry
		}
	}
	return out
}

// readPRJ returns the contents of a .prj sidecar, if any.
func readPRJ(path string) string {
	data, err := os.ReadFile(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func masked(v float64, declared *float64, o readOptions) bool {
	if math.IsNaN(v) {
		return true
	}
	if declared != nil && v == *declared {
		return true
	}
	return o.noData != nil && v == *o.noData
}
