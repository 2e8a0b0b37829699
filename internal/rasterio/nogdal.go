//go:build !gdal

package rasterio

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/raster"
)

const gdalEnabled = false

func readGDAL(path string, _ readOptions) (*raster.Raster, error) {
	return nil, eris.Errorf("rasterio: reading %s needs a build with -tags gdal", path)
}

func writeGDAL(path string, _ *raster.Raster) error {
	return eris.Errorf("rasterio: writing %s needs a build with -tags gdal", path)
}
