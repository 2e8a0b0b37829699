//go:build gdal

package rasterio

import (
	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/raster"
)

const gdalEnabled = true

func init() {
	godal.RegisterAll()
}

func readGDAL(path string, o readOptions) (*raster.Raster, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: open %s", path)
	}
	defer ds.Close() //nolint:errcheck

	st := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, eris.Errorf("rasterio: %s has no bands", path)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: geotransform of %s", path)
	}

	buf := make([]float64, st.SizeX*st.SizeY)
	if err := bands[0].Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
		return nil, eris.Wrapf(err, "rasterio: read band 1 of %s", path)
	}

	var declared *float64
	if nd, ok := bands[0].NoData(); ok {
		declared = &nd
	}
	valid := make([]bool, len(buf))
	for i, v := range buf {
		valid[i] = !masked(v, declared, o)
	}

	grid := raster.Grid{
		Width:     st.SizeX,
		Height:    st.SizeY,
		Transform: raster.GeoTransform(gt),
		CRS:       ds.Projection(),
	}
	return raster.New(grid, buf, valid)
}

func writeGDAL(path string, r *raster.Raster) error {
	g := r.Grid()
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Byte, g.Width, g.Height,
		godal.CreationOption("COMPRESS=DEFLATE", "TILED=YES"))
	if err != nil {
		return eris.Wrapf(err, "rasterio: create %s", path)
	}
	if err := ds.SetGeoTransform([6]float64(g.Transform)); err != nil {
		ds.Close() //nolint:errcheck
		return eris.Wrapf(err, "rasterio: set geotransform of %s", path)
	}
	if g.CRS != "" {
		if err := ds.SetProjection(g.CRS); err != nil {
			ds.Close() //nolint:errcheck
			return eris.Wrapf(err, "rasterio: set projection of %s", path)
		}
	}

	band := ds.Bands()[0]
	if err := band.SetNoData(CodeMasked); err != nil {
		ds.Close() //nolint:errcheck
		return eris.Wrapf(err, "rasterio: set nodata of %s", path)
	}
	if err := band.Write(0, 0, classCodes(r), g.Width, g.Height); err != nil {
		ds.Close() //nolint:errcheck
		return eris.Wrapf(err, "rasterio: write %s", path)
	}
	return eris.Wrapf(ds.Close(), "rasterio: close %s", path)
}
