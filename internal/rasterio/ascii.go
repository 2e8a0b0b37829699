package rasterio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/raster"
)

// ReadASCII parses an ESRI ASCII grid.
func ReadASCII(rd io.Reader, opts ...Option) (*raster.Raster, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return readASCII(rd, o)
}

func readASCIIFile(path string, o readOptions) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r, err := readASCII(f, o)
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: read %s", path)
	}
	if crs := readPRJ(path); crs != "" {
		return r.WithCRS(crs), nil
	}
	return r, nil
}

func readASCII(rd io.Reader, o readOptions) (*raster.Raster, error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, eris.Errorf("rasterio: header %q has no value", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "rasterio: header %q", key)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "rasterio: scan ascii grid")
	}

	ncols, okc := header["ncols"]
	nrows, okr := header["nrows"]
	cell, oks := header["cellsize"]
	if !okc || !okr || !oks {
		return nil, eris.New("rasterio: ascii grid needs ncols, nrows and cellsize")
	}
	w, h := int(ncols), int(nrows)

	ox, oy := header["xllcorner"], header["yllcorner"]
	if v, ok := header["xllcenter"]; ok {
		ox = v - cell/2
	}
	if v, ok := header["yllcenter"]; ok {
		oy = v - cell/2
	}
	var declared *float64
	if v, ok := header["nodata_value"]; ok {
		declared = &v
	}

	grid := raster.Grid{
		Width:     w,
		Height:    h,
		Transform: raster.GeoTransform{ox, cell, 0, oy + float64(h)*cell, 0, -cell},
	}
	data := make([]float64, 0, grid.Size())
	valid := make([]bool, 0, grid.Size())
	push := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return eris.Wrapf(err, "rasterio: cell %d", len(data))
		}
		data = append(data, v)
		valid = append(valid, !masked(v, declared, o))
		return nil
	}

	if first != "" {
		if err := push(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if len(data) == grid.Size() {
			return nil, eris.Errorf("rasterio: more than %d cells", grid.Size())
		}
		if err := push(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "rasterio: scan ascii grid")
	}
	if len(data) != grid.Size() {
		return nil, eris.Errorf("rasterio: got %d cells, header declares %dx%d", len(data), w, h)
	}
	return raster.New(grid, data, valid)
}

// WriteASCII writes r as an ESRI ASCII grid. Masked cells are written as
// ASCIINoData. The grid must have square, unrotated cells.
func WriteASCII(wr io.Writer, r *raster.Raster) error {
	g := r.Grid()
	t := g.Transform
	if t[2] != 0 || t[4] != 0 || t[1] != -t[5] {
		return eris.New("rasterio: ascii grids need square, north-up cells")
	}

	bw := bufio.NewWriter(wr)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\n", g.Width, g.Height)
	fmt.Fprintf(bw, "xllcorner %s\nyllcorner %s\n", fmtFloat(t[0]), fmtFloat(t[3]+float64(g.Height)*t[5]))
	fmt.Fprintf(bw, "cellsize %s\nNODATA_value %s\n", fmtFloat(t[1]), fmtFloat(ASCIINoData))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if x > 0 {
				bw.WriteByte(' ') //nolint:errcheck
			}
			v, ok := r.At(x, y)
			if !ok {
				v = ASCIINoData
			}
			bw.WriteString(fmtFloat(v)) //nolint:errcheck
		}
		bw.WriteByte('\n') //nolint:errcheck
	}
	return eris.Wrap(bw.Flush(), "rasterio: write ascii grid")
}

func writeASCIIFile(path string, r *raster.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "rasterio: create %s", path)
	}
	if err := WriteASCII(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "rasterio: close %s", path)
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
