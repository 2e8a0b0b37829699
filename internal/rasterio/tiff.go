package rasterio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff"

	"github.com/sells-group/flood-cli/internal/raster"
)

// EncodeClassificationTIFF writes r as a single-band 8-bit TIFF using the
// Code* values.
func EncodeClassificationTIFF(w io.Writer, r *raster.Raster) error {
	g := r.Grid()
	img := &image.Gray{
		Pix:    classCodes(r),
		Stride: g.Width,
		Rect:   image.Rect(0, 0, g.Width, g.Height),
	}
	return eris.Wrap(tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}), "rasterio: encode tiff")
}

// DecodeTIFF reads the first image of an integer TIFF. Georeferencing comes
// from t; the caller supplies it from a world file or elsewhere.
func DecodeTIFF(rd io.Reader, t raster.GeoTransform, opts ...Option) (*raster.Raster, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return decodeTIFF(rd, t, o)
}

func decodeTIFF(rd io.Reader, t raster.GeoTransform, o readOptions) (*raster.Raster, error) {
	img, err := tiff.Decode(rd)
	if err != nil {
		return nil, eris.Wrap(err, "rasterio: decode tiff")
	}
	b := img.Bounds()
	grid := raster.Grid{Width: b.Dx(), Height: b.Dy(), Transform: t}

	var at func(x, y int) float64
	switch im := img.(type) {
	case *image.Gray:
		at = func(x, y int) float64 { return float64(im.GrayAt(x, y).Y) }
	case *image.Gray16:
		at = func(x, y int) float64 { return float64(im.Gray16At(x, y).Y) }
	default:
		at = func(x, y int) float64 {
			return float64(color.Gray16Model.Convert(im.At(x, y)).(color.Gray16).Y)
		}
	}
	return raster.Build(grid, func(x, y int) (float64, bool) {
		v := at(b.Min.X+x, b.Min.Y+y)
		return v, !masked(v, nil, o)
	})
}

func readTIFFFile(path string, o readOptions) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t := raster.GeoTransform{0, 1, 0, 0, 0, -1}
	wf, err := os.Open(worldFilePath(path))
	switch {
	case err == nil:
		defer wf.Close() //nolint:errcheck
		if t, err = ReadWorldFile(wf); err != nil {
			return nil, eris.Wrapf(err, "rasterio: world file for %s", path)
		}
	case !os.IsNotExist(err):
		return nil, eris.Wrapf(err, "rasterio: open world file for %s", path)
	}

	r, err := decodeTIFF(f, t, o)
	if err != nil {
		return nil, eris.Wrapf(err, "rasterio: read %s", path)
	}
	if crs := readPRJ(path); crs != "" {
		return r.WithCRS(crs), nil
	}
	return r, nil
}

func writeTIFFFile(path string, r *raster.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "rasterio: create %s", path)
	}
	if err := EncodeClassificationTIFF(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "rasterio: close %s", path)
	}

	wf, err := os.Create(worldFilePath(path))
	if err != nil {
		return eris.Wrapf(err, "rasterio: create world file for %s", path)
	}
	if err := WriteWorldFile(wf, r.Grid().Transform); err != nil {
		wf.Close() //nolint:errcheck
		return err
	}
	if err := wf.Close(); err != nil {
		return eris.Wrapf(err, "rasterio: close world file for %s", path)
	}
	if crs := r.Grid().CRS; crs != "" {
		prj := strings.TrimSuffix(path, ".tif")
		prj = strings.TrimSuffix(prj, ".tiff") + ".prj"
		return eris.Wrap(os.WriteFile(prj, []byte(crs), 0o644), "rasterio: write prj")
	}
	return nil
}

// worldFilePath maps image.tif to image.tfw.
func worldFilePath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tiff"):
		return path[:len(path)-5] + ".tfw"
	case strings.HasSuffix(lower, ".tif"):
		return path[:len(path)-4] + ".tfw"
	}
	return path + ".tfw"
}

// ReadWorldFile parses the six lines of a world file. World files locate the
// centre of the upper-left pixel; the returned transform locates its corner.
func ReadWorldFile(rd io.Reader) (raster.GeoTransform, error) {
	var v [6]float64
	sc := bufio.NewScanner(rd)
	n := 0
	for sc.Scan() && n < 6 {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return raster.GeoTransform{}, eris.Wrapf(err, "rasterio: world file line %d", n+1)
		}
		v[n] = f
		n++
	}
	if err := sc.Err(); err != nil {
		return raster.GeoTransform{}, eris.Wrap(err, "rasterio: scan world file")
	}
	if n < 6 {
		return raster.GeoTransform{}, eris.Errorf("rasterio: world file has %d of 6 values", n)
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	return raster.GeoTransform{c - a/2 - b/2, a, b, f - d/2 - e/2, d, e}, nil
}

// WriteWorldFile writes t in world-file order.
func WriteWorldFile(w io.Writer, t raster.GeoTransform) error {
	c := t[0] + t[1]/2 + t[2]/2
	f := t[3] + t[4]/2 + t[5]/2
	_, err := fmt.Fprintf(w, "%s\n%s\n%s\n%s\n%s\n%s\n",
		fmtFloat(t[1]), fmtFloat(t[4]), fmtFloat(t[2]), fmtFloat(t[5]), fmtFloat(c), fmtFloat(f))
	return eris.Wrap(err, "rasterio: write world file")
}
