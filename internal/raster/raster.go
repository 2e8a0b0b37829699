// Package raster provides an immutable single-band grid of float64 cells with
// a per-cell validity mask, plus the cell-wise and neighborhood operations the
// flood pipeline is built from.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// GeoTransform is the GDAL affine transform:
// [originX, pixelWidth, rowRotation, originY, columnRotation, pixelHeight].
type GeoTransform [6]float64

// Grid describes the shape and georeferencing of a raster.
type Grid struct {
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Transform GeoTransform `json:"transform"`
	CRS       string       `json:"crs,omitempty"`
}

// Size returns the number of cells in the grid.
func (g Grid) Size() int {
	return g.Width * g.Height
}

// Scale returns the nominal resolution (pixel width in ground units).
func (g Grid) Scale() float64 {
	return math.Abs(g.Transform[1])
}

// CellCenter returns the ground coordinates of the centre of cell (x, y).
func (g Grid) CellCenter(x, y int) (float64, float64) {
	fx, fy := float64(x)+0.5, float64(y)+0.5
	t := g.Transform
	return t[0] + fx*t[1] + fy*t[2], t[3] + fx*t[4] + fy*t[5]
}

// Bounds returns the ground extent (minX, minY, maxX, maxY) of an unrotated grid.
func (g Grid) Bounds() [4]float64 {
	t := g.Transform
	x0, x1 := t[0], t[0]+float64(g.Width)*t[1]
	y0, y1 := t[3], t[3]+float64(g.Height)*t[5]
	return [4]float64{math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)}
}

// Raster is an immutable grid of values. A cell is only meaningful where its
// validity flag is set; operations never read values of invalid cells.
type Raster struct {
	grid  Grid
	data  []float64
	valid []bool
}

// New builds a raster from row-major values and validity flags. The slices
// are owned by the raster afterwards; callers must not modify them. A nil
// valid slice marks every cell valid.
func New(grid Grid, data []float64, valid []bool) (*Raster, error) {
	if grid.Width <= 0 || grid.Height <= 0 {
		return nil, eris.Errorf("raster: invalid size %dx%d", grid.Width, grid.Height)
	}
	if len(data) != grid.Size() {
		return nil, eris.Errorf("raster: got %d values for %dx%d grid", len(data), grid.Width, grid.Height)
	}
	if valid == nil {
		valid = make([]bool, len(data))
		for i := range valid {
			valid[i] = true
		}
	}
	if len(valid) != len(data) {
		return nil, eris.Errorf("raster: got %d mask flags for %d values", len(valid), len(data))
	}
	return &Raster{grid: grid, data: data, valid: valid}, nil
}

// Build evaluates fn for every cell to construct a raster.
func Build(grid Grid, fn func(x, y int) (float64, bool)) (*Raster, error) {
	n := grid.Size()
	data := make([]float64, n)
	valid := make([]bool, n)
	for y := 0; y < grid.Height; y++ {
		for x := 0; x < grid.Width; x++ {
			i := y*grid.Width + x
			data[i], valid[i] = fn(x, y)
		}
	}
	return New(grid, data, valid)
}

// Grid returns the raster's grid.
func (r *Raster) Grid() Grid {
	return r.grid
}

// Width returns the number of columns.
func (r *Raster) Width() int { return r.grid.Width }

// Height returns the number of rows.
func (r *Raster) Height() int { return r.grid.Height }

// Scale returns the nominal resolution in ground units.
func (r *Raster) Scale() float64 { return r.grid.Scale() }

// At returns the value of cell (x, y) and whether it is valid.
func (r *Raster) At(x, y int) (float64, bool) {
	i := y*r.grid.Width + x
	return r.data[i], r.valid[i]
}

// Index returns the value at row-major index i and whether it is valid.
func (r *Raster) Index(i int) (float64, bool) {
	return r.data[i], r.valid[i]
}

// ValidCount returns the number of valid cells.
func (r *Raster) ValidCount() int {
	n := 0
	for _, ok := range r.valid {
		if ok {
			n++
		}
	}
	return n
}

// WithCRS returns r tagged with a coordinate reference. Cells are shared.
func (r *Raster) WithCRS(crs string) *Raster {
	g := r.grid
	g.CRS = crs
	return &Raster{grid: g, data: r.data, valid: r.valid}
}

// Values returns a copy of the valid values in row-major order.
func (r *Raster) Values() []float64 {
	out := make([]float64, 0, len(r.data))
	for i, ok := range r.valid {
		if ok {
			out = append(out, r.data[i])
		}
	}
	return out
}

// Map applies fn to every valid cell. fn may invalidate a cell by returning false.
func (r *Raster) Map(fn func(v float64) (float64, bool)) *Raster {
	data := make([]float64, len(r.data))
	valid := make([]bool, len(r.data))
	for i, ok := range r.valid {
		if !ok {
			continue
		}
		data[i], valid[i] = fn(r.data[i])
	}
	return &Raster{grid: r.grid, data: data, valid: valid}
}

// Where keeps the valid cells for which keep returns true.
func (r *Raster) Where(keep func(v float64) bool) *Raster {
	return r.Map(func(v float64) (float64, bool) {
		return v, keep(v)
	})
}

// Combine applies fn cell-wise where both rasters are valid. The result mask
// is the intersection of both masks and of fn's own validity.
func Combine(a, b *Raster, fn func(av, bv float64) (float64, bool)) (*Raster, error) {
	if err := Compatible(a, b); err != nil {
		return nil, err
	}
	data := make([]float64, len(a.data))
	valid := make([]bool, len(a.data))
	for i := range a.data {
		if !a.valid[i] || !b.valid[i] {
			continue
		}
		data[i], valid[i] = fn(a.data[i], b.data[i])
	}
	return &Raster{grid: a.grid, data: data, valid: valid}, nil
}

// UpdateMask invalidates every cell of r where mask is invalid or where keep
// rejects the mask value.
func (r *Raster) UpdateMask(mask *Raster, keep func(mv float64) bool) (*Raster, error) {
	return Combine(r, mask, func(v, mv float64) (float64, bool) {
		return v, keep(mv)
	})
}
