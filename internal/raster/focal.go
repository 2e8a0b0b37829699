package raster

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// offset is a kernel cell relative to the centre cell.
type offset struct{ dx, dy int }

// circleKernel returns the cell offsets whose centres lie within radius
// ground units of the centre cell.
func circleKernel(g Grid, radius float64) []offset {
	pw, ph := math.Abs(g.Transform[1]), math.Abs(g.Transform[5])
	if pw == 0 || ph == 0 {
		return []offset{{0, 0}}
	}
	rx, ry := int(radius/pw), int(radius/ph)
	r2 := radius * radius
	var k []offset
	for dy := -ry; dy <= ry; dy++ {
		for dx := -rx; dx <= rx; dx++ {
			gx, gy := float64(dx)*pw, float64(dy)*ph
			if gx*gx+gy*gy <= r2 {
				k = append(k, offset{dx, dy})
			}
		}
	}
	return k
}

// FocalMedian replaces every valid cell with the median of the valid cells
// whose centres lie within radius ground units. Invalid cells stay invalid.
// For an even number of neighbours the lower middle value is used.
func (r *Raster) FocalMedian(radius float64) *Raster {
	kernel := circleKernel(r.grid, radius)
	w, h := r.grid.Width, r.grid.Height
	data := make([]float64, len(r.data))
	valid := make([]bool, len(r.data))
	buf := make([]float64, 0, len(kernel))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !r.valid[i] {
				continue
			}
			buf = buf[:0]
			for _, o := range kernel {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if r.valid[j] {
					buf = append(buf, r.data[j])
				}
			}
			slices.Sort(buf)
			data[i] = stat.Quantile(0.5, stat.Empirical, buf, nil)
			valid[i] = true
		}
	}
	return &Raster{grid: r.grid, data: data, valid: valid}
}
