package raster

// Reduction selects how Coarsen folds a block of cells into one.
type Reduction int

const (
	// Mean averages the valid cells of a block (intensities).
	Mean Reduction = iota
	// Sum adds the valid cells of a block (counts such as population).
	Sum
)

// Coarsened returns the grid Coarsen produces for factor.
func (g Grid) Coarsened(factor int) Grid {
	if factor <= 1 {
		return g
	}
	t := g.Transform
	f := float64(factor)
	return Grid{
		Width:     (g.Width + factor - 1) / factor,
		Height:    (g.Height + factor - 1) / factor,
		Transform: GeoTransform{t[0], t[1] * f, t[2] * f, t[3], t[4] * f, t[5] * f},
		CRS:       g.CRS,
	}
}

// Coarsen aggregates factor×factor blocks into single cells. A coarse cell is
// valid when at least one cell of its block is valid. Partial blocks at the
// right and bottom edges are kept. factor <= 1 returns r unchanged.
func (r *Raster) Coarsen(factor int, red Reduction) *Raster {
	if factor <= 1 {
		return r
	}
	grid := r.grid.Coarsened(factor)
	w, h := grid.Width, grid.Height

	sums := make([]float64, w*h)
	counts := make([]int, w*h)
	for y := 0; y < r.grid.Height; y++ {
		for x := 0; x < r.grid.Width; x++ {
			i := y*r.grid.Width + x
			if !r.valid[i] {
				continue
			}
			j := (y/factor)*w + x/factor
			sums[j] += r.data[i]
			counts[j]++
		}
	}

	valid := make([]bool, w*h)
	for j, c := range counts {
		if c == 0 {
			continue
		}
		valid[j] = true
		if red == Mean {
			sums[j] /= float64(c)
		}
	}
	return &Raster{grid: grid, data: sums, valid: valid}
}
