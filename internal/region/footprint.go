package region

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/sells-group/flood-cli/internal/raster"
)

// Footprint returns the row-major indices of the grid cells whose centres lie
// inside the region. Only cells within the region's bounding box are tested.
// The grid is assumed unrotated.
//
// Ownership is half-open: a centre on the outline belongs to the region only
// if the interior lies up and to the right of it, so regions that share an
// edge never both claim a cell.
func (r Region) Footprint(g raster.Grid) []int {
	x0, y0, x1, y1, ok := r.cellWindow(g)
	if !ok {
		return nil
	}
	pixel := g.Scale()
	tol, step := pixel*edgeTolerance, pixel*edgeStep

	var cells []int
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			cx, cy := g.CellCenter(x, y)
			if r.owns(orb.Point{cx, cy}, tol, step) {
				cells = append(cells, y*g.Width+x)
			}
		}
	}
	return cells
}

const (
	// edgeTolerance is the distance, in pixels, within which a centre counts
	// as lying on the outline.
	edgeTolerance = 1e-9
	// edgeStep is how far, in pixels, an outline centre is moved before the
	// containment test is repeated.
	edgeStep = 1e-6
)

// owns reports whether p belongs to the region under the half-open rule.
// Every region tests the same moved point, so the decision for a point on a
// shared edge is consistent across neighbours.
func (r Region) owns(p orb.Point, tol, step float64) bool {
	if planar.DistanceFrom(r.planar, p) > tol {
		return planar.MultiPolygonContains(r.planar, p)
	}
	// The vertical component is irrational relative to the horizontal one so
	// the moved point does not land on a diagonal edge through p.
	moved := orb.Point{p[0] + step, p[1] + step*math.Pi/4}
	return planar.MultiPolygonContains(r.planar, moved)
}

// FootprintSize is an upper bound on len(Footprint(g)): the number of cells in
// the region's bounding window. It is cheap enough for budget checks.
func (r Region) FootprintSize(g raster.Grid) int {
	x0, y0, x1, y1, ok := r.cellWindow(g)
	if !ok {
		return 0
	}
	return (x1 - x0 + 1) * (y1 - y0 + 1)
}

// cellWindow clamps the region's bounding box to grid cell indices.
func (r Region) cellWindow(g raster.Grid) (x0, y0, x1, y1 int, ok bool) {
	t := g.Transform
	if t[1] == 0 || t[5] == 0 {
		return 0, 0, 0, 0, false
	}
	fx0 := (r.bound.Min[0] - t[0]) / t[1]
	fx1 := (r.bound.Max[0] - t[0]) / t[1]
	fy0 := (r.bound.Min[1] - t[3]) / t[5]
	fy1 := (r.bound.Max[1] - t[3]) / t[5]

	x0 = clamp(int(math.Floor(math.Min(fx0, fx1))), 0, g.Width-1)
	x1 = clamp(int(math.Floor(math.Max(fx0, fx1))), 0, g.Width-1)
	y0 = clamp(int(math.Floor(math.Min(fy0, fy1))), 0, g.Height-1)
	y1 = clamp(int(math.Floor(math.Max(fy0, fy1))), 0, g.Height-1)

	if math.Max(fx0, fx1) < 0 || math.Min(fx0, fx1) >= float64(g.Width) ||
		math.Max(fy0, fy1) < 0 || math.Min(fy0, fy1) >= float64(g.Height) {
		return 0, 0, 0, 0, false
	}
	return x0, y0, x1, y1, true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
