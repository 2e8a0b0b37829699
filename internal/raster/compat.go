package raster

import (
	"fmt"
	"math"
)

// GeometryMismatchError reports rasters whose grids cannot be combined
// cell-for-cell.
type GeometryMismatchError struct {
	Left, Right Grid
	Reason      string
}

func (e *GeometryMismatchError) Error() string {
	return fmt.Sprintf("geometry mismatch: %s (%dx%d vs %dx%d)",
		e.Reason, e.Left.Width, e.Left.Height, e.Right.Width, e.Right.Height)
}

const transformTolerance = 1e-9

// Compatible returns a *GeometryMismatchError unless a and b share size and
// geotransform.
func Compatible(a, b *Raster) error {
	return CompatibleGrids(a.grid, b.grid)
}

// CompatibleGrids is Compatible for bare grids.
func CompatibleGrids(a, b Grid) error {
	if a.Width != b.Width || a.Height != b.Height {
		return &GeometryMismatchError{Left: a, Right: b, Reason: "size differs"}
	}
	for i := range a.Transform {
		av, bv := a.Transform[i], b.Transform[i]
		scale := math.Max(1, math.Max(math.Abs(av), math.Abs(bv)))
		if math.Abs(av-bv) > transformTolerance*scale {
			return &GeometryMismatchError{Left: a, Right: b, Reason: fmt.Sprintf("transform coefficient %d differs", i)}
		}
	}
	return nil
}
