// Package region models the named polygons that flood impact is aggregated
// over and loads them from shapefiles or GeoJSON.
package region

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// Region is a named polygon with scalar properties. It is immutable and safe
// for concurrent use.
type Region struct {
	ID         string
	Name       string
	Properties map[string]any
	Geometry   *geom.MultiPolygon

	planar orb.MultiPolygon
	bound  orb.Bound
}

// New builds a Region, preparing the planar form used for containment tests.
func New(id, name string, props map[string]any, mp *geom.MultiPolygon) (Region, error) {
	if mp == nil || mp.NumPolygons() == 0 {
		return Region{}, eris.Errorf("region: %s has no polygons", id)
	}
	planar := toOrb(mp)
	return Region{
		ID:         id,
		Name:       name,
		Properties: props,
		Geometry:   mp,
		planar:     planar,
		bound:      planar.Bound(),
	}, nil
}

// FromBounds builds a rectangular region, e.g. the full extent of a raster.
func FromBounds(id string, minX, minY, maxX, maxY float64) (Region, error) {
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords([][][]geom.Coord{{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}})
	if err != nil {
		return Region{}, eris.Wrapf(err, "region: bounds %s", id)
	}
	return New(id, id, nil, mp)
}

// Bound returns the bounding box of the region.
func (r Region) Bound() orb.Bound {
	return r.bound
}

// WKB encodes the region geometry as little-endian EWKB.
func (r Region) WKB() ([]byte, error) {
	data, err := ewkb.Marshal(r.Geometry, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrapf(err, "region: encode WKB %s", r.ID)
	}
	return data, nil
}

// Union combines regions into one region covering all of them. Regions are
// assumed disjoint, so polygons are concatenated rather than dissolved.
func Union(id string, regions []Region) (Region, error) {
	if len(regions) == 0 {
		return Region{}, eris.New("region: union of zero regions")
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(regions[0].Geometry.SRID())
	for _, r := range regions {
		for i := 0; i < r.Geometry.NumPolygons(); i++ {
			if err := mp.Push(r.Geometry.Polygon(i)); err != nil {
				return Region{}, eris.Wrapf(err, "region: union %s", r.ID)
			}
		}
	}
	return New(id, id, nil, mp)
}

// Fields names the attributes a loader reads the identity of a region from.
type Fields struct {
	ID   string `yaml:"id_field" mapstructure:"id_field"`
	Name string `yaml:"name_field" mapstructure:"name_field"`
}

// Load reads regions from a shapefile (.shp) or GeoJSON (.geojson, .json).
func Load(path string, fields Fields) ([]Region, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path, fields)
	case ".geojson", ".json":
		return LoadGeoJSON(path, fields)
	default:
		return nil, eris.Errorf("region: unsupported format %q", filepath.Ext(path))
	}
}

// identity picks the id and name of feature i from its properties.
func identity(props map[string]any, fields Fields, i int) (string, string) {
	id := fmt.Sprint(i)
	if v, ok := props[fields.ID]; ok && fields.ID != "" {
		id = strings.TrimSpace(fmt.Sprint(v))
	}
	name := id
	if v, ok := props[fields.Name]; ok && fields.Name != "" {
		name = strings.TrimSpace(fmt.Sprint(v))
	}
	return id, name
}

func toOrb(mp *geom.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, mp.NumPolygons())
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		poly := make(orb.Polygon, 0, p.NumLinearRings())
		for j := 0; j < p.NumLinearRings(); j++ {
			lr := p.LinearRing(j)
			ring := make(orb.Ring, 0, lr.NumCoords())
			for k := 0; k < lr.NumCoords(); k++ {
				c := lr.Coord(k)
				ring = append(ring, orb.Point{c.X(), c.Y()})
			}
			poly = append(poly, ring)
		}
		out = append(out, poly)
	}
	return out
}
