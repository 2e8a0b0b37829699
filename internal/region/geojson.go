package region

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// LoadGeoJSON reads Polygon and MultiPolygon features from a GeoJSON
// FeatureCollection.
func LoadGeoJSON(path string, fields Fields) ([]Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: read %s", path)
	}
	return ParseGeoJSON(data, fields)
}

// ParseGeoJSON decodes a FeatureCollection into regions.
func ParseGeoJSON(data []byte, fields Fields) ([]Region, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "region: decode geojson")
	}

	var regions []Region
	var skipped int
	for i, f := range fc.Features {
		var mp *geom.MultiPolygon
		switch g := f.Geometry.(type) {
		case *geom.MultiPolygon:
			mp = g
		case *geom.Polygon:
			mp = geom.NewMultiPolygon(g.Layout())
			if err := mp.Push(g); err != nil {
				skipped++
				continue
			}
		default:
			skipped++
			continue
		}

		props := f.Properties
		if props == nil {
			props = map[string]any{}
		}
		id, name := identity(props, fields, i)
		r, err := New(id, name, props, mp)
		if err != nil {
			skipped++
			continue
		}
		regions = append(regions, r)
	}

	if skipped > 0 {
		zap.L().Debug("region: skipped geojson features", zap.Int("skipped", skipped))
	}
	if len(regions) == 0 {
		return nil, eris.New("region: no polygon features")
	}
	return regions, nil
}
