// Package manifest reads YAML descriptions of one flood event: its input
// rasters, regions, setting overrides and outputs.
package manifest

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/flood-cli/internal/config"
)

// Default output file names.
const (
	DefaultClassification = "classification.tif"
	DefaultTable          = "zones.csv"
)

// Manifest describes one event. Input entries are local paths or URLs; local
// paths are relative to the manifest file.
type Manifest struct {
	Name       string       `yaml:"name"`
	SAR        string       `yaml:"sar"`
	LandMask   string       `yaml:"land_mask"`
	Population string       `yaml:"population"`
	Regions    string       `yaml:"regions"`
	Fields     RegionFields `yaml:"region_fields"`
	Flood      Overrides    `yaml:"flood"`
	Output     Output       `yaml:"output"`
}

// RegionFields names the region attributes used as id and name.
type RegionFields struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Overrides replaces individual flood settings for this event.
type Overrides struct {
	SpeckleFilterRadius      *float64 `yaml:"speckle_filter_radius"`
	SeasonalWaterThresholdDb *float64 `yaml:"seasonal_water_threshold_db"`
	LandValue                *float64 `yaml:"land_value"`
	HistogramScale           *float64 `yaml:"histogram_scale"`
	HistogramMin             *float64 `yaml:"histogram_min"`
	HistogramMax             *float64 `yaml:"histogram_max"`
	AggregationScale         *string  `yaml:"aggregation_scale"`
	FloodPolarity            *string  `yaml:"flood_polarity"`
	BestEffort               *bool    `yaml:"best_effort"`
}

// Output says where results are written.
type Output struct {
	Dir            string `yaml:"dir"`
	Classification string `yaml:"classification"`
	Table          string `yaml:"table"`
}

// Load reads and validates a manifest. Unknown keys are rejected.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: read %s", path)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "manifest: %s", path)
	}
	m.resolve(filepath.Dir(path))
	return m, nil
}

// Parse decodes and validates manifest YAML without resolving paths.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, eris.Wrap(err, "manifest: parse")
	}
	if m.Output.Classification == "" {
		m.Output.Classification = DefaultClassification
	}
	if m.Output.Table == "" {
		m.Output.Table = DefaultTable
	}
	if m.Output.Dir == "" {
		m.Output.Dir = m.Name
	}
	return &m, m.Validate()
}

// Validate checks that every input is named.
func (m *Manifest) Validate() error {
	for _, f := range []struct{ key, value string }{
		{"name", m.Name},
		{"sar", m.SAR},
		{"land_mask", m.LandMask},
		{"population", m.Population},
		{"regions", m.Regions},
	} {
		if f.value == "" {
			return eris.Errorf("manifest: %s is required", f.key)
		}
	}
	return nil
}

// resolve makes local inputs and the output directory relative to dir.
func (m *Manifest) resolve(dir string) {
	for _, p := range []*string{&m.SAR, &m.LandMask, &m.Population, &m.Regions, &m.Output.Dir} {
		if isLocal(*p) && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func isLocal(p string) bool {
	u, err := url.Parse(p)
	return err != nil || len(u.Scheme) <= 1
}

// ClassificationPath returns the classification raster output path.
func (m *Manifest) ClassificationPath() string {
	return filepath.Join(m.Output.Dir, m.Output.Classification)
}

// TablePath returns the zonal table output path.
func (m *Manifest) TablePath() string {
	return filepath.Join(m.Output.Dir, m.Output.Table)
}

// Apply writes the overrides into c.
func (o Overrides) Apply(c *config.FloodConfig) {
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat(&c.SpeckleFilterRadius, o.SpeckleFilterRadius)
	setFloat(&c.SeasonalWaterThresholdDb, o.SeasonalWaterThresholdDb)
	setFloat(&c.LandValue, o.LandValue)
	setFloat(&c.HistogramScale, o.HistogramScale)
	if o.HistogramMin != nil {
		c.HistogramMin = o.HistogramMin
	}
	if o.HistogramMax != nil {
		c.HistogramMax = o.HistogramMax
	}
	if o.AggregationScale != nil {
		c.AggregationScale = *o.AggregationScale
	}
	if o.FloodPolarity != nil {
		c.FloodPolarity = *o.FloodPolarity
	}
	if o.BestEffort != nil {
		c.BestEffort = *o.BestEffort
	}
}
