package main

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/flood-cli/internal/fetcher"
	"github.com/sells-group/flood-cli/internal/graph"
	"github.com/sells-group/flood-cli/internal/manifest"
	"github.com/sells-group/flood-cli/internal/pipeline"
	"github.com/sells-group/flood-cli/internal/raster"
	"github.com/sells-group/flood-cli/internal/rasterio"
	"github.com/sells-group/flood-cli/internal/region"
)

// addEventFlags registers the input flags shared by assess and threshold.
func addEventFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.String("manifest", "", "event manifest (YAML); flags override its entries")
	fs.String("name", "", "event name (default: SAR file name)")
	fs.String("sar", "", "post-event SAR backscatter raster, path or URL")
	fs.String("land-mask", "", "land mask raster, path or URL")
	fs.String("regions", "", "region polygons (.shp, .geojson or .zip), path or URL")
	fs.String("id-field", "", "region attribute used as id")
	fs.String("name-field", "", "region attribute used as name")
	fs.String("aoi", "", "histogram area as minx,miny,maxx,maxy (default: union of regions)")
}

// eventFlags maps flag names to the manifest entries they override.
func eventFlags(ev *manifest.Manifest) map[string]*string {
	return map[string]*string{
		"name":           &ev.Name,
		"sar":            &ev.SAR,
		"land-mask":      &ev.LandMask,
		"population":     &ev.Population,
		"regions":        &ev.Regions,
		"id-field":       &ev.Fields.ID,
		"name-field":     &ev.Fields.Name,
		"output-dir":     &ev.Output.Dir,
		"classification": &ev.Output.Classification,
		"table":          &ev.Output.Table,
	}
}

// loadEvent builds the event description from --manifest and the input flags.
func loadEvent(cmd *cobra.Command) (*manifest.Manifest, error) {
	fs := cmd.Flags()
	ev := &manifest.Manifest{}
	if path, _ := fs.GetString("manifest"); path != "" {
		m, err := manifest.Load(path)
		if err != nil {
			return nil, err
		}
		ev = m
	}

	for name, dst := range eventFlags(ev) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}

	if ev.Name == "" && ev.SAR != "" {
		base := filepath.Base(ev.SAR)
		ev.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if ev.Output.Dir == "" {
		ev.Output.Dir = ev.Name
	}
	if ev.Output.Classification == "" {
		ev.Output.Classification = manifest.DefaultClassification
	}
	if ev.Output.Table == "" {
		ev.Output.Table = manifest.DefaultTable
	}
	return ev, nil
}

// requireInputs fails naming every flag whose value is empty.
func requireInputs(inputs ...[2]string) error {
	var missing []string
	for _, in := range inputs {
		if in[1] == "" {
			missing = append(missing, "--"+in[0])
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("missing %s (or set them in --manifest)", strings.Join(missing, ", "))
	}
	return nil
}

// parseBounds reads "minx,miny,maxx,maxy".
func parseBounds(s string) ([4]float64, error) {
	var b [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return b, eris.Errorf("aoi %q: want minx,miny,maxx,maxy", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return b, eris.Wrapf(err, "aoi %q", s)
		}
		b[i] = v
	}
	if b[2] <= b[0] || b[3] <= b[1] {
		return b, eris.Errorf("aoi %q: empty box", s)
	}
	return b, nil
}

// aoiFlag returns the --aoi region, or nil when the flag is unset.
func aoiFlag(cmd *cobra.Command) (*region.Region, error) {
	s, _ := cmd.Flags().GetString("aoi")
	if s == "" {
		return nil, nil
	}
	b, err := parseBounds(s)
	if err != nil {
		return nil, err
	}
	r, err := region.FromBounds(pipeline.AOIRegionID, b[0], b[1], b[2], b[3])
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// eventSources stages and reads the inputs of one event on demand, so a
// command only downloads what its stages evaluate.
type eventSources struct {
	stager *fetcher.Stager
	dir    string
	fields region.Fields

	// regions is set once the regions node has been evaluated.
	regions []region.Region
}

func newEventSources(ev *manifest.Manifest) *eventSources {
	fields := region.Fields{ID: cfg.Regions.IDField, Name: cfg.Regions.NameField}
	if ev.Fields.ID != "" {
		fields.ID = ev.Fields.ID
	}
	if ev.Fields.Name != "" {
		fields.Name = ev.Fields.Name
	}
	return &eventSources{
		stager: fetcher.New(fetcher.Options{
			UserAgent:  cfg.Fetch.UserAgent,
			Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Fetch.MaxRetries,
			RatePerSec: cfg.Fetch.RatePerSec,
		}),
		dir:    cfg.Fetch.TempDir,
		fields: fields,
	}
}

// inputs returns the deferred pipeline inputs of ev.
func (s *eventSources) inputs(ev *manifest.Manifest, aoi *region.Region) pipeline.Inputs {
	in := pipeline.Inputs{
		SAR:        s.raster(pipeline.StageSAR, ev.SAR),
		LandMask:   s.raster(pipeline.StageLandMask, ev.LandMask),
		Population: s.raster(pipeline.StagePopulation, ev.Population),
		Regions: graph.Source(pipeline.StageRegions, func(ctx context.Context) ([]region.Region, error) {
			path, err := s.stage(ctx, ev.Regions)
			if err != nil {
				return nil, err
			}
			regions, err := region.Load(path, s.fields)
			if err != nil {
				return nil, err
			}
			s.regions = regions
			return regions, nil
		}),
	}
	if aoi != nil {
		in.AOI = graph.Const(pipeline.StageAOI, *aoi)
	}
	return in
}

func (s *eventSources) raster(label, uri string) *graph.Node[*raster.Raster] {
	return graph.Source(label, func(ctx context.Context) (*raster.Raster, error) {
		path, err := s.stage(ctx, uri)
		if err != nil {
			return nil, err
		}
		return rasterio.Read(path)
	})
}

func (s *eventSources) stage(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", eris.New("input not set")
	}
	path, err := s.stager.Stage(ctx, uri, s.dir)
	if err != nil {
		return "", err
	}
	zap.L().Debug("staged input", zap.String("uri", uri), zap.String("path", path))
	return path, nil
}
