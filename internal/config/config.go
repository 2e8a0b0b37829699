package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/flood-cli/internal/flood"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Flood   FloodConfig   `yaml:"flood" mapstructure:"flood"`
	Regions RegionsConfig `yaml:"regions" mapstructure:"regions"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FloodConfig holds the untyped assessment settings. Options turns them
// into validated flood.Options.
type FloodConfig struct {
	SpeckleFilterRadius      float64  `yaml:"speckle_filter_radius" mapstructure:"speckle_filter_radius"`
	SeasonalWaterThresholdDb float64  `yaml:"seasonal_water_threshold_db" mapstructure:"seasonal_water_threshold_db"`
	LandValue                float64  `yaml:"land_value" mapstructure:"land_value"`
	HistogramBucketCount     int      `yaml:"histogram_bucket_count" mapstructure:"histogram_bucket_count"`
	HistogramMaxBuckets      int      `yaml:"histogram_max_buckets" mapstructure:"histogram_max_buckets"`
	HistogramScale           float64  `yaml:"histogram_scale" mapstructure:"histogram_scale"`
	HistogramMin             *float64 `yaml:"histogram_min" mapstructure:"histogram_min"`
	HistogramMax             *float64 `yaml:"histogram_max" mapstructure:"histogram_max"`
	// AggregationScale is "native" or a ground scale in raster units.
	AggregationScale string `yaml:"aggregation_scale" mapstructure:"aggregation_scale"`
	BestEffort       bool   `yaml:"best_effort" mapstructure:"best_effort"`
	FloodPolarity    string `yaml:"flood_polarity" mapstructure:"flood_polarity"`
	MaxPixels        int    `yaml:"max_pixels" mapstructure:"max_pixels"`
	Concurrency      int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// RegionsConfig names the attributes that identify regions.
type RegionsConfig struct {
	IDField   string `yaml:"id_field" mapstructure:"id_field"`
	NameField string `yaml:"name_field" mapstructure:"name_field"`
}

// FetchConfig configures staging of remote inputs.
type FetchConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	// RatePerSec limits HTTP requests per host; 0 disables limiting.
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the results API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FLOOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "flood.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("flood.speckle_filter_radius", flood.DefaultSpeckleRadius)
	v.SetDefault("flood.seasonal_water_threshold_db", flood.DefaultSeasonalThreshold)
	v.SetDefault("flood.land_value", flood.DefaultLandValue)
	v.SetDefault("flood.histogram_bucket_count", flood.DefaultBucketCount)
	v.SetDefault("flood.histogram_max_buckets", flood.DefaultMaxBuckets)
	v.SetDefault("flood.histogram_scale", flood.DefaultHistogramScale)
	v.SetDefault("flood.aggregation_scale", "native")
	v.SetDefault("flood.best_effort", true)
	v.SetDefault("flood.flood_polarity", string(flood.LowIsFlood))
	v.SetDefault("flood.max_pixels", flood.DefaultMaxPixels)
	v.SetDefault("flood.concurrency", flood.DefaultZonalConcurrency)
	v.SetDefault("regions.id_field", "")
	v.SetDefault("regions.name_field", "")
	v.SetDefault("fetch.temp_dir", "/tmp/flood-cli")
	v.SetDefault("fetch.timeout_secs", 300)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "flood-cli/1.0")
	v.SetDefault("fetch.rate_per_sec", 2.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Options converts the settings into validated flood.Options.
func (c FloodConfig) Options() (flood.Options, error) {
	polarity, err := flood.ParsePolarity(c.FloodPolarity)
	if err != nil {
		return flood.Options{}, eris.Wrap(err, "config: flood_polarity")
	}
	scale, err := ParseScale(c.AggregationScale)
	if err != nil {
		return flood.Options{}, err
	}

	opts := flood.DefaultOptions()
	opts.Polarity = polarity
	opts.Preprocess = flood.PreprocessOptions{
		LandValue:           c.LandValue,
		SpeckleFilterRadius: c.SpeckleFilterRadius,
		SeasonalThresholdDb: c.SeasonalWaterThresholdDb,
	}
	opts.Histogram.BucketCount = c.HistogramBucketCount
	opts.Histogram.MaxBuckets = c.HistogramMaxBuckets
	opts.Histogram.Scale = c.HistogramScale
	opts.Histogram.BestEffort = c.BestEffort
	opts.Zonal.Scale = scale
	opts.Zonal.BestEffort = c.BestEffort
	if c.MaxPixels != 0 {
		opts.Histogram.MaxPixels = c.MaxPixels
		opts.Zonal.MaxPixels = c.MaxPixels
	}
	if c.Concurrency > 0 {
		opts.Zonal.Concurrency = c.Concurrency
	}

	switch {
	case c.HistogramMin != nil && c.HistogramMax != nil:
		opts.Histogram.Range = &[2]float64{*c.HistogramMin, *c.HistogramMax}
	case c.HistogramMin != nil || c.HistogramMax != nil:
		return flood.Options{}, eris.New("config: histogram_min and histogram_max must be set together")
	}

	if err := opts.Validate(); err != nil {
		return flood.Options{}, eris.Wrap(err, "config: flood")
	}
	return opts, nil
}

// ParseScale reads an aggregation scale: "native" (or empty) or a positive
// number.
func ParseScale(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "native") {
		return flood.Native, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, eris.Errorf("config: aggregation_scale %q must be \"native\" or a positive number", s)
	}
	return f, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "assess", "threshold":
		if _, err := c.Flood.Options(); err != nil {
			errs = append(errs, err.Error())
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	case "migrate", "assessments":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch mode {
	case "assess", "serve", "migrate", "assessments":
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
