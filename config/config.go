// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardinalhq/floodlake/internal/ingest"
	"github.com/cardinalhq/floodlake/internal/retry"
	"github.com/cardinalhq/floodlake/internal/sources"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

// EnvPrefix is prepended to every environment override, e.g. "retry_ceiling"
// becomes FLOODLAKE_RETRY_CEILING and "roi.bbox_wgs84" becomes
// FLOODLAKE_ROI_BBOX_WGS84.
const EnvPrefix = "FLOODLAKE"

// DefaultClaimStaleAfter is how long an abandoned claim blocks a unit.
const DefaultClaimStaleAfter = 6 * time.Hour

// DefaultSourceOrder is the run order when no sources are configured.
var DefaultSourceOrder = []string{
	sources.SourceRadar,
	sources.SourceOptical,
	sources.SourceRainfall,
	sources.SourceElevation,
	sources.SourceBuiltup,
	sources.SourcePopulation,
	sources.SourceRoads,
}

// Config is the full ingestion configuration.
type Config struct {
	City    string    `mapstructure:"city"`
	Country string    `mapstructure:"country"`
	ROI     ROIConfig `mapstructure:"roi"`
	Start   string    `mapstructure:"start"`
	End     string    `mapstructure:"end"`

	// Root defaults to data/raw/<city>.
	Root string `mapstructure:"root"`

	Sources []SourceConfig `mapstructure:"sources"`

	RetryCeiling      int           `mapstructure:"retry_ceiling"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	Workers           int           `mapstructure:"workers"`
	SourceParallelism int           `mapstructure:"source_parallelism"`
	ClaimStaleAfter   time.Duration `mapstructure:"claim_stale_after"`

	Providers map[string]ProviderConfig `mapstructure:"providers"`

	// EnvFile is an optional dotenv file with provider credentials.
	EnvFile string `mapstructure:"env_file"`
}

type ROIConfig struct {
	Name string    `mapstructure:"name"`
	BBox []float64 `mapstructure:"bbox_wgs84"`
}

type SourceConfig struct {
	Name string `mapstructure:"name"`
	// Enabled defaults to true when omitted.
	Enabled *bool          `mapstructure:"enabled"`
	Workers int            `mapstructure:"workers"`
	Params  map[string]any `mapstructure:"params"`
}

func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type ProviderConfig struct {
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("retry_ceiling", retry.DefaultCeiling)
	v.SetDefault("backoff_base", retry.DefaultBackoffBase)
	v.SetDefault("backoff_max", retry.DefaultBackoffMax)
	v.SetDefault("attempt_timeout", 30*time.Minute)
	v.SetDefault("http_timeout", 10*time.Minute)
	v.SetDefault("workers", ingest.DefaultWorkers)
	v.SetDefault("source_parallelism", ingest.DefaultSourceParallelism)
	v.SetDefault("claim_stale_after", DefaultClaimStaleAfter)
	v.SetDefault("env_file", ".env")
}

// Load reads configuration from path, or from floodlake.{yaml,json,toml} in
// the working directory when path is empty, then applies FLOODLAKE_*
// environment overrides. A missing default file is not an error; a missing
// explicit file is.
func Load(path string) (*Config, error) {
	return LoadViper(viper.New(), path)
}

// LoadViper is Load on a caller supplied viper, so that command flags bound
// to it take precedence over file and environment values.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	cfg := &Config{}
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("floodlake")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// Window parses start and end.
func (c *Config) Window() (workunit.Window, error) {
	if c.Start == "" || c.End == "" {
		return workunit.Window{}, errors.New("start and end are required")
	}
	return workunit.ParseWindow(c.Start, c.End)
}

// Region returns the region of interest; its name defaults to the city.
func (c *Config) Region() (sources.Region, error) {
	if len(c.ROI.BBox) != 4 {
		return sources.Region{}, fmt.Errorf("roi.bbox_wgs84 needs 4 values (west,south,east,north), got %d", len(c.ROI.BBox))
	}
	r := sources.Region{Name: c.ROI.Name}
	if r.Name == "" {
		r.Name = c.City
	}
	copy(r.BBox[:], c.ROI.BBox)
	if err := r.Validate(); err != nil {
		return sources.Region{}, fmt.Errorf("roi: %w", err)
	}
	return r, nil
}

func (c *Config) RootDir() string {
	if c.Root != "" {
		return c.Root
	}
	return filepath.Join("data", "raw", c.City)
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.NewPolicy(c.RetryCeiling, c.BackoffBase, c.BackoffMax)
}

// SourceSpecs returns the enabled sources in configured order with
// canonical names. only, when non-empty, restricts the result to those
// sources (names or aliases).
func (c *Config) SourceSpecs(only ...string) ([]sources.Spec, error) {
	wanted := map[string]bool{}
	for _, name := range only {
		canonical, ok := sources.Canonical(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		wanted[canonical] = true
	}

	configured := c.Sources
	if len(configured) == 0 {
		for _, name := range DefaultSourceOrder {
			configured = append(configured, SourceConfig{Name: name})
		}
	}

	specs := make([]sources.Spec, 0, len(configured))
	for _, sc := range configured {
		canonical, ok := sources.Canonical(sc.Name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", sc.Name)
		}
		if !sc.IsEnabled() {
			continue
		}
		if len(wanted) > 0 && !wanted[canonical] {
			continue
		}
		specs = append(specs, sources.Spec{Name: canonical, Params: sources.Params(sc.Params)})
	}
	if len(specs) == 0 {
		return nil, errors.New("no sources enabled")
	}
	return specs, nil
}

func (c *Config) sourceWorkers() (map[string]int, error) {
	out := map[string]int{}
	for _, sc := range c.Sources {
		canonical, ok := sources.Canonical(sc.Name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", sc.Name)
		}
		if sc.Workers < 0 {
			return nil, fmt.Errorf("source %s: negative workers", sc.Name)
		}
		if sc.Workers > 0 {
			out[canonical] = sc.Workers
		}
	}
	return out, nil
}

// IngestConfig validates c and converts it for the orchestrator.
func (c *Config) IngestConfig() (ingest.Config, error) {
	if c.City == "" {
		return ingest.Config{}, errors.New("city is required")
	}
	if c.RetryCeiling < 1 {
		return ingest.Config{}, fmt.Errorf("retry_ceiling must be at least 1, got %d", c.RetryCeiling)
	}
	w, err := c.Window()
	if err != nil {
		return ingest.Config{}, err
	}
	region, err := c.Region()
	if err != nil {
		return ingest.Config{}, err
	}
	workers, err := c.sourceWorkers()
	if err != nil {
		return ingest.Config{}, err
	}
	limits := map[string]int{}
	rates := map[string]float64{}
	for name, p := range c.Providers {
		name = strings.ToLower(name)
		limits[name] = p.MaxConcurrency
		if p.RequestsPerMinute != 0 {
			rates[name] = p.RequestsPerMinute / 60
		}
	}

	ic := ingest.Config{
		City:              c.City,
		Country:           c.Country,
		Region:            region,
		Window:            w,
		Workers:           c.Workers,
		SourceWorkers:     workers,
		SourceParallelism: c.SourceParallelism,
		ProviderLimits:    limits,
		ProviderRates:     rates,
		AttemptTimeout:    c.AttemptTimeout,
		ClaimRefresh:      c.ClaimStaleAfter / 3,
		Retry:             c.RetryPolicy(),
	}
	if err := ic.Validate(); err != nil {
		return ingest.Config{}, err
	}
	return ic, nil
}
