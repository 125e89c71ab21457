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

package sources

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/awsclient"
)

const (
	SourceRadar      = "radar"
	SourceOptical    = "optical"
	SourceRainfall   = "rainfall"
	SourceElevation  = "elevation"
	SourceBuiltup    = "builtup"
	SourcePopulation = "population"
	SourceRoads      = "roads"
)

// Info describes a built-in source.
type Info struct {
	Name        string   `json:"name" yaml:"name"`
	Provider    string   `json:"provider" yaml:"provider"`
	Aliases     []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Description string   `json:"description" yaml:"description"`
}

type builtin struct {
	Info
	build func(ctx context.Context, env *Env, p Params) (Adapter, error)
}

var builtins = map[string]builtin{
	SourceRadar: {
		Info: Info{Provider: ProviderCDSE, Aliases: []string{"sentinel_1", "sentinel1"},
			Description: "Sentinel-1 GRD monthly VV median, 20 m GeoTIFF"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			return newRadar(env.cdse(cdseSettingsFrom(env, p))), nil
		},
	},
	SourceOptical: {
		Info: Info{Provider: ProviderCDSE, Aliases: []string{"sentinel_2", "sentinel2"},
			Description: "Sentinel-2 L2A cloud-masked monthly RGBN median, 30 m GeoTIFF"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			maxCloud, err := p.Int("max_cloud_coverage", defaultMaxCloudCoverage)
			if err != nil {
				return nil, err
			}
			return newOptical(env.cdse(cdseSettingsFrom(env, p)), maxCloud), nil
		},
	},
	SourceRainfall: {
		Info: Info{Provider: ProviderOpenMeteo, Aliases: []string{"era5"},
			Description: "ERA5-equivalent daily precipitation at the region center, JSON and Parquet"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			return newRainfall(env.HTTPClient, p.String("archive_url", defaultArchiveURL)), nil
		},
	},
	SourceElevation: {
		Info: Info{Provider: ProviderCopernicusDEM, Aliases: []string{"dem"},
			Description: "Copernicus GLO-30 DEM tiles covering the region"},
		build: func(ctx context.Context, env *Env, p Params) (Adapter, error) {
			getter, err := env.s3(ctx, p)
			if err != nil {
				return nil, err
			}
			return newElevation(getter, p.String("bucket", defaultDEMBucket), env.Tree.CacheDir(SourceElevation)), nil
		},
	},
	SourceBuiltup: {
		Info: Info{Provider: ProviderJRC, Aliases: []string{"ghsl"},
			Description: "GHSL built-up surface package with metadata"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			return newBuiltup(env.HTTPClient, p.String("url", defaultGHSLURL), env.Tree.CacheDir(SourceBuiltup)), nil
		},
	},
	SourcePopulation: {
		Info: Info{Provider: ProviderWorldPop, Aliases: []string{"worldpop"},
			Description: "WorldPop population raster reference for the country"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			iso3 := p.String("iso3", "")
			if iso3 == "" && len(env.Country) == 3 {
				iso3 = env.Country
			}
			if iso3 == "" {
				return nil, fmt.Errorf("params.iso3 is required when country %q is not an ISO3 code", env.Country)
			}
			year, err := p.Int("reference_year", worldPopLastYear)
			if err != nil {
				return nil, err
			}
			check, err := p.Bool("check_reference", false)
			if err != nil {
				return nil, err
			}
			return newPopulation(env.HTTPClient, p.String("url_template", defaultWorldPopTemplate), iso3, year, check), nil
		},
	},
	SourceRoads: {
		Info: Info{Provider: ProviderOverpass, Aliases: []string{"osm_roads", "osm"},
			Description: "OpenStreetMap highway network from Overpass"},
		build: func(_ context.Context, env *Env, p Params) (Adapter, error) {
			secs, err := p.Int("query_timeout", 90)
			if err != nil {
				return nil, err
			}
			return newRoads(env.HTTPClient, p.String("interpreter_url", defaultOverpassURL), secs), nil
		},
	},
}

// Canonical resolves a source name or alias.
func Canonical(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := builtins[name]; ok {
		return name, true
	}
	for canonical, b := range builtins {
		if slices.Contains(b.Aliases, name) {
			return canonical, true
		}
	}
	return "", false
}

// Builtins lists the built-in sources sorted by name.
func Builtins() []Info {
	out := make([]Info, 0, len(builtins))
	for name, b := range builtins {
		info := b.Info
		info.Name = name
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Env carries the shared dependencies adapters are built from.
type Env struct {
	HTTPClient *http.Client
	Tree       artifacts.Tree
	Country    string

	// AWS is created on first use when nil.
	AWS *awsclient.Manager

	// Getenv defaults to os.Getenv.
	Getenv func(string) string

	mu      sync.Mutex
	clients map[cdseSettings]*cdseClient
}

func (e *Env) getenv(key string) string {
	if e.Getenv != nil {
		return e.Getenv(key)
	}
	return os.Getenv(key)
}

func (e *Env) httpClient() *http.Client {
	if e.HTTPClient == nil {
		e.HTTPClient = NewHTTPClient(10 * time.Minute)
	}
	return e.HTTPClient
}

// cdse returns the client shared by every source with the same settings.
func (e *Env) cdse(s cdseSettings) *cdseClient {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clients == nil {
		e.clients = make(map[cdseSettings]*cdseClient)
	}
	c, ok := e.clients[s]
	if !ok {
		c = newCDSEClient(e.httpClient(), s)
		e.clients[s] = c
	}
	return c
}

func (e *Env) s3(ctx context.Context, p Params) (ObjectGetter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.AWS == nil {
		mgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName(p.String("session_name", "")))
		if err != nil {
			return nil, err
		}
		e.AWS = mgr
	}
	opts := []awsclient.S3Option{awsclient.WithRegion(p.String("region", defaultDEMRegion))}
	// Private mirrors are read through an assumed role; the public bucket
	// is read anonymously.
	if role := p.String("role_arn", ""); role != "" {
		opts = append(opts, awsclient.WithRole(role))
	} else {
		opts = append(opts, awsclient.WithAnonymous())
	}
	if endpoint := p.String("endpoint", ""); endpoint != "" {
		opts = append(opts, awsclient.WithEndpoint(endpoint), awsclient.WithPathStyle())
	}
	return e.AWS.GetS3(ctx, opts...)
}

// Spec selects and parameterizes one source.
type Spec struct {
	Name   string
	Params Params
}

// Registry maps canonical source names to adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Build constructs the adapters named by specs. Unknown and duplicate names
// are configuration errors.
func Build(ctx context.Context, env *Env, specs []Spec) (*Registry, error) {
	env.httpClient()
	reg := NewRegistry()
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, spec := range specs {
		name, ok := Canonical(spec.Name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q (known: %s)", spec.Name, strings.Join(knownNames(), ", "))
		}
		if seen.Contains(name) {
			return nil, fmt.Errorf("source %q configured more than once", name)
		}
		seen.Add(name)
		params := spec.Params
		if params == nil {
			params = Params{}
		}
		a, err := builtins[name].build(ctx, env, params)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds an adapter under its own name.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if _, dup := r.adapters[name]; dup {
		return fmt.Errorf("source %q registered twice", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

// Get looks up an adapter by name or alias.
func (r *Registry) Get(name string) (Adapter, bool) {
	if a, ok := r.adapters[name]; ok {
		return a, true
	}
	if canonical, ok := Canonical(name); ok {
		a, ok := r.adapters[canonical]
		return a, ok
	}
	return nil, false
}

// Names returns source names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

func knownNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
