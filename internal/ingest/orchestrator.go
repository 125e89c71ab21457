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

// Package ingest drives every (source, month) work unit of a city through
// its adapter, the retry policy and the manifest store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/helpers"
	"github.com/cardinalhq/floodlake/internal/idgen"
	"github.com/cardinalhq/floodlake/internal/logctx"
	"github.com/cardinalhq/floodlake/internal/manifest"
	"github.com/cardinalhq/floodlake/internal/retry"
	"github.com/cardinalhq/floodlake/internal/sources"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

const (
	DefaultWorkers           = 2
	DefaultSourceParallelism = 8
)

// Config is the explicit run configuration.
type Config struct {
	City    string
	Country string
	Region  sources.Region
	Window  workunit.Window

	// Workers bounds concurrent units per source; per-source overrides win.
	Workers       int
	SourceWorkers map[string]int

	// SourceParallelism bounds how many sources run at once.
	SourceParallelism int

	// ProviderLimits caps concurrent fetches per provider across sources.
	ProviderLimits map[string]int

	// ProviderRates caps fetch starts per second per provider.
	ProviderRates map[string]float64

	// AttemptTimeout bounds a single adapter call; zero means no bound.
	AttemptTimeout time.Duration

	// ClaimRefresh is how often a held claim is refreshed; zero disables it.
	ClaimRefresh time.Duration

	Retry retry.Policy
}

func (c Config) Validate() error {
	if c.City == "" {
		return errors.New("city is required")
	}
	if err := c.Window.Validate(); err != nil {
		return err
	}
	if err := c.Region.Validate(); err != nil {
		return fmt.Errorf("region %s: %w", c.Region.Name, err)
	}
	if c.Workers < 0 || c.SourceParallelism < 0 || c.AttemptTimeout < 0 || c.ClaimRefresh < 0 {
		return errors.New("workers, source parallelism, attempt timeout and claim refresh must not be negative")
	}
	for name, n := range c.ProviderLimits {
		if n < 0 {
			return fmt.Errorf("provider %s: negative concurrency cap", name)
		}
	}
	for name, r := range c.ProviderRates {
		if r < 0 {
			return fmt.Errorf("provider %s: negative request rate", name)
		}
	}
	return nil
}

func (c Config) workersFor(source string) int {
	if n := c.SourceWorkers[source]; n > 0 {
		return n
	}
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers
}

// Orchestrator runs the work grid of one city.
type Orchestrator struct {
	cfg      Config
	store    manifest.Store
	tree     artifacts.Tree
	registry *sources.Registry
	limits   map[string]*semaphore.Weighted
	buckets  map[string]*ratelimit.Bucket
	prog     progress

	runID string
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

func New(cfg Config, store manifest.Store, tree artifacts.Tree, registry *sources.Registry, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(registry.Names()) == 0 {
		return nil, errors.New("no sources enabled")
	}
	o := &Orchestrator{
		cfg:      cfg,
		store:    store,
		tree:     tree,
		registry: registry,
		limits:   make(map[string]*semaphore.Weighted),
		buckets:  make(map[string]*ratelimit.Bucket),
		now:      time.Now,
		sleep:    helpers.SleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = idgen.NewRunID(o.now())
	}
	for provider, n := range cfg.ProviderLimits {
		if n > 0 {
			o.limits[provider] = semaphore.NewWeighted(int64(n))
		}
	}
	for provider, rate := range cfg.ProviderRates {
		if rate > 0 {
			o.buckets[provider] = ratelimit.NewBucketWithRate(rate, 1)
		}
	}
	return o, nil
}

func (o *Orchestrator) RunID() string { return o.runID }

// Units enumerates the grid: source-major in registry order, then
// chronological.
func (o *Orchestrator) Units() []workunit.Unit {
	return workunit.Grid(o.cfg.City, o.registry.Names(), o.cfg.Window)
}

// Run processes every unit that is not already complete. Unit failures are
// recorded and never abort the run. When ctx is canceled no new unit is
// started and the summary reports what was left.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	ctx, logger := logctx.With(ctx, slog.String("runID", o.runID), slog.String("city", o.cfg.City))
	units := o.Units()
	order, groups := workunit.BySource(units)

	logger.Info("Starting ingestion run",
		slog.String("window", o.cfg.Window.String()),
		slog.Int("units", len(units)),
		slog.Any("sources", order))

	o.prog.begin(len(units), o.now())
	summary := newSummary(o.runID, order)
	parallelism := o.cfg.SourceParallelism
	if parallelism <= 0 {
		parallelism = DefaultSourceParallelism
	}
	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, source := range order {
		adapter, _ := o.registry.Get(source)
		g.Go(func() error {
			o.runSource(ctx, adapter, groups[source], summary.For(source))
			return nil
		})
	}
	_ = g.Wait()

	total := summary.Totals()
	logger.Info("Ingestion run finished",
		slog.Int("succeeded", total.Succeeded),
		slog.Int("skipped", total.Skipped),
		slog.Int("failed", total.Failed),
		slog.Int("interrupted", total.Interrupted),
		slog.Int("contended", total.Contended),
		slog.Int("environmentErrors", total.EnvironmentErrors))
	return summary, ctx.Err()
}

func (o *Orchestrator) runSource(ctx context.Context, adapter sources.Adapter, units []workunit.Unit, sum *SourceSummary) {
	ctx, logger := logctx.With(ctx, slog.String("source", adapter.Name()), slog.String("provider", adapter.Provider()))
	start := time.Now()

	var mu sync.Mutex
	record := func(u workunit.Unit, out Outcome) {
		mu.Lock()
		sum.add(out)
		mu.Unlock()
		o.prog.record(out)
		unitCounter.Add(ctx, 1, outcomeAttrs(u.Source, out))
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.workersFor(adapter.Name()))
	for _, u := range units {
		if ctx.Err() != nil {
			record(u, OutcomeInterrupted)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				record(u, OutcomeInterrupted)
				return nil
			}
			o.prog.inFlight.Add(1)
			out := o.processUnit(ctx, adapter, u)
			o.prog.inFlight.Add(-1)
			record(u, out)
			return nil
		})
	}
	_ = g.Wait()

	sum.Took = time.Since(start)
	sourceDuration.Record(ctx, sum.Took.Seconds(), sourceAttrs(adapter.Name()))
	logger.Info("Source finished",
		slog.Int("completed", sum.Succeeded),
		slog.Int("skipped", sum.Skipped),
		slog.Int("errors", sum.Failed+sum.EnvironmentErrors),
		slog.Int("interrupted", sum.Interrupted),
		slog.String("took", helpers.FormatDuration(sum.Took)))
}
