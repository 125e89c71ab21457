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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
	"github.com/cardinalhq/floodlake/internal/heartbeat"
	"github.com/cardinalhq/floodlake/internal/idgen"
	"github.com/cardinalhq/floodlake/internal/logctx"
	"github.com/cardinalhq/floodlake/internal/manifest"
	"github.com/cardinalhq/floodlake/internal/retry"
	"github.com/cardinalhq/floodlake/internal/sources"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

// unitRun carries the state of one unit through the attempts of a run.
type unitRun struct {
	o       *Orchestrator
	adapter sources.Adapter
	unit    workunit.Unit
	claim   manifest.Claim
	logger  *slog.Logger
	m       manifest.Manifest
}

// processUnit is the per-unit state machine. It never returns an error:
// every outcome is recorded in the manifest or reported in the summary.
func (o *Orchestrator) processUnit(ctx context.Context, adapter sources.Adapter, u workunit.Unit) Outcome {
	ctx, logger := logctx.WithUnit(ctx, u)

	m, ok, err := o.store.Read(ctx, u)
	if err != nil {
		return o.readFailed(ctx, logger, err)
	}
	if ok && m.Done() {
		logger.Debug("Unit already complete, skipping")
		return OutcomeSkipped
	}

	claim, err := o.store.Claim(ctx, u, o.runID)
	switch {
	case errors.Is(err, manifest.ErrClaimed):
		logger.Info("Unit claimed by another worker, skipping")
		return OutcomeContended
	case err != nil:
		return o.readFailed(ctx, logger, err)
	}
	defer func() {
		if err := claim.Release(); err != nil {
			logger.Warn("Failed to release claim", slog.Any("error", err))
		}
	}()
	if o.cfg.ClaimRefresh > 0 {
		stop := heartbeat.New(func(ctx context.Context) error {
			err := claim.Refresh(ctx)
			if errors.Is(err, manifest.ErrClaimLost) {
				return fmt.Errorf("%w: %w", heartbeat.ErrStop, err)
			}
			return err
		}, o.cfg.ClaimRefresh, logger).Start(ctx)
		defer stop()
	}

	// Another worker may have finished the unit between the read and the
	// claim.
	m, ok, err = o.store.Read(ctx, u)
	if err != nil {
		return o.readFailed(ctx, logger, err)
	}
	if ok && m.Done() {
		return OutcomeSkipped
	}
	if !ok {
		m = manifest.New(u)
		if err := o.store.Write(context.WithoutCancel(ctx), u, m); err != nil {
			logger.Error("Failed to create manifest", slog.Any("error", err))
			return OutcomeEnvironmentError
		}
	}
	if err := o.tree.ClearStaging(u); err != nil {
		logger.Warn("Failed to clear stale staging", slog.Any("error", err))
	}

	r := &unitRun{o: o, adapter: adapter, unit: u, claim: claim, logger: logger, m: m}
	return r.attempts(ctx)
}

func (o *Orchestrator) readFailed(ctx context.Context, logger *slog.Logger, err error) Outcome {
	if ctx.Err() != nil {
		return OutcomeInterrupted
	}
	logger.Error("Cannot read or claim unit", slog.Any("error", err))
	return OutcomeEnvironmentError
}

func (r *unitRun) attempts(ctx context.Context) Outcome {
	o := r.o
	tracker := o.cfg.Retry.NewTracker()
	for {
		tracker.StartAttempt()
		r.m = r.m.Begin(o.runID, o.now().UTC())
		if err := o.store.Write(context.WithoutCancel(ctx), r.unit, r.m); err != nil {
			return r.localFailure(ctx, "write in_progress manifest", err)
		}
		r.logger.Info("Fetching unit",
			slog.Int("attempt", r.m.Attempts),
			slog.Int("runAttempt", tracker.Total()))

		out, err := r.attempt(ctx)
		if err == nil {
			return out
		}
		if ctx.Err() != nil {
			r.logger.Warn("Unit interrupted, leaving in_progress", slog.Any("error", err))
			return OutcomeInterrupted
		}

		d := tracker.Fail(err)
		kind := tracker.LastKind()
		retryCounter.Add(ctx, 1, retryAttrs(r.unit.Source, kind, d.Action))
		r.logger.Warn("Fetch attempt failed",
			slog.String("kind", string(kind)),
			slog.String("action", d.Action.String()),
			slog.Duration("delay", d.Delay),
			slog.Int("budgeted", tracker.Budgeted()),
			slog.Any("error", err))

		switch d.Action {
		case retry.GiveUp:
			return r.fail(ctx, kind, err)
		case retry.Reauthenticate:
			if ra, ok := r.adapter.(sources.Reauthenticator); ok {
				if rerr := ra.Reauthenticate(ctx); rerr != nil {
					if ctx.Err() != nil {
						return OutcomeInterrupted
					}
					return r.fail(ctx, fetcherr.KindOf(rerr), rerr)
				}
			}
		case retry.Retry:
			if err := o.sleep(ctx, d.Delay); err != nil {
				r.logger.Warn("Unit interrupted during backoff, leaving in_progress")
				return OutcomeInterrupted
			}
		}
	}
}

// attempt runs one fetch into a fresh staging directory. A nil error means
// the outcome is final for this run.
func (r *unitRun) attempt(ctx context.Context) (Outcome, error) {
	o := r.o
	staging, err := o.tree.NewStaging(r.unit, r.claim.Token()+"-"+idgen.ShortToken())
	if err != nil {
		return 0, fetcherr.LocalIO("create staging", err)
	}
	defer func() {
		if err := staging.Discard(); err != nil {
			r.logger.Warn("Failed to discard staging", slog.Any("error", err))
		}
	}()

	req := sources.Request{
		Unit:       r.unit,
		Span:       o.cfg.Window,
		Region:     o.cfg.Region,
		Country:    o.cfg.Country,
		StagingDir: staging.Dir(),
	}
	payload, err := o.fetch(ctx, r.adapter, req)
	if err != nil {
		return 0, err
	}
	// A payload that names missing or empty files is an adapter or provider
	// defect; retrying will not fix it.
	if err := staging.Check(payload.Files); err != nil {
		return 0, fetcherr.Permanent("check payload", err)
	}
	refs, err := staging.Promote(payload.Files)
	if err != nil {
		return 0, fetcherr.LocalIO("promote payload", err)
	}

	next := r.m.Succeed(refs, payload.Summary, o.now().UTC())
	if err := o.store.Write(context.WithoutCancel(ctx), r.unit, next); err != nil {
		return r.localFailure(ctx, "write success manifest", err), nil
	}
	r.m = next
	size := o.tree.RefsSize(refs)
	payloadBytes.Add(ctx, size, sourceAttrs(r.unit.Source))
	r.logger.Info("Unit complete",
		slog.Int("files", len(refs)),
		slog.String("size", humanize.IBytes(uint64(size))),
		slog.Int("attempt", next.Attempts))
	return OutcomeSucceeded, nil
}

func (r *unitRun) fail(ctx context.Context, kind fetcherr.Kind, cause error) Outcome {
	next := r.m.Fail(kind, cause.Error(), r.o.now().UTC())
	if err := r.o.store.Write(context.WithoutCancel(ctx), r.unit, next); err != nil {
		r.logger.Error("Failed to record unit failure",
			slog.String("kind", string(kind)),
			slog.Any("cause", cause),
			slog.Any("error", err))
		return OutcomeEnvironmentError
	}
	r.m = next
	r.logger.Error("Unit failed", slog.String("kind", string(kind)), slog.Any("error", cause))
	return OutcomeFailed
}

// localFailure handles a manifest write that failed mid-attempt: one
// best-effort failed write, else the unit is an environment error.
func (r *unitRun) localFailure(ctx context.Context, op string, err error) Outcome {
	return r.fail(ctx, fetcherr.KindLocalIO, fetcherr.LocalIO(op, err))
}

// fetch runs the adapter under the provider cap and the attempt timeout. A
// panic in the adapter becomes a permanent failure of this unit.
func (o *Orchestrator) fetch(ctx context.Context, a sources.Adapter, req sources.Request) (payload sources.Payload, err error) {
	if sem := o.limits[a.Provider()]; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return sources.Payload{}, err
		}
		defer sem.Release(1)
	}
	if b := o.buckets[a.Provider()]; b != nil {
		if wait := b.Take(1); wait > 0 {
			if err := o.sleep(ctx, wait); err != nil {
				return sources.Payload{}, err
			}
		}
	}

	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "ingest.fetch", trace.WithAttributes(
		attribute.String("source", a.Name()),
		attribute.String("provider", a.Provider()),
		attribute.String("unit", req.Unit.Key()),
	))
	defer span.End()

	attrs := sourceAttrs(a.Name())
	inflightGauge.Add(ctx, 1, attrs)
	start := time.Now()
	defer func() {
		inflightGauge.Add(ctx, -1, attrs)
		fetchDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(fetcherr.KindOf(err)))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			logctx.FromContext(ctx).Error("Adapter panicked",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			payload = sources.Payload{}
			err = fetcherr.Permanent("adapter panic", fmt.Errorf("%v", p))
		}
	}()

	return a.Fetch(ctx, req)
}
