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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("github.com/cardinalhq/floodlake/internal/ingest")

	unitCounter    metric.Int64Counter
	retryCounter   metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	sourceDuration metric.Float64Histogram
	inflightGauge  metric.Int64UpDownCounter
	payloadBytes   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/floodlake/internal/ingest")

	var err error
	unitCounter, err = meter.Int64Counter(
		"floodlake.ingest.units",
		metric.WithDescription("Work units processed, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.units counter: %w", err))
	}

	retryCounter, err = meter.Int64Counter(
		"floodlake.ingest.retries",
		metric.WithDescription("Failed fetch attempts, by failure kind and retry action"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.retries counter: %w", err))
	}

	fetchDuration, err = meter.Float64Histogram(
		"floodlake.ingest.fetch.duration",
		metric.WithDescription("Duration of a single adapter fetch"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.fetch.duration histogram: %w", err))
	}

	sourceDuration, err = meter.Float64Histogram(
		"floodlake.ingest.source.duration",
		metric.WithDescription("Wall time spent on all units of one source"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.source.duration histogram: %w", err))
	}

	inflightGauge, err = meter.Int64UpDownCounter(
		"floodlake.ingest.fetch.inflight",
		metric.WithDescription("Adapter fetches currently running"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.fetch.inflight counter: %w", err))
	}

	payloadBytes, err = meter.Int64Counter(
		"floodlake.ingest.payload.bytes",
		metric.WithDescription("Bytes of payload promoted into the raw tree"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.payload.bytes counter: %w", err))
	}
}
