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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
	"github.com/cardinalhq/floodlake/internal/retry"
)

func sourceAttrs(source string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("source", source))
}

func outcomeAttrs(source string, out Outcome) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", out.String()),
	)
}

func retryAttrs(source string, kind fetcherr.Kind, action retry.Action) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("kind", string(kind)),
		attribute.String("action", action.String()),
	)
}
