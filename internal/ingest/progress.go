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
	"sync/atomic"
	"time"
)

// Progress is a point-in-time view of a running ingestion.
type Progress struct {
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	Units             int64     `json:"units"`
	Done              int64     `json:"done"`
	Succeeded         int64     `json:"succeeded"`
	Skipped           int64     `json:"skipped"`
	Failed            int64     `json:"failed"`
	Interrupted       int64     `json:"interrupted"`
	Contended         int64     `json:"contended"`
	EnvironmentErrors int64     `json:"environment_errors"`
	InFlight          int64     `json:"in_flight"`
}

type progress struct {
	started  atomic.Int64
	units    atomic.Int64
	inFlight atomic.Int64
	outcomes [OutcomeEnvironmentError + 1]atomic.Int64
}

func (p *progress) begin(units int, now time.Time) {
	p.units.Store(int64(units))
	p.started.Store(now.UnixNano())
}

func (p *progress) record(out Outcome) {
	if out > 0 && int(out) < len(p.outcomes) {
		p.outcomes[out].Add(1)
	}
}

// Progress can be called concurrently with Run.
func (o *Orchestrator) Progress() Progress {
	p := Progress{
		RunID:             o.runID,
		Units:             o.prog.units.Load(),
		Succeeded:         o.prog.outcomes[OutcomeSucceeded].Load(),
		Skipped:           o.prog.outcomes[OutcomeSkipped].Load(),
		Failed:            o.prog.outcomes[OutcomeFailed].Load(),
		Interrupted:       o.prog.outcomes[OutcomeInterrupted].Load(),
		Contended:         o.prog.outcomes[OutcomeContended].Load(),
		EnvironmentErrors: o.prog.outcomes[OutcomeEnvironmentError].Load(),
		InFlight:          o.prog.inFlight.Load(),
	}
	if ns := o.prog.started.Load(); ns != 0 {
		p.StartedAt = time.Unix(0, ns).UTC()
	}
	p.Done = p.Succeeded + p.Skipped + p.Failed + p.Interrupted + p.Contended + p.EnvironmentErrors
	return p
}
