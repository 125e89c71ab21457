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
	"fmt"

	"github.com/cardinalhq/floodlake/internal/manifest"
)

// StatusAbsent is reported for units that were never scheduled.
const StatusAbsent = "absent"

// PlanEntry is the current state of one unit of the grid.
type PlanEntry struct {
	Source    string `json:"source" yaml:"source"`
	Month     string `json:"month" yaml:"month"`
	Status    string `json:"status" yaml:"status"`
	Attempts  int    `json:"attempts" yaml:"attempts"`
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	// WillRun is false for units a run would skip.
	WillRun bool `json:"will_run" yaml:"will_run"`
}

// Plan lists the grid with each unit's manifest status without fetching or
// writing anything.
func (o *Orchestrator) Plan(ctx context.Context) ([]PlanEntry, error) {
	units := o.Units()
	entries := make([]PlanEntry, 0, len(units))
	for _, u := range units {
		m, ok, err := o.store.Read(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u.Key(), err)
		}
		e := PlanEntry{Source: u.Source, Month: u.Month.String(), Status: StatusAbsent, WillRun: true}
		if ok {
			e.Status = string(m.Status)
			e.Attempts = m.Attempts
			e.WillRun = !m.Done()
			if m.LastError != nil {
				e.LastError = string(m.LastError.Kind) + ": " + m.LastError.Message
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PlanCounts tallies plan entries per source and status.
func PlanCounts(entries []PlanEntry) map[string]map[string]int {
	out := make(map[string]map[string]int)
	for _, e := range entries {
		if out[e.Source] == nil {
			out[e.Source] = map[string]int{
				StatusAbsent:                      0,
				string(manifest.StatusPending):    0,
				string(manifest.StatusInProgress): 0,
				string(manifest.StatusSuccess):    0,
				string(manifest.StatusFailed):     0,
			}
		}
		out[e.Source][e.Status]++
	}
	return out
}
