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
	"sort"
	"time"
)

// Outcome is how one unit ended in a run.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeSkipped
	OutcomeFailed
	// OutcomeInterrupted means the run was canceled before the unit
	// finished; it is left pending or in_progress.
	OutcomeInterrupted
	// OutcomeContended means another live worker holds the unit's claim.
	OutcomeContended
	// OutcomeEnvironmentError means not even a failed manifest could be
	// written.
	OutcomeEnvironmentError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeContended:
		return "contended"
	case OutcomeEnvironmentError:
		return "environment_error"
	}
	return "unknown"
}

// SourceSummary counts unit outcomes for one source.
type SourceSummary struct {
	Source            string        `json:"source" yaml:"source"`
	Succeeded         int           `json:"succeeded" yaml:"succeeded"`
	Skipped           int           `json:"skipped" yaml:"skipped"`
	Failed            int           `json:"failed" yaml:"failed"`
	Interrupted       int           `json:"interrupted" yaml:"interrupted"`
	Contended         int           `json:"contended" yaml:"contended"`
	EnvironmentErrors int           `json:"environment_errors" yaml:"environment_errors"`
	Took              time.Duration `json:"took" yaml:"took"`
}

func (s *SourceSummary) add(out Outcome) {
	switch out {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	case OutcomeInterrupted:
		s.Interrupted++
	case OutcomeContended:
		s.Contended++
	case OutcomeEnvironmentError:
		s.EnvironmentErrors++
	}
}

// Units is the number of units the source accounted for.
func (s SourceSummary) Units() int {
	return s.Succeeded + s.Skipped + s.Failed + s.Interrupted + s.Contended + s.EnvironmentErrors
}

// Summary is the result of one run.
type Summary struct {
	RunID     string                    `json:"run_id" yaml:"run_id"`
	Order     []string                  `json:"order" yaml:"order"`
	PerSource map[string]*SourceSummary `json:"per_source" yaml:"per_source"`
}

func newSummary(runID string, order []string) *Summary {
	s := &Summary{RunID: runID, Order: order, PerSource: make(map[string]*SourceSummary, len(order))}
	for _, name := range order {
		s.PerSource[name] = &SourceSummary{Source: name}
	}
	return s
}

// For returns the summary of one source, creating it if needed.
func (s *Summary) For(source string) *SourceSummary {
	if ss, ok := s.PerSource[source]; ok {
		return ss
	}
	ss := &SourceSummary{Source: source}
	s.PerSource[source] = ss
	s.Order = append(s.Order, source)
	return ss
}

func (s *Summary) Totals() SourceSummary {
	var t SourceSummary
	for _, ss := range s.PerSource {
		t.Succeeded += ss.Succeeded
		t.Skipped += ss.Skipped
		t.Failed += ss.Failed
		t.Interrupted += ss.Interrupted
		t.Contended += ss.Contended
		t.EnvironmentErrors += ss.EnvironmentErrors
		t.Took = max(t.Took, ss.Took)
	}
	return t
}

// Complete reports whether every unit of the grid is now a success.
func (s *Summary) Complete() bool {
	t := s.Totals()
	return t.Failed == 0 && t.Interrupted == 0 && t.Contended == 0 && t.EnvironmentErrors == 0
}

// Sources lists the sources in run order, falling back to name order.
func (s *Summary) Sources() []string {
	if len(s.Order) == len(s.PerSource) {
		return append([]string(nil), s.Order...)
	}
	names := make([]string, 0, len(s.PerSource))
	for name := range s.PerSource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
