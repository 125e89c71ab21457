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

// Package manifest persists the ingestion state of every work unit.
package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

// FileName is the manifest file inside each unit directory.
const FileName = "manifest.json"

// maxHistory bounds the failure history kept in a manifest.
const maxHistory = 10

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// CanTransition is the manifest state machine. The empty status stands for
// a manifest that does not exist yet.
//
//	absent      -> pending, in_progress
//	pending     -> pending, in_progress, failed
//	in_progress -> in_progress, success, failed
//	failed      -> in_progress, failed
//	success     -> success
func CanTransition(from, to Status) bool {
	switch from {
	case "":
		return to == StatusPending || to == StatusInProgress
	case StatusPending:
		// failed covers an in_progress write that never landed.
		return to == StatusPending || to == StatusInProgress || to == StatusFailed
	case StatusInProgress:
		return to == StatusInProgress || to == StatusSuccess || to == StatusFailed
	case StatusFailed:
		return to == StatusInProgress || to == StatusFailed
	case StatusSuccess:
		return to == StatusSuccess
	}
	return false
}

// ErrInvalidTransition is returned by stores for writes that violate the
// state machine or lower the attempt count.
var ErrInvalidTransition = errors.New("invalid manifest transition")

type ErrorInfo struct {
	Kind    fetcherr.Kind `json:"kind"`
	Message string        `json:"message"`
}

type FailureRecord struct {
	Kind    fetcherr.Kind `json:"kind"`
	Message string        `json:"message"`
	At      time.Time     `json:"at"`
	RunID   string        `json:"run_id,omitempty"`
}

// Manifest is the persisted record of one work unit.
type Manifest struct {
	Status         Status         `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      *ErrorInfo     `json:"last_error"`
	ArtifactRefs   []string       `json:"artifact_refs"`
	PayloadSummary map[string]any `json:"payload_summary"`
	StartedAt      *time.Time     `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`

	City         string          `json:"city"`
	Source       string          `json:"source"`
	Year         int             `json:"year"`
	Month        int             `json:"month"`
	WindowStart  string          `json:"window_start,omitempty"`
	WindowEnd    string          `json:"window_end,omitempty"`
	RunID        string          `json:"run_id,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ErrorHistory []FailureRecord `json:"error_history,omitempty"`
}

// New returns a pending manifest for a unit that has never been scheduled.
func New(u workunit.Unit) Manifest {
	return Manifest{
		Status:         StatusPending,
		ArtifactRefs:   []string{},
		PayloadSummary: map[string]any{},
		City:           u.City,
		Source:         u.Source,
		Year:           u.Month.Year,
		Month:          int(u.Month.Month),
		WindowStart:    u.Month.StartDate.Format(time.DateOnly),
		WindowEnd:      u.Month.EndDate.Format(time.DateOnly),
	}
}

func (m Manifest) YearMonth() workunit.YearMonth {
	return workunit.YearMonth{Year: m.Year, Month: time.Month(m.Month)}
}

// Done reports whether the unit must be skipped by normal operation.
func (m Manifest) Done() bool {
	return m.Status == StatusSuccess
}

// Begin returns the in_progress version of m for a new fetch attempt.
func (m Manifest) Begin(runID string, now time.Time) Manifest {
	m = m.clone()
	m.Status = StatusInProgress
	m.Attempts++
	m.RunID = runID
	m.StartedAt = &now
	m.CompletedAt = nil
	m.ArtifactRefs = []string{}
	return m
}

// Succeed returns the success version of m.
func (m Manifest) Succeed(refs []string, summary map[string]any, now time.Time) Manifest {
	m = m.clone()
	m.Status = StatusSuccess
	m.LastError = nil
	m.ArtifactRefs = append([]string{}, refs...)
	if summary == nil {
		summary = map[string]any{}
	}
	m.PayloadSummary = summary
	m.CompletedAt = &now
	return m
}

// Fail returns the failed version of m with the cause appended to the
// failure history.
func (m Manifest) Fail(kind fetcherr.Kind, message string, now time.Time) Manifest {
	m = m.clone()
	m.Status = StatusFailed
	m.LastError = &ErrorInfo{Kind: kind, Message: message}
	m.ArtifactRefs = []string{}
	m.CompletedAt = &now
	m.ErrorHistory = append(m.ErrorHistory, FailureRecord{Kind: kind, Message: message, At: now, RunID: m.RunID})
	if len(m.ErrorHistory) > maxHistory {
		m.ErrorHistory = m.ErrorHistory[len(m.ErrorHistory)-maxHistory:]
	}
	return m
}

// Validate checks the record-local invariants.
func (m Manifest) Validate() error {
	if !m.Status.Valid() {
		return fmt.Errorf("unknown manifest status %q", m.Status)
	}
	if m.Attempts < 0 {
		return fmt.Errorf("negative attempts %d", m.Attempts)
	}
	switch m.Status {
	case StatusSuccess:
		if m.LastError != nil {
			return errors.New("success manifest carries last_error")
		}
		if len(m.ArtifactRefs) == 0 {
			return errors.New("success manifest has no artifact refs")
		}
	default:
		if len(m.ArtifactRefs) != 0 {
			return fmt.Errorf("%s manifest carries artifact refs", m.Status)
		}
	}
	if m.Status == StatusFailed && m.LastError == nil {
		return errors.New("failed manifest has no last_error")
	}
	return nil
}

// checkSuccessor validates next against the currently stored record.
func checkSuccessor(prev *Manifest, next Manifest) error {
	from := Status("")
	attempts := 0
	if prev != nil {
		from = prev.Status
		attempts = prev.Attempts
	}
	if !CanTransition(from, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, displayStatus(from), next.Status)
	}
	if next.Attempts < attempts {
		return fmt.Errorf("%w: attempts %d -> %d", ErrInvalidTransition, attempts, next.Attempts)
	}
	return nil
}

func displayStatus(s Status) string {
	if s == "" {
		return "absent"
	}
	return string(s)
}

func (m Manifest) clone() Manifest {
	out := m
	out.ArtifactRefs = append([]string{}, m.ArtifactRefs...)
	out.ErrorHistory = append([]FailureRecord(nil), m.ErrorHistory...)
	if m.LastError != nil {
		le := *m.LastError
		out.LastError = &le
	}
	if m.PayloadSummary != nil {
		out.PayloadSummary = make(map[string]any, len(m.PayloadSummary))
		for k, v := range m.PayloadSummary {
			out.PayloadSummary[k] = v
		}
	} else {
		out.PayloadSummary = map[string]any{}
	}
	return out
}
