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

// Package verify audits the manifest store for one source without touching
// any provider.
package verify

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
	"github.com/cardinalhq/floodlake/internal/manifest"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

// MonthRef names one year-month.
type MonthRef struct {
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
}

func refOf(ym workunit.YearMonth) MonthRef {
	return MonthRef{Year: ym.Year, Month: int(ym.Month)}
}

func (r MonthRef) String() string {
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

// FailedUnit is a failed month with its recorded cause.
type FailedUnit struct {
	Year    int           `json:"year" yaml:"year"`
	Month   int           `json:"month" yaml:"month"`
	Kind    fetcherr.Kind `json:"kind" yaml:"kind"`
	Message string        `json:"message" yaml:"message"`
}

// CorruptUnit is a success whose artifacts are gone or empty.
type CorruptUnit struct {
	Year   int    `json:"year" yaml:"year"`
	Month  int    `json:"month" yaml:"month"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the completion audit of one source.
type Report struct {
	Source    string `json:"source" yaml:"source"`
	Expected  int    `json:"expected" yaml:"expected"`
	Completed int    `json:"completed" yaml:"completed"`

	// MissingCount can exceed len(Missing) when no window is known and the
	// gaps lie outside the range of present months.
	MissingCount int           `json:"missing_count" yaml:"missing_count"`
	Missing      []MonthRef    `json:"missing" yaml:"missing"`
	Failed       []FailedUnit  `json:"failed" yaml:"failed"`
	InProgress   []MonthRef    `json:"in_progress" yaml:"in_progress"`
	Pending      []MonthRef    `json:"pending" yaml:"pending"`
	Corrupt      []CorruptUnit `json:"corrupt,omitempty" yaml:"corrupt,omitempty"`
	Unreadable   int           `json:"unreadable" yaml:"unreadable"`
	// OutsideWindow counts manifests for months the window does not cover.
	OutsideWindow int `json:"outside_window,omitempty" yaml:"outside_window,omitempty"`
}

// Complete reports whether every expected month is a verified success.
func (r Report) Complete() bool {
	return r.Completed >= r.Expected && r.MissingCount == 0 && len(r.Failed) == 0 &&
		len(r.InProgress) == 0 && len(r.Pending) == 0 && len(r.Corrupt) == 0 && r.Unreadable == 0
}

// Verifier reads manifests only.
type Verifier struct {
	store  manifest.Store
	window *workunit.Window
	tree   *artifacts.Tree
}

type Option func(*Verifier)

// WithWindow computes missing months against the configured window.
func WithWindow(w workunit.Window) Option {
	return func(v *Verifier) {
		v.window = &w
	}
}

// WithArtifacts checks that the artifact refs of every success exist.
func WithArtifacts(tree artifacts.Tree) Option {
	return func(v *Verifier) {
		v.tree = &tree
	}
}

func New(store manifest.Store, opts ...Option) *Verifier {
	v := &Verifier{store: store}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify audits source. expected is the number of months that should be
// present; zero means the window length.
func (v *Verifier) Verify(ctx context.Context, source string, expected int) (Report, error) {
	rep := Report{
		Source:     source,
		Expected:   expected,
		Missing:    []MonthRef{},
		Failed:     []FailedUnit{},
		InProgress: []MonthRef{},
		Pending:    []MonthRef{},
	}
	if expected == 0 && v.window != nil {
		rep.Expected = v.window.Len()
	}
	if rep.Expected <= 0 {
		return rep, errors.New("expected month count must be positive when no window is given")
	}

	manifests, err := v.store.ListAll(ctx, source)
	if err != nil {
		var merr *multierror.Error
		if !errors.As(err, &merr) {
			return rep, fmt.Errorf("list manifests for %s: %w", source, err)
		}
		rep.Unreadable = merr.Len()
	}

	present := mapset.NewThreadUnsafeSet[int]()
	for _, m := range manifests {
		ym := m.YearMonth()
		if v.window != nil && !v.window.Contains(ym) {
			rep.OutsideWindow++
			continue
		}
		present.Add(ym.Index())
		ref := refOf(ym)
		switch m.Status {
		case manifest.StatusSuccess:
			if v.tree != nil {
				if err := v.tree.CheckRefs(m.ArtifactRefs); err != nil {
					rep.Corrupt = append(rep.Corrupt, CorruptUnit{Year: ref.Year, Month: ref.Month, Reason: err.Error()})
					continue
				}
			}
			rep.Completed++
		case manifest.StatusFailed:
			f := FailedUnit{Year: ref.Year, Month: ref.Month}
			if m.LastError != nil {
				f.Kind = m.LastError.Kind
				f.Message = m.LastError.Message
			}
			rep.Failed = append(rep.Failed, f)
		case manifest.StatusInProgress:
			rep.InProgress = append(rep.InProgress, ref)
		case manifest.StatusPending:
			rep.Pending = append(rep.Pending, ref)
		}
	}

	if v.window != nil {
		for _, mw := range v.window.Months() {
			if !present.Contains(mw.Index()) {
				rep.Missing = append(rep.Missing, refOf(mw.YearMonth))
			}
		}
		rep.MissingCount = len(rep.Missing)
		return rep, nil
	}

	// Without a window only gaps between the first and last present month
	// can be named.
	if present.Cardinality() > 0 {
		first, last := manifests[0].YearMonth().Index(), manifests[len(manifests)-1].YearMonth().Index()
		for i := first; i <= last; i++ {
			if !present.Contains(i) {
				rep.Missing = append(rep.Missing, refOf(workunit.FromIndex(i)))
			}
		}
	}
	rep.MissingCount = max(rep.Expected-present.Cardinality(), len(rep.Missing), 0)
	return rep, nil
}
