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

package retry

import (
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

// Tracker runs the policy for a single work unit across the attempts of one
// run. It is not safe for concurrent use; each unit owns its own tracker.
type Tracker struct {
	policy         Policy
	budgeted       int
	total          int
	authRefreshed  bool
	nextUnbudgeted bool
	lastKind       fetcherr.Kind
}

func (p Policy) NewTracker() *Tracker {
	return &Tracker{policy: p.normalized()}
}

// StartAttempt records that a fetch is about to be made.
func (t *Tracker) StartAttempt() {
	t.total++
	if t.nextUnbudgeted {
		t.nextUnbudgeted = false
		return
	}
	t.budgeted++
}

// Fail classifies err and returns the next action.
func (t *Tracker) Fail(err error) Decision {
	kind := fetcherr.KindOf(err)
	t.lastKind = kind
	d := t.policy.Decide(State{
		Attempts:      t.budgeted,
		Kind:          kind,
		AuthRefreshed: t.authRefreshed,
		RetryAfter:    fetcherr.RetryAfterOf(err),
	})
	if d.Action == Reauthenticate {
		t.authRefreshed = true
		t.nextUnbudgeted = true
	}
	return d
}

// Budgeted is the number of attempts charged against the ceiling.
func (t *Tracker) Budgeted() int { return t.budgeted }

// Total is the number of fetches made, including the auth refresh retry.
func (t *Tracker) Total() int { return t.total }

func (t *Tracker) LastKind() fetcherr.Kind { return t.lastKind }
