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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

func TestDecideTable(t *testing.T) {
	p := NewPolicy(3, time.Second, time.Minute).WithoutJitter()

	tests := []struct {
		name   string
		state  State
		action Action
		delay  time.Duration
	}{
		{"auth first time", State{Attempts: 1, Kind: fetcherr.KindAuth}, Reauthenticate, 0},
		{"auth after refresh", State{Attempts: 1, Kind: fetcherr.KindAuth, AuthRefreshed: true}, GiveUp, 0},
		{"rate limited first", State{Attempts: 1, Kind: fetcherr.KindRateLimited}, Retry, time.Second},
		{"transient second", State{Attempts: 2, Kind: fetcherr.KindTransientNetwork}, Retry, 2 * time.Second},
		{"timeout at ceiling", State{Attempts: 3, Kind: fetcherr.KindRemoteProcessingTimeout}, GiveUp, 0},
		{"retry-after wins", State{Attempts: 1, Kind: fetcherr.KindRateLimited, RetryAfter: 9 * time.Second}, Retry, 9 * time.Second},
		{"retry-after at max", State{Attempts: 1, Kind: fetcherr.KindRateLimited, RetryAfter: time.Minute}, Retry, time.Minute},
		{"retry-after beyond max", State{Attempts: 1, Kind: fetcherr.KindRateLimited, RetryAfter: 24 * time.Hour}, GiveUp, 0},
		{"permanent", State{Attempts: 1, Kind: fetcherr.KindPermanentRemote}, GiveUp, 0},
		{"local io", State{Attempts: 1, Kind: fetcherr.KindLocalIO}, GiveUp, 0},
		{"unknown kind", State{Attempts: 1, Kind: "Mystery"}, GiveUp, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.state)
			assert.Equal(t, tt.action, d.Action, d.Action.String())
			assert.Equal(t, tt.delay, d.Delay)
		})
	}
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	p := NewPolicy(10, time.Second, 5*time.Second).WithoutJitter()
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(40))
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	p := NewPolicy(3, 4*time.Second, time.Minute)
	p.rand = func() float64 { return 1 }
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	p.rand = func() float64 { return 0 }
	assert.Equal(t, 3*time.Second, p.Backoff(1))
}

func TestNewPolicyNormalizes(t *testing.T) {
	p := NewPolicy(0, -time.Second, -time.Second)
	assert.Equal(t, 1, p.Ceiling)
	assert.Equal(t, time.Duration(0), p.BackoffBase)
	assert.Equal(t, time.Duration(0), p.BackoffMax)
}

func TestTrackerStopsAtCeiling(t *testing.T) {
	for _, ceiling := range []int{1, 3, 5} {
		tr := NewPolicy(ceiling, 0, 0).NewTracker()
		calls := 0
		for {
			tr.StartAttempt()
			calls++
			d := tr.Fail(fetcherr.Transient("get", errors.New("reset")))
			if d.Action == GiveUp {
				break
			}
			require.Equal(t, Retry, d.Action)
		}
		assert.Equal(t, ceiling, calls)
		assert.Equal(t, ceiling, tr.Budgeted())
		assert.Equal(t, fetcherr.KindTransientNetwork, tr.LastKind())
	}
}

func TestTrackerAuthRefreshIsNotBudgeted(t *testing.T) {
	tr := NewPolicy(2, 0, 0).NewTracker()

	tr.StartAttempt()
	d := tr.Fail(fetcherr.Auth("token", errors.New("expired")))
	require.Equal(t, Reauthenticate, d.Action)
	assert.False(t, d.Budgeted)

	tr.StartAttempt()
	d = tr.Fail(fetcherr.Transient("process", errors.New("reset")))
	require.Equal(t, Retry, d.Action)

	tr.StartAttempt()
	d = tr.Fail(fetcherr.Transient("process", errors.New("reset")))
	assert.Equal(t, GiveUp, d.Action)
	assert.Equal(t, 3, tr.Total())
	assert.Equal(t, 2, tr.Budgeted())
}

func TestTrackerSecondAuthFailureGivesUp(t *testing.T) {
	tr := DefaultPolicy().NewTracker()
	tr.StartAttempt()
	require.Equal(t, Reauthenticate, tr.Fail(fetcherr.Auth("", errors.New("401"))).Action)
	tr.StartAttempt()
	assert.Equal(t, GiveUp, tr.Fail(fetcherr.Auth("", errors.New("401"))).Action)
}
