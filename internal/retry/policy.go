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

// Package retry decides, for one work unit within one run, whether a
// classified fetch failure is attempted again.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	DefaultCeiling     = 4
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffMax  = 2 * time.Minute
	DefaultJitter      = 0.25
)

// Action is what the caller does next.
type Action int

const (
	GiveUp Action = iota
	Retry
	Reauthenticate
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Reauthenticate:
		return "reauthenticate"
	default:
		return "give-up"
	}
}

// State is everything the policy needs to decide. Attempts counts the
// budgeted attempts already made in this run, including the one that just
// failed. The auth refresh retry is not budgeted.
type State struct {
	Attempts      int
	Kind          fetcherr.Kind
	AuthRefreshed bool
	RetryAfter    time.Duration
}

type Decision struct {
	Action Action
	Delay  time.Duration
	// Budgeted is false for the auth refresh retry.
	Budgeted bool
}

// Policy is a pure decision table; it holds no per-unit state.
type Policy struct {
	Ceiling     int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64

	rand func() float64
}

func NewPolicy(ceiling int, base, maxDelay time.Duration) Policy {
	p := Policy{
		Ceiling:     ceiling,
		BackoffBase: base,
		BackoffMax:  maxDelay,
		Jitter:      DefaultJitter,
	}
	return p.normalized()
}

func DefaultPolicy() Policy {
	return NewPolicy(DefaultCeiling, DefaultBackoffBase, DefaultBackoffMax)
}

// WithoutJitter returns a copy with deterministic delays.
func (p Policy) WithoutJitter() Policy {
	p.Jitter = 0
	return p
}

func (p Policy) normalized() Policy {
	if p.Ceiling < 1 {
		p.Ceiling = 1
	}
	if p.BackoffBase < 0 {
		p.BackoffBase = 0
	}
	if p.BackoffMax < p.BackoffBase {
		p.BackoffMax = p.BackoffBase
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Decide maps (attempts, cause) to the next action.
//
//	AuthError                       -> one unbudgeted reauthenticate, then give up
//	RateLimited / Transient / Timeout -> backoff until Ceiling budgeted attempts,
//	                                     give up if Retry-After exceeds BackoffMax
//	PermanentRemote / LocalIO / other -> give up
func (p Policy) Decide(s State) Decision {
	p = p.normalized()
	switch {
	case s.Kind == fetcherr.KindAuth:
		if s.AuthRefreshed {
			return Decision{Action: GiveUp}
		}
		return Decision{Action: Reauthenticate}
	case s.Kind.Transient():
		if s.Attempts >= p.Ceiling {
			return Decision{Action: GiveUp}
		}
		// A provider asking for more than BackoffMax is retried by the
		// next run rather than parking a worker in this one.
		if s.RetryAfter > p.BackoffMax {
			return Decision{Action: GiveUp}
		}
		delay := p.Backoff(s.Attempts)
		if s.RetryAfter > delay {
			delay = s.RetryAfter
		}
		return Decision{Action: Retry, Delay: delay, Budgeted: true}
	default:
		return Decision{Action: GiveUp}
	}
}

// Backoff returns the delay before budgeted attempt n+1, given n attempts
// were made: base, 2*base, 4*base, ... capped at BackoffMax, with jitter.
func (p Policy) Backoff(n int) time.Duration {
	p = p.normalized()
	if n < 1 {
		n = 1
	}
	d := p.BackoffBase
	for i := 1; i < n && d < p.BackoffMax; i++ {
		d *= 2
	}
	if d > p.BackoffMax {
		d = p.BackoffMax
	}
	if p.Jitter > 0 && d > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		j := time.Duration(float64(d) * p.Jitter * (2*r() - 1))
		d += j
		if d < 0 {
			d = 0
		}
	}
	return d
}
