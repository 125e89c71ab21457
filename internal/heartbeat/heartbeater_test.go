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

package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeater_Beats(t *testing.T) {
	var calls atomic.Int64
	stop := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond, nil).Start(context.Background())

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no beats after stop returns")
}

func TestHeartbeater_NoImmediateBeat(t *testing.T) {
	var calls atomic.Int64
	stop := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, time.Hour, nil).Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	stop()
	assert.Zero(t, calls.Load())
}

func TestHeartbeater_ContinuesAfterError(t *testing.T) {
	var calls atomic.Int64
	stop := New(func(context.Context) error {
		calls.Add(1)
		return errors.New("disk full")
	}, 10*time.Millisecond, nil).Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeater_StopsOnErrStop(t *testing.T) {
	var calls atomic.Int64
	stop := New(func(context.Context) error {
		calls.Add(1)
		return fmt.Errorf("claim gone: %w", ErrStop)
	}, 10*time.Millisecond, nil).Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
}

func TestHeartbeater_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	stop := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond, nil).Start(ctx)
	defer stop()

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}
