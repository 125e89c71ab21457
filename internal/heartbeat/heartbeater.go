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
	"log/slog"
	"sync"
	"time"
)

// Func is called on every beat. Returning ErrStop ends the loop.
type Func func(ctx context.Context) error

// ErrStop tells the Heartbeater that further beats are pointless.
var ErrStop = errors.New("heartbeat stopped")

// Heartbeater calls a function periodically until stopped.
type Heartbeater struct {
	fn       Func
	ll       *slog.Logger
	interval time.Duration
}

func New(fn Func, interval time.Duration, logger *slog.Logger) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeater{
		fn:       fn,
		ll:       logger.With(slog.String("component", "heartbeater")),
		interval: interval,
	}
}

// Start runs the loop in a goroutine. The first beat happens after one
// interval. The returned stop func cancels the loop and waits for it to exit,
// so no beat runs after stop returns.
func (h *Heartbeater) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (h *Heartbeater) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.fn(ctx)
			switch {
			case err == nil:
				h.ll.Debug("Heartbeat sent")
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrStop):
				h.ll.Warn("Heartbeat stopped", slog.Any("error", err))
				return
			default:
				h.ll.Warn("Heartbeat failed (continuing)", slog.Any("error", err))
			}
		}
	}
}
