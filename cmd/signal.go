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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// handleSignals returns a context canceled on the first SIGINT or SIGTERM so
// in-flight units can record their state. A second signal exits at once.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			slog.Warn("Signal received, stopping after in-flight units", slog.String("signal", sig.String()))
			cancel(fmt.Errorf("received %s", sig))
		case <-stop:
			return
		}
		select {
		case sig := <-sigs:
			slog.Error("Second signal received, exiting", slog.String("signal", sig.String()))
			os.Exit(exitCrash)
		case <-stop:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stop)
			cancel(context.Canceled)
		})
	}
}
