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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/floodlake/cmd"
	"github.com/cardinalhq/floodlake/internal/helpers"
)

func stderrf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

// quietf drops runtime tuning chatter unless debugging.
func quietf(msg string, args ...any) {
	if helpers.AnyBoolEnv("DEBUG", "FLOODLAKE_DEBUG") {
		stderrf(msg, args...)
	}
}

// fitToContainer sizes GOMAXPROCS and the soft memory limit to the cgroup or
// ECS task the ingester runs in.
func fitToContainer() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(quietf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(quietf))
	}
	if err != nil {
		stderrf("GOMAXPROCS left unchanged: %v", err)
	}

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		stderrf("memory limit left unchanged: %v", err)
	}
}

func main() {
	time.Local = time.UTC
	fitToContainer()
	cmd.Execute()
}
