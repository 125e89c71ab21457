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

// Package sources holds the per-provider fetchers that turn one work unit
// into payload files in a staging directory.
package sources

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cardinalhq/floodlake/internal/workunit"
)

// Region is the city region of interest. BBox is west, south, east, north in
// WGS84 degrees.
type Region struct {
	Name string
	BBox [4]float64
}

func (r Region) West() float64  { return r.BBox[0] }
func (r Region) South() float64 { return r.BBox[1] }
func (r Region) East() float64  { return r.BBox[2] }
func (r Region) North() float64 { return r.BBox[3] }

// Center returns latitude, longitude of the bbox midpoint.
func (r Region) Center() (float64, float64) {
	return (r.South() + r.North()) / 2, (r.West() + r.East()) / 2
}

func (r Region) Validate() error {
	w, s, e, n := r.West(), r.South(), r.East(), r.North()
	if w < -180 || e > 180 || s < -90 || n > 90 {
		return fmt.Errorf("bbox %v outside WGS84 bounds", r.BBox)
	}
	if w >= e || s >= n {
		return fmt.Errorf("bbox %v must be west,south,east,north with west<east and south<north", r.BBox)
	}
	return nil
}

// Request is everything an adapter needs to fetch one unit.
type Request struct {
	Unit    workunit.Unit
	Span    workunit.Window
	Region  Region
	Country string

	// StagingDir is private to this attempt. Adapters write nowhere else.
	StagingDir string
}

func (r Request) Month() workunit.MonthWindow { return r.Unit.Month }

// Path returns the staging path of a payload file.
func (r Request) Path(name string) string {
	return filepath.Join(r.StagingDir, filepath.FromSlash(name))
}

// Payload names the staged files, relative to the staging directory, and an
// adapter specific summary recorded verbatim in the manifest.
type Payload struct {
	Files   []string
	Summary map[string]any
}

// Adapter fetches one source. Every error returned is either a
// *fetcherr.Error or the caller's context error.
type Adapter interface {
	Name() string
	Provider() string
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// Reauthenticator is implemented by adapters that hold credentials which can
// be refreshed after an AuthError.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}
