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

package workunit

import (
	"path"
)

// Unit is the atomic scheduling grain: one city, one source, one calendar
// month. Units are values and never change once enumerated.
type Unit struct {
	City   string
	Source string
	Month  MonthWindow
}

// Key is the identity of a unit inside one artifact root.
func (u Unit) Key() string {
	return path.Join(u.Source, u.Month.YearDir(), u.Month.MonthDir())
}

func (u Unit) YearMonth() YearMonth {
	return u.Month.YearMonth
}

func (u Unit) String() string {
	return u.City + ":" + u.Source + ":" + u.Month.String()
}

// Grid enumerates units source-major, then chronologically within a source.
// The order of sources is the order given.
func Grid(city string, sources []string, w Window) []Unit {
	months := w.Months()
	units := make([]Unit, 0, len(sources)*len(months))
	for _, src := range sources {
		for _, m := range months {
			units = append(units, Unit{City: city, Source: src, Month: m})
		}
	}
	return units
}

// BySource splits a grid into per-source slices, preserving order.
func BySource(units []Unit) (order []string, groups map[string][]Unit) {
	groups = make(map[string][]Unit)
	for _, u := range units {
		if _, ok := groups[u.Source]; !ok {
			order = append(order, u.Source)
		}
		groups[u.Source] = append(groups[u.Source], u)
	}
	return order, groups
}
