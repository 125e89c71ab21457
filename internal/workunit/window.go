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
	"errors"
	"fmt"
	"time"
)

// Window is an inclusive range of calendar days. StartDate and EndDate are
// truncated to UTC midnight.
type Window struct {
	StartDate time.Time
	EndDate   time.Time
}

// MonthWindow is the portion of a Window that falls into one calendar month.
type MonthWindow struct {
	YearMonth
	StartDate time.Time
	EndDate   time.Time
}

// ParseWindow builds a Window from two bounds. A "YYYY-MM" start means the
// first of that month, a "YYYY-MM" end means the last day of that month.
func ParseWindow(start, end string) (Window, error) {
	s, err := parseBound(start, false)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseBound(end, true)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	w := Window{StartDate: s, EndDate: e}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// MonthWindowOf returns the whole-month window for ym.
func MonthWindowOf(ym YearMonth) Window {
	return Window{StartDate: ym.FirstDay(), EndDate: ym.LastDay()}
}

func parseBound(s string, isEnd bool) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	ym, err := ParseYearMonth(s)
	if err != nil {
		return time.Time{}, err
	}
	if isEnd {
		return ym.LastDay(), nil
	}
	return ym.FirstDay(), nil
}

func (w Window) Validate() error {
	if w.StartDate.IsZero() || w.EndDate.IsZero() {
		return errors.New("window bounds must be set")
	}
	if w.EndDate.Before(w.StartDate) {
		return fmt.Errorf("window end %s is before start %s",
			w.EndDate.Format(time.DateOnly), w.StartDate.Format(time.DateOnly))
	}
	return nil
}

func (w Window) First() YearMonth {
	return YearMonth{Year: w.StartDate.Year(), Month: w.StartDate.Month()}
}

func (w Window) Last() YearMonth {
	return YearMonth{Year: w.EndDate.Year(), Month: w.EndDate.Month()}
}

// Len is the number of calendar months touched by the window.
func (w Window) Len() int {
	return w.Last().Index() - w.First().Index() + 1
}

func (w Window) Contains(ym YearMonth) bool {
	return ym.Index() >= w.First().Index() && ym.Index() <= w.Last().Index()
}

// Months returns every month of the window in chronological order, with the
// first and last months clipped to the window bounds.
func (w Window) Months() []MonthWindow {
	out := make([]MonthWindow, 0, w.Len())
	for ym := w.First(); !w.Last().Before(ym); ym = ym.Next() {
		mw := MonthWindow{YearMonth: ym, StartDate: ym.FirstDay(), EndDate: ym.LastDay()}
		if mw.StartDate.Before(w.StartDate) {
			mw.StartDate = w.StartDate
		}
		if mw.EndDate.After(w.EndDate) {
			mw.EndDate = w.EndDate
		}
		out = append(out, mw)
	}
	return out
}

func (w Window) String() string {
	return w.StartDate.Format(time.DateOnly) + ".." + w.EndDate.Format(time.DateOnly)
}
