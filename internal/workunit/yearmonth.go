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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth accepts "YYYY-MM" or a full "YYYY-MM-DD" date, in which case
// the day is ignored.
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return YearMonth{Year: t.Year(), Month: t.Month()}, nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("invalid year-month %q: want YYYY-MM or YYYY-MM-DD", s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// Index is a dense month ordinal used for ordering and arithmetic.
func (ym YearMonth) Index() int {
	return ym.Year*12 + int(ym.Month) - 1
}

func FromIndex(i int) YearMonth {
	return YearMonth{Year: i / 12, Month: time.Month(i%12 + 1)}
}

func (ym YearMonth) Next() YearMonth {
	return FromIndex(ym.Index() + 1)
}

func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Index() < other.Index()
}

func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

// FirstDay returns midnight UTC of the first day of the month.
func (ym YearMonth) FirstDay() time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight UTC of the last day of the month.
func (ym YearMonth) LastDay() time.Time {
	return ym.Next().FirstDay().AddDate(0, 0, -1)
}

// YearDir and MonthDir are the path components used in the artifact tree.
func (ym YearMonth) YearDir() string {
	return strconv.Itoa(ym.Year)
}

func (ym YearMonth) MonthDir() string {
	return fmt.Sprintf("%02d", int(ym.Month))
}
