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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYearMonth(t *testing.T) {
	tests := []struct {
		in      string
		want    YearMonth
		wantErr bool
	}{
		{in: "2020-01", want: YearMonth{2020, time.January}},
		{in: " 2024-12 ", want: YearMonth{2024, time.December}},
		{in: "2021-06-17", want: YearMonth{2021, time.June}},
		{in: "2021-13", wantErr: true},
		{in: "june", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseYearMonth(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestYearMonthArithmetic(t *testing.T) {
	dec := YearMonth{2020, time.December}
	assert.Equal(t, YearMonth{2021, time.January}, dec.Next())
	assert.Equal(t, dec, FromIndex(dec.Index()))
	assert.True(t, dec.Before(dec.Next()))
	assert.Equal(t, "2020-12", dec.String())
	assert.Equal(t, "12", dec.MonthDir())
	assert.Equal(t, "2020", dec.YearDir())

	feb := YearMonth{2020, time.February}
	assert.Equal(t, 29, feb.LastDay().Day())
}

func TestWindowMonthsClipsPartialMonths(t *testing.T) {
	w, err := ParseWindow("2020-01-15", "2020-03-10")
	require.NoError(t, err)

	months := w.Months()
	require.Len(t, months, 3)
	assert.Equal(t, 15, months[0].StartDate.Day())
	assert.Equal(t, 31, months[0].EndDate.Day())
	assert.Equal(t, 1, months[1].StartDate.Day())
	assert.Equal(t, 29, months[1].EndDate.Day())
	assert.Equal(t, 10, months[2].EndDate.Day())
}

func TestWindowYearMonthBoundsCoverWholeMonths(t *testing.T) {
	w, err := ParseWindow("2020-01", "2024-12")
	require.NoError(t, err)
	assert.Equal(t, 60, w.Len())
	assert.True(t, w.Contains(YearMonth{2022, time.July}))
	assert.False(t, w.Contains(YearMonth{2025, time.January}))

	months := w.Months()
	assert.Equal(t, 31, months[len(months)-1].EndDate.Day())
}

func TestParseWindowRejectsInvertedBounds(t *testing.T) {
	_, err := ParseWindow("2021-01", "2020-12")
	assert.Error(t, err)
}

func TestGridIsSourceMajorAndChronological(t *testing.T) {
	w, err := ParseWindow("2020-11", "2021-01")
	require.NoError(t, err)

	units := Grid("bengaluru", []string{"rainfall", "radar"}, w)
	var keys []string
	for _, u := range units {
		keys = append(keys, u.Key())
	}
	assert.Equal(t, []string{
		"rainfall/2020/11", "rainfall/2020/12", "rainfall/2021/01",
		"radar/2020/11", "radar/2020/12", "radar/2021/01",
	}, keys)

	order, groups := BySource(units)
	assert.Equal(t, []string{"rainfall", "radar"}, order)
	assert.Len(t, groups["radar"], 3)
	assert.Equal(t, "bengaluru:radar:2021-01", groups["radar"][2].String())
}
