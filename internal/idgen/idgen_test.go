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

package idgen

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDOrdered(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = NewRunID(now)
	}
	assert.True(t, sort.StringsAreSorted(ids))

	got, err := RunTime(ids[0])
	require.NoError(t, err)
	assert.Equal(t, now, got)

	_, err = RunTime("not-a-ulid")
	assert.Error(t, err)
}

func TestShortToken(t *testing.T) {
	a, b := ShortToken(), ShortToken()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, "^[a-z2-7]{8}$", a)
}

func TestFlakeGenerator(t *testing.T) {
	g, err := NewFlakeGenerator()
	if err != nil {
		t.Skipf("no machine id available: %v", err)
	}
	prev := g.NextID()
	for range 10 {
		next := g.NextID()
		assert.Greater(t, next, prev)
		prev = next
	}
	assert.NotEmpty(t, InstanceID())
}
