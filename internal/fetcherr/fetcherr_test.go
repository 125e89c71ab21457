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

package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusRequestTimeout, KindRemoteProcessingTimeout},
		{http.StatusGatewayTimeout, KindRemoteProcessingTimeout},
		{http.StatusBadGateway, KindTransientNetwork},
		{http.StatusServiceUnavailable, KindTransientNetwork},
		{http.StatusBadRequest, KindPermanentRemote},
		{http.StatusNotFound, KindPermanentRemote},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			e := FromStatus(tt.status, "process", nil)
			assert.Equal(t, tt.want, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"already classified", fmt.Errorf("wrapped: %w", Auth("token", errors.New("expired"))), KindAuth},
		{"deadline", fmt.Errorf("poll: %w", context.DeadlineExceeded), KindRemoteProcessingTimeout},
		{"disk full", fmt.Errorf("write: %w", syscall.ENOSPC), KindLocalIO},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, KindLocalIO},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection reset")}, KindTransientNetwork},
		{"unknown", errors.New("bad month"), KindPermanentRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Nil(t, Classify(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindTransient(t *testing.T) {
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindTransientNetwork.Transient())
	assert.True(t, KindRemoteProcessingTimeout.Transient())
	assert.False(t, KindAuth.Transient())
	assert.False(t, KindPermanentRemote.Transient())
	assert.False(t, KindLocalIO.Transient())
	assert.False(t, Kind("Bogus").Valid())
	assert.Len(t, Kinds(), 6)
}

func TestFromResponseHonorsRetryAfter(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	e := FromResponse(resp, "archive", "slow down")
	assert.Equal(t, KindRateLimited, e.Kind)
	assert.Equal(t, 7*time.Second, e.RetryAfter)
	assert.Equal(t, 7*time.Second, RetryAfterOf(fmt.Errorf("x: %w", e)))
	assert.Contains(t, e.Error(), "HTTP 429")
	assert.Contains(t, e.Error(), "slow down")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3", now))
	assert.Equal(t, 2*time.Second, ParseRetryAfter("2", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("garbage", now))
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(fmt.Errorf("fetch: %w", context.Canceled)))
	assert.False(t, IsCanceled(context.DeadlineExceeded))
}
