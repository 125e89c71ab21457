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

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

func TestDownloadClassifiesStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		want       fetcherr.Kind
		wantDelay  time.Duration
	}{
		{"unauthorized", http.StatusUnauthorized, "", fetcherr.KindAuth, 0},
		{"forbidden", http.StatusForbidden, "", fetcherr.KindAuth, 0},
		{"rate limited", http.StatusTooManyRequests, "7", fetcherr.KindRateLimited, 7 * time.Second},
		{"gateway timeout", http.StatusGatewayTimeout, "", fetcherr.KindRemoteProcessingTimeout, 0},
		{"unavailable", http.StatusServiceUnavailable, "", fetcherr.KindTransientNetwork, 0},
		{"not found", http.StatusNotFound, "", fetcherr.KindPermanentRemote, 0},
		{"bad request", http.StatusBadRequest, "", fetcherr.KindPermanentRemote, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			require.NoError(t, err)
			dst := filepath.Join(t.TempDir(), "out.bin")
			_, err = download(context.Background(), srv.Client(), req, "test", dst)
			require.Error(t, err)
			assert.Equal(t, tt.want, fetcherr.KindOf(err))
			assert.Equal(t, tt.wantDelay, fetcherr.RetryAfterOf(err))
			assert.NoFileExists(t, dst)
		})
	}
}

func TestDownloadShortRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("only ten b"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "out.bin")
	_, err = download(context.Background(), srv.Client(), req, "test", dst)
	require.Error(t, err)
	assert.Equal(t, fetcherr.KindTransientNetwork, fetcherr.KindOf(err))
	assert.NoFileExists(t, dst)
}

func TestDownloadWritesBodyAndChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("tiff bytes"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "out.bin")
	res, err := download(context.Background(), srv.Client(), req, "test", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Bytes)
	assert.Equal(t, checksum([]byte("tiff bytes")), res.Checksum)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "tiff bytes", string(got))
}

func TestDownloadStagingFailureIsLocalIO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "missing-dir", "out.bin")
	_, err = download(context.Background(), srv.Client(), req, "test", dst)
	assert.Equal(t, fetcherr.KindLocalIO, fetcherr.KindOf(err))
}

func TestDownloadDeadlineIsProcessingTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = download(ctx, srv.Client(), req, "test", filepath.Join(t.TempDir(), "out.bin"))
	assert.Equal(t, fetcherr.KindRemoteProcessingTimeout, fetcherr.KindOf(err))
}

func TestDownloadCanceledIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = download(ctx, srv.Client(), req, "test", filepath.Join(t.TempDir(), "out.bin"))
	require.Error(t, err)
	assert.True(t, fetcherr.IsCanceled(err))
}
