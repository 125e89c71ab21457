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

package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStarting, "starting"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
		{Status(999), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec.Code, body
}

func TestLifecycle(t *testing.T) {
	s := NewServer(0, nil)
	h := s.Handler()

	code, _ := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "starting is not healthy")
	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, code, "starting is alive")

	s.SetStatus(StatusHealthy)
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready until SetReady")

	s.SetReady(true)
	code, body := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, "healthy", body["status"])

	s.SetStatus(StatusUnhealthy)
	code, _ = get(t, h, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestProgress(t *testing.T) {
	code, _ := get(t, NewServer(0, nil).Handler(), "/progress")
	assert.Equal(t, http.StatusNotFound, code)

	s := NewServer(0, func() any { return map[string]int{"done": 3, "units": 7} })
	code, body := get(t, s.Handler(), "/progress")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["done"])
}

func TestListenAndStop(t *testing.T) {
	s := NewServer(0, func() any { return map[string]string{"run_id": "r1"} })
	require.NoError(t, s.Listen())
	s.SetStatus(StatusHealthy)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", s.Port()))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, NewServer(0, nil).Stop(context.Background()), "stopping an unstarted server is a no-op")
}
