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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

type fakeCDSE struct {
	tokens    atomic.Int32
	processes atomic.Int32
	// rejectFirst makes the first process call answer 401.
	rejectFirst bool
	lastBody    processRequest
	*httptest.Server
}

func newFakeCDSE(t *testing.T, rejectFirst bool) *fakeCDSE {
	f := &fakeCDSE{rejectFirst: rejectFirst}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		n := f.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, n)
	})
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		n := f.processes.Add(1)
		if f.rejectFirst && n == 1 {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		want := fmt.Sprintf("Bearer tok-%d", f.tokens.Load())
		if r.Header.Get("Authorization") != want {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		w.Header().Set("Content-Type", "image/tiff")
		_, _ = w.Write([]byte("II*\x00fake-geotiff"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeCDSE) client(id, secret string) *cdseClient {
	return newCDSEClient(f.Server.Client(), cdseSettings{
		TokenURL:     f.URL + "/token",
		ProcessURL:   f.URL + "/process",
		ClientID:     id,
		ClientSecret: secret,
	})
}

func TestRadarFetch(t *testing.T) {
	fake := newFakeCDSE(t, false)
	a := newRadar(fake.client("id", "secret"))
	req := testRequest(t, SourceRadar, "2020-01-15", "2020-03", 0)

	p, err := a.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"sentinel1_vv_median_20m.tif"}, p.Files)
	assert.Equal(t, 20, p.Summary["resolution_m"])
	assert.EqualValues(t, 16, p.Summary["bytes"])

	body := fake.lastBody
	assert.Equal(t, bengaluru.BBox, body.Input.Bounds.BBox)
	require.Len(t, body.Input.Data, 1)
	assert.Equal(t, "sentinel-1-grd", body.Input.Data[0].Type)
	tr := body.Input.Data[0].DataFilter["timeRange"].(map[string]any)
	assert.Equal(t, "2020-01-15T00:00:00Z", tr["from"], "first month is clipped to the window")
	assert.Equal(t, "2020-01-31T23:59:59Z", tr["to"])
	assert.Equal(t, 1620, body.Output.Width)

	_, err = os.Stat(req.Path("sentinel1_vv_median_20m.tif"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), fake.tokens.Load())
}

func TestOpticalFetchFilter(t *testing.T) {
	fake := newFakeCDSE(t, false)
	a := newOptical(fake.client("id", "secret"), 0)
	req := testRequest(t, SourceOptical, "2020-01", "2020-02", 1)

	p, err := a.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"sentinel2_rgbn_median_30m.tif"}, p.Files)
	df := fake.lastBody.Input.Data[0].DataFilter
	assert.EqualValues(t, 40, df["maxCloudCoverage"])
	assert.Equal(t, "sentinel-2-l2a", fake.lastBody.Input.Data[0].Type)
	assert.Contains(t, fake.lastBody.Evalscript, "s.SCL === 3")
}

func TestCDSEUnauthorizedThenReauthenticate(t *testing.T) {
	fake := newFakeCDSE(t, true)
	a := newRadar(fake.client("id", "secret"))
	req := testRequest(t, SourceRadar, "2020-01", "2020-01", 0)

	_, err := a.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, fetcherr.KindAuth, fetcherr.KindOf(err))

	require.NoError(t, a.Reauthenticate(context.Background()))
	assert.Equal(t, int32(2), fake.tokens.Load())

	_, err = a.Fetch(context.Background(), req)
	require.NoError(t, err)
}

func TestCDSEBadCredentials(t *testing.T) {
	fake := newFakeCDSE(t, false)
	req := testRequest(t, SourceRadar, "2020-01", "2020-01", 0)

	_, err := newRadar(fake.client("id", "wrong")).Fetch(context.Background(), req)
	assert.Equal(t, fetcherr.KindAuth, fetcherr.KindOf(err))

	_, err = newRadar(fake.client("", "")).Fetch(context.Background(), req)
	assert.Equal(t, fetcherr.KindAuth, fetcherr.KindOf(err))
	assert.Equal(t, int32(0), fake.processes.Load())
}

func TestCDSESettingsFromEnv(t *testing.T) {
	env := &Env{Getenv: func(k string) string {
		return map[string]string{"MY_ID": "a", "MY_SECRET": "b", defaultClientIDEnv: "x"}[k]
	}}
	s := cdseSettingsFrom(env, Params{"client_id_env": "MY_ID", "client_secret_env": "MY_SECRET"})
	assert.Equal(t, "a", s.ClientID)
	assert.Equal(t, "b", s.ClientSecret)
	assert.Equal(t, defaultCDSEProcessURL, s.ProcessURL)

	s = cdseSettingsFrom(env, nil)
	assert.Equal(t, "x", s.ClientID)
	assert.Empty(t, s.ClientSecret)
}
