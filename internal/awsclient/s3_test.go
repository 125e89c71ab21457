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

package awsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	m, err := NewManager(context.Background(), WithAssumeRoleSessionName("test"))
	require.NoError(t, err)
	return m
}

func TestGetS3CachesClients(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	a, err := m.GetS3(ctx, WithAnonymous())
	require.NoError(t, err)
	b, err := m.GetS3(ctx, WithAnonymous())
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := m.GetS3(ctx, WithAnonymous(), WithRegion("us-west-2"))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, "us-west-2", c.Client.Options().Region)
	assert.Equal(t, "eu-central-1", a.Client.Options().Region)

	r1, err := m.GetS3(ctx, WithRole("arn:aws:iam::123456789012:role/dem-mirror"))
	require.NoError(t, err)
	r2, err := m.GetS3(ctx, WithRole("arn:aws:iam::123456789012:role/dem-mirror"))
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	assert.NotSame(t, a, r1)
	assert.Len(t, m.providers, 1)
}

// fakeBucket serves GetObject for path-style requests on /<bucket>/<key>.
func fakeBucket(t *testing.T, objects map[string]string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadFile(t *testing.T) {
	srv := fakeBucket(t, map[string]string{
		"dem/Copernicus_DSM_COG_10_N12_00_E077_00_DEM/tile.tif": "tiff-bytes",
	})
	m := newTestManager(t)
	client, err := m.GetS3(context.Background(), WithAnonymous(), WithEndpoint(srv.URL), WithPathStyle())
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "tiles", "tile.tif")
	n, err := client.DownloadFile(context.Background(), "dem", "Copernicus_DSM_COG_10_N12_00_E077_00_DEM/tile.tif", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(len("tiff-bytes")), n)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "tiff-bytes", string(got))

	_, err = client.DownloadFile(context.Background(), "dem", "missing.tif", filepath.Join(t.TempDir(), "missing.tif"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
