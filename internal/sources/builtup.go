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
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderJRC = "jrc"

	defaultGHSLURL = "https://jeodpp.jrc.ec.europa.eu/ftp/jrc-opendata/GHSL/" +
		"GHS_BUILT_S_GLOBE_R2023A/GHS_BUILT_S_E2020_GLOBE_R2023A_4326_30ss/" +
		"V1-0/GHS_BUILT_S_E2020_GLOBE_R2023A_4326_30ss_V1_0.zip"

	ghslMetadata = "ghsl_proxy_metadata.json"
)

type cachedFile struct {
	Path     string
	Bytes    int64
	Checksum string
}

// builtup stages the GHSL built-up surface package. The archive is global
// and static, so it is downloaded once into the cache and copied per month.
type builtup struct {
	client   *http.Client
	url      string
	cacheDir string
	archive  *sharedFetch[cachedFile]
}

func newBuiltup(client *http.Client, url, cacheDir string) *builtup {
	return &builtup{
		client:   client,
		url:      url,
		cacheDir: cacheDir,
		archive:  newSharedFetch[cachedFile](0),
	}
}

func (b *builtup) Name() string     { return SourceBuiltup }
func (b *builtup) Provider() string { return ProviderJRC }

func (b *builtup) fileName() string {
	return path.Base(b.url)
}

func (b *builtup) Fetch(ctx context.Context, req Request) (Payload, error) {
	cached, err := b.archive.get(ctx, b.url, b.cacheArchive)
	if err != nil {
		return Payload{}, err
	}
	name := b.fileName()
	if _, err := artifacts.CopyFile(cached.Path, req.Path(name)); err != nil {
		return Payload{}, fetcherr.LocalIO("stage ghsl archive", err)
	}
	meta := map[string]any{
		"note":       "GHSL built-up dataset downloaded (zipped raster package).",
		"source_url": b.url,
		"year":       req.Unit.Month.Year,
		"bytes":      cached.Bytes,
		"checksum":   cached.Checksum,
	}
	if err := artifacts.WriteJSON(req.Path(ghslMetadata), meta); err != nil {
		return Payload{}, fetcherr.LocalIO("write ghsl metadata", err)
	}
	return Payload{
		Files: []string{name, ghslMetadata},
		Summary: map[string]any{
			"provider": "ghsl-jrc",
			"file":     name,
			"bytes":    cached.Bytes,
			"checksum": cached.Checksum,
		},
	}, nil
}

func (b *builtup) cacheArchive(ctx context.Context) (cachedFile, error) {
	const op = "ghsl download"
	dst := filepath.Join(b.cacheDir, b.fileName())
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		sum, err := fileChecksum(dst)
		if err != nil {
			return cachedFile{}, fetcherr.LocalIO(op, err)
		}
		return cachedFile{Path: dst, Bytes: fi.Size(), Checksum: sum}, nil
	}
	if err := os.MkdirAll(b.cacheDir, 0o755); err != nil {
		return cachedFile{}, fetcherr.LocalIO(op, err)
	}
	httpReq, err := http.NewRequest(http.MethodGet, b.url, nil)
	if err != nil {
		return cachedFile{}, fetcherr.Permanent(op, err)
	}
	// Other processes may fill the same cache; each downloads into its own
	// temp file and the last rename wins with a complete archive.
	tmp, err := os.CreateTemp(b.cacheDir, ".ghsl-*-"+b.fileName())
	if err != nil {
		return cachedFile{}, fetcherr.LocalIO(op, err)
	}
	part := tmp.Name()
	_ = tmp.Close()
	res, err := download(ctx, b.client, httpReq, op, part)
	if err != nil {
		_ = os.Remove(part)
		return cachedFile{}, err
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return cachedFile{}, fetcherr.LocalIO(op, err)
	}
	return cachedFile{Path: dst, Bytes: res.Bytes, Checksum: res.Checksum}, nil
}

func fileChecksum(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	return formatDigest(h.Sum64()), nil
}
