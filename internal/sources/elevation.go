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
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/awsclient"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderCopernicusDEM = "copernicus-dem"

	defaultDEMBucket = "copernicus-dem-30m"
	defaultDEMRegion = "eu-central-1"
)

// ObjectGetter downloads one object to a local path.
type ObjectGetter interface {
	DownloadFile(ctx context.Context, bucket, key, dst string) (int64, error)
}

// demTileName names the GLO-30 COG tile whose south-west corner is at
// lat, lon.
func demTileName(lat, lon int) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("Copernicus_DSM_COG_10_%s%02d_00_%s%03d_00_DEM", ns, abs(lat), ew, abs(lon))
}

// demTiles lists the tiles intersecting the region.
func demTiles(r Region) []string {
	var tiles []string
	for lat := int(math.Floor(r.South())); lat < int(math.Ceil(r.North())); lat++ {
		for lon := int(math.Floor(r.West())); lon < int(math.Ceil(r.East())); lon++ {
			tiles = append(tiles, demTileName(lat, lon))
		}
	}
	return tiles
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// elevation copies the Copernicus DEM tiles covering the region into each
// month. Tiles are static, so each is downloaded once into the tile cache.
type elevation struct {
	getter   ObjectGetter
	bucket   string
	cacheDir string
	tiles    *sharedFetch[string]
}

func newElevation(getter ObjectGetter, bucket, cacheDir string) *elevation {
	return &elevation{
		getter:   getter,
		bucket:   bucket,
		cacheDir: cacheDir,
		tiles:    newSharedFetch[string](0),
	}
}

func (e *elevation) Name() string     { return SourceElevation }
func (e *elevation) Provider() string { return ProviderCopernicusDEM }

func (e *elevation) Fetch(ctx context.Context, req Request) (Payload, error) {
	var (
		files   []string
		missing []string
		details []map[string]any
	)
	for _, tile := range demTiles(req.Region) {
		cached, err := e.tiles.get(ctx, tile, func(ctx context.Context) (string, error) {
			return e.cacheTile(ctx, tile)
		})
		if errors.Is(err, awsclient.ErrNotFound) {
			// Tiles that are entirely ocean do not exist in the bucket.
			missing = append(missing, tile)
			continue
		}
		if err != nil {
			return Payload{}, err
		}
		name := tile + ".tif"
		n, err := artifacts.CopyFile(cached, req.Path(name))
		if err != nil {
			return Payload{}, fetcherr.LocalIO("stage dem tile", err)
		}
		files = append(files, name)
		details = append(details, map[string]any{"file": name, "bytes": n})
	}
	if len(files) == 0 {
		return Payload{}, fetcherr.Permanent("copernicus dem",
			fmt.Errorf("no DEM tiles available for bbox %v", req.Region.BBox))
	}
	return Payload{
		Files: files,
		Summary: map[string]any{
			"provider":      "copernicus-dem-glo30",
			"tiles":         details,
			"missing_tiles": missing,
		},
	}, nil
}

// cacheTile downloads a tile into the cache unless a complete copy is there.
func (e *elevation) cacheTile(ctx context.Context, tile string) (string, error) {
	dst := filepath.Join(e.cacheDir, tile+".tif")
	if fi, err := os.Stat(dst); err == nil && fi.Size() > 0 {
		return dst, nil
	}
	key := tile + "/" + tile + ".tif"
	if _, err := e.getter.DownloadFile(ctx, e.bucket, key, dst); err != nil {
		if errors.Is(err, awsclient.ErrNotFound) {
			return "", err
		}
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return "", err
		}
		fe := fetcherr.Classify(err)
		return "", &fetcherr.Error{Kind: fe.Kind, Op: "copernicus dem " + tile, StatusCode: fe.StatusCode, Err: err}
	}
	return dst, nil
}
