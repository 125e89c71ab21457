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
	"net/url"
	"strings"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderOverpass = "overpass"

	defaultOverpassURL = "https://overpass-api.de/api/interpreter"

	roadsFile = "roads_overpass.json"
)

type overpassResult struct {
	body  []byte
	ways  int
	stamp string
}

// roads stages the OSM highway network of the region. The network is queried
// once per run and written to every month.
type roads struct {
	client      *http.Client
	endpoint    string
	timeoutSecs int
	network     *sharedFetch[overpassResult]
}

func newRoads(client *http.Client, endpoint string, timeoutSecs int) *roads {
	if timeoutSecs <= 0 {
		timeoutSecs = 90
	}
	return &roads{
		client:      client,
		endpoint:    endpoint,
		timeoutSecs: timeoutSecs,
		network:     newSharedFetch[overpassResult](0),
	}
}

func (r *roads) Name() string     { return SourceRoads }
func (r *roads) Provider() string { return ProviderOverpass }

func (r *roads) query(reg Region) string {
	return fmt.Sprintf(`[out:json][timeout:%d];way["highway"](%g,%g,%g,%g);out body geom;`,
		r.timeoutSecs, reg.South(), reg.West(), reg.North(), reg.East())
}

func (r *roads) Fetch(ctx context.Context, req Request) (Payload, error) {
	q := r.query(req.Region)
	res, err := r.network.get(ctx, q, func(ctx context.Context) (overpassResult, error) {
		return r.fetchNetwork(ctx, q)
	})
	if err != nil {
		return Payload{}, err
	}
	if err := artifacts.WriteFileAtomic(req.Path(roadsFile), res.body); err != nil {
		return Payload{}, fetcherr.LocalIO("write roads", err)
	}
	return Payload{
		Files: []string{roadsFile},
		Summary: map[string]any{
			"provider":      "openstreetmap-overpass",
			"file":          roadsFile,
			"ways":          res.ways,
			"bytes":         len(res.body),
			"checksum":      checksum(res.body),
			"osm_timestamp": res.stamp,
		},
	}, nil
}

func (r *roads) fetchNetwork(ctx context.Context, q string) (overpassResult, error) {
	const op = "overpass query"
	form := url.Values{"data": {q}}
	httpReq, err := http.NewRequest(http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return overpassResult{}, fetcherr.Permanent(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var doc struct {
		OSM3S struct {
			TimestampOSMBase string `json:"timestamp_osm_base"`
		} `json:"osm3s"`
		Remark   string            `json:"remark"`
		Elements []json.RawMessage `json:"elements"`
	}
	body, err := getJSON(ctx, r.client, httpReq, op, &doc)
	if err != nil {
		return overpassResult{}, err
	}
	// Overpass reports server-side timeouts in a 200 response.
	if strings.Contains(doc.Remark, "runtime error") {
		return overpassResult{}, fetcherr.New(fetcherr.KindRemoteProcessingTimeout, op, fmt.Errorf("%s", doc.Remark))
	}
	return overpassResult{body: body, ways: len(doc.Elements), stamp: doc.OSM3S.TimestampOSMBase}, nil
}
