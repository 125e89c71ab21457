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
	"net/http"
	"net/url"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderOpenMeteo = "open-meteo"

	defaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

	rainfallJSON    = "rainfall_daily.json"
	rainfallParquet = "rainfall_daily.parquet"
)

// archiveResponse is the part of the open-meteo archive response we keep.
type archiveResponse struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Daily     archiveSeries `json:"daily"`
}

type archiveSeries struct {
	Time          []string   `json:"time"`
	Precipitation []*float64 `json:"precipitation_sum"`
}

// rainfallRow is one day in the tabular artifact.
type rainfallRow struct {
	Date            string   `parquet:"date"`
	PrecipitationMM *float64 `parquet:"precipitation_mm,optional"`
}

// rainfall serves ERA5-equivalent daily precipitation at the region center.
// The archive is fetched once for the whole configured window and sliced per
// month.
type rainfall struct {
	client     *http.Client
	archiveURL string
	series     *sharedFetch[archiveResponse]
}

func newRainfall(client *http.Client, archiveURL string) *rainfall {
	return &rainfall{
		client:     client,
		archiveURL: archiveURL,
		series:     newSharedFetch[archiveResponse](0),
	}
}

func (r *rainfall) Name() string     { return SourceRainfall }
func (r *rainfall) Provider() string { return ProviderOpenMeteo }

func (r *rainfall) Fetch(ctx context.Context, req Request) (Payload, error) {
	lat, lon := req.Region.Center()
	start := req.Span.StartDate.Format(time.DateOnly)
	end := req.Span.EndDate.Format(time.DateOnly)
	key := fmt.Sprintf("%.5f,%.5f,%s,%s", lat, lon, start, end)

	full, err := r.series.get(ctx, key, func(ctx context.Context) (archiveResponse, error) {
		return r.fetchArchive(ctx, lat, lon, start, end)
	})
	if err != nil {
		return Payload{}, err
	}

	month := req.Month()
	from, to := month.StartDate.Format(time.DateOnly), month.EndDate.Format(time.DateOnly)
	sel := archiveSeries{Time: []string{}, Precipitation: []*float64{}}
	for i, day := range full.Daily.Time {
		if day >= from && day <= to {
			sel.Time = append(sel.Time, day)
			sel.Precipitation = append(sel.Precipitation, full.Daily.Precipitation[i])
		}
	}
	if len(sel.Time) == 0 {
		return Payload{}, fetcherr.Permanent("open-meteo archive",
			fmt.Errorf("no daily values between %s and %s", from, to))
	}

	out := archiveResponse{Latitude: full.Latitude, Longitude: full.Longitude, Daily: sel}
	if err := artifacts.WriteJSON(req.Path(rainfallJSON), out); err != nil {
		return Payload{}, fetcherr.LocalIO("write rainfall json", err)
	}

	rows := make([]rainfallRow, len(sel.Time))
	var total float64
	missing := 0
	for i := range sel.Time {
		rows[i] = rainfallRow{Date: sel.Time[i], PrecipitationMM: sel.Precipitation[i]}
		if p := sel.Precipitation[i]; p != nil {
			total += *p
		} else {
			missing++
		}
	}
	if err := parquet.WriteFile(req.Path(rainfallParquet), rows); err != nil {
		return Payload{}, fetcherr.LocalIO("write rainfall parquet", err)
	}

	return Payload{
		Files: []string{rainfallJSON, rainfallParquet},
		Summary: map[string]any{
			"provider":     "open-meteo-archive-era5-equivalent",
			"file":         rainfallJSON,
			"latitude":     full.Latitude,
			"longitude":    full.Longitude,
			"days":         len(sel.Time),
			"missing_days": missing,
			"total_mm":     total,
		},
	}, nil
}

func (r *rainfall) fetchArchive(ctx context.Context, lat, lon float64, start, end string) (archiveResponse, error) {
	const op = "open-meteo archive"
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.5f", lat))
	q.Set("longitude", fmt.Sprintf("%.5f", lon))
	q.Set("start_date", start)
	q.Set("end_date", end)
	q.Set("daily", "precipitation_sum")
	q.Set("timezone", "UTC")

	httpReq, err := http.NewRequest(http.MethodGet, r.archiveURL+"?"+q.Encode(), nil)
	if err != nil {
		return archiveResponse{}, fetcherr.Permanent(op, err)
	}
	var out archiveResponse
	if _, err := getJSON(ctx, r.client, httpReq, op, &out); err != nil {
		return archiveResponse{}, err
	}
	if len(out.Daily.Time) != len(out.Daily.Precipitation) {
		return archiveResponse{}, fetcherr.Permanent(op, errors.New("daily time and precipitation_sum lengths differ"))
	}
	return out, nil
}
