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
	"net/http"
	"strings"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderWorldPop = "worldpop"

	defaultWorldPopTemplate = "https://data.worldpop.org/GIS/Population/Global_2000_2020/{year}/{ISO3}/{iso3}_ppp_{year}.tif"

	// worldPopLastYear is the newest year of the Global_2000_2020 series.
	worldPopLastYear = 2020

	worldPopMetadata = "worldpop_metadata.json"
)

// population records where the WorldPop raster for the country lives. The
// raster is large and static; downstream stages read it from the reference.
type population struct {
	client   *http.Client
	template string
	iso3     string
	year     int
	check    bool
}

func newPopulation(client *http.Client, template, iso3 string, year int, check bool) *population {
	if year <= 0 || year > worldPopLastYear {
		year = worldPopLastYear
	}
	return &population{
		client:   client,
		template: template,
		iso3:     strings.ToUpper(iso3),
		year:     year,
		check:    check,
	}
}

func (p *population) Name() string     { return SourcePopulation }
func (p *population) Provider() string { return ProviderWorldPop }

func (p *population) referenceURL() string {
	r := strings.NewReplacer(
		"{year}", fmt.Sprint(p.year),
		"{ISO3}", p.iso3,
		"{iso3}", strings.ToLower(p.iso3),
	)
	return r.Replace(p.template)
}

func (p *population) Fetch(ctx context.Context, req Request) (Payload, error) {
	ref := p.referenceURL()
	if p.check {
		if err := p.checkReference(ctx, ref); err != nil {
			return Payload{}, err
		}
	}
	meta := map[string]any{
		"reference_url":  ref,
		"year":           req.Unit.Month.Year,
		"reference_year": p.year,
		"country":        p.iso3,
		"note":           "Large static global raster referenced; reuse this URL for population extraction.",
	}
	if err := artifacts.WriteJSON(req.Path(worldPopMetadata), meta); err != nil {
		return Payload{}, fetcherr.LocalIO("write worldpop metadata", err)
	}
	return Payload{
		Files: []string{worldPopMetadata},
		Summary: map[string]any{
			"provider":      "worldpop-reference",
			"file":          worldPopMetadata,
			"reference_url": ref,
		},
	}, nil
}

// checkReference confirms the raster exists without downloading it.
func (p *population) checkReference(ctx context.Context, ref string) error {
	httpReq, err := http.NewRequest(http.MethodHead, ref, nil)
	if err != nil {
		return fetcherr.Permanent("worldpop head", err)
	}
	resp, err := do(ctx, p.client, httpReq, "worldpop head")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
