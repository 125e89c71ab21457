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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	ProviderCDSE = "cdse"

	defaultCDSETokenURL   = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	defaultCDSEProcessURL = "https://sh.dataspace.copernicus.eu/api/v1/process"

	defaultClientIDEnv     = "CDSE_CLIENT_ID"
	defaultClientSecretEnv = "CDSE_CLIENT_SECRET"

	crsWGS84 = "http://www.opengis.net/def/crs/EPSG/0/4326"
)

// cdseClient talks to the Copernicus Data Space Sentinel Hub Process API.
// One client is shared by every adapter using the same credentials so they
// share a token.
type cdseClient struct {
	http       *http.Client
	creds      clientcredentials.Config
	processURL string
	credErr    error

	mu    sync.Mutex
	token *oauth2.Token
}

type cdseSettings struct {
	TokenURL     string
	ProcessURL   string
	ClientID     string
	ClientSecret string
}

func newCDSEClient(client *http.Client, s cdseSettings) *cdseClient {
	c := &cdseClient{
		http: client,
		creds: clientcredentials.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			TokenURL:     s.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		processURL: s.ProcessURL,
	}
	if s.ClientID == "" || s.ClientSecret == "" {
		c.credErr = errors.New("CDSE client credentials are not set")
	}
	return c
}

// accessToken returns a valid bearer token, fetching one if needed.
func (c *cdseClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if c.credErr != nil {
		return "", fetcherr.Auth("cdse token", c.credErr)
	}
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return "", tokenError(ctx, err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

func (c *cdseClient) invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

// Reauthenticate drops the cached token and fetches a new one.
func (c *cdseClient) Reauthenticate(ctx context.Context) error {
	c.invalidate()
	_, err := c.accessToken(ctx)
	return err
}

func tokenError(ctx context.Context, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_client", "unauthorized_client", "invalid_grant", "invalid_request":
			return fetcherr.Auth("cdse token", err)
		}
		if re.Response != nil {
			return fetcherr.FromStatus(re.Response.StatusCode, "cdse token", err)
		}
	}
	return requestError(ctx, "cdse token", err)
}

// processRequest is the subset of the Process API request body we use.
type processRequest struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       [4]float64        `json:"bbox"`
	Properties map[string]string `json:"properties"`
}

type processData struct {
	Type       string         `json:"type"`
	DataFilter map[string]any `json:"dataFilter"`
	Processing map[string]any `json:"processing,omitempty"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string            `json:"identifier"`
	Format     map[string]string `json:"format"`
}

func newProcessRequest(req Request, data processData, width, height int, evalscript string) processRequest {
	return processRequest{
		Input: processInput{
			Bounds: processBounds{
				BBox:       req.Region.BBox,
				Properties: map[string]string{"crs": crsWGS84},
			},
			Data: []processData{data},
		},
		Output: processOutput{
			Width:  width,
			Height: height,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     map[string]string{"type": "image/tiff"},
			}},
		},
		Evalscript: evalscript,
	}
}

func timeRange(req Request) map[string]string {
	m := req.Month()
	return map[string]string{
		"from": m.StartDate.Format(time.DateOnly) + "T00:00:00Z",
		"to":   m.EndDate.Format(time.DateOnly) + "T23:59:59Z",
	}
}

// process posts body to the Process API and streams the GeoTIFF to dst.
func (c *cdseClient) process(ctx context.Context, body processRequest, dst string) (fetched, error) {
	const op = "cdse process"
	token, err := c.accessToken(ctx)
	if err != nil {
		return fetched{}, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fetched{}, fetcherr.Permanent(op, fmt.Errorf("encode request: %w", err))
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.processURL, bytes.NewReader(payload))
	if err != nil {
		return fetched{}, fetcherr.Permanent(op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/tiff")

	res, err := download(ctx, c.http, httpReq, op, dst)
	if fetcherr.KindOf(err) == fetcherr.KindAuth {
		c.invalidate()
	}
	return res, err
}

// cdseAdapter is the common shape of the radar and optical sources.
type cdseAdapter struct {
	name       string
	client     *cdseClient
	fileName   string
	resolution int
	width      int
	height     int
	data       func(Request) processData
	evalscript string
}

func (a *cdseAdapter) Name() string     { return a.name }
func (a *cdseAdapter) Provider() string { return ProviderCDSE }

func (a *cdseAdapter) Reauthenticate(ctx context.Context) error {
	return a.client.Reauthenticate(ctx)
}

func (a *cdseAdapter) Fetch(ctx context.Context, req Request) (Payload, error) {
	body := newProcessRequest(req, a.data(req), a.width, a.height, a.evalscript)
	res, err := a.client.process(ctx, body, req.Path(a.fileName))
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Files: []string{a.fileName},
		Summary: map[string]any{
			"provider":     "copernicus-dataspace",
			"file":         a.fileName,
			"bytes":        res.Bytes,
			"checksum":     res.Checksum,
			"resolution_m": a.resolution,
			"width":        a.width,
			"height":       a.height,
		},
	}, nil
}

func cdseSettingsFrom(env *Env, p Params) cdseSettings {
	idEnv := p.String("client_id_env", defaultClientIDEnv)
	secretEnv := p.String("client_secret_env", defaultClientSecretEnv)
	return cdseSettings{
		TokenURL:     p.String("token_url", defaultCDSETokenURL),
		ProcessURL:   p.String("process_url", defaultCDSEProcessURL),
		ClientID:     env.getenv(idEnv),
		ClientSecret: env.getenv(secretEnv),
	}
}
