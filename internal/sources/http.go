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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

const (
	userAgent = "floodlake/1.0"

	// maxErrorBody bounds how much of a failed response is kept for the
	// manifest error message.
	maxErrorBody = 4 << 10
)

// NewHTTPClient returns the instrumented client shared by all adapters.
// Per-request deadlines come from the attempt context, timeout is only a
// backstop.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// fetched describes one response body saved to disk.
type fetched struct {
	Bytes    int64
	Checksum string
}

// do sends req and returns the response only for 2xx status codes.
func do(ctx context.Context, client *http.Client, req *http.Request, op string) (*http.Response, error) {
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, requestError(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, fetcherr.FromResponse(resp, op, string(body))
	}
	return resp, nil
}

// requestError classifies a transport error. A canceled caller context is
// returned as is so it is never recorded as a failure.
func requestError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return fetcherr.New(fetcherr.KindRemoteProcessingTimeout, op, err)
	}
	e := fetcherr.Classify(err)
	return &fetcherr.Error{Kind: e.Kind, Op: op, StatusCode: e.StatusCode, RetryAfter: e.RetryAfter, Err: err}
}

// writeTracker remembers whether a failure came from the destination file
// rather than the network.
type writeTracker struct {
	w   io.Writer
	err error
}

func (t *writeTracker) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

// download streams a successful response body to dst and checks it against
// Content-Length. dst is removed on any failure.
func download(ctx context.Context, client *http.Client, req *http.Request, op, dst string) (fetched, error) {
	resp, err := do(ctx, client, req, op)
	if err != nil {
		return fetched{}, err
	}
	defer resp.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fetched{}, fetcherr.LocalIO(op, err)
	}
	h := xxhash.New()
	tracker := &writeTracker{w: io.MultiWriter(f, h)}
	n, copyErr := io.Copy(tracker, resp.Body)
	closeErr := f.Close()

	fail := func(err error) (fetched, error) {
		_ = os.Remove(dst)
		return fetched{}, err
	}
	switch {
	case copyErr != nil && tracker.err != nil:
		return fail(fetcherr.LocalIO(op, copyErr))
	case copyErr != nil:
		return fail(requestError(ctx, op, copyErr))
	case closeErr != nil:
		return fail(fetcherr.LocalIO(op, closeErr))
	case resp.ContentLength >= 0 && n != resp.ContentLength:
		return fail(fetcherr.Transient(op, fmt.Errorf("short read: got %d of %d bytes", n, resp.ContentLength)))
	case n == 0:
		return fail(fetcherr.Permanent(op, errors.New("empty response body")))
	}
	return fetched{Bytes: n, Checksum: formatDigest(h.Sum64())}, nil
}

// readBody reads a successful response fully, checking Content-Length.
func readBody(ctx context.Context, client *http.Client, req *http.Request, op string) ([]byte, error) {
	resp, err := do(ctx, client, req, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(ctx, op, err)
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, fetcherr.Transient(op, fmt.Errorf("short read: got %d of %d bytes", len(body), resp.ContentLength))
	}
	return body, nil
}

// getJSON reads a successful response and decodes it into v. A body that is
// not the expected JSON is a permanent provider error.
func getJSON(ctx context.Context, client *http.Client, req *http.Request, op string, v any) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	body, err := readBody(ctx, client, req, op)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fetcherr.Permanent(op, fmt.Errorf("decode response: %w", err))
	}
	return body, nil
}

func checksum(b []byte) string {
	return formatDigest(xxhash.Sum64(b))
}

func formatDigest(sum uint64) string {
	return fmt.Sprintf("xxh64:%016x", sum)
}
