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

// Package idgen makes the identifiers that tie log lines, manifests and
// staging directories back to one ingestion run.
package idgen

import (
	crand "crypto/rand"
	"encoding/base32"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	runMu      sync.Mutex
	runEntropy = ulid.Monotonic(crand.Reader, 0)
)

// NewRunID returns a ULID for t. IDs made in the same millisecond still
// sort in creation order.
func NewRunID(t time.Time) string {
	runMu.Lock()
	defer runMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), runEntropy).String()
}

// RunTime extracts the creation time of a run id.
func RunTime(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()).UTC(), nil
}

// ShortToken is an 8 character lowercase base32 token for naming scratch
// directories. It is not suitable for anything security sensitive.
func ShortToken() string {
	b := make([]byte, 5)
	_, _ = crand.Read(b)
	return strings.ToLower(base32.StdEncoding.EncodeToString(b))
}
