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
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/floodlake/internal/fetcherr"
)

// defaultCacheTTL keeps whole-window payloads for the length of a typical
// run; a later run fetches fresh data.
const defaultCacheTTL = 12 * time.Hour

// sharedFetch caches payloads that serve many months, so a run asks the
// provider once no matter how many month workers want them. Failures are not
// cached.
type sharedFetch[V any] struct {
	cache *ttlcache.Cache[string, V]
	group singleflight.Group
}

func newSharedFetch[V any](ttl time.Duration) *sharedFetch[V] {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &sharedFetch[V]{
		cache: ttlcache.New[string, V](
			ttlcache.WithTTL[string, V](ttl),
			ttlcache.WithDisableTouchOnHit[string, V](),
		),
	}
}

func (s *sharedFetch[V]) get(ctx context.Context, key string, fetch func(context.Context) (V, error)) (V, error) {
	if item := s.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		if item := s.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		s.cache.Set(key, v, ttlcache.DefaultTTL)
		return v, nil
	})
	if err != nil {
		var zero V
		// The shared call ran on another worker's context; its cancellation
		// is not ours.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return zero, fetcherr.Transient("shared fetch", err)
		}
		return zero, err
	}
	return v.(V), nil
}
