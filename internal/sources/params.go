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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Params are the free-form per-source settings from configuration.
type Params map[string]any

func (p Params) String(key, def string) string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	default:
		return fmt.Sprint(t)
	}
}

func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, fmt.Errorf("param %s: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("param %s: unsupported type %T", key, v)
}

func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p.lookup(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// viper lowercases map keys, so lookups are case-insensitive.
func (p Params) lookup(key string) (any, bool) {
	if v, ok := p[key]; ok && v != nil {
		return v, true
	}
	for k, v := range p {
		if strings.EqualFold(k, key) && v != nil {
			return v, true
		}
	}
	return nil, false
}
