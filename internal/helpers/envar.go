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

package helpers

import (
	"os"
	"strings"
)

// ParseBool understands the loose spellings operators put in environment
// variables. ok is false for an empty value.
func ParseBool(v string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return false, false
	case "false", "0", "no", "off", "disable", "disabled":
		return false, true
	default:
		// Any other non-empty value, including "true", "1", "yes", "on",
		// "enable" and "enabled", turns the flag on.
		return true, true
	}
}

// GetBoolEnv reads a boolean environment variable, returning defaultValue
// when it is unset or empty.
func GetBoolEnv(envVar string, defaultValue bool) bool {
	if v, ok := ParseBool(os.Getenv(envVar)); ok {
		return v
	}
	return defaultValue
}

// AnyBoolEnv is true when any of the named variables is set to a true value.
func AnyBoolEnv(envVars ...string) bool {
	for _, name := range envVars {
		if GetBoolEnv(name, false) {
			return true
		}
	}
	return false
}
