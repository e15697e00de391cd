// Copyright 2024-2025 CardinalHQ, Inc
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tagcache

import (
	"regexp"
	"time"
)

const (
	// UnlimitedLifetime is stored for entries set with a lifetime of 0.
	// The store has no way to keep an expiring and a permanent key family
	// in step, so "unlimited" is one year.
	UnlimitedLifetime = 31536000 * time.Second

	// DefaultLifetime is the default for entries set with
	// UseDefaultLifetime, unless WithDefaultLifetime says otherwise.
	DefaultLifetime = 3600 * time.Second

	// UseDefaultLifetime asks Set to use the configured default lifetime.
	UseDefaultLifetime = time.Duration(-1)

	// MaxPayloadSize is the largest payload Set accepts.
	MaxPayloadSize = 512 << 20
)

var tokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_%\-&]{1,250}$`)

func validateIdentifier(identifier string) error {
	if !tokenPattern.MatchString(identifier) {
		return invalidArgument("identifier %q must be 1 to 250 characters of [a-zA-Z0-9_%%-&]", identifier)
	}
	return nil
}

func validateTag(tag string) error {
	if !tokenPattern.MatchString(tag) {
		return invalidArgument("tag %q must be 1 to 250 characters of [a-zA-Z0-9_%%-&]", tag)
	}
	return nil
}

func validateTags(tags []string) error {
	for _, tag := range tags {
		if err := validateTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// validateLifetime accepts whole, non-negative seconds.
func validateLifetime(lifetime time.Duration) error {
	if lifetime < 0 {
		return invalidArgument("lifetime %s is negative", lifetime)
	}
	if lifetime%time.Second != 0 {
		return invalidArgument("lifetime %s is not a whole number of seconds", lifetime)
	}
	return nil
}

// expiry maps a validated lifetime onto the TTL written to the store.
func expiry(lifetime time.Duration) time.Duration {
	if lifetime == 0 {
		return UnlimitedLifetime
	}
	return lifetime
}
