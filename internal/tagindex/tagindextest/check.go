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

// Package tagindextest inspects the index key families in tests.
package tagindextest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tagcache/internal/keynamer"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// Index is the content of both index families, keyed by identifier and by
// tag respectively.  Empty sets are left out.
type Index struct {
	TagsOf   map[string][]string
	IdentsOf map[string][]string
}

// Load reads both index families from r.
func Load(t *testing.T, r kvstore.Reader) Index {
	t.Helper()
	return Index{
		TagsOf:   loadFamily(t, r, keynamer.TagsOfPrefix),
		IdentsOf: loadFamily(t, r, keynamer.IdentsOfPrefix),
	}
}

func loadFamily(t *testing.T, r kvstore.Reader, prefix string) map[string][]string {
	ctx := context.Background()
	keys, err := r.Keys(ctx, prefix+"*")
	require.NoError(t, err)
	family := map[string][]string{}
	for _, key := range keys {
		members, err := r.SMembers(ctx, key)
		require.NoError(t, err)
		if len(members) > 0 {
			family[strings.TrimPrefix(key, prefix)] = members
		}
	}
	return family
}

// RequireConsistent fails the test unless every tag in tags-of:i has i in
// idents-of:t, and the other way round.
func RequireConsistent(t *testing.T, r kvstore.Reader) {
	t.Helper()
	index := Load(t, r)
	for id, tags := range index.TagsOf {
		for _, tag := range tags {
			require.Contains(t, index.IdentsOf[tag], id, fmt.Sprintf("idents-of:%s is missing %s", tag, id))
		}
	}
	for tag, ids := range index.IdentsOf {
		for _, id := range ids {
			require.Contains(t, index.TagsOf[id], tag, fmt.Sprintf("tags-of:%s is missing %s", id, tag))
		}
	}
}
