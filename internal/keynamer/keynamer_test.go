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

package keynamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFamilies(t *testing.T) {
	assert.Equal(t, "data:abc", Data("abc"))
	assert.Equal(t, "tags-of:abc", TagsOf("abc"))
	assert.Equal(t, "idents-of:red", IdentsOf("red"))
	assert.Equal(t, "tmp:1234", Temp("1234"))
	assert.Equal(t, "tags-of:*", TagsOfPattern())
}

func TestIdentifierFromTagsOf(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		want   string
		wantOK bool
	}{
		{"tags-of key", "tags-of:abc", "abc", true},
		{"identifier with colon", "tags-of:a:b", "a:b", true},
		{"empty identifier", "tags-of:", "", false},
		{"data key", "data:abc", "", false},
		{"membership key", "idents-of:abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IdentifierFromTagsOf(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyLists(t *testing.T) {
	ids := []string{"a", "b"}
	assert.Equal(t, []string{"data:a", "data:b"}, DataKeys(ids))
	assert.Equal(t, []string{"tags-of:a", "tags-of:b"}, TagsOfKeys(ids))
	assert.Equal(t, []string{"idents-of:a", "idents-of:b"}, IdentsOfKeys(ids))
	assert.Empty(t, DataKeys(nil))
}
