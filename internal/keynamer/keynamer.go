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

// Package keynamer maps cache identifiers and tags onto physical store keys.
package keynamer

import "strings"

const (
	// DataPrefix holds an entry's payload.
	DataPrefix = "data:"
	// TagsOfPrefix holds the set of tags attached to an identifier.
	TagsOfPrefix = "tags-of:"
	// IdentsOfPrefix holds the set of identifiers carrying a tag.
	IdentsOfPrefix = "idents-of:"
	// TempPrefix holds scratch sets that live only inside one batch.
	TempPrefix = "tmp:"
)

func Data(identifier string) string {
	return DataPrefix + identifier
}

func TagsOf(identifier string) string {
	return TagsOfPrefix + identifier
}

func IdentsOf(tag string) string {
	return IdentsOfPrefix + tag
}

func Temp(token string) string {
	return TempPrefix + token
}

// TagsOfPattern matches every tags-of key in the store.
func TagsOfPattern() string {
	return TagsOfPrefix + "*"
}

// IdentifierFromTagsOf returns the identifier encoded in a tags-of key.
// ok is false if key is not a tags-of key or names an empty identifier.
func IdentifierFromTagsOf(key string) (identifier string, ok bool) {
	identifier, ok = strings.CutPrefix(key, TagsOfPrefix)
	if !ok || identifier == "" {
		return "", false
	}
	return identifier, true
}

func DataKeys(identifiers []string) []string {
	return mapKeys(identifiers, Data)
}

func TagsOfKeys(identifiers []string) []string {
	return mapKeys(identifiers, TagsOf)
}

func IdentsOfKeys(tags []string) []string {
	return mapKeys(tags, IdentsOf)
}

func mapKeys(names []string, f func(string) string) []string {
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = f(name)
	}
	return keys
}
