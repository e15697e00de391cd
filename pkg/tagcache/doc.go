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

// Package tagcache is a cache over a kvstore.Store in which every entry
// can carry tags, and all entries with a tag can be dropped at once.
//
// An entry with identifier i is stored in three places:
//
//	data:i       the payload, with an expiry
//	tags-of:i    the tags of i
//	idents-of:t  one set per tag t, holding every identifier tagged t
//
// The two index families mirror each other.  The store expires data keys
// on its own and does not tell anyone, so the index can point at entries
// that are gone.  CollectGarbage finds and removes those references; run
// it periodically.
//
//	store := memorystore.New(nil)
//	cache, err := tagcache.New(store, tagcache.WithCompression(true))
//	...
//	err = cache.Set(ctx, "user_42", payload, []string{"users"}, tagcache.UseDefaultLifetime)
//	err = cache.FlushByTag(ctx, "users")
package tagcache
