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

package memorystore

import (
	"bytes"
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gobwas/glob"
	"github.com/jonboulle/clockwork"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// Store is an in-process kvstore.Store.  Expiry is passive: an expired
// value is dropped the next time it is looked at, or by Maintain.
type Store struct {
	sync.Mutex
	strs  map[string]stringItem
	sets  map[string]mapset.Set[string]
	clock clockwork.Clock

	// versions tracks the last mutation of every key for Watch.  seq only
	// grows, so a key that is deleted and recreated never reuses a version.
	versions map[string]uint64
	seq      uint64
	epoch    uint64
	watchers int
}

type stringItem struct {
	value  []byte
	expiry time.Time
}

var _ kvstore.Store = (*Store)(nil)

// New creates an empty Store.  A nil clock uses the wall clock.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		strs:     make(map[string]stringItem),
		sets:     make(map[string]mapset.Set[string]),
		versions: make(map[string]uint64),
		clock:    clock,
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.get(key)
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.exists(key), nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.Lock()
	defer s.Unlock()
	return s.ttl(key), nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	set, err := s.set(key)
	if err != nil {
		return nil, err
	}
	return set.ToSlice(), nil
}

func (s *Store) SUnion(_ context.Context, keys ...string) ([]string, error) {
	s.Lock()
	defer s.Unlock()
	union, err := s.union(keys)
	if err != nil {
		return nil, err
	}
	return union.ToSlice(), nil
}

func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.Lock()
	defer s.Unlock()
	keys := []string{}
	for k := range s.strs {
		if s.expired(k) {
			s.dropExpired(k)
			continue
		}
		if g.Match(k) {
			keys = append(keys, k)
		}
	}
	for k := range s.sets {
		if g.Match(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.Lock()
	defer s.Unlock()
	return s.setEx(key, value, ttl)
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.Lock()
	defer s.Unlock()
	return s.del(keys...)
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	s.Lock()
	defer s.Unlock()
	return s.sadd(key, members...)
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.Lock()
	defer s.Unlock()
	return s.srem(key, members...)
}

func (s *Store) SDiffStore(_ context.Context, dest string, keys ...string) error {
	s.Lock()
	defer s.Unlock()
	return s.sdiffstore(dest, keys...)
}

func (s *Store) FlushNamespace(_ context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.strs = make(map[string]stringItem)
	s.sets = make(map[string]mapset.Set[string])
	s.versions = make(map[string]uint64)
	s.epoch++
	return nil
}

// Maintain drops expired values and, when no Watch is in flight, forgets
// the versions of keys that no longer exist.
func (s *Store) Maintain() error {
	s.Lock()
	defer s.Unlock()
	for k := range s.strs {
		if s.expired(k) {
			s.dropExpired(k)
		}
	}
	if s.watchers == 0 {
		for k := range s.versions {
			if !s.exists(k) {
				delete(s.versions, k)
			}
		}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// The helpers below expect the lock to be held.

func (s *Store) touch(key string) {
	s.seq++
	s.versions[key] = s.seq
}

func (s *Store) expired(key string) bool {
	item, ok := s.strs[key]
	if !ok {
		return false
	}
	return s.expiredItem(item)
}

func (s *Store) expiredItem(item stringItem) bool {
	return !item.expiry.IsZero() && !item.expiry.After(s.clock.Now())
}

func (s *Store) dropExpired(key string) {
	delete(s.strs, key)
	s.touch(key)
}

func (s *Store) liveString(key string) (stringItem, bool) {
	item, ok := s.strs[key]
	if !ok {
		return stringItem{}, false
	}
	if s.expiredItem(item) {
		s.dropExpired(key)
		return stringItem{}, false
	}
	return item, true
}

func (s *Store) get(key string) ([]byte, bool, error) {
	if _, ok := s.sets[key]; ok {
		return nil, false, kvstore.ErrWrongType
	}
	item, ok := s.liveString(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(item.value), true, nil
}

func (s *Store) exists(key string) bool {
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.liveString(key)
	return ok
}

func (s *Store) ttl(key string) time.Duration {
	if _, ok := s.sets[key]; ok {
		return kvstore.TTLNoExpiry
	}
	item, ok := s.liveString(key)
	if !ok {
		return kvstore.TTLMissing
	}
	if item.expiry.IsZero() {
		return kvstore.TTLNoExpiry
	}
	return item.expiry.Sub(s.clock.Now())
}

// set returns the set at key, or an empty set if there is none.
func (s *Store) set(key string) (mapset.Set[string], error) {
	if _, ok := s.liveString(key); ok {
		return nil, kvstore.ErrWrongType
	}
	if set, ok := s.sets[key]; ok {
		return set, nil
	}
	return mapset.NewThreadUnsafeSet[string](), nil
}

func (s *Store) union(keys []string) (mapset.Set[string], error) {
	union := mapset.NewThreadUnsafeSet[string]()
	for _, key := range keys {
		set, err := s.set(key)
		if err != nil {
			return nil, err
		}
		union = union.Union(set)
	}
	return union, nil
}

func (s *Store) storeSet(key string, set mapset.Set[string]) {
	if set.Cardinality() == 0 {
		delete(s.sets, key)
	} else {
		s.sets[key] = set
	}
	s.touch(key)
}

func (s *Store) setEx(key string, value []byte, ttl time.Duration) error {
	item := stringItem{value: bytes.Clone(value)}
	if ttl > 0 {
		item.expiry = s.clock.Now().Add(ttl)
	}
	delete(s.sets, key)
	s.strs[key] = item
	s.touch(key)
	return nil
}

func (s *Store) del(keys ...string) error {
	for _, key := range keys {
		_, isString := s.strs[key]
		_, isSet := s.sets[key]
		if !isString && !isSet {
			continue
		}
		delete(s.strs, key)
		delete(s.sets, key)
		s.touch(key)
	}
	return nil
}

func (s *Store) sadd(key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	set, err := s.set(key)
	if err != nil {
		return err
	}
	set = set.Clone()
	set.Append(members...)
	s.storeSet(key, set)
	return nil
}

func (s *Store) srem(key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	set, err := s.set(key)
	if err != nil {
		return err
	}
	if set.Cardinality() == 0 {
		return nil
	}
	set = set.Clone()
	set.RemoveAll(members...)
	s.storeSet(key, set)
	return nil
}

func (s *Store) sdiffstore(dest string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	diff, err := s.set(keys[0])
	if err != nil {
		return err
	}
	diff = diff.Clone()
	for _, key := range keys[1:] {
		other, err := s.set(key)
		if err != nil {
			return err
		}
		diff = diff.Difference(other)
	}
	delete(s.strs, dest)
	s.storeSet(dest, diff)
	return nil
}
