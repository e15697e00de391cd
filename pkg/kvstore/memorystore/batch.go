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
	"context"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

type memoryOp struct {
	keys  []string
	apply func(s *Store) error
}

// memoryBatch records commands until the store applies them under its lock.
type memoryBatch struct {
	ops []memoryOp
}

var _ kvstore.Batch = (*memoryBatch)(nil)

func (b *memoryBatch) SetEx(key string, value []byte, ttl time.Duration) {
	b.ops = append(b.ops, memoryOp{
		keys:  []string{key},
		apply: func(s *Store) error { return s.setEx(key, value, ttl) },
	})
}

func (b *memoryBatch) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.ops = append(b.ops, memoryOp{
		keys:  keys,
		apply: func(s *Store) error { return s.del(keys...) },
	})
}

func (b *memoryBatch) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.ops = append(b.ops, memoryOp{
		keys:  []string{key},
		apply: func(s *Store) error { return s.sadd(key, members...) },
	})
}

func (b *memoryBatch) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.ops = append(b.ops, memoryOp{
		keys:  []string{key},
		apply: func(s *Store) error { return s.srem(key, members...) },
	})
}

func (b *memoryBatch) SDiffStore(dest string, keys ...string) {
	b.ops = append(b.ops, memoryOp{
		keys:  []string{dest},
		apply: func(s *Store) error { return s.sdiffstore(dest, keys...) },
	})
}

// keySnapshot is the state of one key before a batch touched it.  Stored
// sets are never mutated in place, so holding the pointer is enough.
type keySnapshot struct {
	str        stringItem
	hasStr     bool
	set        mapset.Set[string]
	hasSet     bool
	version    uint64
	hasVersion bool
}

// apply runs every queued command.  If one fails, all keys written so far
// are restored and the error is returned.  The lock must be held.
func (b *memoryBatch) apply(s *Store) error {
	snapshots := make(map[string]keySnapshot)
	for _, op := range b.ops {
		for _, key := range op.keys {
			if _, seen := snapshots[key]; seen {
				continue
			}
			snap := keySnapshot{}
			snap.str, snap.hasStr = s.strs[key]
			snap.set, snap.hasSet = s.sets[key]
			snap.version, snap.hasVersion = s.versions[key]
			snapshots[key] = snap
		}
		if err := op.apply(s); err != nil {
			s.restore(snapshots)
			return err
		}
	}
	return nil
}

func (s *Store) restore(snapshots map[string]keySnapshot) {
	for key, snap := range snapshots {
		delete(s.strs, key)
		delete(s.sets, key)
		delete(s.versions, key)
		if snap.hasStr {
			s.strs[key] = snap.str
		}
		if snap.hasSet {
			s.sets[key] = snap.set
		}
		if snap.hasVersion {
			s.versions[key] = snap.version
		}
	}
}

func (s *Store) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	b := &memoryBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	return b.apply(s)
}

// memoryTx remembers the versions of the watched keys when Watch started.
type memoryTx struct {
	*Store
	keys     []string
	versions []uint64
	epoch    uint64
}

var _ kvstore.Tx = (*memoryTx)(nil)

func (s *Store) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	s.Lock()
	tx := &memoryTx{Store: s, keys: keys}
	tx.snapshot()
	s.watchers++
	s.Unlock()

	defer func() {
		s.Lock()
		s.watchers--
		s.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(tx)
}

// snapshot records the current versions.  The lock must be held.
func (tx *memoryTx) snapshot() {
	tx.epoch = tx.Store.epoch
	tx.versions = make([]uint64, len(tx.keys))
	for i, key := range tx.keys {
		if tx.Store.expired(key) {
			tx.Store.dropExpired(key)
		}
		tx.versions[i] = tx.Store.versions[key]
	}
}

func (tx *memoryTx) changed() bool {
	if tx.Store.epoch != tx.epoch {
		return true
	}
	for i, key := range tx.keys {
		if tx.Store.expired(key) {
			tx.Store.dropExpired(key)
		}
		if tx.Store.versions[key] != tx.versions[i] {
			return true
		}
	}
	return false
}

func (tx *memoryTx) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	b := &memoryBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.Store.Lock()
	defer tx.Store.Unlock()
	if tx.changed() {
		return kvstore.ErrTxConflict
	}
	if err := b.apply(tx.Store); err != nil {
		return err
	}
	tx.snapshot()
	return nil
}
