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

// Package kvstoretest is a conformance suite for kvstore.Store
// implementations.  Call Run from a backend's tests with a constructor
// that returns an empty store.
package kvstoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// NewStoreFunc returns an empty store.  Run closes it when the subtest ends.
type NewStoreFunc func(t *testing.T) kvstore.Store

// Run exercises every command in the kvstore contract.
func Run(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kvstore.Store)
	}{
		{"Strings", testStrings},
		{"TTL", testTTL},
		{"Sets", testSets},
		{"SUnion", testSUnion},
		{"SDiffStore", testSDiffStore},
		{"Keys", testKeys},
		{"WrongType", testWrongType},
		{"Batch", testBatch},
		{"BatchAbandoned", testBatchAbandoned},
		{"BatchSeesOwnWrites", testBatchSeesOwnWrites},
		{"Watch", testWatch},
		{"WatchConflict", testWatchConflict},
		{"FlushNamespace", testFlushNamespace},
		{"ConcurrentBatches", testConcurrentBatches},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() {
				_ = s.Close()
			})
			tt.fn(t, s)
		})
	}
}

func testStrings(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	v, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)

	require.NoError(t, s.SetEx(ctx, "k", []byte("v1"), time.Hour))
	v, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.SetEx(ctx, "k", []byte("v2"), time.Hour))
	v, _, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Del(ctx, "k", "missing"))
	exists, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Del(ctx))
}

func testTTL(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "limited", []byte("v"), time.Hour))
	ttl, err := s.TTL(ctx, "limited")
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	require.NoError(t, s.SetEx(ctx, "forever", []byte("v"), 0))
	ttl, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, kvstore.TTLNoExpiry, ttl)

	require.NoError(t, s.SAdd(ctx, "set", "a"))
	ttl, err = s.TTL(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, kvstore.TTLNoExpiry, ttl)

	ttl, err = s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, kvstore.TTLMissing, ttl)
}

func testSets(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	members, err := s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.SAdd(ctx, "set", "a", "b", "b"))
	require.NoError(t, s.SAdd(ctx, "set", "c"))
	require.NoError(t, s.SAdd(ctx, "set"))
	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	exists, err := s.Exists(ctx, "set")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.SRem(ctx, "set", "a", "missing"))
	require.NoError(t, s.SRem(ctx, "set"))
	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, members)

	require.NoError(t, s.SRem(ctx, "set", "b", "c"))
	members, err = s.SMembers(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, s.SRem(ctx, "never-existed", "x"))
}

func testSUnion(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "s1", "a", "b"))
	require.NoError(t, s.SAdd(ctx, "s2", "b", "c"))

	union, err := s.SUnion(ctx, "s1", "s2", "missing")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, union)

	union, err = s.SUnion(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, union)
}

func testSDiffStore(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "s1", "a", "b", "c"))
	require.NoError(t, s.SAdd(ctx, "s2", "b"))
	require.NoError(t, s.SAdd(ctx, "s3", "c", "z"))

	require.NoError(t, s.SDiffStore(ctx, "s1", "s1", "s2", "s3"))
	members, err := s.SMembers(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	require.NoError(t, s.SDiffStore(ctx, "dest", "s3", "missing"))
	members, err = s.SMembers(ctx, "dest")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "z"}, members)

	require.NoError(t, s.SDiffStore(ctx, "s1", "s1", "s1"))
	members, err = s.SMembers(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testKeys(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "data:a", []byte("1"), time.Hour))
	require.NoError(t, s.SetEx(ctx, "data:b", []byte("2"), time.Hour))
	require.NoError(t, s.SAdd(ctx, "tags-of:a", "x"))
	require.NoError(t, s.SAdd(ctx, "tags-of:b", "y"))

	keys, err := s.Keys(ctx, "data:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data:a", "data:b"}, keys)

	keys, err = s.Keys(ctx, "tags-of:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tags-of:a", "tags-of:b"}, keys)

	keys, err = s.Keys(ctx, "*:a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data:a", "tags-of:a"}, keys)

	keys, err = s.Keys(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testWrongType(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "str", []byte("v"), time.Hour))
	require.NoError(t, s.SAdd(ctx, "set", "a"))

	assert.ErrorIs(t, s.SAdd(ctx, "str", "a"), kvstore.ErrWrongType)
	_, err := s.SMembers(ctx, "str")
	assert.ErrorIs(t, err, kvstore.ErrWrongType)
	_, _, err = s.Get(ctx, "set")
	assert.ErrorIs(t, err, kvstore.ErrWrongType)

	// SetEx replaces whatever was there.
	require.NoError(t, s.SetEx(ctx, "set", []byte("now a string"), time.Hour))
	v, ok, err := s.Get(ctx, "set")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("now a string"), v)
}

func testBatch(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "gone", "x"))
	err := s.Batch(ctx, func(b kvstore.Batch) error {
		b.SetEx("data:a", []byte("payload"), time.Hour)
		b.SAdd("tags-of:a", "red", "blue")
		b.SAdd("idents-of:red", "a")
		b.SAdd("idents-of:blue", "a")
		b.SRem("idents-of:blue", "a")
		b.Del("gone")
		b.Del()
		b.SAdd("noop")
		return nil
	})
	require.NoError(t, err)

	v, ok, err := s.Get(ctx, "data:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), v)

	members, err := s.SMembers(ctx, "tags-of:a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"red", "blue"}, members)

	members, err = s.SMembers(ctx, "idents-of:blue")
	require.NoError(t, err)
	assert.Empty(t, members)

	exists, err := s.Exists(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testBatchAbandoned(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	errBoom := errors.New("boom")
	err := s.Batch(ctx, func(b kvstore.Batch) error {
		b.SetEx("data:a", []byte("payload"), time.Hour)
		b.SAdd("tags-of:a", "red")
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)

	exists, err := s.Exists(ctx, "data:a")
	require.NoError(t, err)
	assert.False(t, exists)
	members, err := s.SMembers(ctx, "tags-of:a")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testBatchSeesOwnWrites(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "idents-of:red", "a", "b", "c"))
	require.NoError(t, s.SAdd(ctx, "idents-of:blue", "b", "d"))

	err := s.Batch(ctx, func(b kvstore.Batch) error {
		b.SAdd("tmp:1", "a", "b")
		b.SDiffStore("idents-of:red", "idents-of:red", "tmp:1")
		b.SDiffStore("idents-of:blue", "idents-of:blue", "tmp:1")
		b.Del("tmp:1")
		return nil
	})
	require.NoError(t, err)

	members, err := s.SMembers(ctx, "idents-of:red")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)
	members, err = s.SMembers(ctx, "idents-of:blue")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, members)

	exists, err := s.Exists(ctx, "tmp:1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testWatch(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "data:a", []byte("v"), time.Hour))
	require.NoError(t, s.SAdd(ctx, "tags-of:a", "red"))
	require.NoError(t, s.SAdd(ctx, "idents-of:red", "a"))

	err := s.Watch(ctx, func(tx kvstore.Tx) error {
		exists, err := tx.Exists(ctx, "data:a")
		if err != nil {
			return err
		}
		assert.True(t, exists)
		tags, err := tx.SMembers(ctx, "tags-of:a")
		if err != nil {
			return err
		}
		return tx.Batch(ctx, func(b kvstore.Batch) error {
			b.Del("data:a", "tags-of:a")
			for _, tag := range tags {
				b.SRem("idents-of:"+tag, "a")
			}
			return nil
		})
	}, "data:a", "tags-of:a")
	require.NoError(t, err)

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testWatchConflict(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, "tags-of:a", "red"))

	err := s.Watch(ctx, func(tx kvstore.Tx) error {
		if _, err := tx.SMembers(ctx, "tags-of:a"); err != nil {
			return err
		}
		// another client changes a watched key
		if err := s.SAdd(ctx, "tags-of:a", "blue"); err != nil {
			return err
		}
		return tx.Batch(ctx, func(b kvstore.Batch) error {
			b.Del("tags-of:a")
			b.SetEx("written", []byte("v"), time.Hour)
			return nil
		})
	}, "tags-of:a")
	assert.ErrorIs(t, err, kvstore.ErrTxConflict)

	members, err := s.SMembers(ctx, "tags-of:a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"red", "blue"}, members)
	exists, err := s.Exists(ctx, "written")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testFlushNamespace(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	require.NoError(t, s.SetEx(ctx, "data:a", []byte("v"), time.Hour))
	require.NoError(t, s.SAdd(ctx, "tags-of:a", "red"))

	require.NoError(t, s.FlushNamespace(ctx))

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testConcurrentBatches(t *testing.T, s kvstore.Store) {
	ctx := context.Background()

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				id := fmt.Sprintf("id-%d-%d", w, i)
				err := s.Batch(ctx, func(b kvstore.Batch) error {
					b.SAdd("tags-of:"+id, "shared")
					b.SAdd("idents-of:shared", id)
					return nil
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	members, err := s.SMembers(ctx, "idents-of:shared")
	require.NoError(t, err)
	assert.Len(t, members, workers*perWorker)
}
