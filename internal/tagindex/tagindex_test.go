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

package tagindex

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tagcache/internal/keynamer"
	"github.com/cardinalhq/tagcache/internal/tagindex/tagindextest"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/memorystore"
)

// countingStore counts the batches sent to the wrapped store, including
// the ones queued inside a Watch.
type countingStore struct {
	kvstore.Store
	batches int
}

func (s *countingStore) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	s.batches++
	return s.Store.Batch(ctx, fn)
}

func (s *countingStore) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	return s.Store.Watch(ctx, func(tx kvstore.Tx) error {
		return fn(&countingTx{Tx: tx, s: s})
	}, keys...)
}

type countingTx struct {
	kvstore.Tx
	s *countingStore
}

func (tx *countingTx) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	tx.s.batches++
	return tx.Tx.Batch(ctx, fn)
}

// meddlingStore writes to key through the store after a Watch has started,
// the way another client would.
type meddlingStore struct {
	kvstore.Store
	key string
}

func (s *meddlingStore) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	return s.Store.Watch(ctx, func(tx kvstore.Tx) error {
		if err := s.Store.SAdd(ctx, s.key, "late"); err != nil {
			return err
		}
		return fn(tx)
	}, keys...)
}

// interleavingStore runs other once, right after the first read made
// inside a Watch, the way a concurrent client would.
type interleavingStore struct {
	kvstore.Store
	other func()
}

func (s *interleavingStore) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	return s.Store.Watch(ctx, func(tx kvstore.Tx) error {
		return fn(&interleavingTx{Tx: tx, s: s})
	}, keys...)
}

func (s *interleavingStore) interleave() {
	if other := s.other; other != nil {
		s.other = nil
		other()
	}
}

type interleavingTx struct {
	kvstore.Tx
	s *interleavingStore
}

func (tx *interleavingTx) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := tx.Tx.SMembers(ctx, key)
	tx.s.interleave()
	return members, err
}

func (tx *interleavingTx) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	members, err := tx.Tx.SUnion(ctx, keys...)
	tx.s.interleave()
	return members, err
}

func newTestStore() (*countingStore, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return &countingStore{Store: memorystore.New(clock)}, clock
}

func setEntry(t *testing.T, s kvstore.Store, m *Maintainer, id string, ttl time.Duration, tags ...string) {
	ctx := context.Background()
	require.NoError(t, s.SetEx(ctx, keynamer.Data(id), []byte("payload-"+id), ttl))
	require.NoError(t, m.ReconcileTags(ctx, id, tags))
}

func members(t *testing.T, s kvstore.Reader, key string) []string {
	m, err := s.SMembers(context.Background(), key)
	require.NoError(t, err)
	return m
}

func TestReconcileTags(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)

	require.NoError(t, m.ReconcileTags(ctx, "x", []string{"a", "b", "b"}))
	assert.ElementsMatch(t, []string{"a", "b"}, members(t, s, "tags-of:x"))
	assert.Equal(t, []string{"x"}, members(t, s, "idents-of:a"))
	assert.Equal(t, []string{"x"}, members(t, s, "idents-of:b"))

	require.NoError(t, m.ReconcileTags(ctx, "x", []string{"b", "c"}))
	assert.ElementsMatch(t, []string{"b", "c"}, members(t, s, "tags-of:x"))
	assert.Empty(t, members(t, s, "idents-of:a"))
	assert.Equal(t, []string{"x"}, members(t, s, "idents-of:c"))
	tagindextest.RequireConsistent(t, s)

	require.NoError(t, m.ReconcileTags(ctx, "x", nil))
	exists, err := s.Exists(ctx, "tags-of:x")
	require.NoError(t, err)
	assert.False(t, exists)
	index := tagindextest.Load(t, s)
	assert.Empty(t, index.TagsOf)
	assert.Empty(t, index.IdentsOf)
}

func TestReconcileTags_unchanged_sends_no_batch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)

	require.NoError(t, m.ReconcileTags(ctx, "x", []string{"a", "b"}))
	assert.Equal(t, 1, s.batches)

	require.NoError(t, m.ReconcileTags(ctx, "x", []string{"b", "a", "a"}))
	assert.Equal(t, 1, s.batches)

	require.NoError(t, m.ReconcileTags(ctx, "y", nil))
	assert.Equal(t, 1, s.batches)
}

func TestSetEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)

	require.NoError(t, m.SetEntry(ctx, "x", []byte("v1"), time.Hour, []string{"a", "b"}))
	require.NoError(t, m.SetEntry(ctx, "x", []byte("v2"), time.Hour, []string{"b", "c"}))
	assert.Equal(t, 2, s.batches)

	value, ok, err := s.Get(ctx, "data:x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), value)
	assert.ElementsMatch(t, []string{"b", "c"}, members(t, s, "tags-of:x"))
	assert.Empty(t, members(t, s, "idents-of:a"))
	tagindextest.RequireConsistent(t, s)
}

func TestSetEntry_concurrent_set(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	other := New(s.Store)
	m := New(&interleavingStore{Store: s, other: func() {
		require.NoError(t, other.SetEntry(ctx, "id", []byte("b"), time.Hour, []string{"b"}))
	}})
	require.NoError(t, m.SetEntry(ctx, "id", []byte("a"), time.Hour, []string{"a"}))

	value, ok, err := s.Get(ctx, "data:id")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), value)
	assert.Equal(t, []string{"a"}, members(t, s, "tags-of:id"))
	assert.Empty(t, members(t, s, "idents-of:b"))
	tagindextest.RequireConsistent(t, s)
}

func TestReconcileTags_concurrent_reconcile(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)
	setEntry(t, s, m, "id", time.Hour, "old")

	other := New(s.Store)
	interleaved := New(&interleavingStore{Store: s, other: func() {
		require.NoError(t, other.ReconcileTags(ctx, "id", []string{"b"}))
	}})
	require.NoError(t, interleaved.ReconcileTags(ctx, "id", []string{"a"}))

	assert.Equal(t, []string{"a"}, members(t, s, "tags-of:id"))
	tagindextest.RequireConsistent(t, s)
}

func TestRemoveEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)

	setEntry(t, s, m, "x", time.Hour, "a", "b")
	setEntry(t, s, m, "y", time.Hour, "b")

	removed, err := m.RemoveEntry(ctx, "x")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveEntry(ctx, "x")
	require.NoError(t, err)
	assert.False(t, removed)

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data:y", "tags-of:y", "idents-of:b"}, keys)
	tagindextest.RequireConsistent(t, s)
}

func TestRemoveEntry_leaves_stale_tags(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()
	m := New(s)

	setEntry(t, s, m, "x", time.Minute, "a")
	clock.Advance(2 * time.Minute)

	removed, err := m.RemoveEntry(ctx, "x")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"a"}, members(t, s, "tags-of:x"))
	assert.Equal(t, []string{"x"}, members(t, s, "idents-of:a"))
}

func TestRemoveEntry_conflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)
	setEntry(t, s, m, "x", time.Hour, "a")

	meddled := New(&meddlingStore{Store: s, key: "tags-of:x"})
	removed, err := meddled.RemoveEntry(ctx, "x")
	assert.ErrorIs(t, err, kvstore.ErrTxConflict)
	assert.False(t, removed)

	exists, err := s.Exists(ctx, "data:x")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRepairOrphan(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore()
	m := New(s)

	setEntry(t, s, m, "short", time.Minute, "a", "b")
	setEntry(t, s, m, "long", time.Hour, "b")
	clock.Advance(2 * time.Minute)

	repaired, err := m.RepairOrphan(ctx, "long")
	require.NoError(t, err)
	assert.False(t, repaired)

	repaired, err = m.RepairOrphan(ctx, "short")
	require.NoError(t, err)
	assert.True(t, repaired)

	repaired, err = m.RepairOrphan(ctx, "short")
	require.NoError(t, err)
	assert.False(t, repaired)

	index := tagindextest.Load(t, s)
	assert.Equal(t, map[string][]string{"long": {"b"}}, index.TagsOf)
	assert.Equal(t, map[string][]string{"b": {"long"}}, index.IdentsOf)
}

func TestRepairOrphan_conflict(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	require.NoError(t, s.SAdd(ctx, "tags-of:x", "a"))
	require.NoError(t, s.SAdd(ctx, "idents-of:a", "x"))

	m := New(&meddlingStore{Store: s, key: "tags-of:x"})
	repaired, err := m.RepairOrphan(ctx, "x")
	assert.ErrorIs(t, err, kvstore.ErrTxConflict)
	assert.False(t, repaired)
	assert.ElementsMatch(t, []string{"a", "late"}, members(t, s, "tags-of:x"))
}

func TestBulkRemove(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s, WithTokenFunc(func() string { return "fixed" }))

	setEntry(t, s, m, "x", time.Hour, "p")
	setEntry(t, s, m, "y", time.Hour, "p", "q")
	setEntry(t, s, m, "z", time.Hour, "q", "r")
	s.batches = 0

	require.NoError(t, m.BulkRemove(ctx, []string{"x", "y"}, []string{"p"}))
	assert.Equal(t, 1, s.batches)

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"data:z", "tags-of:z", "idents-of:q", "idents-of:r",
	}, keys)
	assert.Equal(t, []string{"z"}, members(t, s, "idents-of:q"))
	tagindextest.RequireConsistent(t, s)
}

func TestBulkRemove_only_tags(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)
	require.NoError(t, s.SAdd(ctx, "idents-of:p", "ghost"))

	require.NoError(t, m.BulkRemove(ctx, []string{"ghost"}, []string{"p"}))
	exists, err := s.Exists(ctx, "idents-of:p")
	require.NoError(t, err)
	assert.False(t, exists)

	s.batches = 0
	require.NoError(t, m.BulkRemove(ctx, nil, nil))
	assert.Equal(t, 0, s.batches)
}

func TestBulkRemove_retagged_during_removal(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)
	setEntry(t, s, m, "x", time.Hour, "p")
	setEntry(t, s, m, "y", time.Hour, "p")

	other := New(s.Store)
	interleaved := New(&interleavingStore{Store: s, other: func() {
		require.NoError(t, other.SetEntry(ctx, "y", []byte("again"), time.Hour, []string{"p", "q"}))
	}})
	err := interleaved.BulkRemove(ctx, []string{"x", "y"}, []string{"p"})
	assert.ErrorIs(t, err, kvstore.ErrTxConflict)
	tagindextest.RequireConsistent(t, s)
	assert.ElementsMatch(t, []string{"p", "q"}, members(t, s, "tags-of:y"))

	require.NoError(t, m.BulkRemove(ctx, []string{"x", "y"}, []string{"p"}))
	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBulkRemove_member_added_after_read(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)
	setEntry(t, s, m, "x", time.Hour, "p")

	identifiers := members(t, s, "idents-of:p")
	setEntry(t, s, m, "w", time.Hour, "p", "q")

	err := m.BulkRemove(ctx, identifiers, []string{"p"})
	assert.ErrorIs(t, err, kvstore.ErrTxConflict)
	assert.ElementsMatch(t, []string{"x", "w"}, members(t, s, "idents-of:p"))
	tagindextest.RequireConsistent(t, s)
}

func TestBulkRemove_untagged(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	m := New(s)

	setEntry(t, s, m, "x", time.Hour)
	setEntry(t, s, m, "y", time.Hour, "keep")
	require.NoError(t, m.BulkRemove(ctx, []string{"x"}, nil))

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data:y", "tags-of:y", "idents-of:keep"}, keys)
}
