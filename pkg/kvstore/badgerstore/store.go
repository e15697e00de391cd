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

package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// Plain batches can hit badger's optimistic conflict detection when they
// read sets (SDiffStore, type checks).  They are retried this many times.
const maxBatchAttempts = 5

// Store is a kvstore.Store on top of BadgerDB.
//
// Physical layout, with a NUL byte between the parts:
//
//	v <key>           string value, badger TTL carries the expiry
//	s <key> <member>  one entry per set member, empty value
//	w <key>           write marker, rewritten on every mutation of <key>
//
// Watch reads the markers of the watched keys, so any later write to them
// fails the transaction with badger.ErrConflict.  Keys must not contain NUL.
type Store struct {
	db *badger.DB
}

var _ kvstore.Store = (*Store)(nil)

// New wraps an open database.  Close closes it.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a database as described by cfg.
func Open(cfg *Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(newBadgerLogger(logger))
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to open badger database: %w", kvstore.ErrConnectionFailure, err)
	}
	return New(db), nil
}

func (s *Store) Get(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		value, ok, err = txGet(txn, key)
		return err
	})
	return value, ok, err
}

func (s *Store) Exists(ctx context.Context, key string) (exists bool, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		exists, err = txExists(txn, key)
		return err
	})
	return exists, err
}

func (s *Store) TTL(ctx context.Context, key string) (ttl time.Duration, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		ttl, err = txTTL(txn, key)
		return err
	})
	return ttl, err
}

func (s *Store) SMembers(ctx context.Context, key string) (members []string, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		members, err = txMembers(txn, key)
		return err
	})
	return members, err
}

func (s *Store) SUnion(ctx context.Context, keys ...string) (members []string, err error) {
	err = s.view(ctx, func(txn *badger.Txn) error {
		members, err = txUnion(txn, keys)
		return err
	})
	return members, err
}

func (s *Store) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	err = s.view(ctx, func(txn *badger.Txn) error {
		keys = txKeys(txn, g)
		return nil
	})
	return keys, err
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.Batch(ctx, func(b kvstore.Batch) error {
		b.SetEx(key, value, ttl)
		return nil
	})
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	return s.Batch(ctx, func(b kvstore.Batch) error {
		b.Del(keys...)
		return nil
	})
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.Batch(ctx, func(b kvstore.Batch) error {
		b.SAdd(key, members...)
		return nil
	})
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.Batch(ctx, func(b kvstore.Batch) error {
		b.SRem(key, members...)
		return nil
	})
}

func (s *Store) SDiffStore(ctx context.Context, dest string, keys ...string) error {
	return s.Batch(ctx, func(b kvstore.Batch) error {
		b.SDiffStore(dest, keys...)
		return nil
	})
}

func (s *Store) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	b := &badgerBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if len(b.ops) == 0 {
		return nil
	}
	var err error
	for range maxBatchAttempts {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(b.apply)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if _, err := txn.Get(markerKey(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return fn(&badgerTx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return kvstore.ErrTxConflict
	}
	return err
}

func (s *Store) FlushNamespace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropAll()
}

// Maintain runs value log garbage collection.  It is a no-op for
// in-memory databases.
func (s *Store) Maintain() error {
	if s.db.Opts().InMemory {
		return nil
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// badgerTx reads inside the watching transaction.  Its batch is applied to
// the same transaction, which commits when the Watch callback returns.
type badgerTx struct {
	txn *badger.Txn
}

var _ kvstore.Tx = (*badgerTx)(nil)

func (tx *badgerTx) Get(_ context.Context, key string) ([]byte, bool, error) {
	return txGet(tx.txn, key)
}

func (tx *badgerTx) Exists(_ context.Context, key string) (bool, error) {
	return txExists(tx.txn, key)
}

func (tx *badgerTx) TTL(_ context.Context, key string) (time.Duration, error) {
	return txTTL(tx.txn, key)
}

func (tx *badgerTx) SMembers(_ context.Context, key string) ([]string, error) {
	return txMembers(tx.txn, key)
}

func (tx *badgerTx) SUnion(_ context.Context, keys ...string) ([]string, error) {
	return txUnion(tx.txn, keys)
}

func (tx *badgerTx) Keys(_ context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return txKeys(tx.txn, g), nil
}

func (tx *badgerTx) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	b := &badgerBatch{}
	if err := fn(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.apply(tx.txn)
}
