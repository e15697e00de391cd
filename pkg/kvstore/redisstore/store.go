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

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// Store is a kvstore.Store backed by Redis.  A Batch is sent as a
// MULTI/EXEC pipeline and Watch maps onto WATCH.
//
// Redis does not roll back a transaction when one of its commands fails at
// EXEC time, so a WRONGTYPE error inside a batch leaves the other commands
// applied.
type Store struct {
	reader
	client redis.UniversalClient
}

var _ kvstore.Store = (*Store)(nil)

// New connects to the server described by cfg and pings it.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(cfg.universalOptions())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: unable to reach redis at %s: %w",
			kvstore.ErrConnectionFailure, strings.Join(cfg.Addrs, ","), err)
	}
	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client.  Close closes it.
func NewFromClient(client redis.UniversalClient) *Store {
	return &Store{
		reader: reader{c: client},
		client: client,
	}
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return mapErr(s.client.Set(ctx, key, value, expiration(ttl)).Err())
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return mapErr(s.client.Del(ctx, keys...).Err())
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return mapErr(s.client.SAdd(ctx, key, toArgs(members)...).Err())
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return mapErr(s.client.SRem(ctx, key, toArgs(members)...).Err())
}

func (s *Store) SDiffStore(ctx context.Context, dest string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return mapErr(s.client.SDiffStore(ctx, dest, keys...).Err())
}

func (s *Store) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	return runBatch(ctx, s.client, fn)
}

func (s *Store) Watch(ctx context.Context, fn func(tx kvstore.Tx) error, keys ...string) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		return fn(&redisTx{reader: reader{c: tx}, tx: tx})
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return kvstore.ErrTxConflict
	}
	return err
}

// FlushNamespace empties the selected logical database.
func (s *Store) FlushNamespace(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

type redisTx struct {
	reader
	tx *redis.Tx
}

var _ kvstore.Tx = (*redisTx)(nil)

func (t *redisTx) Batch(ctx context.Context, fn func(b kvstore.Batch) error) error {
	return runBatch(ctx, t.tx, fn)
}

type txPipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// runBatch queues fn's commands between MULTI and EXEC.  go-redis does not
// send the pipeline when fn fails.
func runBatch(ctx context.Context, p txPipeliner, fn func(b kvstore.Batch) error) error {
	_, err := p.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(&redisBatch{ctx: ctx, pipe: pipe})
	})
	return mapErr(err)
}

// reader serves the read commands for both the client and a watching
// transaction.
type reader struct {
	c redis.Cmdable
}

func (r reader) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapErr(err)
	}
	return value, true, nil
}

func (r reader) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, key).Result()
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

// TTL relies on go-redis passing -1 and -2 through unscaled, which matches
// kvstore.TTLNoExpiry and kvstore.TTLMissing.
func (r reader) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.c.TTL(ctx, key).Result()
	return ttl, mapErr(err)
}

func (r reader) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.c.SMembers(ctx, key).Result()
	return members, mapErr(err)
}

func (r reader) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return []string{}, nil
	}
	members, err := r.c.SUnion(ctx, keys...).Result()
	return members, mapErr(err)
}

func (r reader) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.c.Keys(ctx, pattern).Result()
	return keys, mapErr(err)
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

var _ kvstore.Batch = (*redisBatch)(nil)

func (b *redisBatch) SetEx(key string, value []byte, ttl time.Duration) {
	b.pipe.Set(b.ctx, key, value, expiration(ttl))
}

func (b *redisBatch) Del(keys ...string) {
	if len(keys) > 0 {
		b.pipe.Del(b.ctx, keys...)
	}
}

func (b *redisBatch) SAdd(key string, members ...string) {
	if len(members) > 0 {
		b.pipe.SAdd(b.ctx, key, toArgs(members)...)
	}
}

func (b *redisBatch) SRem(key string, members ...string) {
	if len(members) > 0 {
		b.pipe.SRem(b.ctx, key, toArgs(members)...)
	}
}

func (b *redisBatch) SDiffStore(dest string, keys ...string) {
	if len(keys) > 0 {
		b.pipe.SDiffStore(b.ctx, dest, keys...)
	}
}

// expiration turns a kvstore ttl into a SET expiration.  go-redis reads a
// negative expiration as KEEPTTL, which is never what a caller of SetEx
// wants.
func expiration(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}

func toArgs(members []string) []any {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %w", kvstore.ErrWrongType, err)
	}
	return err
}
