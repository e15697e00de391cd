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

package kvstore

import (
	"context"
	"errors"
	"time"
)

const (
	// TTLNoExpiry is returned by TTL for a key that exists but never expires.
	TTLNoExpiry = time.Duration(-1)
	// TTLMissing is returned by TTL for a key that does not exist.
	TTLMissing = time.Duration(-2)
)

var (
	// ErrConnectionFailure is returned when a store cannot be reached
	// while it is being constructed.
	ErrConnectionFailure = errors.New("kvstore: connection failure")

	// ErrTxConflict is returned by Watch when a watched key was modified
	// by another client before the transaction executed.  Nothing was written.
	ErrTxConflict = errors.New("kvstore: transaction conflict")

	// ErrWrongType is returned when a set command is used against a string
	// key, or a string command against a set key.
	ErrWrongType = errors.New("kvstore: operation against a key holding the wrong kind of value")
)

// Reader is the read-only part of the command set.
type Reader interface {
	// Get returns the string value stored at key.  ok is false if the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Exists reports whether key exists, whatever its kind.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of key, TTLNoExpiry or TTLMissing.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SMembers returns the members of the set at key, or an empty slice.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SUnion returns the union of the sets at keys.  Missing keys are empty sets.
	SUnion(ctx context.Context, keys ...string) ([]string, error)

	// Keys returns every key matching a glob pattern (*, ?, [...]).
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Batch queues write commands.  Queued commands run when the enclosing
// Store.Batch or Tx.Batch callback returns nil.  Queuing SAdd or SRem with
// no members, or Del with no keys, is a no-op.
type Batch interface {
	SetEx(key string, value []byte, ttl time.Duration)
	Del(keys ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	SDiffStore(dest string, keys ...string)
}

// Tx is handed to a Watch callback.  Reads go through the watched
// connection; writes are queued with Batch and execute only if none of the
// watched keys changed.
type Tx interface {
	Reader
	Batch(ctx context.Context, fn func(b Batch) error) error
}

// Store is a key-value store holding byte strings and string sets.  Sets
// follow Redis semantics: a set whose last member goes away no longer exists.
// Implementations must be safe for concurrent use.
type Store interface {
	Reader

	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SDiffStore(ctx context.Context, dest string, keys ...string) error

	// Batch runs fn to queue commands, then executes them as one atomic
	// unit.  If fn returns an error nothing is executed.
	Batch(ctx context.Context, fn func(b Batch) error) error

	// Watch runs fn under an optimistic lock on keys.  If any of them is
	// modified by another client before fn's batch executes, Watch returns
	// ErrTxConflict and nothing is written.
	Watch(ctx context.Context, fn func(tx Tx) error, keys ...string) error

	// FlushNamespace removes every key in the store's namespace.
	FlushNamespace(ctx context.Context) error

	Close() error
}
