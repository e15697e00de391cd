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
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

type badgerBatch struct {
	ops []func(txn *badger.Txn) error
}

var _ kvstore.Batch = (*badgerBatch)(nil)

func (b *badgerBatch) SetEx(key string, value []byte, ttl time.Duration) {
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txSetEx(txn, key, value, ttl)
	})
}

func (b *badgerBatch) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txDel(txn, keys)
	})
}

func (b *badgerBatch) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txSAdd(txn, key, members)
	})
}

func (b *badgerBatch) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txSRem(txn, key, members)
	})
}

func (b *badgerBatch) SDiffStore(dest string, keys ...string) {
	b.ops = append(b.ops, func(txn *badger.Txn) error {
		return txSDiffStore(txn, dest, keys)
	})
}

// apply runs the queued commands inside txn.  The caller owns the commit.
func (b *badgerBatch) apply(txn *badger.Txn) error {
	for _, op := range b.ops {
		if err := op(txn); err != nil {
			return err
		}
	}
	return nil
}
