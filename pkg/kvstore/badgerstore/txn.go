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
	"bytes"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/gobwas/glob"

	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

const sep = "\x00"

var (
	stringSpace = []byte("v" + sep)
	setSpace    = []byte("s" + sep)
	markerSpace = []byte("w" + sep)
)

func stringKey(key string) []byte {
	return append(bytes.Clone(stringSpace), key...)
}

func memberPrefix(key string) []byte {
	p := append(bytes.Clone(setSpace), key...)
	return append(p, sep...)
}

func memberKey(key, member string) []byte {
	return append(memberPrefix(key), member...)
}

func markerKey(key string) []byte {
	return append(bytes.Clone(markerSpace), key...)
}

// Only one iterator may be open at a time on a read-write transaction, so
// every helper below closes its iterator before returning.

func forEachKey(txn *badger.Txn, prefix []byte, f func(key []byte)) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		f(it.Item().KeyCopy(nil))
	}
}

func txIsSet(txn *badger.Txn, key string) bool {
	prefix := memberPrefix(key)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

func txString(txn *badger.Txn, key string) (*badger.Item, bool, error) {
	item, err := txn.Get(stringKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func txGet(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, ok, err := txString(txn, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if txIsSet(txn, key) {
			return nil, false, kvstore.ErrWrongType
		}
		return nil, false, nil
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func txExists(txn *badger.Txn, key string) (bool, error) {
	_, ok, err := txString(txn, key)
	if err != nil {
		return false, err
	}
	return ok || txIsSet(txn, key), nil
}

func txTTL(txn *badger.Txn, key string) (time.Duration, error) {
	item, ok, err := txString(txn, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		if txIsSet(txn, key) {
			return kvstore.TTLNoExpiry, nil
		}
		return kvstore.TTLMissing, nil
	}
	expiresAt := item.ExpiresAt()
	if expiresAt == 0 {
		return kvstore.TTLNoExpiry, nil
	}
	return time.Until(time.Unix(int64(expiresAt), 0)), nil
}

func txMembers(txn *badger.Txn, key string) ([]string, error) {
	if _, ok, err := txString(txn, key); err != nil {
		return nil, err
	} else if ok {
		return nil, kvstore.ErrWrongType
	}
	prefix := memberPrefix(key)
	members := []string{}
	forEachKey(txn, prefix, func(k []byte) {
		members = append(members, string(k[len(prefix):]))
	})
	return members, nil
}

func txUnion(txn *badger.Txn, keys []string) ([]string, error) {
	union := mapset.NewThreadUnsafeSet[string]()
	for _, key := range keys {
		members, err := txMembers(txn, key)
		if err != nil {
			return nil, err
		}
		union.Append(members...)
	}
	return union.ToSlice(), nil
}

func txKeys(txn *badger.Txn, g glob.Glob) []string {
	keys := []string{}
	forEachKey(txn, stringSpace, func(k []byte) {
		key := string(k[len(stringSpace):])
		if g.Match(key) {
			keys = append(keys, key)
		}
	})
	sets := mapset.NewThreadUnsafeSet[string]()
	forEachKey(txn, setSpace, func(k []byte) {
		rest := k[len(setSpace):]
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			sets.Add(string(rest[:i]))
		}
	})
	sets.Each(func(key string) bool {
		if g.Match(key) {
			keys = append(keys, key)
		}
		return false
	})
	return keys
}

func touch(txn *badger.Txn, key string, ttl time.Duration) error {
	entry := badger.NewEntry(markerKey(key), nil)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return txn.SetEntry(entry)
}

func deleteMembers(txn *badger.Txn, key string) error {
	var members [][]byte
	forEachKey(txn, memberPrefix(key), func(k []byte) {
		members = append(members, k)
	})
	for _, k := range members {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func txSetEx(txn *badger.Txn, key string, value []byte, ttl time.Duration) error {
	if err := deleteMembers(txn, key); err != nil {
		return err
	}
	entry := badger.NewEntry(stringKey(key), bytes.Clone(value))
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := txn.SetEntry(entry); err != nil {
		return err
	}
	return touch(txn, key, ttl)
}

func txDel(txn *badger.Txn, keys []string) error {
	for _, key := range keys {
		if err := txn.Delete(stringKey(key)); err != nil {
			return err
		}
		if err := deleteMembers(txn, key); err != nil {
			return err
		}
		if err := txn.Delete(markerKey(key)); err != nil {
			return err
		}
	}
	return nil
}

func checkSetKey(txn *badger.Txn, key string) error {
	_, ok, err := txString(txn, key)
	if err != nil {
		return err
	}
	if ok {
		return kvstore.ErrWrongType
	}
	return nil
}

func txSAdd(txn *badger.Txn, key string, members []string) error {
	if err := checkSetKey(txn, key); err != nil {
		return err
	}
	for _, member := range members {
		if err := txn.Set(memberKey(key, member), nil); err != nil {
			return err
		}
	}
	return touch(txn, key, 0)
}

func txSRem(txn *badger.Txn, key string, members []string) error {
	if err := checkSetKey(txn, key); err != nil {
		return err
	}
	for _, member := range members {
		if err := txn.Delete(memberKey(key, member)); err != nil {
			return err
		}
	}
	return touch(txn, key, 0)
}

func txSDiffStore(txn *badger.Txn, dest string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	first, err := txMembers(txn, keys[0])
	if err != nil {
		return err
	}
	diff := mapset.NewThreadUnsafeSet(first...)
	for _, key := range keys[1:] {
		members, err := txMembers(txn, key)
		if err != nil {
			return err
		}
		diff.RemoveAll(members...)
	}
	if err := txn.Delete(stringKey(dest)); err != nil {
		return err
	}
	if err := deleteMembers(txn, dest); err != nil {
		return err
	}
	for _, member := range diff.ToSlice() {
		if err := txn.Set(memberKey(dest, member), nil); err != nil {
			return err
		}
	}
	return touch(txn, dest, 0)
}
