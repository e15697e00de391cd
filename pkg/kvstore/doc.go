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

// Package kvstore defines the small command set the tag cache needs from a
// key-value store.
//
// Values are either byte strings (with an optional expiry) or sets of
// strings.  The write commands can be issued one at a time on the Store, or
// queued on a Batch and executed as one indivisible unit.  Watch adds
// optimistic locking on top of Batch: reads happen first, and the batch is
// abandoned with ErrTxConflict if another client touched a watched key.
//
// Three implementations live in sub-packages:
//
//   - redisstore talks to Redis through go-redis (single node or sentinel).
//   - badgerstore embeds BadgerDB; sets are stored one key per member and a
//     batch is a single badger transaction.
//   - memorystore keeps everything in process memory and is driven by a
//     clockwork.Clock, which makes expiry easy to test.
//
// kvstoretest holds a conformance suite that every implementation runs.
package kvstore
