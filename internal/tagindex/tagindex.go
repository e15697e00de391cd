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

// Package tagindex keeps the tags-of and idents-of key families mirror
// images of each other.  Nothing else writes to those families.
//
// For every identifier i and tag t, t is in tags-of:i exactly when i is in
// idents-of:t.  Each method moves the store from one state holding that
// property to the next in a single atomic batch.
package tagindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/cardinalhq/tagcache/internal/keynamer"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// maxWriteAttempts bounds how often SetEntry and ReconcileTags start over
// after another client changed the tag set they read.
const maxWriteAttempts = 5

type Maintainer struct {
	store    kvstore.Store
	newToken func() string
}

type Option func(m *Maintainer)

// WithTokenFunc sets the generator for temporary set names.
func WithTokenFunc(f func() string) Option {
	return func(m *Maintainer) {
		m.newToken = f
	}
}

func New(store kvstore.Store, opts ...Option) *Maintainer {
	m := &Maintainer{
		store:    store,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReconcileTags makes the tag set of identifier equal to tags.  When the
// stored set already matches, nothing is written.
func (m *Maintainer) ReconcileTags(ctx context.Context, identifier string, tags []string) error {
	if err := m.reconcile(ctx, identifier, tags, nil); err != nil {
		return fmt.Errorf("updating tags of %q: %w", identifier, err)
	}
	return nil
}

// SetEntry writes the data key of identifier and makes its tag set equal to
// tags, both in the same atomic batch.
func (m *Maintainer) SetEntry(ctx context.Context, identifier string, value []byte, ttl time.Duration, tags []string) error {
	err := m.reconcile(ctx, identifier, tags, func(b kvstore.Batch) {
		b.SetEx(keynamer.Data(identifier), value, ttl)
	})
	if err != nil {
		return fmt.Errorf("setting %q: %w", identifier, err)
	}
	return nil
}

// reconcile diffs the stored tag set against tags under a watch on
// tags-of:identifier and queues write ahead of the index changes.  A tag set
// changed by another client in between makes it read and diff again, so the
// last writer's tags win.
func (m *Maintainer) reconcile(ctx context.Context, identifier string, tags []string, write func(b kvstore.Batch)) error {
	var err error
	for range maxWriteAttempts {
		err = m.store.Watch(ctx, func(tx kvstore.Tx) error {
			current, err := tx.SMembers(ctx, keynamer.TagsOf(identifier))
			if err != nil {
				return err
			}

			have := mapset.NewThreadUnsafeSet(current...)
			want := mapset.NewThreadUnsafeSet(tags...)
			toAdd := want.Difference(have).ToSlice()
			toRemove := have.Difference(want).ToSlice()
			if write == nil && len(toAdd) == 0 && len(toRemove) == 0 {
				return nil
			}

			return tx.Batch(ctx, func(b kvstore.Batch) error {
				if write != nil {
					write(b)
				}
				for _, tag := range toRemove {
					b.SRem(keynamer.IdentsOf(tag), identifier)
				}
				b.SRem(keynamer.TagsOf(identifier), toRemove...)
				for _, tag := range toAdd {
					b.SAdd(keynamer.IdentsOf(tag), identifier)
				}
				b.SAdd(keynamer.TagsOf(identifier), toAdd...)
				return nil
			})
		}, keynamer.TagsOf(identifier))
		if !errors.Is(err, kvstore.ErrTxConflict) {
			return err
		}
	}
	return err
}

// RemoveEntry deletes the data and tag set of identifier and drops it from
// every membership set it is in.  It returns false, writing nothing, when
// the data key does not exist.  A concurrent change to either key of the
// entry fails the call with kvstore.ErrTxConflict.
func (m *Maintainer) RemoveEntry(ctx context.Context, identifier string) (bool, error) {
	removed := false
	err := m.store.Watch(ctx, func(tx kvstore.Tx) error {
		exists, err := tx.Exists(ctx, keynamer.Data(identifier))
		if err != nil || !exists {
			return err
		}
		if err := m.unlink(ctx, tx, identifier, true); err != nil {
			return err
		}
		removed = true
		return nil
	}, keynamer.Data(identifier), keynamer.TagsOf(identifier))
	if err != nil {
		return false, fmt.Errorf("removing %q: %w", identifier, err)
	}
	return removed, nil
}

// RepairOrphan cleans up the index entries of an identifier whose data
// key has gone away, usually through expiry.  It returns false when the
// data key exists or there is nothing to repair.
func (m *Maintainer) RepairOrphan(ctx context.Context, identifier string) (bool, error) {
	repaired := false
	err := m.store.Watch(ctx, func(tx kvstore.Tx) error {
		exists, err := tx.Exists(ctx, keynamer.Data(identifier))
		if err != nil || exists {
			return err
		}
		exists, err = tx.Exists(ctx, keynamer.TagsOf(identifier))
		if err != nil || !exists {
			return err
		}
		if err := m.unlink(ctx, tx, identifier, false); err != nil {
			return err
		}
		repaired = true
		return nil
	}, keynamer.Data(identifier), keynamer.TagsOf(identifier))
	if err != nil {
		return false, fmt.Errorf("repairing %q: %w", identifier, err)
	}
	return repaired, nil
}

func (m *Maintainer) unlink(ctx context.Context, tx kvstore.Tx, identifier string, withData bool) error {
	tags, err := tx.SMembers(ctx, keynamer.TagsOf(identifier))
	if err != nil {
		return err
	}
	return tx.Batch(ctx, func(b kvstore.Batch) error {
		if withData {
			b.Del(keynamer.Data(identifier))
		}
		b.Del(keynamer.TagsOf(identifier))
		for _, tag := range tags {
			b.SRem(keynamer.IdentsOf(tag), identifier)
		}
		return nil
	})
}

// BulkRemove deletes every identifier in identifiers together with the
// membership sets of tagsAlsoToDelete.
//
// Instead of one SREM per identifier and tag, the identifiers are written
// to a temporary set and every other membership set they could appear in
// is rewritten with one SDIFFSTORE.  The batch therefore grows with the
// number of distinct tags involved, not with the number of identifiers.
//
// The tag sets of identifiers and the membership sets of tagsAlsoToDelete
// are watched while the candidates are read.  identifiers must cover every
// member of those membership sets; a member outside it means the caller read
// them before another client tagged a new entry.  Both cases fail with
// kvstore.ErrTxConflict and write nothing.
func (m *Maintainer) BulkRemove(ctx context.Context, identifiers []string, tagsAlsoToDelete []string) error {
	if len(identifiers) == 0 && len(tagsAlsoToDelete) == 0 {
		return nil
	}

	watched := append(keynamer.TagsOfKeys(identifiers), keynamer.IdentsOfKeys(tagsAlsoToDelete)...)
	err := m.store.Watch(ctx, func(tx kvstore.Tx) error {
		removing := mapset.NewThreadUnsafeSet(identifiers...)
		if len(tagsAlsoToDelete) > 0 {
			members, err := tx.SUnion(ctx, keynamer.IdentsOfKeys(tagsAlsoToDelete)...)
			if err != nil {
				return err
			}
			if !removing.Contains(members...) {
				return kvstore.ErrTxConflict
			}
		}

		var candidates []string
		if len(identifiers) > 0 {
			touched, err := tx.SUnion(ctx, keynamer.TagsOfKeys(identifiers)...)
			if err != nil {
				return err
			}
			remaining := mapset.NewThreadUnsafeSet(touched...)
			remaining.RemoveAll(tagsAlsoToDelete...)
			candidates = remaining.ToSlice()
		}

		tmp := keynamer.Temp(m.newToken())
		return tx.Batch(ctx, func(b kvstore.Batch) error {
			if len(candidates) > 0 {
				b.SAdd(tmp, identifiers...)
				for _, tag := range candidates {
					key := keynamer.IdentsOf(tag)
					b.SDiffStore(key, key, tmp)
				}
				b.Del(tmp)
			}
			b.Del(keynamer.TagsOfKeys(identifiers)...)
			b.Del(keynamer.DataKeys(identifiers)...)
			b.Del(keynamer.IdentsOfKeys(tagsAlsoToDelete)...)
			return nil
		})
	}, watched...)
	if err != nil {
		return fmt.Errorf("removing %d identifiers: %w", len(identifiers), err)
	}
	return nil
}
