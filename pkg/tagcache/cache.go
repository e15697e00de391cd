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

package tagcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/internal/codec"
	"github.com/cardinalhq/tagcache/internal/keynamer"
	"github.com/cardinalhq/tagcache/internal/tagindex"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
)

// Cache is safe for concurrent use.  It holds no locks across store calls;
// compound updates rely on the store's batches and watches.
type Cache struct {
	store           kvstore.Store
	index           *tagindex.Maintainer
	codec           *codec.Codec
	defaultLifetime atomic.Int64
	logger          *zap.Logger
	telemetry       *telemetry
}

func New(store kvstore.Store, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := validateLifetime(o.defaultLifetime); err != nil {
		return nil, err
	}
	cdc, err := codec.New(o.compression, o.compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	t, err := newTelemetry(o.meterProvider)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		store:     store,
		index:     tagindex.New(store),
		codec:     cdc,
		logger:    o.logger,
		telemetry: t,
	}
	c.defaultLifetime.Store(int64(o.defaultLifetime))
	return c, nil
}

// Set stores data under identifier and makes tags the exact tag set of the
// entry.  lifetime is a whole number of seconds, 0 for UnlimitedLifetime,
// or UseDefaultLifetime.
func (c *Cache) Set(ctx context.Context, identifier string, data []byte, tags []string, lifetime time.Duration) error {
	if err := validateIdentifier(identifier); err != nil {
		return err
	}
	if err := validateTags(tags); err != nil {
		return err
	}
	if lifetime == UseDefaultLifetime {
		lifetime = c.DefaultLifetime()
	}
	if err := validateLifetime(lifetime); err != nil {
		return err
	}
	if len(data) > MaxPayloadSize {
		return invalidData("payload of %d bytes exceeds %d", len(data), MaxPayloadSize)
	}

	payload, err := c.codec.Encode(data)
	if err != nil {
		return invalidData("encoding payload: %v", err)
	}
	if err := c.index.SetEntry(ctx, identifier, payload, expiry(lifetime), tags); err != nil {
		return storeFailure("set "+identifier, err)
	}
	c.telemetry.cachePuts.Add(ctx, 1)
	return nil
}

// Get returns the payload stored under identifier.  found is false on a
// miss.
func (c *Cache) Get(ctx context.Context, identifier string) (data []byte, found bool, err error) {
	if err := validateIdentifier(identifier); err != nil {
		return nil, false, err
	}
	c.telemetry.cacheGets.Add(ctx, 1)

	payload, found, err := c.store.Get(ctx, keynamer.Data(identifier))
	if err != nil {
		return nil, false, storeFailure("get "+identifier, err)
	}
	if !found {
		c.telemetry.cacheMisses.Add(ctx, 1)
		return nil, false, nil
	}
	data, err = c.codec.Decode(payload)
	if err != nil {
		return nil, false, invalidData("decoding %s: %v", identifier, err)
	}
	return data, true, nil
}

func (c *Cache) Has(ctx context.Context, identifier string) (bool, error) {
	if err := validateIdentifier(identifier); err != nil {
		return false, err
	}
	exists, err := c.store.Exists(ctx, keynamer.Data(identifier))
	if err != nil {
		return false, storeFailure("has "+identifier, err)
	}
	return exists, nil
}

// Remove deletes the entry and its index references.  It returns false
// when there is no live entry; stale index entries for an expired
// identifier are left to CollectGarbage.
func (c *Cache) Remove(ctx context.Context, identifier string) (bool, error) {
	if err := validateIdentifier(identifier); err != nil {
		return false, err
	}
	removed, err := c.index.RemoveEntry(ctx, identifier)
	if err != nil {
		return false, storeFailure("remove "+identifier, err)
	}
	if removed {
		c.telemetry.cacheRemoves.Add(ctx, 1)
	}
	return removed, nil
}

// Flush empties the store namespace, including keys the cache did not write.
func (c *Cache) Flush(ctx context.Context) error {
	if err := c.store.FlushNamespace(ctx); err != nil {
		return storeFailure("flush", err)
	}
	return nil
}

// FlushByTag removes every entry tagged tag.
func (c *Cache) FlushByTag(ctx context.Context, tag string) error {
	return c.FlushByTags(ctx, tag)
}

// FlushByTags removes every entry carrying at least one of tags, in one
// bulk removal.  An entry tagged or retagged by another client while the
// flush runs fails it with ErrStoreOperation wrapping
// kvstore.ErrTxConflict, and nothing is removed.
func (c *Cache) FlushByTags(ctx context.Context, tags ...string) error {
	if err := validateTags(tags); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	identifiers, err := c.store.SUnion(ctx, keynamer.IdentsOfKeys(tags)...)
	if err != nil {
		return storeFailure("flush by tags", err)
	}
	if len(identifiers) == 0 {
		return nil
	}
	if err := c.index.BulkRemove(ctx, identifiers, tags); err != nil {
		return storeFailure("flush by tags", err)
	}
	c.telemetry.cacheTagFlushes.Add(ctx, int64(len(tags)))
	c.telemetry.cacheRemoves.Add(ctx, int64(len(identifiers)))
	return nil
}

// FindIdentifiersByTag returns the identifiers tagged tag, in no
// particular order.  Identifiers of expired entries may be included until
// the next CollectGarbage.
func (c *Cache) FindIdentifiersByTag(ctx context.Context, tag string) ([]string, error) {
	if err := validateTag(tag); err != nil {
		return nil, err
	}
	identifiers, err := c.store.SMembers(ctx, keynamer.IdentsOf(tag))
	if err != nil {
		return nil, storeFailure("find by tag "+tag, err)
	}
	return identifiers, nil
}

// CollectGarbage removes the index entries of identifiers whose data key
// no longer exists and returns how many identifiers it repaired.
//
// An identifier that is written while it is being repaired is skipped.
// Other failures do not stop the pass and are returned together at the end.
func (c *Cache) CollectGarbage(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, keynamer.TagsOfPattern())
	if err != nil {
		return 0, storeFailure("collect garbage", err)
	}

	repaired := 0
	var errs error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		identifier, ok := keynamer.IdentifierFromTagsOf(key)
		if !ok {
			continue
		}
		done, err := c.index.RepairOrphan(ctx, identifier)
		switch {
		case errors.Is(err, kvstore.ErrTxConflict):
			c.logger.Warn("Skipping identifier modified during garbage collection",
				zap.String("identifier", identifier))
		case err != nil:
			errs = multierr.Append(errs, storeFailure("collect garbage", err))
		case done:
			repaired++
			c.logger.Debug("Removed index entries of expired identifier",
				zap.String("identifier", identifier))
		}
	}

	c.telemetry.cacheGCRepairs.Add(ctx, int64(repaired))
	return repaired, errs
}

func (c *Cache) SetCompression(enabled bool) {
	c.codec.SetEnabled(enabled)
}

func (c *Cache) Compression() bool {
	return c.codec.Enabled()
}

// SetCompressionLevel sets the zlib level used for subsequent writes.
func (c *Cache) SetCompressionLevel(level int) error {
	if err := c.codec.SetLevel(level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c *Cache) CompressionLevel() int {
	return c.codec.Level()
}

func (c *Cache) SetDefaultLifetime(lifetime time.Duration) error {
	if err := validateLifetime(lifetime); err != nil {
		return err
	}
	c.defaultLifetime.Store(int64(lifetime))
	return nil
}

func (c *Cache) DefaultLifetime() time.Duration {
	return time.Duration(c.defaultLifetime.Load())
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

