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

package chqtagcacheextension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/extension"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/extension/chqtagcacheextension/internal/metadata"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/badgerstore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/memorystore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/redisstore"
	"github.com/cardinalhq/tagcache/pkg/tagcache"
)

type CHQTagcacheExtension struct {
	config            *Config
	telemetrySettings component.TelemetrySettings
	gcRuns            metric.Int64Counter
	gcFailures        metric.Int64Counter
	adminRequests     metric.Int64Counter
	logger            *zap.Logger
	clock             clockwork.Clock

	store      kvstore.Store
	cache      *tagcache.Cache
	server     *http.Server
	cancel     context.CancelFunc
	shutdownWG sync.WaitGroup
}

// maintainer is implemented by stores that need periodic housekeeping of
// their own.
type maintainer interface {
	Maintain() error
}

func (chq *CHQTagcacheExtension) setupTelemetry(params extension.Settings) error {
	m, err := metadata.Meter(params.TelemetrySettings).Int64Counter("cache_gc_runs")
	if err != nil {
		return err
	}
	chq.gcRuns = m

	m, err = metadata.Meter(params.TelemetrySettings).Int64Counter("cache_gc_failures")
	if err != nil {
		return err
	}
	chq.gcFailures = m

	m, err = metadata.Meter(params.TelemetrySettings).Int64Counter("cache_admin_requests")
	if err != nil {
		return err
	}
	chq.adminRequests = m

	return nil
}

func newTagcacheExtension(cfg *Config, params extension.Settings) (*CHQTagcacheExtension, error) {
	chq := CHQTagcacheExtension{
		config:            cfg,
		telemetrySettings: params.TelemetrySettings,
		logger:            params.Logger,
		clock:             clockwork.NewRealClock(),
	}
	if err := chq.setupTelemetry(params); err != nil {
		return nil, err
	}
	return &chq, nil
}

func (chq *CHQTagcacheExtension) Start(ctx context.Context, host component.Host) error {
	store, err := chq.openStore(ctx)
	if err != nil {
		return err
	}
	chq.store = store

	cache, err := tagcache.New(store,
		tagcache.WithDefaultLifetime(chq.config.DefaultLifetime),
		tagcache.WithCompression(chq.config.Compression),
		tagcache.WithCompressionLevel(chq.config.CompressionLevel),
		tagcache.WithLogger(chq.logger),
		tagcache.WithMeterProvider(chq.telemetrySettings.MeterProvider),
	)
	if err != nil {
		return multierr.Append(err, store.Close())
	}
	chq.cache = cache

	runCtx, cancel := context.WithCancel(context.Background())
	chq.cancel = cancel

	if chq.config.GCInterval > 0 {
		ticker := chq.clock.NewTicker(chq.config.GCInterval)
		chq.shutdownWG.Add(1)
		go func() {
			defer chq.shutdownWG.Done()
			chq.runGC(runCtx, ticker)
		}()
		chq.logger.Info("Started tag index garbage collection",
			zap.Duration("interval", chq.config.GCInterval))
	}

	if chq.config.Endpoint != "" {
		if err := chq.startServer(ctx, host); err != nil {
			return err
		}
	}

	return nil
}

func (chq *CHQTagcacheExtension) startServer(ctx context.Context, host component.Host) error {
	var err error
	chq.server, err = chq.config.ServerConfig.ToServer(ctx, host, chq.telemetrySettings, chq.newRouter())
	if err != nil {
		return fmt.Errorf("failed to create server definition: %w", err)
	}

	listener, err := chq.config.ServerConfig.ToListener(ctx)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	chq.shutdownWG.Add(1)
	go func() {
		defer chq.shutdownWG.Done()
		if err := chq.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			chq.logger.Error("Admin API server failed", zap.Error(err))
		}
	}()
	chq.logger.Info("Started tag cache admin API", zap.String("endpoint", listener.Addr().String()))

	return nil
}

func (chq *CHQTagcacheExtension) Shutdown(context.Context) error {
	if chq.cancel != nil {
		chq.cancel()
	}
	var errs error
	if chq.server != nil {
		errs = multierr.Append(errs, chq.server.Close())
	}
	chq.shutdownWG.Wait()

	if chq.cache != nil {
		errs = multierr.Append(errs, chq.cache.Close())
	} else if chq.store != nil {
		errs = multierr.Append(errs, chq.store.Close())
	}
	chq.cache = nil
	chq.store = nil
	return errs
}

// Cache returns the cache owned by the extension, or nil before Start.
// Other components look the extension up through the host and use this.
func (chq *CHQTagcacheExtension) Cache() *tagcache.Cache {
	return chq.cache
}

func (chq *CHQTagcacheExtension) openStore(ctx context.Context) (kvstore.Store, error) {
	switch chq.config.Backend {
	case BackendRedis:
		return redisstore.New(ctx, &chq.config.Redis)
	case BackendBadger:
		return badgerstore.Open(&chq.config.Badger, chq.logger)
	case BackendMemory:
		return memorystore.New(chq.clock), nil
	default:
		return nil, errUnknownBackend
	}
}

func (chq *CHQTagcacheExtension) runGC(ctx context.Context, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			chq.collectGarbage(ctx)
		}
	}
}

func (chq *CHQTagcacheExtension) collectGarbage(ctx context.Context) {
	chq.gcRuns.Add(ctx, 1)
	repaired, err := chq.cache.CollectGarbage(ctx)
	if err != nil {
		chq.gcFailures.Add(ctx, 1)
		chq.logger.Warn("Tag index garbage collection failed",
			zap.Int("repaired", repaired), zap.Error(err))
	} else if repaired > 0 {
		chq.logger.Info("Tag index garbage collection repaired identifiers",
			zap.Int("repaired", repaired))
	}

	if m, ok := chq.store.(maintainer); ok {
		if err := m.Maintain(); err != nil {
			chq.logger.Warn("Store maintenance failed", zap.Error(err))
		}
	}
}
