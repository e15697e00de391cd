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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/config/confighttp"
	"go.opentelemetry.io/collector/extension"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/extension/chqtagcacheextension/internal/metadata"
	"github.com/cardinalhq/tagcache/pkg/kvstore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/redisstore"
	"github.com/cardinalhq/tagcache/pkg/tagcache"
)

type nopHost struct{}

func (nopHost) GetExtensions() map[component.ID]component.Component {
	return nil
}

func testSettings(mp metric.MeterProvider) extension.Settings {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	return extension.Settings{
		ID: component.NewID(metadata.Type),
		TelemetrySettings: component.TelemetrySettings{
			Logger:         zap.NewNop(),
			TracerProvider: tracenoop.NewTracerProvider(),
			MeterProvider:  mp,
		},
	}
}

func memoryConfig() *Config {
	return &Config{
		Backend:          BackendMemory,
		DefaultLifetime:  time.Hour,
		CompressionLevel: -1,
	}
}

func startTestExtension(t *testing.T, cfg *Config, mp metric.MeterProvider) (*CHQTagcacheExtension, clockwork.FakeClock) {
	chq, err := newTagcacheExtension(cfg, testSettings(mp))
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	chq.clock = clock

	require.NoError(t, chq.Start(context.Background(), nopHost{}))
	t.Cleanup(func() {
		assert.NoError(t, chq.Shutdown(context.Background()))
	})
	return chq, clock
}

func TestNewFactory(t *testing.T) {
	f := NewFactory()
	assert.Equal(t, metadata.Type, f.Type())

	ext, err := createExtension(context.Background(), testSettings(nil), f.CreateDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, ext)
	assert.NoError(t, ext.Shutdown(context.Background()))
}

func TestExtension_Shutdown_without_Start(t *testing.T) {
	chq, err := newTagcacheExtension(memoryConfig(), testSettings(nil))
	require.NoError(t, err)
	assert.NoError(t, chq.Shutdown(context.Background()))
	assert.Nil(t, chq.Cache())
}

func TestExtension_memory_backend(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Compression = true
	chq, _ := startTestExtension(t, cfg, nil)

	cache := chq.Cache()
	require.NotNil(t, cache)
	assert.True(t, cache.Compression())
	assert.Equal(t, time.Hour, cache.DefaultLifetime())

	require.NoError(t, cache.Set(ctx, "host_1", []byte("payload"), []string{"hosts"}, tagcache.UseDefaultLifetime))
	got, found, err := cache.Get(ctx, "host_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("payload"), got)
}

func TestExtension_periodic_gc(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() {
		_ = mp.Shutdown(ctx)
	}()

	cfg := memoryConfig()
	cfg.GCInterval = 10 * time.Second
	chq, clock := startTestExtension(t, cfg, mp)
	cache := chq.Cache()

	require.NoError(t, cache.Set(ctx, "short", []byte("1"), []string{"a"}, 5*time.Second))
	require.NoError(t, cache.Set(ctx, "long", []byte("2"), []string{"a"}, time.Hour))

	clock.Advance(15 * time.Second)

	require.Eventually(t, func() bool {
		ids, err := cache.FindIdentifiersByTag(ctx, "a")
		return err == nil && len(ids) == 1 && ids[0] == "long"
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			return false
		}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				if m.Name != "cache_gc_runs" {
					continue
				}
				sum := m.Data.(metricdata.Sum[int64])
				return len(sum.DataPoints) == 1 && sum.DataPoints[0].Value == 1
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExtension_redis_backend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := memoryConfig()
	cfg.Backend = BackendRedis
	cfg.Redis = redisstore.Config{Addrs: []string{mr.Addr()}}
	chq, _ := startTestExtension(t, cfg, nil)

	require.NoError(t, chq.Cache().Set(ctx, "host_1", []byte("payload"), []string{"hosts"}, 0))
	assert.True(t, mr.Exists("data:host_1"))
	assert.Equal(t, tagcache.UnlimitedLifetime, mr.TTL("data:host_1"))
}

func TestExtension_redis_unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig()
	cfg.Backend = BackendRedis
	cfg.Redis = redisstore.Config{Addrs: []string{addr}, DialTimeout: 100 * time.Millisecond}

	chq, err := newTagcacheExtension(cfg, testSettings(nil))
	require.NoError(t, err)
	err = chq.Start(context.Background(), nopHost{})
	assert.ErrorIs(t, err, kvstore.ErrConnectionFailure)
	assert.NoError(t, chq.Shutdown(context.Background()))
}

func TestExtension_admin_server_lifecycle(t *testing.T) {
	cfg := memoryConfig()
	cfg.ServerConfig = confighttp.ServerConfig{Endpoint: "127.0.0.1:0"}
	chq, _ := startTestExtension(t, cfg, nil)
	assert.NotNil(t, chq.server)
}
