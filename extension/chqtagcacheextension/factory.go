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
	"time"

	"go.opentelemetry.io/collector/component"
	"go.opentelemetry.io/collector/extension"

	"github.com/cardinalhq/tagcache/extension/chqtagcacheextension/internal/metadata"
	"github.com/cardinalhq/tagcache/internal/codec"
	"github.com/cardinalhq/tagcache/pkg/kvstore/redisstore"
	"github.com/cardinalhq/tagcache/pkg/tagcache"
)

const (
	defaultRedisAddr   = "localhost:6379"
	defaultDialTimeout = 5 * time.Second
	defaultGCInterval  = 5 * time.Minute
)

func NewFactory() extension.Factory {
	return extension.NewFactory(
		metadata.Type,
		createDefaultConfig,
		createExtension,
		metadata.ExtensionStability,
	)
}

func createDefaultConfig() component.Config {
	return &Config{
		Backend: BackendRedis,
		Redis: redisstore.Config{
			Addrs:       []string{defaultRedisAddr},
			DialTimeout: defaultDialTimeout,
		},
		DefaultLifetime:  tagcache.DefaultLifetime,
		CompressionLevel: codec.DefaultLevel,
		GCInterval:       defaultGCInterval,
	}
}

func createExtension(_ context.Context, params extension.Settings, cfg component.Config) (extension.Extension, error) {
	return newTagcacheExtension(cfg.(*Config), params)
}
