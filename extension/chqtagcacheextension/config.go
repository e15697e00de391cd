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
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/collector/config/confighttp"

	"github.com/cardinalhq/tagcache/internal/codec"
	"github.com/cardinalhq/tagcache/pkg/kvstore/badgerstore"
	"github.com/cardinalhq/tagcache/pkg/kvstore/redisstore"
)

const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type Config struct {
	// ServerConfig configures the admin API.  An empty endpoint disables it.
	confighttp.ServerConfig `mapstructure:",squash"`

	Backend string             `mapstructure:"backend"`
	Redis   redisstore.Config  `mapstructure:"redis"`
	Badger  badgerstore.Config `mapstructure:"badger"`

	// DefaultLifetime applies to entries written without a lifetime.
	// 0 means the one year "unlimited" lifetime.
	DefaultLifetime  time.Duration `mapstructure:"default_lifetime"`
	Compression      bool          `mapstructure:"compression"`
	CompressionLevel int           `mapstructure:"compression_level"`

	// GCInterval is how often expired entries are purged from the tag
	// index.  0 disables the periodic pass.
	GCInterval time.Duration `mapstructure:"gc_interval"`
}

var (
	backends = []string{BackendRedis, BackendBadger, BackendMemory}

	errUnknownBackend         = errors.New("backend must be one of: " + strings.Join(backends, ", "))
	errInvalidDefaultLifetime = errors.New("default_lifetime must be a non-negative whole number of seconds")
	errInvalidCompression     = errors.New("compression_level must be between -1 and 9")
	errGCIntervalTooShort     = errors.New("gc_interval must be 0 (disabled) or at least 10s")
)

func (cfg *Config) Validate() error {
	if !slices.Contains(backends, cfg.Backend) {
		return errUnknownBackend
	}
	switch cfg.Backend {
	case BackendRedis:
		if err := cfg.Redis.Validate(); err != nil {
			return err
		}
	case BackendBadger:
		if err := cfg.Badger.Validate(); err != nil {
			return err
		}
	}
	if cfg.DefaultLifetime < 0 || cfg.DefaultLifetime%time.Second != 0 {
		return errInvalidDefaultLifetime
	}
	if cfg.CompressionLevel < codec.MinLevel || cfg.CompressionLevel > codec.MaxLevel {
		return errInvalidCompression
	}
	if cfg.GCInterval != 0 && cfg.GCInterval < 10*time.Second {
		return errGCIntervalTooShort
	}
	return nil
}
