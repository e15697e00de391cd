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
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/internal/codec"
)

type options struct {
	defaultLifetime  time.Duration
	compression      bool
	compressionLevel int
	logger           *zap.Logger
	meterProvider    metric.MeterProvider
}

type Option func(o *options)

func defaultOptions() options {
	return options{
		defaultLifetime:  DefaultLifetime,
		compressionLevel: codec.DefaultLevel,
		logger:           zap.NewNop(),
		meterProvider:    noop.NewMeterProvider(),
	}
}

// WithDefaultLifetime sets the lifetime used when Set is called with
// UseDefaultLifetime.  0 means UnlimitedLifetime.
func WithDefaultLifetime(lifetime time.Duration) Option {
	return func(o *options) {
		o.defaultLifetime = lifetime
	}
}

// WithCompression turns payload compression on or off.
func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compression = enabled
	}
}

// WithCompressionLevel sets the zlib level, -1 (default) through 9.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.compressionLevel = level
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeterProvider sets where the cache counters are reported.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}
