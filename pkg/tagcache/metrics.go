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
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/cardinalhq/tagcache/pkg/tagcache"

type telemetry struct {
	cacheGets       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cachePuts       metric.Int64Counter
	cacheRemoves    metric.Int64Counter
	cacheTagFlushes metric.Int64Counter
	cacheGCRepairs  metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider) (*telemetry, error) {
	meter := mp.Meter(scopeName)
	t := &telemetry{}

	m, err := meter.Int64Counter("cache_gets")
	if err != nil {
		return nil, err
	}
	t.cacheGets = m

	m, err = meter.Int64Counter("cache_misses")
	if err != nil {
		return nil, err
	}
	t.cacheMisses = m

	m, err = meter.Int64Counter("cache_puts")
	if err != nil {
		return nil, err
	}
	t.cachePuts = m

	m, err = meter.Int64Counter("cache_removes")
	if err != nil {
		return nil, err
	}
	t.cacheRemoves = m

	m, err = meter.Int64Counter("cache_tag_flushes")
	if err != nil {
		return nil, err
	}
	t.cacheTagFlushes = m

	m, err = meter.Int64Counter("cache_gc_repairs",
		metric.WithDescription("Identifiers whose index entries were removed after their data expired."))
	if err != nil {
		return nil, err
	}
	t.cacheGCRepairs = m

	return t, nil
}
