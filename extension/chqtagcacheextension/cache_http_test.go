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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tagcache/internal/keynamer"
	"github.com/cardinalhq/tagcache/pkg/tagcache"
)

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminAPI_entries(t *testing.T) {
	chq, _ := startTestExtension(t, memoryConfig(), nil)
	router := chq.newRouter()

	rec := serve(t, router, http.MethodPut, "/api/v1/entries/host_1?tag=hosts&tag=eu&lifetime=60", "payload")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, router, http.MethodGet, "/api/v1/entries/host_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	rec = serve(t, router, http.MethodHead, "/api/v1/entries/host_1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ttl, err := chq.store.TTL(context.Background(), keynamer.Data("host_1"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	rec = serve(t, router, http.MethodDelete, "/api/v1/entries/host_1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(t, router, http.MethodDelete, "/api/v1/entries/host_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodGet, "/api/v1/entries/host_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, router, http.MethodHead, "/api/v1/entries/host_1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAPI_default_lifetime(t *testing.T) {
	chq, _ := startTestExtension(t, memoryConfig(), nil)
	router := chq.newRouter()

	rec := serve(t, router, http.MethodPut, "/api/v1/entries/host_1", "payload")
	require.Equal(t, http.StatusNoContent, rec.Code)

	ttl, err := chq.store.TTL(context.Background(), keynamer.Data("host_1"))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestAdminAPI_bad_requests(t *testing.T) {
	chq, _ := startTestExtension(t, memoryConfig(), nil)
	router := chq.newRouter()

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"bad identifier", http.MethodPut, "/api/v1/entries/a:b"},
		{"bad tag", http.MethodPut, "/api/v1/entries/ok?tag=a.b"},
		{"lifetime not a number", http.MethodPut, "/api/v1/entries/ok?lifetime=soon"},
		{"negative lifetime", http.MethodPut, "/api/v1/entries/ok?lifetime=-5"},
		{"lifetime overflow", http.MethodPut, "/api/v1/entries/ok?lifetime=99999999999999"},
		{"get bad identifier", http.MethodGet, "/api/v1/entries/a:b"},
		{"delete bad tag", http.MethodDelete, "/api/v1/tags/a:b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, router, tt.method, tt.target, "payload")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminAPI_tags(t *testing.T) {
	ctx := context.Background()
	chq, _ := startTestExtension(t, memoryConfig(), nil)
	router := chq.newRouter()
	cache := chq.Cache()

	require.NoError(t, cache.Set(ctx, "b", []byte("b"), []string{"eu"}, tagcache.UseDefaultLifetime))
	require.NoError(t, cache.Set(ctx, "a", []byte("a"), []string{"eu", "us"}, tagcache.UseDefaultLifetime))
	require.NoError(t, cache.Set(ctx, "c", []byte("c"), []string{"us"}, tagcache.UseDefaultLifetime))

	rec := serve(t, router, http.MethodGet, "/api/v1/tags/eu", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msg TagMembersMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, TagMembersMessage{Tag: "eu", Identifiers: []string{"a", "b"}}, msg)

	rec = serve(t, router, http.MethodGet, "/api/v1/tags/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tag":"unknown","identifiers":[]}`, rec.Body.String())

	rec = serve(t, router, http.MethodDelete, "/api/v1/tags/eu", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	for id, want := range map[string]bool{"a": false, "b": false, "c": true} {
		has, err := cache.Has(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, has, id)
	}
	ids, err := cache.FindIdentifiersByTag(ctx, "us")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)
}

func TestAdminAPI_flush_and_gc(t *testing.T) {
	ctx := context.Background()
	chq, clock := startTestExtension(t, memoryConfig(), nil)
	router := chq.newRouter()
	cache := chq.Cache()

	require.NoError(t, cache.Set(ctx, "short", []byte("1"), []string{"t"}, 10*time.Second))
	require.NoError(t, cache.Set(ctx, "long", []byte("2"), []string{"t"}, time.Hour))
	clock.Advance(time.Minute)

	rec := serve(t, router, http.MethodPost, "/api/v1/gc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"repaired":1}`, rec.Body.String())

	rec = serve(t, router, http.MethodDelete, "/api/v1/entries", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	has, err := cache.Has(ctx, "long")
	require.NoError(t, err)
	assert.False(t, has)
}
