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
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/cardinalhq/tagcache/pkg/tagcache"
)

const maxLifetimeSeconds = math.MaxInt64 / int64(time.Second)

type TagMembersMessage struct {
	Tag         string   `json:"tag"`
	Identifiers []string `json:"identifiers"`
}

type GCMessage struct {
	Repaired int    `json:"repaired"`
	Error    string `json:"error,omitempty"`
}

func (chq *CHQTagcacheExtension) newRouter() *httprouter.Router {
	router := httprouter.New()

	router.PUT("/api/v1/entries/:id", chq.handlePutEntry)
	router.GET("/api/v1/entries/:id", chq.handleGetEntry)
	router.HEAD("/api/v1/entries/:id", chq.handleHasEntry)
	router.DELETE("/api/v1/entries/:id", chq.handleDeleteEntry)
	router.DELETE("/api/v1/entries", chq.handleFlush)
	router.GET("/api/v1/tags/:tag", chq.handleGetTag)
	router.DELETE("/api/v1/tags/:tag", chq.handleDeleteTag)
	router.POST("/api/v1/gc", chq.handleGC)

	return router
}

func (chq *CHQTagcacheExtension) handlePutEntry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	lifetime := tagcache.UseDefaultLifetime
	if v := r.URL.Query().Get("lifetime"); v != "" {
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seconds > maxLifetimeSeconds {
			http.Error(w, "lifetime must be an integer number of seconds", http.StatusBadRequest)
			return
		}
		lifetime = time.Duration(seconds) * time.Second
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, tagcache.MaxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "unable to read payload", http.StatusBadRequest)
		return
	}

	tags := r.URL.Query()["tag"]
	if err := chq.cache.Set(r.Context(), ps.ByName("id"), body, tags, lifetime); err != nil {
		chq.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (chq *CHQTagcacheExtension) handleGetEntry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	data, found, err := chq.cache.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		chq.writeError(w, err)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (chq *CHQTagcacheExtension) handleHasEntry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	exists, err := chq.cache.Has(r.Context(), ps.ByName("id"))
	if err != nil {
		chq.writeError(w, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (chq *CHQTagcacheExtension) handleDeleteEntry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	removed, err := chq.cache.Remove(r.Context(), ps.ByName("id"))
	if err != nil {
		chq.writeError(w, err)
		return
	}
	if !removed {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (chq *CHQTagcacheExtension) handleFlush(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	if err := chq.cache.Flush(r.Context()); err != nil {
		chq.writeError(w, err)
		return
	}
	chq.logger.Info("Flushed tag cache through the admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (chq *CHQTagcacheExtension) handleGetTag(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	tag := ps.ByName("tag")
	ids, err := chq.cache.FindIdentifiersByTag(r.Context(), tag)
	if err != nil {
		chq.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	slices.Sort(ids)
	writeJSON(w, http.StatusOK, TagMembersMessage{Tag: tag, Identifiers: ids})
}

func (chq *CHQTagcacheExtension) handleDeleteTag(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	if err := chq.cache.FlushByTag(r.Context(), ps.ByName("tag")); err != nil {
		chq.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (chq *CHQTagcacheExtension) handleGC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	chq.adminRequests.Add(r.Context(), 1)

	repaired, err := chq.cache.CollectGarbage(r.Context())
	if err != nil {
		chq.logger.Warn("Garbage collection requested through the admin API failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, GCMessage{Repaired: repaired, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, GCMessage{Repaired: repaired})
}

func (chq *CHQTagcacheExtension) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tagcache.ErrInvalidArgument), errors.Is(err, tagcache.ErrInvalidData):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		chq.logger.Warn("Tag cache admin request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
