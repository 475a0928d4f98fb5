// Copyright 2025 Tom Barlow
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

// Package api provides the HTTP surface of the engine: action dispatch,
// the approval queue, health, and metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avenueworks/avenue/internal/dispatch"
	avlog "github.com/avenueworks/avenue/internal/log"
	"github.com/avenueworks/avenue/internal/ratelimit"
)

// RouterConfig holds router construction parameters.
type RouterConfig struct {
	// JWTSecret verifies API bearer tokens
	JWTSecret []byte

	// Version is reported by the health endpoint
	Version string
}

// Router is the engine's HTTP API.
type Router struct {
	mux        *http.ServeMux
	dispatcher *dispatch.Dispatcher
	burst      *ratelimit.SlidingWindow
	config     RouterConfig
	logger     *slog.Logger
}

// NewRouter creates the API router with all routes registered.
func NewRouter(dispatcher *dispatch.Dispatcher, burst *ratelimit.SlidingWindow, cfg RouterConfig, logger *slog.Logger) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		dispatcher: dispatcher,
		burst:      burst,
		config:     cfg,
		logger:     avlog.WithComponent(logger, "api"),
	}

	r.mux.HandleFunc("GET /healthz", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("POST /v1/actions", r.authenticated(r.handleDispatch))
	r.mux.HandleFunc("POST /v1/actions/batch", r.authenticated(r.handleBatch))
	r.mux.HandleFunc("GET /v1/approvals", r.authenticated(r.handleListApprovals))
	r.mux.HandleFunc("POST /v1/approvals/{id}/approve", r.authenticated(r.handleApprove))
	r.mux.HandleFunc("POST /v1/approvals/{id}/reject", r.authenticated(r.handleReject))

	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// authenticated wraps a handler with bearer auth and the per-user burst
// limiter.
func (r *Router) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := extractBearerToken(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		uid, err := ValidateToken(token, r.config.JWTSecret)
		if err != nil {
			r.logger.Debug("rejected bearer token", avlog.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		if decision := r.burst.Check("api:" + uid); !decision.Allowed {
			w.Header().Set("Retry-After", formatSeconds(decision.RetryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		ctx := req.Context()
		next(w, req.WithContext(contextWithUserID(ctx, uid)))
	}
}

// handleHealth handles GET /healthz.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.config.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", avlog.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
