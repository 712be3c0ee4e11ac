// Copyright (c) 2026 John Earle
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

// Package httpapi serves the on-demand reply check trigger, health and
// metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bcem/replyflow/internal/pipeline"
)

// MaxHoursBack bounds the lookback accepted by the trigger endpoint.
const MaxHoursBack = 24 * 30

// Runner is the reply check entry point. pipeline.Runner implements it.
type Runner interface {
	TryRunReplyCheck(ctx context.Context, hoursBack int) (pipeline.BatchSummary, bool)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the endpoint dependencies.
type Handler struct {
	runner         Runner
	checks         map[string]Pinger
	metrics        http.Handler
	requestTimeout time.Duration
}

// NewHandler creates a handler. checks maps a dependency name ("postgres",
// "redis") to its pinger; metrics may be nil.
func NewHandler(runner Runner, checks map[string]Pinger, metrics http.Handler, requestTimeout time.Duration) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Minute
	}
	return &Handler{runner: runner, checks: checks, metrics: metrics, requestTimeout: requestTimeout}
}

// Routes returns the mux for all endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/reply-check", h.ServeReplyCheck)
	mux.HandleFunc("GET /health", h.ServeHealth)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

// ServeReplyCheck runs one reply check synchronously and returns its
// summary. ?hours=N overrides the lookback.
func (h *Handler) ServeReplyCheck(w http.ResponseWriter, r *http.Request) {
	hours := 0
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxHoursBack {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("hours must be an integer between 1 and %d", MaxHoursBack),
			})
			return
		}
		hours = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	summary, ok := h.runner.TryRunReplyCheck(ctx, hours)
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a reply check is already running"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ServeHealth pings every dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": name + " unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Serve binds port and serves h until ctx is done. The returned channel is
// closed once the listener is bound.
func Serve(ctx context.Context, port int, h *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind http port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
