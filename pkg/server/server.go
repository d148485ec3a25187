// Copyright 2025 Kadir Pekel
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

// Package server exposes the engine over HTTP: a streaming query endpoint,
// health and stats probes, cache invalidation, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/seeker/pkg/cache"
	"github.com/kadirpekel/seeker/pkg/config"
	"github.com/kadirpekel/seeker/pkg/errkind"
	"github.com/kadirpekel/seeker/pkg/logger"
	"github.com/kadirpekel/seeker/pkg/query"
	"github.com/kadirpekel/seeker/pkg/router"
	"github.com/kadirpekel/seeker/pkg/runtime"
)

// Server is the HTTP front of a runtime.
type Server struct {
	rt     *runtime.Runtime
	cfg    config.ServerConfig
	http   *http.Server
	logger *slog.Logger
}

// New builds the server and its routes.
func New(rt *runtime.Runtime, cfg config.ServerConfig) *Server {
	s := &Server{
		rt:     rt,
		cfg:    cfg,
		logger: logger.GetLogger().With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/query", s.handleQuery)
	r.Post("/v1/cache/invalidate", s.handleInvalidate)
	r.Get("/v1/stats", s.handleStats)
	r.Get("/v1/tools", s.handleTools)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// queryRequest is the body of POST /v1/query.
type queryRequest struct {
	Text        string            `json:"text"`
	Mode        string            `json:"mode,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// errorResponse is the NDJSON error line.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleQuery streams responses as newline-delimited JSON: zero or one
// interim line followed by exactly one final (or error) line.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errkind.Wrap(errkind.InvalidArgument, "malformed request body", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errkind.New(errkind.InvalidArgument, "text is required"))
		return
	}
	mode := query.Mode(req.Mode)
	if req.Mode != "" && !mode.Valid() {
		writeError(w, http.StatusBadRequest, errkind.Newf(errkind.InvalidArgument, "unknown mode %q", req.Mode))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	emit := func(resp router.Response) {
		if err := enc.Encode(resp); err != nil {
			s.logger.Warn("Interim write failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	final, err := s.rt.Router().Route(r.Context(), query.Query{
		Text:        req.Text,
		SessionID:   req.SessionID,
		Mode:        mode,
		Constraints: req.Constraints,
	}, emit)
	if err != nil {
		// Headers are out; the error travels as the last NDJSON line.
		_ = enc.Encode(errorResponse{Error: err.Error(), Kind: string(errkind.KindOf(err))})
		return
	}

	if err := enc.Encode(final); err != nil {
		s.logger.Warn("Final write failed", "error", err)
	}
	s.rt.ReportCacheStats()
}

// invalidateRequest is the body of POST /v1/cache/invalidate.
type invalidateRequest struct {
	Type string `json:"type"`
	Key  string `json:"key,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errkind.Wrap(errkind.InvalidArgument, "malformed request body", err))
		return
	}
	t := cache.Type(req.Type)
	if !t.Valid() {
		writeError(w, http.StatusBadRequest, errkind.Newf(errkind.InvalidArgument, "unknown cache type %q", req.Type))
		return
	}

	s.rt.Cache().Invalidate(r.Context(), t, req.Key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"monitor": s.rt.Monitor().Snapshot(),
		"cache":   s.rt.Cache().Stats(),
	})
}

// handleTools maps each configured tool server to its advertised tools.
// Servers that cannot be reached are reported with an error string instead.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for _, name := range s.rt.ToolServers() {
		tools, err := s.rt.ListTools(r.Context(), name)
		if err != nil {
			out[name] = errorResponse{Error: err.Error(), Kind: string(errkind.KindOf(err))}
			continue
		}
		out[name] = tools
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := s.rt.Store().HealthCheck(ctx)
	status := http.StatusOK
	if !health.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error: err.Error(),
		Kind:  string(errkind.KindOf(err)),
	})
}
