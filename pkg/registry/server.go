// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
)

// Server exposes the registry over a small REST surface.
type Server struct {
	registry *Registry
	logger   *zap.Logger
}

// NewServer creates the HTTP server wrapper.
func NewServer(registry *Registry) *Server {
	return &Server{
		registry: registry,
		logger:   log.With(zap.String("component", "registry_server")),
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /agents/register", s.handleRegister)
	mux.HandleFunc("POST /agents/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("GET /agents", s.handleList)
	mux.HandleFunc("GET /agents/{id}", s.handleGet)
	mux.HandleFunc("DELETE /agents/{id}", s.handleRemove)
	mux.HandleFunc("PUT /agents/{id}/hotpath", s.handleSetHotpath)
	mux.HandleFunc("GET /stats", s.handleStats)
	return mux
}

// ListenAndServe serves the registry on addr until the server errors.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("registry listening", zap.String("addr", addr))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// RegisterRequest is the POST /agents/register body.
type RegisterRequest struct {
	AgentID string `json:"agent_id"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Hotpath bool   `json:"hotpath,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	rec, err := s.registry.Register(r.Context(), req.AgentID, req.Host, req.Port, req.Hotpath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "register_failed", err.Error())
		return
	}
	s.logger.Info("agent registered",
		zap.String("agent_id", rec.AgentID),
		zap.Bool("hotpath", rec.Hotpath))
	writeJSON(w, http.StatusOK, rec)
}

// HeartbeatRequest is the POST /agents/{id}/heartbeat body.
type HeartbeatRequest struct {
	Status     string    `json:"status,omitempty"`
	ReportedAt time.Time `json:"reported_at,omitempty"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	rec, err := s.registry.Heartbeat(r.Context(), r.PathValue("id"), req.Status, req.ReportedAt)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown agent")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "heartbeat_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts := ListOptions{
		HealthyOnly: r.URL.Query().Get("healthy_only") == "true",
		HotpathOnly: r.URL.Query().Get("hotpath_only") == "true",
	}
	records, err := s.registry.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":       records,
		"healthy_only": opts.HealthyOnly,
		"hotpath_only": opts.HotpathOnly,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown agent")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	err := s.registry.Remove(r.Context(), r.PathValue("id"), force)
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "unknown agent")
	case errors.Is(err, ErrHotpathAgent):
		writeError(w, http.StatusConflict, "hotpath_agent", "agent is hotpath protected; pass force=true to remove")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "remove_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"removed": r.PathValue("id")})
	}
}

// SetHotpathRequest is the PUT /agents/{id}/hotpath body.
type SetHotpathRequest struct {
	Hotpath bool `json:"hotpath"`
}

func (s *Server) handleSetHotpath(w http.ResponseWriter, r *http.Request) {
	var req SetHotpathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	rec, err := s.registry.SetHotpath(r.Context(), r.PathValue("id"), req.Hotpath)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "unknown agent")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "set_hotpath_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
