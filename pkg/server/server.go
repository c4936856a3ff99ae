// Copyright 2026 Strand Authors
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

// Package server exposes the runtime over HTTP: message submission,
// task inspection and cancellation, and the per-context SSE event
// stream with replay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strandai/strand/pkg/bus"
	"github.com/strandai/strand/pkg/observability"
	"github.com/strandai/strand/pkg/task"
)

// TurnStarter accepts work on behalf of the runtime.
type TurnStarter interface {
	// StartTurn submits a user message to an agent and returns the
	// task id of the turn it started. An empty agentID selects the
	// default agent.
	StartTurn(ctx context.Context, contextID, agentID, message string) (string, error)

	// CancelTask aborts a running task; false when the task is unknown
	// or already finished.
	CancelTask(taskID string) bool
}

// ErrUnknownAgent is returned by TurnStarter implementations for
// unrecognised agent ids.
var ErrUnknownAgent = errors.New("unknown agent")

// Server is the HTTP surface.
type Server struct {
	starter TurnStarter
	bus     *bus.Bus
	tasks   task.Store
	metrics *observability.Metrics
	log     *slog.Logger

	http *http.Server
}

// ServerOption configures a server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithServerMetrics mounts /metrics and counts drops.
func WithServerMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New builds a server over the runtime pieces.
func New(starter TurnStarter, eventBus *bus.Bus, tasks task.Store, opts ...ServerOption) *Server {
	s := &Server{
		starter: starter,
		bus:     eventBus,
		tasks:   tasks,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1/contexts/{contextID}", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Get("/events", s.handleEvents)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Post("/tasks/{taskID}/cancel", s.handleCancel)
	})
	return r
}

// ListenAndServe serves until ctx is done, then drains with a grace
// period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	s.log.Info("http server listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type messageRequest struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

type messageResponse struct {
	TaskID    string `json:"taskId"`
	ContextID string `json:"contextId"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	contextID := chi.URLParam(r, "contextID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	taskID, err := s.starter.StartTurn(r.Context(), contextID, req.AgentID, req.Message)
	if err != nil {
		if errors.Is(err, ErrUnknownAgent) {
			writeError(w, http.StatusNotFound, "unknown_agent", err.Error())
			return
		}
		s.log.Error("start turn failed", "context", contextID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to start turn")
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{TaskID: taskID, ContextID: contextID})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if t.ContextID != chi.URLParam(r, "contextID") {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.starter.CancelTask(taskID) {
		writeError(w, http.StatusNotFound, "not_found", "task not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID, "status": "canceling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
