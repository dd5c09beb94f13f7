// Copyright 2025 AxonFlow
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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"deepthink/orchestrator/history"
	"deepthink/orchestrator/state"
	"deepthink/orchestrator/tasks"
	"deepthink/shared/logger"
)

const keepAliveInterval = 15 * time.Second

// RunLister lists archived runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Server is the HTTP adapter in front of the engine and task registry.
type Server struct {
	engine   *Engine
	runner   *TaskRunner
	registry *tasks.Registry
	runs     RunLister
	origins  []string
	logger   *logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRunLister enables GET /api/v1/runs.
func WithRunLister(l RunLister) ServerOption {
	return func(s *Server) { s.runs = l }
}

// WithCORSOrigins sets the allowed origins.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.origins = origins }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server.
func NewServer(engine *Engine, runner *TaskRunner, registry *tasks.Registry, opts ...ServerOption) *Server {
	s := &Server{
		engine:   engine,
		runner:   runner,
		registry: registry,
		origins:  []string{"*"},
		logger:   logger.New("http"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/v1/tasks", s.createTaskHandler).Methods("POST")
	r.HandleFunc("/api/v1/tasks/{id}", s.readTaskHandler).Methods("GET")
	r.HandleFunc("/api/v1/tasks/{id}/stream", s.streamTaskHandler).Methods("GET")
	r.HandleFunc("/api/v1/tasks/{id}", s.deleteTaskHandler).Methods("DELETE")

	r.HandleFunc("/deepthink/invoke", s.invokeHandler).Methods("POST")
	r.HandleFunc("/v1/chat/completions", s.chatCompletionsHandler).Methods("POST")

	r.HandleFunc("/api/v1/runs", s.listRunsHandler).Methods("GET")
	r.HandleFunc("/api/v1/providers/health", s.providerHealthHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// runRequest is the body of POST /api/v1/tasks and POST /deepthink/invoke.
type runRequest struct {
	Query string `json:"query"`
	state.Options
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type taskResponse struct {
	TaskID    string         `json:"task_id"`
	Status    string         `json:"status"`
	Updates   []state.Update `json:"updates"`
	NextIndex int            `json:"next_index"`
}

type invokeResponse struct {
	RunID             string               `json:"run_id"`
	FinalOutput       string               `json:"final_output"`
	StructuredOutput  map[string]any       `json:"structured_output,omitempty"`
	SynthesisThoughts string               `json:"synthesis_thoughts,omitempty"`
	Complexity        string               `json:"complexity,omitempty"`
	Experts           []state.ExpertResult `json:"experts"`
	ReviewScore       *state.ReviewScore   `json:"review_score,omitempty"`
	Rounds            int                  `json:"rounds"`
	DurationMs        int64                `json:"duration_ms"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "deepthink",
		"timestamp": time.Now().UTC(),
		"components": map[string]interface{}{
			"tasks":   s.registry.Len(),
			"archive": s.runs != nil,
		},
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}
	id := s.runner.Start(req.Query, req.Options)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) readTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from := intParam(r, "from", 0)

	updates := s.registry.Read(id, from)
	status := "not_found"
	if snap, err := s.registry.Get(id); err == nil {
		status = string(snap.Status)
	}
	if from < 0 {
		from = 0
	}
	writeJSON(w, http.StatusOK, taskResponse{
		TaskID:    id,
		Status:    status,
		Updates:   updates,
		NextIndex: from + len(updates),
	})
}

func (s *Server) streamTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	from := intParam(r, "from", 0)
	if from < 0 {
		from = 0
	}

	backlog, live, cancel, ok := s.registry.Subscribe(id, from)
	if !ok {
		sendErrorResponse(w, "task not found", http.StatusNotFound)
		return
	}
	defer cancel()

	sse := newSSEWriter(w)
	if sse == nil {
		sendErrorResponse(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	index := from
	for _, u := range backlog {
		if err := sse.event(index, string(u.Type), u); err != nil {
			return
		}
		index++
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case u, open := <-live:
			if !open {
				return
			}
			if err := sse.event(index, string(u.Type), u); err != nil {
				return
			}
			index++
		case <-ticker.C:
			sse.comment("keep-alive")
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) deleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.runner.Cancel(id)
	s.registry.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invokeHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	final, err := s.engine.Invoke(r.Context(), req.Query, req.Options)
	if err != nil {
		s.logger.ErrorWithErr("", "", "invoke failed", err, nil)
		sendErrorResponse(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, newInvokeResponse(final))
}

func newInvokeResponse(final *state.AgentState) invokeResponse {
	resp := invokeResponse{
		RunID:             final.RunID,
		FinalOutput:       final.FinalOutput,
		StructuredOutput:  final.StructuredOutput,
		SynthesisThoughts: final.SynthesisThoughts,
		Complexity:        final.Complexity,
		Experts:           final.ExpertResults,
		ReviewScore:       final.ReviewScore,
		Rounds:            final.Round,
	}
	if final.EndTime != nil {
		resp.DurationMs = final.EndTime.Sub(final.StartTime).Milliseconds()
	}
	return resp
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		sendErrorResponse(w, "run archive not configured", http.StatusNotFound)
		return
	}
	runs, err := s.runs.Recent(r.Context(), intParam(r, "limit", 20))
	if err != nil {
		s.logger.ErrorWithErr("", "", "failed to list runs", err, nil)
		sendErrorResponse(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) providerHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	result, err := s.engine.ProviderHealth(ctx)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		sendErrorResponse(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	if req.MaxRounds < 0 || req.MaxRounds > state.MaxRoundsLimit {
		sendErrorResponse(w, "max_rounds must be between 1 and 10", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// statusFor maps a run failure onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.New("http").Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, errorResponse{Success: false, Error: message})
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
