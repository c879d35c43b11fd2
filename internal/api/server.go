// Package api exposes the agent over HTTP: status, approvals, cycle
// control, execution history and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stratoml/sentinel/internal/agent"
	"github.com/stratoml/sentinel/internal/config"
	"github.com/stratoml/sentinel/internal/modelstore"
	"github.com/stratoml/sentinel/internal/monitor"
	"github.com/stratoml/sentinel/internal/security"
)

// Server is the HTTP API server.
type Server struct {
	cfg        config.Config
	agent      *agent.Agent
	models     *modelstore.Store
	metrics    *monitor.Store
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.Config, ag *agent.Agent, models *modelstore.Store, metrics *monitor.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		agent:   ag,
		models:  models,
		metrics: metrics,
		logger:  logger.With("component", "api"),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/approvals", s.handleApprovals)
	mux.HandleFunc("/api/approvals/stats", s.handleApprovalStats)
	mux.HandleFunc("/api/approvals/", s.handleApprovalDetail)
	mux.HandleFunc("/api/cycle", s.handleCycle)
	mux.HandleFunc("/api/cycle/latest", s.handleCycleLatest)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/metrics/report", s.handleMetricsReport)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealth)

	var secret []byte
	if s.cfg.Auth.JWTSecret != "" {
		secret = []byte(s.cfg.Auth.JWTSecret)
	}
	auth := security.AuthMiddleware(secret)

	handler := http.Handler(mux)
	handler = auth(handler)
	handler = s.corsMiddleware(s.loggingMiddleware(handler))
	return handler
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// handleStatus returns the agent's current state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, s.agent.Status())
}

// handleApprovals lists pending approval requests.
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	includeExpired := r.URL.Query().Get("include_expired") == "true"
	pending := s.agent.Approvals().Pending(includeExpired)
	s.respondJSON(w, map[string]any{
		"count":    len(pending),
		"requests": pending,
	})
}

func (s *Server) handleApprovalStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, s.agent.Approvals().Statistics())
}

type reviewBody struct {
	Reviewer string `json:"reviewer"`
	Comment  string `json:"comment"`
}

// handleApprovalDetail serves /api/approvals/{id} and the approve/reject
// subresources.
func (s *Server) handleApprovalDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/approvals/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "request id required", http.StatusBadRequest)
		return
	}
	requestID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		req := s.agent.Approvals().RequestByID(requestID)
		if req == nil {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		s.respondJSON(w, req)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body reviewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	// an authenticated token identifies the reviewer
	if claims, err := security.GetClaims(r); err == nil && claims.Reviewer != "" {
		body.Reviewer = claims.Reviewer
	}
	if body.Reviewer == "" {
		http.Error(w, "reviewer required", http.StatusBadRequest)
		return
	}

	var ok bool
	switch parts[1] {
	case "approve":
		ok = s.agent.Approvals().Approve(requestID, body.Reviewer, body.Comment)
	case "reject":
		ok = s.agent.Approvals().Reject(requestID, body.Reviewer, body.Comment)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if !ok {
		http.Error(w, "request not found or expired", http.StatusConflict)
		return
	}
	s.respondJSON(w, map[string]any{"request_id": requestID, "status": parts[1] + "d"})
}

// handleCycle triggers a remediation cycle.
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, ran, err := s.agent.TryRunCycle(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ran {
		s.respondJSON(w, map[string]any{"skipped": true, "reason": "cycle already running"})
		return
	}
	s.respondJSON(w, summary)
}

func (s *Server) handleCycleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary := s.agent.LastSummary()
	if summary == nil {
		http.Error(w, "no cycle has run yet", http.StatusNotFound)
		return
	}
	s.respondJSON(w, summary)
}

// handleHistory returns recent execution records.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records := s.agent.Executor().History(limit)
	s.respondJSON(w, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

// handleModels lists production model artifacts.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.models == nil {
		http.Error(w, "model store not configured", http.StatusServiceUnavailable)
		return
	}
	artifacts, err := s.models.Artifacts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]any{
		"count":     len(artifacts),
		"artifacts": artifacts,
	})
}

// handleMetrics returns the latest value of every tracked metric.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.metrics == nil {
		http.Error(w, "metric store not configured", http.StatusServiceUnavailable)
		return
	}
	latest, err := s.metrics.LatestMetrics(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, latest)
}

func (s *Server) handleMetricsReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.metrics == nil {
		http.Error(w, "metric store not configured", http.StatusServiceUnavailable)
		return
	}
	window := 50
	if v := r.URL.Query().Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = n
	}
	report, err := s.metrics.GenerateReport(r.Context(), window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, report)
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
