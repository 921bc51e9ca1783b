// Package server exposes the loopback HTTP API that the CLI, hook
// scripts, and notifier callbacks talk to. All mutations of the registry
// and queue go through these handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codetown/sm/internal/monitor"
	"github.com/codetown/sm/internal/obslog"
	"github.com/codetown/sm/internal/queue"
	"github.com/codetown/sm/internal/session"
	"github.com/codetown/sm/internal/tmux"
)

// Server wires the HTTP surface to the core components.
type Server struct {
	registry  *session.Registry
	queue     *queue.Manager
	monitors  *monitor.Supervisor
	tmux      tmux.Controller
	obs       *obslog.Reader
	statePath string
	log       *slog.Logger

	// monitorCtx parents the watcher goroutines started for sessions
	// created over the API.
	monitorCtx context.Context

	start time.Time
}

// New creates a server. obs may be nil.
func New(registry *session.Registry, qm *queue.Manager, monitors *monitor.Supervisor, ctl tmux.Controller, obs *obslog.Reader, statePath string, log *slog.Logger) *Server {
	return &Server{
		registry:   registry,
		queue:      qm,
		monitors:   monitors,
		tmux:       ctl,
		obs:        obs,
		statePath:  statePath,
		log:        log.With("component", "http"),
		monitorCtx: context.Background(),
		start:      time.Now(),
	}
}

// SetMonitorContext sets the context new watcher goroutines inherit.
func (s *Server) SetMonitorContext(ctx context.Context) {
	s.monitorCtx = ctx
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleHealthDetailed)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /sessions/{id}/task", s.handlePutTask)
	mux.HandleFunc("GET /sessions/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /sessions/{id}/activity", s.handleActivity)
	mux.HandleFunc("POST /sessions/{id}/spawn", s.handleSpawn)
	mux.HandleFunc("POST /sessions/{id}/input", s.handleSendInput)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /sessions/{id}/messages", s.handlePendingMessages)
	mux.HandleFunc("POST /sessions/{id}/agent-status", s.handleAgentStatus)
	mux.HandleFunc("POST /sessions/{id}/invalidate-cache", s.handleInvalidateCache)
	mux.HandleFunc("POST /sessions/{id}/open-terminal", s.handleOpenTerminal)

	mux.HandleFunc("POST /hooks/context-usage", s.handleContextUsage)
	mux.HandleFunc("POST /hooks/stop", s.handleStopHook)

	return s.logged(mux)
}

// logged is the request-logging middleware.
func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", lw.status, "duration", time.Since(started))
	})
}

type loggingWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// sessionError maps registry errors onto HTTP statuses.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody parses a JSON request body; an empty body leaves v as-is.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
