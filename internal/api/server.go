// Package api serves the optional admin HTTP surface: health, status,
// history and session lookups, request injection and a live activity feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/envelope"
	"github.com/MadnessEngineering/whispermind-conduit/internal/gateway"
	"github.com/MadnessEngineering/whispermind-conduit/internal/session"
	"github.com/MadnessEngineering/whispermind-conduit/internal/status"
)

// maxBodyBytes bounds POST /requests bodies.
const maxBodyBytes = 1 << 20

// Injector accepts requests into the processing path.
type Injector interface {
	Inject(req envelope.Request) error
}

// HistoryReader reads conversation history.
type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]conversation.Entry, int64, error)
}

// SessionReader reads session records.
type SessionReader interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
}

// StatusReporter republishes the service's current status.
type StatusReporter interface {
	Refresh(ctx context.Context, message string) (status.Payload, error)
}

// Deps are the collaborators the API reads from.
type Deps struct {
	Requests Injector
	History  HistoryReader
	Sessions SessionReader
	Status   StatusReporter
	// Bus and ActivityChannel feed /ws/activity.
	Bus             bus.Bus
	ActivityChannel string
}

// Server is the admin HTTP server.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	return &Server{deps: d}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/status", s.handleStatus)
	r.Get("/history/{user}", s.handleHistory)
	r.Get("/sessions/{user}", s.handleSession)
	r.Post("/requests", s.handleInject)
	r.Get("/ws/activity", s.handleActivity)
	return r
}

// Run serves on addr until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("API stopped")
	return nil
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("API: encode response", "error", err)
	}
}

// Error writes a JSON error body.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Status.Refresh(r.Context(), "Status requested")
	if err != nil {
		slog.Warn("API: status report incomplete", "error", err)
	}
	JSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, total, err := s.deps.History.History(r.Context(), user, limit)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"user": user, "entries": entries, "total": total})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	sess, err := s.deps.Sessions.Get(r.Context(), user)
	if err != nil {
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "no session for "+user)
		return
	}
	JSON(w, http.StatusOK, sess)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		Error(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	req, err := envelope.ParseRequest(body)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Requests.Inject(req); err != nil {
		if errors.Is(err, gateway.ErrStopped) {
			Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"id": req.ID})
}
