// Package api exposes the HTTP surface: submission, status queries, the SSE
// event stream, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"wablast/internal/hub"
	"wablast/internal/job"
	"wablast/internal/metrics"
	"wablast/internal/session"
	"wablast/internal/store"
	logx "wablast/pkg/logx"
)

const snapshotTimeout = 3 * time.Second

// Config carries the handler-level knobs.
type Config struct {
	// Metrics mounts /metrics and the request-counting middleware.
	Metrics bool
}

// Server wires HTTP handlers to the orchestrator, session, and hub.
type Server struct {
	router  chi.Router
	runner  *job.Runner
	session *session.Manager
	hub     *hub.Hub
	store   store.Store // nil when storage is disabled
	log     logx.Logger
}

func NewServer(cfg Config, runner *job.Runner, sess *session.Manager, h *hub.Hub, st store.Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		runner:  runner,
		session: sess,
		hub:     h,
		store:   st,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.logMiddleware)
	r.Use(chimw.Recoverer)
	if cfg.Metrics {
		r.Use(metrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	if cfg.Metrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/whatsapp", s.getChannelStatus)
		r.Post("/whatsapp", s.submit)
		r.Get("/message-status", s.getJobStatus)
		r.Get("/events", s.events)
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getChannelStatus reports the session snapshot the way the frontend polls
// it: a status string plus a human message, with the QR payload only while
// pairing is pending.
func (s *Server) getChannelStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.session.Snapshot()

	resp := map[string]any{
		"status":  string(snap.State),
		"message": stateMessage(snap),
	}
	if snap.State == session.StateQR && snap.QR != "" {
		resp["qr"] = snap.QR
	}
	writeJSON(w, http.StatusOK, resp)
}

func stateMessage(snap session.Snapshot) string {
	switch snap.State {
	case session.StateQR:
		return "Scan the QR code"
	case session.StateReady:
		return "Channel is connected"
	case session.StateAuthFailure:
		if snap.LastFault != "" {
			return "Authentication failed: " + snap.LastFault
		}
		return "Authentication failed"
	case session.StateDisconnected:
		if snap.LastFault != "" {
			return "Client disconnected: " + snap.LastFault
		}
		return "Client disconnected"
	case session.StateError:
		if snap.LastFault != "" {
			return "Channel error: " + snap.LastFault
		}
		return "Channel error"
	default:
		return "Initializing channel connection..."
	}
}

type submitRequest struct {
	Numbers  []string `json:"numbers"`
	Messages []string `json:"messages"`
}

// submit accepts a batch and returns immediately; dispatch continues in the
// background. Rejections map to status codes: 400 validation, 503 not
// ready, 409 conflict.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Numbers == nil || req.Messages == nil {
		writeError(w, http.StatusBadRequest, "numbers & messages must be arrays")
		return
	}

	total, err := s.runner.Submit(req.Numbers, req.Messages)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "total": total})
	case errors.Is(err, job.ErrInvalidBatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, job.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, job.ErrJobRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("submit failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
	}
}

// getJobStatus is the polling fallback for observers that cannot hold an
// event stream: the full current ledger plus counts by status.
func (s *Server) getJobStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "run history disabled")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	runs, err := s.store.RecentRuns(ctx, limit)
	if err != nil {
		s.log.Error("list runs failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("dur", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
