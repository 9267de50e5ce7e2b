// Package server adapts the in-process scheduler API to HTTP and
// WebSocket. It is a thin layer: all semantics live in the service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"etlsched/internal/service"
	"etlsched/internal/store"
	"etlsched/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8320"
	}
	return c
}

// Server is the HTTP listener for scheduler control and event streaming.
type Server struct {
	cfg Config
	svc *service.Service
	log logx.Logger

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, svc *service.Service, log logx.Logger) *Server {
	return &Server{cfg: cfg.withDefaults(), svc: svc, log: log}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /scheduler/status", s.handleStatus)
	mux.HandleFunc("GET /scheduler/jobs", s.handleListJobs)
	mux.HandleFunc("GET /scheduler/jobs/{id}", s.handleJobDetails)
	mux.HandleFunc("POST /scheduler/jobs/{id}/trigger", s.handleTrigger)
	mux.HandleFunc("POST /scheduler/jobs/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /scheduler/jobs/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /scheduler/reload", s.handleReload)
	mux.HandleFunc("GET /ws/scheduler", s.handleEventsWS)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the listener down with a bounded grace period.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(sctx)
}

// Addr returns the bound address ("" before Start).
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": s.svc.Started()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.svc.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.svc.JobDetails(id)
	if err != nil {
		writeErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type triggerRequest struct {
	Overrides map[string]any `json:"overrides"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// An empty body means "no overrides"; a malformed one is a client error.
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return
	}

	res, err := s.svc.TriggerJob(r.Context(), id, req.Overrides)
	if err != nil {
		writeErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.svc.PauseJob(r.Context(), id)
	if err != nil {
		writeErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := s.svc.ResumeJob(r.Context(), id)
	if err != nil {
		writeErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.svc.ReloadJobs(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "jobs reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps service errors to status codes. NotFound echoes the
// precise job id; nothing else about internal failures leaks out.
func writeErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Job '" + id + "' not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
}
