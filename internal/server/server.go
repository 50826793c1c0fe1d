// Package server exposes the FAB control loop over HTTP. Each session is
// one control loop; the four tick operations map onto one endpoint each.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbis/fab/internal/config"
	"github.com/orbis/fab/internal/fab"
	"github.com/orbis/fab/internal/mode"
	"github.com/orbis/fab/internal/window"
)

// BackpressureHeader carries the admission level on every fill response.
const BackpressureHeader = "X-FAB-Backpressure"

// Server is the fabd HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	registry *Registry
	logger   *slog.Logger

	// pendingTokens is the token quota of fills currently in flight,
	// classified into the backpressure level.
	pendingTokens atomic.Int64

	httpServer *http.Server
}

// New creates a server around a session registry.
func New(cfg config.ServerConfig, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/init_tick", s.handleInitTick)
	mux.HandleFunc("POST /v1/sessions/{id}/fill", s.handleFill)
	mux.HandleFunc("POST /v1/sessions/{id}/mix", s.handleMix)
	mux.HandleFunc("POST /v1/sessions/{id}/step", s.handleStep)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.logRequests(mux)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("fabd listening", "addr", s.cfg.Addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
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

type createSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Seed      int64  `json:"seed,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.registry.Create(req.SessionID, req.Seed)
	if err != nil {
		if errors.Is(err, ErrSessionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		var cfgErr fab.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("session created", "session", id)
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Remove(id) {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}
	s.logger.Info("session removed", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

type initTickRequest struct {
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handleInitTick(w http.ResponseWriter, r *http.Request) {
	session, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	var req initTickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tick int64
	var currentMode string
	err := session.Do(func(core *fab.Core) error {
		if err := core.InitTick(req.Mode); err != nil {
			return err
		}
		tick = core.Tick()
		currentMode = core.Mode()
		return nil
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tick": tick, "mode": currentMode})
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	session, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	var slice window.ZSlice
	if err := decodeBody(r, &slice); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	level := window.ClassifyBackpressure(s.pendingTokens.Load(),
		int64(s.cfg.BackpressureOK), int64(s.cfg.BackpressureReject))
	w.Header().Set(BackpressureHeader, string(level))
	if level == window.BackpressureReject {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "admission rejected: too many pending tokens")
		return
	}

	s.pendingTokens.Add(slice.Quotas.Tokens)
	defer s.pendingTokens.Add(-slice.Quotas.Tokens)

	var streamIDs, globalIDs []string
	err := session.Do(func(core *fab.Core) error {
		if err := core.Fill(r.Context(), &slice); err != nil {
			return err
		}
		streamIDs = core.StreamIDs()
		globalIDs = core.GlobalIDs()
		return nil
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stream_ids": streamIDs,
		"global_ids": globalIDs,
	})
}

func (s *Server) handleMix(w http.ResponseWriter, r *http.Request) {
	session, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	var result *fab.MixResult
	err := session.Do(func(core *fab.Core) error {
		var err error
		result, err = core.Mix()
		return err
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type stepRequest struct {
	Stress       float64 `json:"stress"`
	SelfPresence float64 `json:"self_presence"`
	ErrorRate    float64 `json:"error_rate"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	session, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	var req stepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result *fab.StepResult
	err := session.Do(func(core *fab.Core) error {
		var err error
		result, err = core.Step(req.Stress, req.SelfPresence, req.ErrorRate)
		return err
	})
	if err != nil {
		writeCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.registry.Each(func(id string, session *Session) {
		_ = session.Do(func(core *fab.Core) error {
			return core.Metrics().WriteText(w)
		})
	})
	fmt.Fprintf(w, "fab_sessions_live %d\n", s.registry.Len())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody parses a JSON request body. Empty bodies decode to the zero
// request so operations with all-optional fields need no payload.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// writeCoreError maps control-loop errors onto HTTP statuses: contract
// violations are 400, lifecycle misuse is 409.
func writeCoreError(w http.ResponseWriter, err error) {
	var invalidMode mode.InvalidModeError
	var violation window.Violation
	switch {
	case errors.As(err, &invalidMode), errors.As(err, &violation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fab.ErrTickNotStarted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
