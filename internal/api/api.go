// Package api provides HTTP handlers and the main API server for the
// proactive engine.
//
// It exposes RESTful endpoints for signal ingestion, check-in lifecycle
// operations, preferences and engine control.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Karuna-AI/karuna-proactive/internal/engine"
	"github.com/Karuna-AI/karuna-proactive/internal/models"
	"github.com/Karuna-AI/karuna-proactive/internal/store"
)

// Server defaults.
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultCircleID is used when a request carries no X-Circle-ID header.
	DefaultCircleID = "default"
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	DefaultCircleID string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address, overriding $API_ADDR.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDefaultCircle sets the circle used for requests without an
// X-Circle-ID header.
func WithDefaultCircle(circleID string) Option {
	return func(o *Opts) { o.DefaultCircleID = circleID }
}

// Server wires the engine registry and store behind HTTP handlers.
type Server struct {
	addr          string
	defaultCircle string
	registry      *engine.Registry
	store         store.Store
	httpServer    *http.Server
}

// NewServer creates an API server over the given registry and store.
func NewServer(registry *engine.Registry, st store.Store, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		DefaultCircleID: DefaultCircleID,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:          cfg.Addr,
		defaultCircle: cfg.DefaultCircleID,
		registry:      registry,
		store:         st,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/signals", s.signalsHandler)
	mux.HandleFunc("/checkins", s.checkInsHandler)
	mux.HandleFunc("/checkins/pending", s.pendingCheckInsHandler)
	mux.HandleFunc("/checkins/", s.checkInItemHandler)
	mux.HandleFunc("/preferences", s.preferencesHandler)
	mux.HandleFunc("/engine/tick", s.tickHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Server: listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("api.Server: shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// circleID resolves the circle a request addresses.
func (s *Server) circleID(r *http.Request) string {
	if id := r.Header.Get("X-Circle-ID"); id != "" {
		return id
	}
	return s.defaultCircle
}

// writeJSONResponse writes an APIResponse with the given HTTP status.
func writeJSONResponse(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}
