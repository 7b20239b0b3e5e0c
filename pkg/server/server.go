// Package server exposes the controller's observability and control surface
// over HTTP: cycle results, plan, ledger, settings, overrides, and a
// websocket stream of completed cycles.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/pipeline"
	"github.com/Bokbacken/energy-dispatcher/pkg/storage"
	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/mux"
	"github.com/levenlabs/go-lflag"
)

// Server handles the HTTP API for the dispatcher.
type Server struct {
	pipeline *pipeline.Pipeline
	storage  storage.Database
	hub      *hub

	listenAddr string
	httpServer *http.Server
}

// Configured initializes the Server with dependencies and registers its
// flags. Completed cycles are pushed to websocket subscribers.
func Configured(p *pipeline.Pipeline, s storage.Database) *Server {
	srv := &Server{
		pipeline: p,
		storage:  s,
		hub:      newHub(),
	}

	listenAddr := lflag.String("http-listen", ":8080", "HTTP server listen address")
	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	p.Subscribe(srv.hub.BroadcastJSON)
	return srv
}

// New creates a Server without flag registration, for tests.
func New(p *pipeline.Pipeline, s storage.Database) *Server {
	srv := &Server{pipeline: p, storage: s, hub: newHub()}
	p.Subscribe(srv.hub.BroadcastJSON)
	return srv
}

// Handler returns the full HTTP handler chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/cycle", s.handleRunCycle).Methods(http.MethodPost)
	api.HandleFunc("/cycle", s.handleGetCycle).Methods(http.MethodGet)
	api.HandleFunc("/plan", s.handleGetPlan).Methods(http.MethodGet)
	api.HandleFunc("/baseline", s.handleGetBaseline).Methods(http.MethodGet)
	api.HandleFunc("/reserve", s.handleGetReserve).Methods(http.MethodGet)
	api.HandleFunc("/ledger", s.handleGetLedger).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	api.HandleFunc("/override", s.handleSetOverride).Methods(http.MethodPost)
	api.HandleFunc("/override", s.handleClearOverride).Methods(http.MethodDelete)
	api.HandleFunc("/history/prices", s.handleHistoryPrices).Methods(http.MethodGet)
	api.HandleFunc("/history/cycles", s.handleHistoryCycles).Methods(http.MethodGet)

	// the websocket upgrade needs the raw connection, so it mounts outside
	// the gzip wrapper
	root := http.NewServeMux()
	root.Handle("/api/ws", http.HandlerFunc(s.handleWS))
	root.Handle("/", gziphandler.GzipHandler(r))
	return root
}

// Run starts the HTTP server and blocks until ctx is canceled or the server
// fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}
