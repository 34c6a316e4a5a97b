// Package server exposes docflow over HTTP: job dispatch and inspection,
// queue maintenance, execution lookup and the notification stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petrijr/docflow/internal/app"
	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/internal/taskqueue"
	"github.com/petrijr/docflow/pkg/notify"
)

// Server is the HTTP API of a running App.
type Server struct {
	app    *app.App
	logger *slog.Logger
	router chi.Router

	listener net.Listener
	server   *http.Server
}

// New builds the router for a.
func New(a *app.App) *Server {
	s := &Server{app: a, logger: a.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	// The stream is long-lived, so it stays outside the timeout group.
	r.Method(http.MethodGet, "/api/notifications/stream",
		notify.NewStreamHandler(a.Hub, a.Config.Server.Heartbeat(), a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Route("/api/jobs", func(r chi.Router) {
			r.Post("/", s.handleDispatch)
			r.Get("/", s.handleListJobs)
			r.Delete("/", s.handleCancelJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/retry", s.handleRetryJob)
		})
		r.Get("/api/queue/stats", s.handleQueueStats)
		r.Post("/api/queue/clean/{state}", s.handleCleanQueue)

		r.Route("/api/executions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetExecution)
			r.Get("/events", s.handleExecutionEvents)
			r.Post("/cancel", s.handleCancelExecution)
		})
	})

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on bind and serves until Stop or ctx is done.
func (s *Server) Start(ctx context.Context, bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.Any("error", err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting up to five seconds for requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("api encode failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeErr maps domain errors to HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskqueue.ErrJobNotFound),
		errors.Is(err, persistence.ErrExecutionNotFound),
		errors.Is(err, persistence.ErrDefinitionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, taskqueue.ErrInvalidState),
		errors.Is(err, engine.ErrExecutionInProgress):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, taskqueue.ErrInvalidField):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("api request failed", slog.Any("error", err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
