// Package server exposes recorded runs and their frame probes over a
// read-only JSON API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/store"
)

// Version is reported by the health and discovery endpoints.
const Version = "0.1.0"

// Server is the rrsched probe API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	scheduler scheduler.Scheduler
	liveRunID string
	running   chan struct{}
	schedErr  error
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithScheduler attaches a live frame loop recording into runID.
func WithScheduler(sched scheduler.Scheduler, runID string) Option {
	return func(s *Server) {
		s.scheduler = sched
		s.liveRunID = runID
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartScheduler runs the attached frame loop in a background goroutine. Call
// it before serving requests.
// The returned channel is closed when the loop returns.
func (s *Server) StartScheduler(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.scheduler == nil {
		close(done)
		return done
	}
	s.running = done
	go func() {
		defer close(done)
		if err := s.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler stopped", "error", err)
			s.schedErr = err
		}
	}()
	return done
}

// SchedulerErr returns the error the attached loop failed with. It is only
// meaningful after the channel returned by StartScheduler is closed.
func (s *Server) SchedulerErr() error {
	return s.schedErr
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/frames", s.handleListFrames)
				r.Get("/summary", s.handleRunSummary)
			})
		})
	})
}
