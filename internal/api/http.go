// SPDX-License-Identifier: MIT

// Package api exposes the daemon's control surface over HTTP: session
// lifecycle endpoints, package queries, hook execution, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/StagOS/android-system-apex/internal/api/middleware"
	"github.com/StagOS/android-system-apex/internal/server"
)

// Options configures the HTTP server.
type Options struct {
	Addr    string
	Service *server.Service
	Logger  zerolog.Logger
	Stack   middleware.StackConfig
}

// Server serves the daemon control API.
type Server struct {
	addr    string
	svc     *server.Service
	logger  zerolog.Logger
	httpSrv *http.Server
}

// New builds a Server with its routes and middleware stack wired.
func New(opts Options) *Server {
	s := &Server{
		addr:   opts.Addr,
		svc:    opts.Service,
		logger: opts.Logger,
	}

	r := middleware.NewRouter(opts.Stack)
	s.routes(r)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleSubmitSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleSessionInfo)
			r.Post("/{id}/ready", s.handleMarkReady)
			r.Post("/{id}/activate", s.handleActivateSession)
			r.Post("/{id}/successful", s.handleMarkSuccessful)
		})
		r.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Get("/{name}", s.handleGetPackage)
			r.Post("/stage", s.handleStagePackages)
			r.Post("/activate", s.handleActivatePackage)
			r.Post("/deactivate", s.handleDeactivatePackage)
		})
		r.Route("/hooks", func(r chi.Router) {
			r.Post("/preinstall", s.handlePreinstall)
			r.Post("/postinstall", s.handlePostinstall)
		})
	})
}

// Handler exposes the fully wired router, used by tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("http.listen")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
