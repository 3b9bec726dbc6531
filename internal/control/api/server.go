// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the HTTP control API in front of the pipeline manager.
package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/pipemgr/internal/control/middleware"
	"github.com/ManuGH/pipemgr/internal/health"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/ManuGH/pipemgr/internal/pipeline/bus"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Manager is the subset of *pipeline.Manager the API drives.
type Manager interface {
	AddPipeline(ctx context.Context, id int, launch, config string) model.Status
	DeletePipeline(ctx context.Context, id int) model.Status
	PlayPipeline(ctx context.Context, id int) model.Status
	PausePipeline(ctx context.Context, id int) model.Status
	StopPipeline(ctx context.Context, id int) model.Status
	ModifyPipeline(ctx context.Context, id int, config string) model.Status
	SetChannel(ctx context.Context, id int, element string, channel int) model.Status
	GetAll() []int
	Describe(id int) (pipeline.Info, bool)
	RemoveAll(ctx context.Context) model.Status
	NextID() int
	LoadFile(ctx context.Context, data []byte, dst string, mode fs.FileMode, flag model.FileFlag) model.Status
	UnloadFile(ctx context.Context, dst string) model.Status
	Events() *bus.MemoryBus
}

var _ Manager = (*pipeline.Manager)(nil)

// Config configures the HTTP server.
type Config struct {
	ListenAddr        string
	RateLimit         int
	EnableTracing     bool
	HeartbeatInterval time.Duration

	// Version is reported by /healthz; Checkers feed /readyz.
	Version  string
	Checkers []health.Checker
}

// Server exposes a Manager over HTTP.
type Server struct {
	cfg     Config
	mgr     Manager
	logger  zerolog.Logger
	health  *health.Registry
	handler http.Handler
	srv     *http.Server
}

// NewServer builds the router. Nothing listens until ListenAndServe.
func NewServer(cfg Config, mgr Manager) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		logger: log.WithComponent("api"),
		health: health.NewRegistry(cfg.Version),
	}
	s.health.Register(health.Func("pipelines", s.checkPipelines))
	for _, c := range cfg.Checkers {
		s.health.Register(c)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	stack := middleware.StackConfig{
		EnableMetrics: true,
		EnableLogging: true,
		RateLimit:     s.cfg.RateLimit,
	}
	if s.cfg.EnableTracing {
		stack.TracingService = "pipemgr/api"
	}
	r := middleware.NewRouter(stack)

	r.Get("/healthz", s.health.ServeLiveness)
	r.Get("/readyz", s.health.ServeReadiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pipelines", s.handleList)
		r.Post("/pipelines", s.handleCreate)
		r.Delete("/pipelines", s.handleRemoveAll)

		r.Route("/pipelines/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/play", s.handlePlay)
			r.Post("/pause", s.handlePause)
			r.Post("/stop", s.handleStop)
			r.Put("/config", s.handleModify)
			r.Post("/channel", s.handleSetChannel)
		})

		r.Post("/files", s.handleLoadFile)
		r.Delete("/files", s.handleUnloadFile)

		r.Get("/events", s.handleEvents)
	})
	return r
}

// ListenAndServe serves until ctx ends, then shuts down within grace.
func (s *Server) ListenAndServe(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln, grace)
}

// Serve serves on ln until ctx ends, then shuts down within grace.
func (s *Server) Serve(ctx context.Context, ln net.Listener, grace time.Duration) error {
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(log.FieldEvent, "api.listen").
			Str("addr", ln.Addr().String()).
			Msg("control API listening")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	<-errCh
	if err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	return nil
}
