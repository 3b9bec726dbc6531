// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/pipemgr/internal/config"
	"github.com/ManuGH/pipemgr/internal/control/api"
	"github.com/ManuGH/pipemgr/internal/health"
	"github.com/ManuGH/pipemgr/internal/localmode"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/ManuGH/pipemgr/internal/telemetry"
)

// Options are the command line inputs to Build.
type Options struct {
	Version    string
	ConfigPath string
	// InstanceID overrides the configured socket suffix when non-negative.
	InstanceID int
	// LocalFile switches to local mode; LocalDuration bounds the run, zero
	// runs until the process is signalled.
	LocalFile     string
	LocalDuration time.Duration
	// DisableAPI turns the HTTP control API off regardless of config.
	DisableAPI bool
	LogOutput  io.Writer
}

// Build loads configuration, configures logging and telemetry and assembles
// an App ready to Run.
func Build(ctx context.Context, opts Options) (*App, error) {
	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.InstanceID >= 0 {
		cfg.Socket.InstanceID = opts.InstanceID
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  opts.LogOutput,
		Service: "pipemgr",
		Version: opts.Version,
	})
	logger := log.WithComponent("daemon")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "pipemgr",
		ServiceVersion: opts.Version,
		Environment:    "production",
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry initialization failed, continuing without tracing")
		provider = nil
	} else if cfg.Telemetry.Enabled {
		logger.Info().
			Str("exporter", cfg.Telemetry.Exporter).
			Str("endpoint", cfg.Telemetry.Endpoint).
			Float64("sampling_rate", cfg.Telemetry.SamplingRate).
			Msg("telemetry initialized")
	}

	pipelines := pipeline.NewManager(cfg.Pipeline(),
		pipeline.WithLogger(log.WithComponent("pipeline")),
		pipeline.WithTracer(telemetry.Tracer("pipemgr/pipeline")),
	)

	deps := Deps{
		Logger:         logger,
		Pipelines:      pipelines,
		Config:         config.NewHolder(cfg, loader),
		APIGracePeriod: cfg.API.ShutdownTimeout,
	}

	if cfg.API.Enabled && !opts.DisableAPI {
		deps.API = api.NewServer(api.Config{
			ListenAddr:    cfg.API.ListenAddr,
			RateLimit:     cfg.API.RateLimit,
			EnableTracing: cfg.Telemetry.Enabled,
			Version:       opts.Version,
			Checkers: []health.Checker{
				health.Socket("control_socket", pipelines.SocketPath()),
				health.Executable("worker", cfg.Worker.Path),
			},
		}, pipelines)
	}

	if opts.LocalFile != "" {
		jobs, err := localmode.Load(opts.LocalFile)
		if err != nil {
			return nil, err
		}
		deps.Local = localmode.NewRunner(pipelines, jobs, opts.LocalDuration)
		logger.Info().
			Str(log.FieldPath, opts.LocalFile).
			Int("entries", len(jobs)).
			Dur("duration", opts.LocalDuration).
			Msg("local mode enabled")
	}

	app, err := NewApp(deps)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		app.RegisterShutdownHook("telemetry", provider.Shutdown)
	}
	return app, nil
}
