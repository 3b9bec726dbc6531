// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the pipeline manager, the control API, configuration
// reloads and local mode into one process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/pipemgr/internal/config"
	"github.com/ManuGH/pipemgr/internal/control/api"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds the shutdown hooks.
const DefaultShutdownTimeout = 30 * time.Second

// Runner is a finite job run inside the daemon, such as local mode. The
// daemon exits once it returns.
type Runner interface {
	Run(ctx context.Context) error
}

// Deps contains the components an App runs.
type Deps struct {
	Logger    zerolog.Logger
	Pipelines *pipeline.Manager

	// API is optional.
	API            *api.Server
	APIGracePeriod time.Duration
	// Config enables file watching and SIGHUP reloads when set.
	Config *config.Holder
	// Local, when set, runs once and then ends the daemon.
	Local Runner

	ShutdownTimeout time.Duration
}

// App owns the long-lived runtime lifecycle.
type App struct {
	logger          zerolog.Logger
	pipelines       *pipeline.Manager
	api             *api.Server
	apiGrace        time.Duration
	cfg             *config.Holder
	local           Runner
	shutdownTimeout time.Duration
	reloadSignal    os.Signal

	hooks   hookList
	running atomic.Bool
}

// NewApp validates deps.
func NewApp(deps Deps) (*App, error) {
	if deps.Pipelines == nil {
		return nil, ErrMissingPipelines
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = DefaultShutdownTimeout
	}
	if deps.APIGracePeriod <= 0 {
		deps.APIGracePeriod = 10 * time.Second
	}

	a := &App{
		logger:          deps.Logger,
		pipelines:       deps.Pipelines,
		api:             deps.API,
		apiGrace:        deps.APIGracePeriod,
		cfg:             deps.Config,
		local:           deps.Local,
		shutdownTimeout: deps.ShutdownTimeout,
		reloadSignal:    syscall.SIGHUP,
	}
	if a.cfg != nil {
		a.cfg.OnReload(a.applyReload)
	}
	return a, nil
}

// RegisterShutdownHook registers a cleanup function to be called during
// shutdown, after every pipeline has been torn down.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.hooks.add(name, hook)
	a.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Run binds the control socket, starts every subsystem and blocks until ctx
// is cancelled, a subsystem fails or local mode completes. Shutdown hooks
// always run before Run returns.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := a.pipelines.Start(); err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str(log.FieldSocket, a.pipelines.SocketPath()).
		Msg("pipeline manager started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.pipelines.Serve(gctx); err != nil {
			return fmt.Errorf("control socket: %w", err)
		}
		return nil
	})

	if a.api != nil {
		g.Go(func() error {
			if err := a.api.ListenAndServe(gctx, a.apiGrace); err != nil {
				return fmt.Errorf("control api: %w", err)
			}
			return nil
		})
	}

	if a.cfg != nil {
		// Watcher is best-effort: startup does not fail without it.
		if err := a.cfg.Watch(gctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		if a.reloadSignal != nil {
			g.Go(func() error {
				a.reloadOnSignal(gctx)
				return nil
			})
		}
	}

	if a.local != nil {
		g.Go(func() error {
			if err := a.local.Run(gctx); err != nil {
				return fmt.Errorf("local mode: %w", err)
			}
			return errLocalModeDone
		})
	}

	err := g.Wait()
	if errors.Is(err, errLocalModeDone) {
		err = nil
	}
	if err != nil {
		a.logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("subsystem failed, shutting down")
	}
	if a.cfg != nil {
		a.cfg.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	if perr := a.pipelines.Shutdown(shutdownCtx); perr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown pipelines: %w", perr))
	}
	if hookErr := a.hooks.run(shutdownCtx, a.logger); hookErr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown: %w", hookErr))
	}

	if err == nil {
		a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped cleanly")
	}
	return err
}

func (a *App) reloadOnSignal(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, a.reloadSignal)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			a.logger.Info().
				Str(log.FieldEvent, "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("received reload signal, reloading config")
			if err := a.cfg.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
			}
		}
	}
}

// applyReload applies the settings that are safe to change at runtime and
// reports the rest.
func (a *App) applyReload(old, updated config.AppConfig) {
	if old.Spawn != updated.Spawn {
		a.pipelines.SetSpawnRate(updated.Spawn.Rate, updated.Spawn.Burst)
		a.logger.Info().
			Str(log.FieldEvent, "config.spawn_rate_changed").
			Float64("rate", updated.Spawn.Rate).
			Int("burst", updated.Spawn.Burst).
			Msg("spawn rate updated")
	}

	if restartRequired(old, updated) {
		a.logger.Warn().
			Str(log.FieldEvent, "config.restart_required").
			Msg("socket, worker, ipc or api settings changed; restart to apply")
	}
}

func restartRequired(old, updated config.AppConfig) bool {
	return old.SocketPath() != updated.SocketPath() ||
		old.Worker.Path != updated.Worker.Path ||
		old.IPC != updated.IPC ||
		old.API != updated.API
}
