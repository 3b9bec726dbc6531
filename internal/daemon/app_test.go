// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/pipemgr/internal/config"
	"github.com/ManuGH/pipemgr/internal/ipc"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are length limited; t.TempDir can be too deep.
	dir, err := os.MkdirTemp("", "pmd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func newApp(t *testing.T, mutate func(*Deps)) *App {
	t.Helper()
	deps := Deps{
		Logger:          zerolog.Nop(),
		Pipelines:       pipeline.NewManager(pipeline.Config{SocketPath: socketPath(t)}),
		ShutdownTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&deps)
	}
	app, err := NewApp(deps)
	require.NoError(t, err)
	app.reloadSignal = nil
	return app
}

func TestNewAppRequiresPipelines(t *testing.T) {
	_, err := NewApp(Deps{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrMissingPipelines)
}

func TestRunUntilCancelled(t *testing.T) {
	app := newApp(t, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	app.RegisterShutdownHook("first", record("first"))
	app.RegisterShutdownHook("second", record("second"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	sock := app.pipelines.SocketPath()
	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, app.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, []string{"second", "first"}, order)
	_, err := os.Stat(sock)
	assert.True(t, os.IsNotExist(err), "socket should be removed")
}

func TestRunEndsWhenLocalModeFinishes(t *testing.T) {
	var ran bool
	app := newApp(t, func(d *Deps) {
		d.Local = runnerFunc(func(context.Context) error {
			ran = true
			return nil
		})
	})

	require.NoError(t, app.Run(context.Background()))
	assert.True(t, ran)
}

func TestRunReportsLocalModeFailure(t *testing.T) {
	boom := errors.New("boom")
	app := newApp(t, func(d *Deps) {
		d.Local = runnerFunc(func(context.Context) error { return boom })
	})

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunJoinsHookErrors(t *testing.T) {
	hookErr := errors.New("flush failed")
	app := newApp(t, func(d *Deps) {
		d.Local = runnerFunc(func(context.Context) error { return nil })
	})
	app.RegisterShutdownHook("flaky", func(context.Context) error { return hookErr })

	err := app.Run(context.Background())
	assert.ErrorIs(t, err, hookErr)
}

func TestRunFailsWhenSocketTaken(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.Mkdir(path, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(path, "busy"), nil, 0o600))

	app := newApp(t, func(d *Deps) {
		d.Pipelines = pipeline.NewManager(pipeline.Config{SocketPath: path})
	})
	assert.Error(t, app.Run(context.Background()))
}

func TestRestartRequired(t *testing.T) {
	base := config.Default()

	same := base
	same.LogLevel = "debug"
	same.Spawn.Rate = 99
	assert.False(t, restartRequired(base, same))

	moved := base
	moved.Socket.InstanceID = 4
	assert.True(t, restartRequired(base, moved))

	api := base
	api.API.ListenAddr = "127.0.0.1:9999"
	assert.True(t, restartRequired(base, api))
}

func TestApplyReloadRetunesSpawn(t *testing.T) {
	app := newApp(t, nil)
	old := config.Default()
	updated := old
	updated.Spawn.Rate = 123
	updated.Spawn.Burst = 7

	// Must not panic and must accept the new limiter settings.
	app.applyReload(old, updated)
	app.applyReload(updated, updated)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	sock := socketPath(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"logLevel: warn\n"+
			"socket:\n  path: "+sock+"\n"+
			"api:\n  enabled: false\n"), 0o600))

	app, err := Build(context.Background(), Options{
		Version:    "test",
		ConfigPath: cfgPath,
		InstanceID: 3,
		LogOutput:  os.Stderr,
	})
	require.NoError(t, err)
	assert.Nil(t, app.api)
	assert.Nil(t, app.local)
	assert.Equal(t, ipc.SocketName(sock, 3), app.pipelines.SocketPath())
	assert.Equal(t, "warn", app.cfg.Get().LogLevel)
}

func TestBuildLocalMode(t *testing.T) {
	dir := t.TempDir()
	sock := socketPath(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("socket:\n  path: "+sock+"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "launch.txt"), []byte("src ! sink"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o600))
	localPath := filepath.Join(dir, "local.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte(
		"local_mode:\n  - launch: launch.txt\n    config: config.json\n    num: 1\n"), 0o600))

	app, err := Build(context.Background(), Options{
		ConfigPath:    cfgPath,
		InstanceID:    -1,
		LocalFile:     localPath,
		LocalDuration: time.Second,
		DisableAPI:    true,
		LogOutput:     os.Stderr,
	})
	require.NoError(t, err)
	assert.NotNil(t, app.local)
	assert.Nil(t, app.api)

	_, err = Build(context.Background(), Options{
		ConfigPath: cfgPath,
		InstanceID: -1,
		LocalFile:  filepath.Join(dir, "missing.yaml"),
		LogOutput:  os.Stderr,
	})
	assert.Error(t, err)
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bogus: 1\n"), 0o600))

	_, err := Build(context.Background(), Options{ConfigPath: cfgPath, InstanceID: -1})
	assert.ErrorIs(t, err, config.ErrUnknownConfigField)
}
