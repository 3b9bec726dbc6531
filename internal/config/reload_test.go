// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderReload(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	path := writeConfig(t, "logLevel: info\n")
	l := NewLoader(path, "")
	initial, err := l.Load()
	require.NoError(t, err)

	h := NewHolder(initial, l)
	var seen atomic.Value
	h.OnReload(func(old, updated AppConfig) { seen.Store(updated.LogLevel) })

	require.NoError(t, os.WriteFile(path, []byte("logLevel: warn\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, "warn", h.Get().LogLevel)
	assert.Equal(t, "warn", seen.Load())
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// An invalid file keeps the previous configuration.
	require.NoError(t, os.WriteFile(path, []byte("logLevel: loud\n"), 0o600))
	assert.Error(t, h.Reload(context.Background()))
	assert.Equal(t, "warn", h.Get().LogLevel)
}

func TestHolderWatch(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	path := writeConfig(t, "logLevel: info\n")
	l := NewLoader(path, "")
	initial, err := l.Load()
	require.NoError(t, err)
	h := NewHolder(initial, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.Wait()
	}()
	require.NoError(t, h.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("logLevel: error\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Get().LogLevel == "error"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHolderWatchWithoutFile(t *testing.T) {
	h := NewHolder(Default(), NewLoader("", ""))
	assert.NoError(t, h.Watch(context.Background()))
	h.Wait()
}
