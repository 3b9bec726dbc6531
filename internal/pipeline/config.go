// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"io"
	"time"

	"github.com/ManuGH/pipemgr/internal/ipc"
	"github.com/ManuGH/pipemgr/internal/subprocess"
)

// Client modes for the worker control connection.
//
// ClientAsync multiplexes requests over a reader goroutine; a caller whose
// context ends simply stops waiting and the connection stays usable.
//
// ClientSync reads the response on the caller's goroutine. A context that
// ends mid-request leaves the stream at an unknown offset, so the connection
// is closed. The worker then exits and the pipeline is removed as crashed.
const (
	ClientAsync = "async"
	ClientSync  = "sync"
)

const (
	DefaultRegisterPollInterval = 100 * time.Millisecond
	DefaultRegisterRetries      = 100
	DefaultSpawnRate            = 20.0
	DefaultSpawnBurst           = 5
)

// Config controls how the manager launches and talks to workers.
type Config struct {
	// SocketPath is the control socket workers connect back to.
	SocketPath string
	// WorkerPath is the worker executable; WorkerArgs precede the
	// "-u <socket> -i <id>" arguments.
	WorkerPath string
	WorkerArgs []string
	WorkerEnv  []string
	// WorkerOutput receives worker stdout/stderr; nil discards it.
	WorkerOutput io.Writer

	RequestTimeout       time.Duration
	RegisterTimeout      time.Duration
	RegisterPollInterval time.Duration
	RegisterRetries      int
	TerminateGrace       time.Duration
	KillTimeout          time.Duration
	ClientMode           string

	// SpawnRate limits worker launches per second; SpawnBurst is the bucket.
	SpawnRate  float64
	SpawnBurst int

	// FilesRoot restricts LoadFile destinations. Empty allows any absolute path.
	FilesRoot string
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath:           ipc.DefaultSocketPath,
		WorkerPath:           "pipeworker",
		RequestTimeout:       ipc.DefaultRequestTimeout,
		RegisterTimeout:      ipc.DefaultRegisterTimeout,
		RegisterPollInterval: DefaultRegisterPollInterval,
		RegisterRetries:      DefaultRegisterRetries,
		TerminateGrace:       subprocess.DefaultTerminateGrace,
		KillTimeout:          subprocess.DefaultKillTimeout,
		ClientMode:           ClientAsync,
		SpawnRate:            DefaultSpawnRate,
		SpawnBurst:           DefaultSpawnBurst,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SocketPath == "" {
		c.SocketPath = d.SocketPath
	}
	if c.WorkerPath == "" {
		c.WorkerPath = d.WorkerPath
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = d.RegisterTimeout
	}
	if c.RegisterPollInterval <= 0 {
		c.RegisterPollInterval = d.RegisterPollInterval
	}
	if c.RegisterRetries <= 0 {
		c.RegisterRetries = d.RegisterRetries
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = d.TerminateGrace
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = d.KillTimeout
	}
	if c.ClientMode == "" {
		c.ClientMode = d.ClientMode
	}
	if c.SpawnRate <= 0 {
		c.SpawnRate = d.SpawnRate
	}
	if c.SpawnBurst <= 0 {
		c.SpawnBurst = d.SpawnBurst
	}
	return c
}
