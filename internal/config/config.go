// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the pipemgr daemon configuration.
package config

import (
	"os"
	"time"

	"github.com/ManuGH/pipemgr/internal/ipc"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/ManuGH/pipemgr/internal/subprocess"
)

// AppConfig is the complete daemon configuration. The YAML layout mirrors
// the struct; every field is optional in the file.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"logLevel"`

	Socket    SocketConfig    `yaml:"socket"`
	Worker    WorkerConfig    `yaml:"worker"`
	IPC       IPCConfig       `yaml:"ipc"`
	Spawn     SpawnConfig     `yaml:"spawn"`
	Files     FilesConfig     `yaml:"files"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// SocketConfig selects the control socket. A non-negative InstanceID is
// appended to Path so several managers can share a host.
type SocketConfig struct {
	Path       string `yaml:"path"`
	InstanceID int    `yaml:"instanceId"`
}

// WorkerConfig describes how workers are launched.
type WorkerConfig struct {
	Path           string        `yaml:"path"`
	Args           []string      `yaml:"args"`
	Env            []string      `yaml:"env"`
	InheritOutput  bool          `yaml:"inheritOutput"`
	TerminateGrace time.Duration `yaml:"terminateGrace"`
	KillTimeout    time.Duration `yaml:"killTimeout"`
}

// IPCConfig tunes the control connection.
type IPCConfig struct {
	ClientMode           string        `yaml:"clientMode"`
	RequestTimeout       time.Duration `yaml:"requestTimeout"`
	RegisterTimeout      time.Duration `yaml:"registerTimeout"`
	RegisterPollInterval time.Duration `yaml:"registerPollInterval"`
	RegisterRetries      int           `yaml:"registerRetries"`
}

// SpawnConfig limits the worker launch rate.
type SpawnConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// FilesConfig restricts LoadFile destinations.
type FilesConfig struct {
	Root string `yaml:"root"`
}

// APIConfig controls the HTTP control API.
type APIConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listenAddr"`
	RateLimit       int           `yaml:"rateLimit"` // requests per minute per client IP
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	pc := pipeline.DefaultConfig()
	return AppConfig{
		LogLevel: "info",
		Socket: SocketConfig{
			Path:       ipc.DefaultSocketPath,
			InstanceID: -1,
		},
		Worker: WorkerConfig{
			Path:           pc.WorkerPath,
			TerminateGrace: subprocess.DefaultTerminateGrace,
			KillTimeout:    subprocess.DefaultKillTimeout,
		},
		IPC: IPCConfig{
			ClientMode:           pc.ClientMode,
			RequestTimeout:       pc.RequestTimeout,
			RegisterTimeout:      pc.RegisterTimeout,
			RegisterPollInterval: pc.RegisterPollInterval,
			RegisterRetries:      pc.RegisterRetries,
		},
		Spawn: SpawnConfig{
			Rate:  pc.SpawnRate,
			Burst: pc.SpawnBurst,
		},
		API: APIConfig{
			Enabled:         true,
			ListenAddr:      "127.0.0.1:8787",
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// SocketPath returns the effective control socket path.
func (c AppConfig) SocketPath() string {
	return ipc.SocketName(c.Socket.Path, c.Socket.InstanceID)
}

// Pipeline converts the configuration into manager settings.
func (c AppConfig) Pipeline() pipeline.Config {
	pc := pipeline.Config{
		SocketPath:           c.SocketPath(),
		WorkerPath:           c.Worker.Path,
		WorkerArgs:           append([]string(nil), c.Worker.Args...),
		WorkerEnv:            append([]string(nil), c.Worker.Env...),
		RequestTimeout:       c.IPC.RequestTimeout,
		RegisterTimeout:      c.IPC.RegisterTimeout,
		RegisterPollInterval: c.IPC.RegisterPollInterval,
		RegisterRetries:      c.IPC.RegisterRetries,
		TerminateGrace:       c.Worker.TerminateGrace,
		KillTimeout:          c.Worker.KillTimeout,
		ClientMode:           c.IPC.ClientMode,
		SpawnRate:            c.Spawn.Rate,
		SpawnBurst:           c.Spawn.Burst,
		FilesRoot:            c.Files.Root,
	}
	if c.Worker.InheritOutput {
		pc.WorkerOutput = os.Stderr
	}
	return pc
}
