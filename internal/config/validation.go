// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/ManuGH/pipemgr/internal/validate"
)

// Validate checks every field of cfg and reports all failures at once.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.LogLevel("logLevel", cfg.LogLevel)

	v.NotEmpty("socket.path", cfg.Socket.Path)
	v.Range("socket.instanceId", cfg.Socket.InstanceID, -1, 1<<16)

	v.NotEmpty("worker.path", cfg.Worker.Path)
	v.PositiveDuration("worker.terminateGrace", cfg.Worker.TerminateGrace)
	v.PositiveDuration("worker.killTimeout", cfg.Worker.KillTimeout)

	v.OneOf("ipc.clientMode", cfg.IPC.ClientMode, []string{pipeline.ClientAsync, pipeline.ClientSync})
	v.PositiveDuration("ipc.requestTimeout", cfg.IPC.RequestTimeout)
	v.PositiveDuration("ipc.registerTimeout", cfg.IPC.RegisterTimeout)
	v.PositiveDuration("ipc.registerPollInterval", cfg.IPC.RegisterPollInterval)
	v.Range("ipc.registerRetries", cfg.IPC.RegisterRetries, 1, 100000)

	v.PositiveFloat("spawn.rate", cfg.Spawn.Rate)
	v.Positive("spawn.burst", cfg.Spawn.Burst)

	v.AbsolutePath("files.root", cfg.Files.Root)

	if cfg.API.Enabled {
		v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
		v.NonNegative("api.rateLimit", cfg.API.RateLimit)
		v.PositiveDuration("api.shutdownTimeout", cfg.API.ShutdownTimeout)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http", "noop"})
		if cfg.Telemetry.Exporter != "noop" {
			v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		}
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
