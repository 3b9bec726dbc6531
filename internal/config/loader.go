// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PIPEMGR_"

// ErrUnknownConfigField marks strict decode failures caused by a key the
// schema does not define.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader resolves an AppConfig from defaults, an optional YAML file and
// PIPEMGR_* environment overrides, in that order.
type Loader struct {
	configPath string
	version    string

	// ConsumedEnvKeys holds every environment key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader returns a Loader for configPath; an empty path skips the file.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configuration file path, empty for ENV-only setups.
func (l *Loader) Path() string {
	return l.configPath
}

// Load decodes the file strictly, applies env overrides and validates the
// result. The partially resolved config is returned alongside any error.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg. Keys absent from the file keep
// their current values.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	// #nosec G304 -- operator supplied path
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if unknownField(err) {
			return fmt.Errorf("decode %s: %w: %w", path, ErrUnknownConfigField, err)
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	override(l, "LOG_LEVEL", &cfg.LogLevel, parseString)

	override(l, "SOCKET", &cfg.Socket.Path, parseString)
	override(l, "INSTANCE_ID", &cfg.Socket.InstanceID, strconv.Atoi)

	override(l, "WORKER_PATH", &cfg.Worker.Path, parseString)
	override(l, "WORKER_ARGS", &cfg.Worker.Args, parseFields)
	override(l, "WORKER_INHERIT_OUTPUT", &cfg.Worker.InheritOutput, parseBool)
	override(l, "WORKER_TERMINATE_GRACE", &cfg.Worker.TerminateGrace, time.ParseDuration)
	override(l, "WORKER_KILL_TIMEOUT", &cfg.Worker.KillTimeout, time.ParseDuration)

	override(l, "CLIENT_MODE", &cfg.IPC.ClientMode, parseString)
	override(l, "REQUEST_TIMEOUT", &cfg.IPC.RequestTimeout, time.ParseDuration)
	override(l, "REGISTER_TIMEOUT", &cfg.IPC.RegisterTimeout, time.ParseDuration)
	override(l, "REGISTER_POLL_INTERVAL", &cfg.IPC.RegisterPollInterval, time.ParseDuration)
	override(l, "REGISTER_RETRIES", &cfg.IPC.RegisterRetries, strconv.Atoi)

	override(l, "SPAWN_RATE", &cfg.Spawn.Rate, parseFloat)
	override(l, "SPAWN_BURST", &cfg.Spawn.Burst, strconv.Atoi)

	override(l, "FILES_ROOT", &cfg.Files.Root, parseString)

	override(l, "API_ENABLED", &cfg.API.Enabled, parseBool)
	override(l, "API_LISTEN", &cfg.API.ListenAddr, parseString)
	override(l, "API_RATE_LIMIT", &cfg.API.RateLimit, strconv.Atoi)

	override(l, "TELEMETRY_ENABLED", &cfg.Telemetry.Enabled, parseBool)
	override(l, "TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter, parseString)
	override(l, "OTLP_ENDPOINT", &cfg.Telemetry.Endpoint, parseString)
	override(l, "TELEMETRY_SAMPLING_RATE", &cfg.Telemetry.SamplingRate, parseFloat)
}

// unknownField reports whether a strict decode failed on an unrecognised key.
func unknownField(err error) bool {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return false
	}
	for _, msg := range te.Errors {
		if strings.Contains(msg, " not found in type ") {
			return true
		}
	}
	return false
}
