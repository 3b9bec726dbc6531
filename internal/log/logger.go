// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log owns the process-wide zerolog logger and the field names
// shared by every component.
package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultService tags log lines when Config.Service is empty.
const DefaultService = "pipemgr"

// Config describes the process logger. Zero values select info level,
// stdout and DefaultService.
type Config struct {
	Level   string
	Output  io.Writer
	Service string
	Version string
}

var root atomic.Pointer[zerolog.Logger]

func init() {
	Configure(Config{})
}

// Configure replaces the process logger. An unparsable Level keeps info.
func Configure(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}

	ctx := zerolog.New(out).With().Timestamp().Str("service", service)
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	l := ctx.Logger()
	root.Store(&l)
}

// SetLevel changes the global level in place, leaving it untouched when
// level does not parse.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// WithComponent returns a child of the process logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return root.Load().With().Str(FieldComponent, component).Logger()
}
