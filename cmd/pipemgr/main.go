// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// pipemgr supervises media pipeline workers and exposes them over a control
// socket and an HTTP API.
//
// Usage:
//
//	pipemgr [-config file] [-id N] [-local file [-duration d]]
//	pipemgr config validate|dump [-f file]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/pipemgr/internal/config"
	"github.com/ManuGH/pipemgr/internal/daemon"
	"github.com/ManuGH/pipemgr/internal/log"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	showVersion bool
	configPath  string
	instanceID  int
	localFile   string
	duration    time.Duration
	noAPI       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("pipemgr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.StringVar(&o.configPath, "config", "", "path to config file (YAML)")
	fs.IntVar(&o.instanceID, "id", -1, "control socket name suffix")
	fs.StringVar(&o.localFile, "local", "", "run the pipelines described in this file, then exit")
	fs.DurationVar(&o.duration, "duration", 0, "local mode run time (0 runs until signalled)")
	fs.BoolVar(&o.noAPI, "no-api", false, "disable the HTTP control API")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if o.duration < 0 {
		return o, errors.New("-duration must not be negative")
	}
	if o.duration > 0 && o.localFile == "" {
		return o, errors.New("-duration requires -local")
	}
	o.configPath = strings.TrimSpace(o.configPath)
	if o.configPath == "" {
		o.configPath = config.ParseString(config.EnvPrefix+"CONFIG", "")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "config" {
		return runConfigCLI(args[1:], stdout, stderr)
	}

	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if o.showVersion {
		fmt.Fprintf(stdout, "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		return 0
	}

	app, err := daemon.Build(ctx, daemon.Options{
		Version:       version,
		ConfigPath:    o.configPath,
		InstanceID:    o.instanceID,
		LocalFile:     o.localFile,
		LocalDuration: o.duration,
		DisableAPI:    o.noAPI,
		LogOutput:     stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logger := log.WithComponent("main")
	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("config_path", o.configPath).
		Msg("starting pipemgr")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "shutdown.failed").Msg("pipemgr stopped with errors")
		return 1
	}
	return 0
}
