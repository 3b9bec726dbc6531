// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// pipeworker is the reference worker: it connects back to the manager's
// control socket, registers its pipeline id and runs a simulated pipeline.
//
// Usage:
//
//	pipeworker -u <socket> -i <id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/worker"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("pipeworker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	socket := fs.String("u", "", "manager control socket")
	id := fs.Int("i", -1, "pipeline id")
	level := fs.String("log-level", "", "log level")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *socket == "" || *id < 0 {
		fmt.Fprintln(stderr, "Usage: pipeworker -u <socket> -i <id>")
		return 2
	}

	log.Configure(log.Config{
		Level:   *level,
		Output:  stderr,
		Service: "pipeworker",
		Version: version,
	})
	logger := log.WithComponent("pipeworker")

	err := worker.Run(ctx, *socket, *id, func(e worker.Emitter) worker.Handler {
		return worker.NewSimHandler(e)
	})
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Int(log.FieldPipelineID, *id).Msg("worker stopped")
		return 1
	}
	return 0
}
