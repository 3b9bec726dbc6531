// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingPipelines is returned when an App is created without a pipeline manager.
	ErrMissingPipelines = errors.New("pipeline manager is required")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("daemon already running")

	// errLocalModeDone ends the run group once local mode has torn down.
	errLocalModeDone = errors.New("local mode finished")
)
