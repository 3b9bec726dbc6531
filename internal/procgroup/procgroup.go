// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup signals worker process groups and escalates termination.
package procgroup

import (
	"errors"
	"syscall"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Terminate stops the process group led by pid.
// It sends SIGTERM, waits for exited to close, and if that does not happen
// within grace, sends SIGKILL and waits up to killTimeout more.
// exited must be closed by whoever reaps the process.
func Terminate(pid int, exited <-chan struct{}, grace, killTimeout time.Duration) error {
	if pid <= 0 {
		return nil
	}

	recordSignal("SIGTERM", Signal(pid, syscall.SIGTERM))

	select {
	case <-exited:
		metrics.IncProcWait("graceful")
		return nil
	case <-time.After(grace):
	}

	logger := log.WithComponent("procgroup")
	logger.Warn().
		Int(log.FieldPID, pid).
		Dur("grace", grace).
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	recordSignal("SIGKILL", Signal(pid, syscall.SIGKILL))

	select {
	case <-exited:
		metrics.IncProcWait("forced")
		return nil
	case <-time.After(killTimeout):
		metrics.IncProcWait("stuck")
		return ErrKillFailed
	}
}

func recordSignal(sig string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTerminate(sig, "sent")
	case errors.Is(err, ErrProcessNotFound):
		metrics.IncProcTerminate(sig, "esrch")
	default:
		metrics.IncProcTerminate(sig, "error")
	}
}
