// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows for process groups in this context.
func Set(cmd *exec.Cmd) {}

// Signal maps SIGKILL to Process.Kill. Other signals are not deliverable on
// Windows and are reported as sent so Terminate escalates after the grace.
func Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return ErrProcessNotFound
	}
	if sig == syscall.SIGKILL {
		return proc.Kill()
	}
	return nil
}

// Alive reports whether a process handle can be opened for pid.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
