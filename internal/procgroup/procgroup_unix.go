// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

// Set configures the command to start in a new process group.
// Mandatory for Signal to reach the whole worker tree.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal sends sig to the process group led by pid, falling back to the
// single process when the group cannot be addressed.
// ErrProcessNotFound is returned when nothing is left to signal.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrProcessNotFound
	}
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		// Not a group leader (Set not applied) or already gone.
		err = syscall.Kill(pid, sig)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotFound
		}
	}
	return err
}

// Alive reports whether pid can still be signalled (signal 0 probe).
// A reaped process is reported as gone; an unreaped zombie still counts.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
