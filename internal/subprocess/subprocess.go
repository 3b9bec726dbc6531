// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subprocess owns one worker child process: starting it, probing its
// liveness, terminating it and notifying an owner exactly once when it exits.
package subprocess

import (
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	DefaultTerminateGrace = 3 * time.Second
	DefaultKillTimeout    = 2 * time.Second
)

// Option configures a Process.
type Option func(*Process)

// WithTerminateGrace sets how long Terminate waits after SIGTERM before SIGKILL.
func WithTerminateGrace(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.grace = d
		}
	}
}

// WithKillTimeout bounds the wait for reaping after SIGKILL.
func WithKillTimeout(d time.Duration) Option {
	return func(p *Process) {
		if d > 0 {
			p.killTimeout = d
		}
	}
}

// WithOutput redirects the child's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Process) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// WithEnv appends environment entries for the child.
func WithEnv(env ...string) Option {
	return func(p *Process) {
		p.env = append(p.env, env...)
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Process) {
		p.logger = l
	}
}

// Process is a handle to one child program started from an argument vector.
// The zero value is not usable; use New.
type Process struct {
	argv        []string
	env         []string
	stdout      io.Writer
	stderr      io.Writer
	grace       time.Duration
	killTimeout time.Duration
	logger      zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	pid       int // -1 when not running or already terminated
	exited    chan struct{}
	exitErr   error
	watching  bool
	watchDone chan struct{}
}

// New prepares a process for argv. Nothing is started until Execute.
func New(argv []string, opts ...Option) *Process {
	p := &Process{
		argv:        append([]string(nil), argv...),
		grace:       DefaultTerminateGrace,
		killTimeout: DefaultKillTimeout,
		logger:      log.WithComponent("subprocess"),
		pid:         -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute starts the configured argv in its own process group.
// It returns false when argv is empty, a process is already running, or the
// program could not be started. There is no retry.
func (p *Process) Execute() bool {
	if len(p.argv) == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid > 0 && !p.hasExited() {
		return false
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	procgroup.Set(cmd)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}

	if err := cmd.Start(); err != nil {
		metrics.IncProcSpawn("error")
		p.logger.Error().
			Err(err).
			Str(log.FieldEvent, "subprocess.start_failed").
			Str("program", p.argv[0]).
			Msg("failed to start child process")
		return false
	}
	metrics.IncProcSpawn("started")

	exited := make(chan struct{})
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.exited = exited
	p.exitErr = nil

	// The reaper is always running so a dead child never lingers as a zombie
	// and Terminate can observe the exit.
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(exited)
	}()

	p.logger.Debug().
		Int(log.FieldPID, p.pid).
		Strs("argv", p.argv).
		Str(log.FieldEvent, "subprocess.started").
		Msg("child process started")
	return true
}

// Poll reports whether the child is still alive. It never blocks and is safe
// to call repeatedly; once it returns false it keeps returning false.
func (p *Process) Poll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid <= 0 || p.hasExited() {
		return false
	}
	return procgroup.Alive(p.pid)
}

// EnableWaitNotify starts the single watcher that invokes cb once after the
// child exits. It fails when no process is running or a watcher is active.
func (p *Process) EnableWaitNotify(cb func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watching {
		return false
	}
	if p.pid <= 0 || p.hasExited() {
		return false
	}

	exited := p.exited
	done := make(chan struct{})
	p.watching = true
	p.watchDone = done

	go func() {
		<-exited
		if cb != nil {
			cb()
		}
		p.mu.Lock()
		p.watching = false
		p.mu.Unlock()
		close(done)
	}()
	return true
}

// Terminate stops the child if it is still alive and marks the handle gone.
// SIGTERM is sent to the process group first; SIGKILL follows after the
// grace period. Calling it on a dead or terminated handle is a no-op.
func (p *Process) Terminate() {
	p.mu.Lock()
	pid := p.pid
	exited := p.exited
	if pid <= 0 {
		p.mu.Unlock()
		return
	}
	p.pid = -1
	p.mu.Unlock()

	select {
	case <-exited:
		return
	default:
	}

	if err := procgroup.Terminate(pid, exited, p.grace, p.killTimeout); err != nil {
		p.logger.Error().
			Err(err).
			Int(log.FieldPID, pid).
			Str(log.FieldEvent, "subprocess.terminate_failed").
			Msg("child process did not exit after SIGKILL")
		return
	}
	p.logger.Debug().
		Int(log.FieldPID, pid).
		Str(log.FieldEvent, "subprocess.terminated").
		Msg("child process terminated")
}

// Close terminates the child if running and then blocks until an in-flight
// watcher callback has fully returned. After Close the owner may be released.
func (p *Process) Close() {
	p.Terminate()

	p.mu.Lock()
	done := p.watchDone
	watching := p.watching
	p.mu.Unlock()

	if watching && done != nil {
		<-done
	}
}

// Argv returns a copy of the configured command line.
func (p *Process) Argv() []string {
	return append([]string(nil), p.argv...)
}

// Pid returns the child's pid, or -1 when nothing is running.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Done is closed once the child has been reaped. It is nil before Execute.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitErr returns the error from waiting on the child, valid after Done.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) hasExited() bool {
	if p.exited == nil {
		return true
	}
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}
