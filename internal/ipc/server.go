// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	// DefaultSocketPath is the control socket used when none is configured.
	DefaultSocketPath = "/tmp/pipemgr.sock"

	// DefaultRegisterTimeout bounds the wait for REGISTER_EVENT after accept.
	DefaultRegisterTimeout = 5 * time.Second
)

var (
	ErrAddrInUse     = errors.New("ipc: control socket served by another process")
	ErrServerClosed  = errors.New("ipc: server closed")
	ErrNotListening  = errors.New("ipc: server not listening")
	errNotRegistered = errors.New("first message is not REGISTER_EVENT")
)

// Registrar binds a freshly registered worker connection to its pipeline.
// Returning false rejects the connection and the server closes it.
type Registrar interface {
	Register(id int, conn net.Conn) bool
}

// SocketName appends a numeric instance suffix to base. A negative id means
// no suffix.
func SocketName(base string, id int) string {
	if id < 0 {
		return base
	}
	return base + strconv.Itoa(id)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRegisterTimeout overrides DefaultRegisterTimeout.
func WithRegisterTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.registerTimeout = d
		}
	}
}

// WithServerLogger replaces the component logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// Server accepts worker connections on a Unix socket and completes the
// registration handshake before handing each connection to the Registrar.
type Server struct {
	path            string
	reg             Registrar
	registerTimeout time.Duration
	logger          zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
	conns  map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer creates a server for the socket at path.
func NewServer(path string, reg Registrar, opts ...ServerOption) *Server {
	s := &Server{
		path:            path,
		reg:             reg,
		registerTimeout: DefaultRegisterTimeout,
		logger:          log.WithComponent("ipc").With().Str(log.FieldSocket, path).Logger(),
		conns:           make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen binds the socket, removing a stale socket file left by a dead
// manager. A socket that still answers is left alone.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.ln != nil {
		return nil
	}

	if err := removeStale(s.path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	s.ln = ln
	s.logger.Info().Str(log.FieldEvent, "ipc.listen").Msg("control socket listening")
	return nil
}

// Serve runs the accept loop until ctx is done or Close is called. Each
// accepted connection gets its own registration goroutine so a silent peer
// cannot stall other workers.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				s.wg.Wait()
				return nil
			}
			// Transient accept failures (EMFILE and friends).
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn().Err(err).Str(log.FieldEvent, "ipc.accept_failed").Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handshake(conn)
		}()
	}
}

// Close stops accepting, aborts pending handshakes and removes the socket
// file. Registered connections belong to their pipelines and stay open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handshake(conn net.Conn) {
	id, err := readRegistration(conn, s.registerTimeout)
	// From here the connection is either closed below or owned by its
	// pipeline, so Close must no longer reach it.
	s.untrack(conn)
	if err != nil {
		metrics.IncIPCRegistration("invalid")
		s.logger.Debug().Err(err).Str(log.FieldEvent, "ipc.register_failed").Msg("dropping unregistered connection")
		_ = conn.Close()
		return
	}

	if s.isClosed() || !s.reg.Register(id, conn) {
		metrics.IncIPCRegistration("rejected")
		s.logger.Warn().
			Str(log.FieldEvent, "ipc.register_rejected").
			Int(log.FieldPipelineID, id).
			Msg("no pipeline awaiting this worker")
		_ = conn.Close()
		return
	}

	metrics.IncIPCRegistration("ok")
	s.logger.Debug().
		Str(log.FieldEvent, "ipc.registered").
		Int(log.FieldPipelineID, id).
		Msg("worker registered")
}

func readRegistration(conn net.Conn, timeout time.Duration) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	msg, err := protocol.ReadResponse(conn)
	if err != nil {
		return 0, err
	}
	if msg.Type != protocol.EventRegister {
		return 0, fmt.Errorf("%w: got %s", errNotRegistered, msg.Type)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}
	return int(msg.PipelineID), nil
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if c, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = c.Close()
		return fmt.Errorf("%w: %s", ErrAddrInUse, path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
