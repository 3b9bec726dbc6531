// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/rs/zerolog"
)

var (
	ErrNotCreated  = errors.New("pipeline not created")
	ErrNotRunning  = errors.New("pipeline not running")
	ErrEmptyLaunch = errors.New("empty launch description")
	ErrEmptyConfig = errors.New("empty config")
)

// SimOptions are read from the create and modify config strings as
// semicolon separated key=value pairs:
//
//	eos_after=200ms    send EOS_EVENT this long after play
//	error_after=1s     send ERROR_EVENT this long after play
//	fail=play          reject the named request
type SimOptions struct {
	EOSAfter   time.Duration
	ErrorAfter time.Duration
	Fail       map[string]bool
}

// ParseSimOptions parses a config string. Unknown keys are kept by the
// caller's pipeline and ignored here.
func ParseSimOptions(config string) (SimOptions, error) {
	opts := SimOptions{Fail: map[string]bool{}}
	for _, part := range strings.Split(config, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "eos_after":
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return opts, fmt.Errorf("eos_after: %w", err)
			}
			opts.EOSAfter = d
		case "error_after":
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return opts, fmt.Errorf("error_after: %w", err)
			}
			opts.ErrorAfter = d
		case "fail":
			for _, op := range strings.Split(v, ",") {
				opts.Fail[strings.TrimSpace(op)] = true
			}
		}
	}
	return opts, nil
}

// SimHandler simulates a media pipeline without processing any media.
type SimHandler struct {
	emit   Emitter
	logger zerolog.Logger

	mu       sync.Mutex
	created  bool
	running  bool
	paused   bool
	launch   string
	config   string
	channels map[string]int32
	opts     SimOptions
	timers   []*time.Timer
}

// NewSimHandler returns a handler that reports events through emit.
func NewSimHandler(emit Emitter) *SimHandler {
	return &SimHandler{
		emit:     emit,
		logger:   log.WithComponent("worker.sim"),
		channels: map[string]int32{},
	}
}

func (h *SimHandler) Create(_ context.Context, launch, config string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if strings.TrimSpace(launch) == "" {
		return ErrEmptyLaunch
	}
	opts, err := ParseSimOptions(config)
	if err != nil {
		return err
	}
	h.created = true
	h.launch = launch
	h.config = config
	h.opts = opts
	return h.failIf("create")
}

func (h *SimHandler) Modify(_ context.Context, config string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.created {
		return ErrNotCreated
	}
	if config == "" {
		return ErrEmptyConfig
	}
	if err := h.failIf("modify"); err != nil {
		return err
	}
	opts, err := ParseSimOptions(config)
	if err != nil {
		return err
	}
	if opts.EOSAfter > 0 {
		h.opts.EOSAfter = opts.EOSAfter
	}
	if opts.ErrorAfter > 0 {
		h.opts.ErrorAfter = opts.ErrorAfter
	}
	h.config = config
	return nil
}

func (h *SimHandler) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.created {
		return ErrNotCreated
	}
	if err := h.failIf("play"); err != nil {
		return err
	}
	h.running = true
	h.paused = false
	if d := h.opts.EOSAfter; d > 0 {
		h.after(d, protocol.EventEOS)
	}
	if d := h.opts.ErrorAfter; d > 0 {
		h.after(d, protocol.EventError)
	}
	return nil
}

func (h *SimHandler) Pause(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrNotRunning
	}
	if err := h.failIf("pause"); err != nil {
		return err
	}
	h.paused = true
	return nil
}

func (h *SimHandler) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrNotRunning
	}
	if err := h.failIf("stop"); err != nil {
		return err
	}
	h.running = false
	h.paused = false
	h.stopTimersLocked()
	return nil
}

func (h *SimHandler) Destroy(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failIf("destroy"); err != nil {
		return err
	}
	h.created = false
	h.running = false
	h.stopTimersLocked()
	return nil
}

func (h *SimHandler) SetChannel(_ context.Context, element string, channel int32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.created {
		return ErrNotCreated
	}
	if element == "" || channel < 0 {
		return fmt.Errorf("invalid channel binding %q=%d", element, channel)
	}
	h.channels[element] = channel
	return nil
}

// Close stops pending event timers.
func (h *SimHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimersLocked()
	return nil
}

func (h *SimHandler) failIf(op string) error {
	if h.opts.Fail[op] {
		return fmt.Errorf("%s rejected by configuration", op)
	}
	return nil
}

func (h *SimHandler) after(d time.Duration, typ protocol.ResponseType) {
	t := time.AfterFunc(d, func() {
		h.mu.Lock()
		running := h.running && !h.paused
		h.mu.Unlock()
		if !running || h.emit == nil {
			return
		}
		if err := h.emit.SendEvent(typ, nil); err != nil {
			h.logger.Warn().Err(err).Str(log.FieldMsgType, typ.String()).Msg("failed to send event")
		}
	})
	h.timers = append(h.timers, t)
}

func (h *SimHandler) stopTimersLocked() {
	for _, t := range h.timers {
		t.Stop()
	}
	h.timers = nil
}
