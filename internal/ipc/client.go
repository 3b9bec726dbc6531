// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ipc implements the manager side of the worker control channel:
// the registration listener and the request/response clients bound to a
// registered worker connection.
package ipc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds each request/response round trip.
const DefaultRequestTimeout = 6 * time.Second

const eventQueueSize = 32

var (
	ErrConnClosed         = errors.New("ipc: connection closed")
	ErrTimeout            = errors.New("ipc: request timed out")
	ErrUnexpectedResponse = errors.New("ipc: unexpected response type")
)

// Client sends control requests to one registered worker. Do assigns the
// request's sequence number and pipeline id.
type Client interface {
	Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
	Close() error
}

// EventHandler receives unsolicited worker events. It runs on a dedicated
// goroutine per client, never on the goroutine issuing requests.
type EventHandler func(ev *protocol.Response)

// ClientOption configures a client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout time.Duration
	handler EventHandler
	logger  zerolog.Logger
}

func newClientConfig(id int, opts []ClientOption) clientConfig {
	cfg := clientConfig{
		timeout: DefaultRequestTimeout,
		logger:  log.WithComponent("ipc").With().Int(log.FieldPipelineID, id).Logger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithEventHandler installs the handler for worker events.
func WithEventHandler(h EventHandler) ClientOption {
	return func(c *clientConfig) {
		c.handler = h
	}
}

// WithClientLogger replaces the component logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// eventPump decouples event delivery from the reading goroutine so a handler
// that takes the owning pipeline's lock cannot stall a pending request.
type eventPump struct {
	ch      chan *protocol.Response
	quit    chan struct{}
	once    sync.Once
	handler EventHandler
	logger  zerolog.Logger
}

func newEventPump(h EventHandler, logger zerolog.Logger) *eventPump {
	p := &eventPump{
		ch:      make(chan *protocol.Response, eventQueueSize),
		quit:    make(chan struct{}),
		handler: h,
		logger:  logger,
	}
	go p.run()
	return p
}

func (p *eventPump) push(ev *protocol.Response) {
	metrics.IncIPCEvent(ev.Type.String())
	select {
	case p.ch <- ev:
	case <-p.quit:
	default:
		p.logger.Warn().
			Str(log.FieldEvent, "ipc.event_dropped").
			Str(log.FieldMsgType, ev.Type.String()).
			Msg("event queue full")
	}
}

func (p *eventPump) run() {
	for {
		select {
		case ev := <-p.ch:
			if p.handler != nil {
				p.handler(ev)
			}
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *eventPump) drain() {
	for {
		select {
		case ev := <-p.ch:
			if p.handler != nil {
				p.handler(ev)
			}
		default:
			return
		}
	}
}

// stop lets queued events drain and does not wait for the handler.
func (p *eventPump) stop() {
	p.once.Do(func() { close(p.quit) })
}

func checkResponse(req *protocol.Request, rsp *protocol.Response) error {
	if rsp.Type != protocol.ResponseFor(req.Type) {
		return ErrUnexpectedResponse
	}
	return nil
}
