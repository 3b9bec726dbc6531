// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/rs/zerolog"
)

// SyncClient performs one blocking round trip at a time on the calling
// goroutine. Events read while waiting for a response are handed to the
// EventHandler; events sent while idle are read with the next request.
//
// A failed or timed out exchange leaves the stream position unknown, so the
// client closes the connection and every later request fails fast.
type SyncClient struct {
	id      int32
	conn    net.Conn
	timeout time.Duration
	logger  zerolog.Logger
	events  *eventPump

	mu     sync.Mutex
	seq    uint64
	broken bool
}

// NewSyncClient takes ownership of conn.
func NewSyncClient(id int, conn net.Conn, opts ...ClientOption) *SyncClient {
	cfg := newClientConfig(id, opts)
	return &SyncClient{
		id:      int32(id),
		conn:    conn,
		timeout: cfg.timeout,
		logger:  cfg.logger,
		events:  newEventPump(cfg.handler, cfg.logger),
	}
}

// Do writes req and blocks until the matching response, the request timeout
// or ctx cancellation.
func (c *SyncClient) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqType := req.Type.String()
	if c.broken {
		metrics.IncIPCRequestFailure(reqType, "closed")
		return nil, ErrConnClosed
	}

	start := time.Now()
	seq := c.seq
	c.seq++
	req.SeqNo = seq
	req.PipelineID = c.id

	deadline := start.Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := protocol.WriteRequest(c.conn, req); err != nil {
		c.breakLocked()
		return nil, c.classify(ctx, reqType, "write", err)
	}

	for {
		rsp, err := protocol.ReadResponse(c.conn)
		if err != nil {
			c.breakLocked()
			return nil, c.classify(ctx, reqType, "read", err)
		}
		if rsp.Type.IsEvent() {
			c.events.push(rsp)
			continue
		}
		if rsp.SeqNo != seq {
			c.logger.Debug().
				Str(log.FieldEvent, "ipc.stale_response").
				Str(log.FieldMsgType, rsp.Type.String()).
				Uint64(log.FieldSeqNo, rsp.SeqNo).
				Msg("response for another request discarded")
			continue
		}
		if err := checkResponse(req, rsp); err != nil {
			metrics.IncIPCRequestFailure(reqType, "unexpected")
			return nil, fmt.Errorf("%w: got %s for %s", err, rsp.Type, reqType)
		}
		metrics.ObserveIPCRequest(reqType, time.Since(start))
		return rsp, nil
	}
}

// Close closes the connection.
func (c *SyncClient) Close() error {
	err := c.conn.Close()
	c.events.stop()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (c *SyncClient) breakLocked() {
	c.broken = true
	_ = c.conn.Close()
}

func (c *SyncClient) classify(ctx context.Context, reqType, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.IncIPCRequestFailure(reqType, "canceled")
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		metrics.IncIPCRequestFailure(reqType, "timeout")
		c.logger.Warn().
			Str(log.FieldEvent, "ipc.request_timeout").
			Str(log.FieldMsgType, reqType).
			Dur("timeout", c.timeout).
			Msg("no response from worker")
		return ErrTimeout
	}
	metrics.IncIPCRequestFailure(reqType, stage)
	return fmt.Errorf("%w: %s %s: %v", ErrConnClosed, stage, reqType, err)
}
