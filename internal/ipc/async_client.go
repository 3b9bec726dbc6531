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

// AsyncClient multiplexes concurrent requests over one worker connection.
// A dedicated read loop routes each response to the waiter registered under
// its sequence number; events go to the EventHandler.
type AsyncClient struct {
	id      int32
	conn    net.Conn
	timeout time.Duration
	logger  zerolog.Logger
	events  *eventPump
	order   *OrderKeeper

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan *protocol.Response
	closed  bool
	err     error

	done chan struct{}
}

// NewAsyncClient takes ownership of conn and starts its read loop.
func NewAsyncClient(id int, conn net.Conn, opts ...ClientOption) *AsyncClient {
	cfg := newClientConfig(id, opts)
	c := &AsyncClient{
		id:      int32(id),
		conn:    conn,
		timeout: cfg.timeout,
		logger:  cfg.logger,
		events:  newEventPump(cfg.handler, cfg.logger),
		order:   NewOrderKeeper(),
		pending: make(map[uint64]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Do sends req and waits for the response carrying the same sequence number.
func (c *AsyncClient) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	start := time.Now()
	reqType := req.Type.String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		metrics.IncIPCRequestFailure(reqType, "closed")
		return nil, ErrConnClosed
	}
	seq := c.seq
	c.seq++
	ch := make(chan *protocol.Response, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	req.SeqNo = seq
	req.PipelineID = c.id

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err := protocol.WriteRequest(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(seq)
		metrics.IncIPCRequestFailure(reqType, "write")
		return nil, fmt.Errorf("%w: write %s: %v", ErrConnClosed, reqType, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case rsp, ok := <-ch:
		if !ok {
			metrics.IncIPCRequestFailure(reqType, "closed")
			return nil, ErrConnClosed
		}
		if err := checkResponse(req, rsp); err != nil {
			metrics.IncIPCRequestFailure(reqType, "unexpected")
			return nil, fmt.Errorf("%w: got %s for %s", err, rsp.Type, reqType)
		}
		metrics.ObserveIPCRequest(reqType, time.Since(start))
		return rsp, nil
	case <-timer.C:
		c.forget(seq)
		metrics.IncIPCRequestFailure(reqType, "timeout")
		c.logger.Warn().
			Str(log.FieldEvent, "ipc.request_timeout").
			Str(log.FieldMsgType, reqType).
			Uint64(log.FieldSeqNo, seq).
			Dur("timeout", c.timeout).
			Msg("no response from worker")
		return nil, ErrTimeout
	case <-ctx.Done():
		c.forget(seq)
		metrics.IncIPCRequestFailure(reqType, "canceled")
		return nil, ctx.Err()
	}
}

// Completed returns the contiguous completion watermark: every sequence
// number below it has been answered or abandoned.
func (c *AsyncClient) Completed() uint64 {
	return c.order.Next()
}

// Done is closed once the read loop has exited.
func (c *AsyncClient) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop stopped.
func (c *AsyncClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and waits for the read loop to exit. Pending
// requests fail with ErrConnClosed.
func (c *AsyncClient) Close() error {
	err := c.conn.Close()
	<-c.done
	c.events.stop()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// forget drops the pending record for seq when no response will be consumed.
func (c *AsyncClient) forget(seq uint64) {
	c.mu.Lock()
	_, ok := c.pending[seq]
	delete(c.pending, seq)
	c.mu.Unlock()
	if ok {
		c.order.Bypass(seq)
	}
}

func (c *AsyncClient) readLoop() {
	defer close(c.done)
	for {
		rsp, err := protocol.ReadResponse(c.conn)
		if err != nil {
			c.fail(err)
			return
		}
		if rsp.Type.IsEvent() {
			c.events.push(rsp)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[rsp.SeqNo]
		delete(c.pending, rsp.SeqNo)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug().
				Str(log.FieldEvent, "ipc.stale_response").
				Str(log.FieldMsgType, rsp.Type.String()).
				Uint64(log.FieldSeqNo, rsp.SeqNo).
				Msg("response without waiter discarded")
			continue
		}
		c.order.Bypass(rsp.SeqNo)
		ch <- rsp
	}
}

func (c *AsyncClient) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.err = err
	pending := c.pending
	c.pending = make(map[uint64]chan *protocol.Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	c.events.stop()

	if !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).
			Str(log.FieldEvent, "ipc.conn_closed").
			Int("pending", len(pending)).
			Msg("worker connection closed")
	}
}
