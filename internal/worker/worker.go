// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker is the worker side of the control channel: it dials the
// manager, registers, and answers control requests through a Handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/rs/zerolog"
)

// RetFailed is the return code for a rejected request.
const RetFailed int32 = 1

// Handler implements the pipeline behind a worker. A returned error is
// reported to the manager as a non-zero return code.
type Handler interface {
	Create(ctx context.Context, launch, config string) error
	Modify(ctx context.Context, config string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context) error
	SetChannel(ctx context.Context, element string, channel int32) error
}

// Emitter pushes unsolicited events to the manager.
type Emitter interface {
	SendEvent(typ protocol.ResponseType, metadata []byte) error
}

// Dial connects to the manager's control socket.
func Dial(ctx context.Context, socket string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("dial control socket %s: %w", socket, err)
	}
	return conn, nil
}

// Worker serves one pipeline id over one connection.
type Worker struct {
	id      int32
	conn    net.Conn
	handler Handler
	logger  zerolog.Logger

	writeMu sync.Mutex
}

// New binds a worker to conn. Use SetHandler when the handler needs the
// worker as its Emitter.
func New(conn net.Conn, id int, h Handler) *Worker {
	return &Worker{
		id:      int32(id),
		conn:    conn,
		handler: h,
		logger:  log.WithComponent("worker").With().Int(log.FieldPipelineID, id).Logger(),
	}
}

// SetHandler replaces the handler before Serve is called.
func (w *Worker) SetHandler(h Handler) {
	w.handler = h
}

// Register announces the pipeline id. It must be the first message.
func (w *Worker) Register() error {
	return w.write(&protocol.Response{Type: protocol.EventRegister, PipelineID: w.id})
}

// SendEvent pushes an event such as EOS_EVENT or ERROR_EVENT.
func (w *Worker) SendEvent(typ protocol.ResponseType, metadata []byte) error {
	if !typ.IsEvent() {
		return fmt.Errorf("%s is not an event", typ)
	}
	return w.write(&protocol.Response{Type: typ, PipelineID: w.id, Metadata: metadata})
}

// Serve answers requests until the manager destroys the pipeline, closes
// the connection or ctx is done. A DESTROY request ends Serve with nil after
// its response is written.
func (w *Worker) Serve(ctx context.Context) error {
	if w.handler == nil {
		return errors.New("worker: no handler")
	}
	stop := context.AfterFunc(ctx, func() { _ = w.conn.Close() })
	defer stop()

	for {
		req, err := protocol.ReadRequest(w.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		retCode := w.dispatch(ctx, req)
		rsp := &protocol.Response{
			Type:       protocol.ResponseFor(req.Type),
			PipelineID: w.id,
			SeqNo:      req.SeqNo,
			RetCode:    retCode,
		}
		if err := w.write(rsp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if req.Type == protocol.RequestDestroy && retCode == 0 {
			return nil
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, req *protocol.Request) int32 {
	logger := w.logger.With().
		Str(log.FieldMsgType, req.Type.String()).
		Uint64(log.FieldSeqNo, req.SeqNo).
		Logger()

	if req.PipelineID != w.id {
		logger.Warn().
			Str(log.FieldEvent, "worker.id_mismatch").
			Int32("got", req.PipelineID).
			Msg("request for another pipeline")
		return RetFailed
	}

	var err error
	switch req.Type {
	case protocol.RequestCreate:
		if req.Create == nil {
			err = errors.New("create without parameters")
			break
		}
		err = w.handler.Create(ctx, req.Create.Launch, req.Create.Config)
	case protocol.RequestModify:
		if req.Modify == nil {
			err = errors.New("modify without parameters")
			break
		}
		err = w.handler.Modify(ctx, req.Modify.Config)
	case protocol.RequestPlay:
		err = w.handler.Play(ctx)
	case protocol.RequestPause:
		err = w.handler.Pause(ctx)
	case protocol.RequestStop:
		err = w.handler.Stop(ctx)
	case protocol.RequestDestroy:
		err = w.handler.Destroy(ctx)
	case protocol.RequestSetChannel:
		if req.SetChannel == nil {
			err = errors.New("set channel without parameters")
			break
		}
		err = w.handler.SetChannel(ctx, req.SetChannel.Element, req.SetChannel.ChannelID)
	default:
		err = fmt.Errorf("unknown request type %d", int32(req.Type))
	}

	if err != nil {
		logger.Info().Err(err).Str(log.FieldEvent, "worker.request_failed").Msg("request rejected")
		return RetFailed
	}
	logger.Debug().Str(log.FieldEvent, "worker.request_done").Msg("request handled")
	return 0
}

func (w *Worker) write(rsp *protocol.Response) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return protocol.WriteResponse(w.conn, rsp)
}

// Run dials socket, registers id and serves h until done. newHandler
// receives the worker as the Emitter for asynchronous events.
func Run(ctx context.Context, socket string, id int, newHandler func(Emitter) Handler) error {
	conn, err := Dial(ctx, socket, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	w := New(conn, id, nil)
	h := newHandler(w)
	w.SetHandler(h)
	if err := w.Register(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.logger.Info().Str(log.FieldEvent, "worker.registered").Str(log.FieldSocket, socket).Msg("registered with manager")

	err = w.Serve(ctx)
	if c, ok := h.(io.Closer); ok {
		_ = c.Close()
	}
	return err
}
