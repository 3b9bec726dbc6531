// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline supervises worker processes: one Pipeline per worker and
// a Manager registry keyed by pipeline id.
package pipeline

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/pipemgr/internal/ipc"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/pipeline/bus"
	"github.com/ManuGH/pipemgr/internal/pipeline/fsm"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/ManuGH/pipemgr/internal/subprocess"
	"github.com/rs/zerolog"
)

// exitSettle bounds how long a failed exchange waits to learn whether the
// worker is exiting.
const exitSettle = 250 * time.Millisecond

var errNoConnection = errors.New("worker not connected")

// Pipeline drives one worker process through its lifecycle. Every operation
// holds the pipeline lock for its whole duration, so at most one control
// request per worker is in flight. State change events are published only
// after the lock is released.
type Pipeline struct {
	id     int
	cfg    Config
	logger zerolog.Logger
	notify func(bus.Event)
	onGone func(*Pipeline)

	proc *subprocess.Process

	mu         sync.Mutex
	machine    *fsm.Machine
	destroying bool
	pending    []bus.Event

	state   atomic.Value // model.MPState
	closing atomic.Bool

	connMu     sync.Mutex
	client     ipc.Client
	registered chan struct{}
	connClosed bool
}

func newPipeline(id int, cfg Config, notify func(bus.Event), onGone func(*Pipeline)) *Pipeline {
	logger := log.WithComponent("pipeline").With().Int(log.FieldPipelineID, id).Logger()

	argv := make([]string, 0, len(cfg.WorkerArgs)+5)
	argv = append(argv, cfg.WorkerPath)
	argv = append(argv, cfg.WorkerArgs...)
	argv = append(argv, "-u", cfg.SocketPath, "-i", strconv.Itoa(id))

	procOpts := []subprocess.Option{
		subprocess.WithTerminateGrace(cfg.TerminateGrace),
		subprocess.WithKillTimeout(cfg.KillTimeout),
		subprocess.WithEnv(cfg.WorkerEnv...),
		subprocess.WithLogger(logger),
	}
	if cfg.WorkerOutput != nil {
		procOpts = append(procOpts, subprocess.WithOutput(cfg.WorkerOutput, cfg.WorkerOutput))
	}
	if notify == nil {
		notify = func(bus.Event) {}
	}

	p := &Pipeline{
		id:         id,
		cfg:        cfg,
		logger:     logger,
		notify:     notify,
		onGone:     onGone,
		proc:       subprocess.New(argv, procOpts...),
		machine:    fsm.NewMachine(nil),
		registered: make(chan struct{}),
	}
	p.state.Store(model.StateNonExist)
	return p
}

// ID returns the pipeline id.
func (p *Pipeline) ID() int { return p.id }

// State returns the last confirmed state without waiting for an operation
// in flight.
func (p *Pipeline) State() model.MPState {
	return p.state.Load().(model.MPState)
}

// Pid returns the worker pid, or -1 when no worker is running.
func (p *Pipeline) Pid() int { return p.proc.Pid() }

// Create launches the worker, waits for it to register and sends CREATE.
func (p *Pipeline) Create(ctx context.Context, launch, config string) model.Status {
	p.mu.Lock()
	defer p.unlock()

	to, st := p.machine.Check(model.OpCreate)
	if !st.OK() {
		return st
	}
	if !p.proc.Execute() {
		return model.StatusInvalidParameter
	}
	p.proc.EnableWaitNotify(p.onExit)

	if st := p.awaitRegistration(ctx); !st.OK() {
		return st
	}

	st = p.exchange(ctx, model.OpCreate, &protocol.Request{
		Type:   protocol.RequestCreate,
		Create: &protocol.CreateParams{Launch: launch, Config: config},
	})
	if st.OK() {
		p.setState(to)
	}
	return st
}

// Modify pushes a property update. The state is unchanged.
func (p *Pipeline) Modify(ctx context.Context, config string) model.Status {
	p.mu.Lock()
	defer p.unlock()

	if _, st := p.machine.Check(model.OpModify); !st.OK() {
		return st
	}
	return p.exchange(ctx, model.OpModify, &protocol.Request{
		Type:   protocol.RequestModify,
		Modify: &protocol.ModifyParams{Config: config},
	})
}

// SetChannel binds element to a channel id inside the worker.
func (p *Pipeline) SetChannel(ctx context.Context, element string, channel int) model.Status {
	p.mu.Lock()
	defer p.unlock()

	if _, st := p.machine.Check(model.OpSetChannel); !st.OK() {
		return st
	}
	return p.exchange(ctx, model.OpSetChannel, &protocol.Request{
		Type:       protocol.RequestSetChannel,
		SetChannel: &protocol.SetChannelParams{Element: element, ChannelID: int32(channel)},
	})
}

// Play starts or resumes the pipeline.
func (p *Pipeline) Play(ctx context.Context) model.Status {
	return p.transition(ctx, model.OpPlay, protocol.RequestPlay)
}

// Pause pauses a playing pipeline.
func (p *Pipeline) Pause(ctx context.Context) model.Status {
	return p.transition(ctx, model.OpPause, protocol.RequestPause)
}

// Stop stops the pipeline. Stopping after EOS or a runtime error succeeds
// but reports that condition.
func (p *Pipeline) Stop(ctx context.Context) model.Status {
	p.mu.Lock()
	defer p.unlock()

	prev := p.machine.State()
	to, st := p.machine.Check(model.OpStop)
	if !st.OK() {
		return st
	}
	if st := p.exchange(ctx, model.OpStop, &protocol.Request{Type: protocol.RequestStop}); !st.OK() {
		return st
	}
	p.setState(to)
	if prev.IsTerminal() {
		return model.StatusForState(prev)
	}
	return model.StatusSuccess
}

// Destroy asks the worker to tear down. A worker that is already gone makes
// Destroy succeed without a round trip.
func (p *Pipeline) Destroy(ctx context.Context) model.Status {
	p.mu.Lock()
	defer p.unlock()

	to, st := p.machine.Check(model.OpDestroy)
	if !st.OK() {
		return st
	}
	p.destroying = true

	if !p.proc.Poll() {
		p.setState(to)
		return model.StatusSuccess
	}

	st = p.exchange(ctx, model.OpDestroy, &protocol.Request{Type: protocol.RequestDestroy})
	if st == model.StatusNotExist {
		st = model.StatusSuccess
	}
	if st.OK() {
		p.setState(to)
	}
	return st
}

// Close releases the connection, terminates the worker and waits for the
// exit watcher. It must not be called with the pipeline lock held.
func (p *Pipeline) Close() {
	p.closing.Store(true)
	p.closeClient()
	p.proc.Close()
}

func (p *Pipeline) transition(ctx context.Context, op model.Op, typ protocol.RequestType) model.Status {
	p.mu.Lock()
	defer p.unlock()

	to, st := p.machine.Check(op)
	if !st.OK() {
		return st
	}
	if st := p.exchange(ctx, op, &protocol.Request{Type: typ}); !st.OK() {
		return st
	}
	p.setState(to)
	return model.StatusSuccess
}

func (p *Pipeline) awaitRegistration(ctx context.Context) model.Status {
	ticker := time.NewTicker(p.cfg.RegisterPollInterval)
	defer ticker.Stop()
	exited := p.proc.Done()

	for i := 0; i < p.cfg.RegisterRetries; i++ {
		select {
		case <-p.registered:
			return model.StatusSuccess
		case <-ticker.C:
		case <-exited:
			p.logger.Warn().
				Err(p.proc.ExitErr()).
				Str(log.FieldEvent, "pipeline.worker_exited_early").
				Msg("worker exited before registering")
			return model.StatusError
		case <-ctx.Done():
			return model.StatusError
		}
	}

	select {
	case <-p.registered:
		return model.StatusSuccess
	default:
	}
	metrics.IncIPCRegistration("timeout")
	p.logger.Warn().
		Str(log.FieldEvent, "pipeline.register_timeout").
		Int("retries", p.cfg.RegisterRetries).
		Dur("interval", p.cfg.RegisterPollInterval).
		Msg("worker did not register in time")
	return model.StatusCommTimeout
}

// exchange performs one request/response round trip and maps the outcome.
// Caller holds p.mu.
func (p *Pipeline) exchange(ctx context.Context, op model.Op, req *protocol.Request) model.Status {
	c := p.currentClient()
	if c == nil {
		return p.failed(op, errNoConnection)
	}
	rsp, err := c.Do(ctx, req)
	if err != nil {
		return p.failed(op, err)
	}
	if rsp.RetCode != 0 {
		p.logger.Info().
			Str(log.FieldEvent, "pipeline.request_rejected").
			Str(log.FieldOp, string(op)).
			Int32("ret_code", rsp.RetCode).
			Msg("worker rejected request")
		if op == model.OpModify || op == model.OpSetChannel {
			return model.StatusInvalidParameter
		}
		return model.StatusError
	}
	return model.StatusSuccess
}

func (p *Pipeline) failed(op model.Op, err error) model.Status {
	if p.workerGone(err) {
		p.setState(model.StateNonExist)
		return model.StatusNotExist
	}
	p.logger.Warn().Err(err).
		Str(log.FieldEvent, "pipeline.request_failed").
		Str(log.FieldOp, string(op)).
		Msg("control request failed")
	return model.StatusError
}

func (p *Pipeline) workerGone(err error) bool {
	exited := p.proc.Done()
	if exited == nil {
		return true
	}
	var wait time.Duration
	if errors.Is(err, ipc.ErrConnClosed) || errors.Is(err, errNoConnection) {
		wait = exitSettle
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}

// unlock releases p.mu and then publishes the events queued while it was
// held, so a slow event consumer never blocks other operations.
func (p *Pipeline) unlock() {
	events := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, ev := range events {
		p.notify(ev)
	}
}

// setState records a confirmed state and queues the change event for
// unlock. Caller holds p.mu.
func (p *Pipeline) setState(s model.MPState) {
	from := p.machine.Set(s)
	p.state.Store(s)
	if from == s {
		return
	}
	p.logger.Debug().
		Str(log.FieldEvent, "pipeline.state_changed").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(s)).
		Msg("state changed")
	p.pending = append(p.pending, bus.Event{Type: bus.EventStateChanged, PipelineID: p.id, From: string(from), To: string(s)})
}

// bind attaches the registered worker connection.
func (p *Pipeline) bind(conn net.Conn) bool {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.connClosed || p.client != nil {
		return false
	}

	opts := []ipc.ClientOption{
		ipc.WithRequestTimeout(p.cfg.RequestTimeout),
		ipc.WithEventHandler(p.onEvent),
		ipc.WithClientLogger(p.logger),
	}
	if p.cfg.ClientMode == ClientSync {
		p.client = ipc.NewSyncClient(p.id, conn, opts...)
	} else {
		p.client = ipc.NewAsyncClient(p.id, conn, opts...)
	}
	close(p.registered)
	return true
}

func (p *Pipeline) currentClient() ipc.Client {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	return p.client
}

func (p *Pipeline) closeClient() {
	p.connMu.Lock()
	c := p.client
	p.client = nil
	p.connClosed = true
	p.connMu.Unlock()

	if c != nil {
		if err := c.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("close worker connection")
		}
	}
}

// onExit runs on the subprocess watcher once the worker has been reaped.
func (p *Pipeline) onExit() {
	p.closeClient()

	p.mu.Lock()
	expected := p.destroying || p.closing.Load()
	p.setState(model.StateNonExist)
	p.unlock()

	metrics.IncWorkerExit(expected)
	if expected {
		return
	}
	p.logger.Warn().
		Err(p.proc.ExitErr()).
		Str(log.FieldEvent, "pipeline.worker_crashed").
		Msg("worker exited unexpectedly")
	p.notify(bus.Event{Type: bus.EventWorkerExited, PipelineID: p.id, Detail: errString(p.proc.ExitErr())})
	if p.onGone != nil {
		p.onGone(p)
	}
}

// onEvent runs on the client's event goroutine.
func (p *Pipeline) onEvent(ev *protocol.Response) {
	switch ev.Type {
	case protocol.EventEOS:
		p.markEnded(model.StateEOS, bus.EventEOS)
	case protocol.EventError:
		p.markEnded(model.StateRuntimeError, bus.EventRuntimeError)
	case protocol.EventMetadata:
		p.notify(bus.Event{Type: bus.EventMetadata, PipelineID: p.id, Detail: string(ev.Metadata)})
	default:
		p.logger.Debug().Str(log.FieldMsgType, ev.Type.String()).Msg("ignoring worker event")
	}
}

// markEnded applies a worker-reported end of stream or runtime error. Late
// events for a stopped or removed pipeline are ignored.
func (p *Pipeline) markEnded(s model.MPState, typ bus.EventType) {
	p.mu.Lock()
	cur := p.machine.State()
	if cur == model.StateNonExist || cur == model.StateStopped {
		p.unlock()
		return
	}
	p.setState(s)
	p.unlock()

	p.logger.Info().Str(log.FieldEvent, "pipeline."+string(typ)).Msg("worker reported end of pipeline")
	p.notify(bus.Event{Type: typ, PipelineID: p.id})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
