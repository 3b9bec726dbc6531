// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"io/fs"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/files"
	"github.com/ManuGH/pipemgr/internal/ipc"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/pipeline/bus"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/ManuGH/pipemgr/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// publishTimeout bounds a single bus publish so slow subscribers never stall
// a pipeline operation.
const publishTimeout = 100 * time.Millisecond

// Info is a point-in-time view of one pipeline.
type Info struct {
	ID    int           `json:"id"`
	State model.MPState `json:"state"`
	Pid   int           `json:"pid"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithBus replaces the event bus.
func WithBus(b *bus.MemoryBus) Option {
	return func(m *Manager) {
		if b != nil {
			m.events = b
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithTracer replaces the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// Manager is the registry of pipelines keyed by id. The map lock guards the
// map only; operations on a pipeline run under that pipeline's own lock.
type Manager struct {
	cfg     Config
	logger  zerolog.Logger
	tracer  trace.Tracer
	events  *bus.MemoryBus
	limiter *rate.Limiter
	files   *files.Loader
	server  *ipc.Server

	mu        sync.Mutex
	pipelines map[int]*Pipeline
	nextID    int
}

// NewManager builds a manager. Call Start and Serve to accept workers.
func NewManager(cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		logger:    log.WithComponent("manager"),
		tracer:    telemetry.Tracer("pipemgr/pipeline"),
		events:    bus.NewMemoryBus(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.SpawnRate), cfg.SpawnBurst),
		files:     files.NewLoader(cfg.FilesRoot),
		pipelines: make(map[int]*Pipeline),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.server = ipc.NewServer(cfg.SocketPath, m,
		ipc.WithRegisterTimeout(cfg.RegisterTimeout),
		ipc.WithServerLogger(m.logger.With().Str(log.FieldSocket, cfg.SocketPath).Logger()),
	)
	return m
}

// Start binds the control socket.
func (m *Manager) Start() error {
	return m.server.Listen()
}

// Serve runs the worker accept loop until ctx ends or the server is closed.
func (m *Manager) Serve(ctx context.Context) error {
	return m.server.Serve(ctx)
}

// SocketPath returns the control socket path.
func (m *Manager) SocketPath() string {
	return m.server.Path()
}

// Events returns the bus carrying pipeline notifications.
func (m *Manager) Events() *bus.MemoryBus {
	return m.events
}

// Shutdown stops accepting workers and tears down every pipeline.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.server.Close()
	m.RemoveAll(ctx)
	return err
}

// SetSpawnRate retunes the worker launch limiter. Non-positive values are
// ignored.
func (m *Manager) SetSpawnRate(perSecond float64, burst int) {
	if perSecond > 0 {
		m.limiter.SetLimit(rate.Limit(perSecond))
	}
	if burst > 0 {
		m.limiter.SetBurst(burst)
	}
}

// Register hands a registered worker connection to its pipeline. Unknown ids
// are rejected.
func (m *Manager) Register(id int, conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pipelines[id]
	if !ok {
		m.logger.Warn().
			Int(log.FieldPipelineID, id).
			Str(log.FieldEvent, "ipc.register.dropped").
			Msg("registration for unknown pipeline")
		return false
	}
	return p.bind(conn)
}

// NextID returns an id not currently in use. Ids grow monotonically.
func (m *Manager) NextID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		id := m.nextID
		m.nextID++
		if _, used := m.pipelines[id]; !used {
			return id
		}
	}
}

// AddPipeline launches a worker for id and creates the pipeline in it.
func (m *Manager) AddPipeline(ctx context.Context, id int, launch, config string) (st model.Status) {
	ctx, span := m.begin(ctx, model.OpCreate, id)
	var p *Pipeline
	defer func() { m.end(span, model.OpCreate, id, st, p) }()

	if id < 0 {
		return model.StatusInvalidParameter
	}

	m.mu.Lock()
	if _, ok := m.pipelines[id]; ok {
		m.mu.Unlock()
		return model.StatusAlreadyCreated
	}
	p = newPipeline(id, m.cfg, m.publish, m.gone)
	m.pipelines[id] = p
	if id >= m.nextID {
		m.nextID = id + 1
	}
	m.updateActiveLocked()
	m.mu.Unlock()

	if err := m.limiter.Wait(ctx); err != nil {
		m.logger.Warn().Err(err).Int(log.FieldPipelineID, id).Msg("spawn limiter wait aborted")
		m.drop(p)
		return model.StatusError
	}

	st = p.Create(ctx, launch, config)
	if !st.OK() {
		m.drop(p)
	}
	return st
}

// DeletePipeline destroys the pipeline and removes it. The entry is removed
// even when the worker refuses to destroy.
func (m *Manager) DeletePipeline(ctx context.Context, id int) (st model.Status) {
	ctx, span := m.begin(ctx, model.OpDestroy, id)
	p := m.lookup(id)
	defer func() { m.end(span, model.OpDestroy, id, st, p) }()

	if p == nil {
		return model.StatusNotExist
	}
	if res := p.Destroy(ctx); !res.OK() {
		m.logger.Info().
			Int(log.FieldPipelineID, id).
			Str(log.FieldStatus, res.String()).
			Msg("destroy refused, removing anyway")
	}
	m.drop(p)
	return model.StatusSuccess
}

// PlayPipeline starts or resumes the pipeline.
func (m *Manager) PlayPipeline(ctx context.Context, id int) model.Status {
	return m.run(ctx, model.OpPlay, id, func(ctx context.Context, p *Pipeline) model.Status {
		return p.Play(ctx)
	})
}

// PausePipeline pauses a playing pipeline.
func (m *Manager) PausePipeline(ctx context.Context, id int) model.Status {
	return m.run(ctx, model.OpPause, id, func(ctx context.Context, p *Pipeline) model.Status {
		return p.Pause(ctx)
	})
}

// StopPipeline stops the pipeline.
func (m *Manager) StopPipeline(ctx context.Context, id int) model.Status {
	return m.run(ctx, model.OpStop, id, func(ctx context.Context, p *Pipeline) model.Status {
		return p.Stop(ctx)
	})
}

// ModifyPipeline pushes a property update.
func (m *Manager) ModifyPipeline(ctx context.Context, id int, config string) model.Status {
	return m.run(ctx, model.OpModify, id, func(ctx context.Context, p *Pipeline) model.Status {
		return p.Modify(ctx, config)
	})
}

// SetChannel binds a pipeline element to a channel id.
func (m *Manager) SetChannel(ctx context.Context, id int, element string, channel int) model.Status {
	return m.run(ctx, model.OpSetChannel, id, func(ctx context.Context, p *Pipeline) model.Status {
		return p.SetChannel(ctx, element, channel)
	})
}

// GetAll returns the ids of all pipelines in ascending order.
func (m *Manager) GetAll() []int {
	m.mu.Lock()
	ids := make([]int, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Ints(ids)
	return ids
}

// State returns the last confirmed state of id.
func (m *Manager) State(id int) (model.MPState, bool) {
	p := m.lookup(id)
	if p == nil {
		return model.StateNonExist, false
	}
	return p.State(), true
}

// Describe returns a snapshot of id.
func (m *Manager) Describe(id int) (Info, bool) {
	p := m.lookup(id)
	if p == nil {
		return Info{}, false
	}
	return Info{ID: id, State: p.State(), Pid: p.Pid()}, true
}

// RemoveAll destroys every pipeline concurrently and clears the registry.
func (m *Manager) RemoveAll(ctx context.Context) model.Status {
	m.mu.Lock()
	all := make([]*Pipeline, 0, len(m.pipelines))
	for _, p := range m.pipelines {
		all = append(all, p)
	}
	clear(m.pipelines)
	m.updateActiveLocked()
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range all {
		g.Go(func() error {
			p.Destroy(gctx)
			p.Close()
			m.publish(bus.Event{Type: bus.EventRemoved, PipelineID: p.ID()})
			return nil
		})
	}
	_ = g.Wait()

	if len(all) > 0 {
		m.logger.Info().
			Str(log.FieldEvent, "manager.remove_all").
			Int("count", len(all)).
			Msg("removed all pipelines")
	}
	return model.StatusSuccess
}

// LoadFile writes data to dst using flag semantics.
func (m *Manager) LoadFile(ctx context.Context, data []byte, dst string, mode fs.FileMode, flag model.FileFlag) model.Status {
	_, span := m.tracer.Start(ctx, "files.load", trace.WithAttributes(telemetry.FileAttributes(dst, string(flag))...))
	defer span.End()

	st := files.StatusOf(m.files.Load(data, dst, mode, flag))
	m.finishFileSpan(span, "load", dst, st)
	return st
}

// UnloadFile removes a file previously loaded.
func (m *Manager) UnloadFile(ctx context.Context, dst string) model.Status {
	_, span := m.tracer.Start(ctx, "files.unload", trace.WithAttributes(telemetry.FileAttributes(dst, "")...))
	defer span.End()

	st := files.StatusOf(m.files.Unload(dst))
	m.finishFileSpan(span, "unload", dst, st)
	return st
}

func (m *Manager) finishFileSpan(span trace.Span, op, dst string, st model.Status) {
	span.SetAttributes(telemetry.OutcomeAttributes(st.String(), "")...)
	if !st.OK() {
		span.SetStatus(codes.Error, st.String())
	}
	metrics.IncPipelineOp("file_"+op, st.String())
	m.logger.Info().
		Str(log.FieldEvent, "files."+op).
		Str(log.FieldPath, dst).
		Str(log.FieldStatus, st.String()).
		Msg("file operation")
}

func (m *Manager) run(ctx context.Context, op model.Op, id int, fn func(context.Context, *Pipeline) model.Status) (st model.Status) {
	ctx, span := m.begin(ctx, op, id)
	p := m.lookup(id)
	defer func() { m.end(span, op, id, st, p) }()

	if p == nil {
		return model.StatusNotExist
	}
	st = fn(ctx, p)
	if st == model.StatusNotExist {
		m.drop(p)
	}
	return st
}

func (m *Manager) lookup(id int) *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelines[id]
}

// drop erases p if it is still registered and releases its worker. It must
// not be called with any pipeline or map lock held.
func (m *Manager) drop(p *Pipeline) {
	m.mu.Lock()
	removed := m.eraseLocked(p)
	m.mu.Unlock()

	p.Close()
	if removed {
		m.publish(bus.Event{Type: bus.EventRemoved, PipelineID: p.ID()})
	}
}

// gone is called from a pipeline's exit watcher after an unexpected worker
// exit. The process is already reaped, so only the entry is erased.
func (m *Manager) gone(p *Pipeline) {
	m.mu.Lock()
	removed := m.eraseLocked(p)
	m.mu.Unlock()

	if removed {
		m.publish(bus.Event{Type: bus.EventRemoved, PipelineID: p.ID()})
	}
}

func (m *Manager) eraseLocked(p *Pipeline) bool {
	if cur, ok := m.pipelines[p.ID()]; !ok || cur != p {
		return false
	}
	delete(m.pipelines, p.ID())
	m.updateActiveLocked()
	return true
}

func (m *Manager) updateActiveLocked() {
	metrics.SetPipelinesActive(len(m.pipelines))
}

func (m *Manager) publish(ev bus.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := m.events.Publish(ctx, bus.TopicPipelineEvents, ev); err != nil {
		m.logger.Debug().Err(err).Str("type", string(ev.Type)).Msg("event not delivered")
	}
}

func (m *Manager) begin(ctx context.Context, op model.Op, id int) (context.Context, trace.Span) {
	ctx = log.ContextWithPipelineID(ctx, id)
	return m.tracer.Start(ctx, "pipeline."+string(op),
		trace.WithAttributes(telemetry.PipelineAttributes(id, string(op))...))
}

func (m *Manager) end(span trace.Span, op model.Op, id int, st model.Status, p *Pipeline) {
	state := ""
	if p != nil {
		state = string(p.State())
	}
	span.SetAttributes(telemetry.OutcomeAttributes(st.String(), state)...)
	if !st.OK() {
		span.SetStatus(codes.Error, st.String())
	}
	span.End()

	metrics.IncPipelineOp(string(op), st.String())

	ev := m.logger.Debug()
	if !st.OK() {
		ev = m.logger.Info()
	}
	ev.Int(log.FieldPipelineID, id).
		Str(log.FieldEvent, "pipeline."+string(op)).
		Str(log.FieldStatus, st.String()).
		Msg("pipeline operation")
}
