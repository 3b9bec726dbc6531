// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/pipemgr/internal/health"
	"github.com/ManuGH/pipemgr/internal/pipeline"
	"github.com/ManuGH/pipemgr/internal/pipeline/bus"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManager struct {
	mu       sync.Mutex
	states   map[int]model.MPState
	next     int
	stopWith model.Status
	files    map[string][]byte
	lastFlag model.FileFlag
	lastMode fs.FileMode
	events   *bus.MemoryBus
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		states: map[int]model.MPState{},
		files:  map[string][]byte{},
		events: bus.NewMemoryBus(),
	}
}

func (f *fakeManager) AddPipeline(_ context.Context, id int, launch, _ string) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[id]; ok {
		return model.StatusAlreadyCreated
	}
	if launch == "" {
		return model.StatusError
	}
	f.states[id] = model.StateCreated
	return model.StatusSuccess
}

func (f *fakeManager) DeletePipeline(_ context.Context, id int) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[id]; !ok {
		return model.StatusNotExist
	}
	delete(f.states, id)
	return model.StatusSuccess
}

func (f *fakeManager) transition(id int, from []model.MPState, to model.MPState, refused model.Status) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.states[id]
	if !ok {
		return model.StatusNotExist
	}
	for _, s := range from {
		if s == cur {
			f.states[id] = to
			return model.StatusSuccess
		}
	}
	return refused
}

func (f *fakeManager) PlayPipeline(_ context.Context, id int) model.Status {
	return f.transition(id, []model.MPState{model.StateCreated, model.StatePaused}, model.StatePlaying, model.StatusAlreadyStarted)
}

func (f *fakeManager) PausePipeline(_ context.Context, id int) model.Status {
	return f.transition(id, []model.MPState{model.StatePlaying}, model.StatePaused, model.StatusNotPlaying)
}

func (f *fakeManager) StopPipeline(_ context.Context, id int) model.Status {
	if f.stopWith != 0 {
		return f.stopWith
	}
	return f.transition(id, []model.MPState{model.StatePlaying, model.StatePaused}, model.StateStopped, model.StatusNotPlaying)
}

func (f *fakeManager) ModifyPipeline(_ context.Context, id int, config string) model.Status {
	if config == "" {
		return model.StatusInvalidParameter
	}
	if _, ok := f.Describe(id); !ok {
		return model.StatusNotExist
	}
	return model.StatusSuccess
}

func (f *fakeManager) SetChannel(_ context.Context, id int, element string, _ int) model.Status {
	if element == "" {
		return model.StatusInvalidParameter
	}
	if _, ok := f.Describe(id); !ok {
		return model.StatusNotExist
	}
	return model.StatusSuccess
}

func (f *fakeManager) GetAll() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.states))
	for id := range f.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (f *fakeManager) Describe(id int) (pipeline.Info, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return pipeline.Info{}, false
	}
	return pipeline.Info{ID: id, State: st, Pid: 1000 + id}, true
}

func (f *fakeManager) RemoveAll(context.Context) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.states)
	return model.StatusSuccess
}

func (f *fakeManager) NextID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	return id
}

func (f *fakeManager) LoadFile(_ context.Context, data []byte, dst string, mode fs.FileMode, flag model.FileFlag) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFlag = flag
	f.lastMode = mode
	if _, ok := f.files[dst]; ok && flag == model.FileCreate {
		return model.StatusFileAlreadyExist
	}
	f.files[dst] = data
	return model.StatusSuccess
}

func (f *fakeManager) UnloadFile(_ context.Context, dst string) model.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[dst]; !ok {
		return model.StatusInvalidDstPath
	}
	delete(f.files, dst)
	return model.StatusSuccess
}

func (f *fakeManager) Events() *bus.MemoryBus { return f.events }

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, StatusBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var sb StatusBody
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &sb)
	}
	return rec, sb
}

func TestPipelineLifecycle(t *testing.T) {
	h := NewServer(Config{}, newFakeManager()).Handler()

	rec, sb := do(t, h, http.MethodPost, "/api/v1/pipelines", `{"id":7,"launch":"src ! sink","config":"{}"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "SUCCESS", sb.Status)
	require.NotNil(t, sb.ID)
	assert.Equal(t, 7, *sb.ID)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/pipelines/7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info pipeline.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, model.StateCreated, info.State)

	rec, sb = do(t, h, http.MethodPost, "/api/v1/pipelines/7/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_PLAYING", sb.Status)
	assert.Equal(t, int(model.StatusNotPlaying), sb.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/pipelines/7/play", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPut, "/api/v1/pipelines/7/config", `{"config":"bitrate=1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/api/v1/pipelines/7/channel", `{"element":"osd","channel":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodPost, "/api/v1/pipelines/7/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/v1/pipelines", "")
	assert.JSONEq(t, `{"ids":[7]}`, rec.Body.String())

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/pipelines/7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, sb = do(t, h, http.MethodGet, "/api/v1/pipelines/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_EXIST", sb.Status)
}

func TestCreateAllocatesID(t *testing.T) {
	h := NewServer(Config{}, newFakeManager()).Handler()

	_, first := do(t, h, http.MethodPost, "/api/v1/pipelines", `{"launch":"a"}`)
	_, second := do(t, h, http.MethodPost, "/api/v1/pipelines", `{"launch":"b"}`)
	require.NotNil(t, first.ID)
	require.NotNil(t, second.ID)
	assert.Equal(t, 0, *first.ID)
	assert.Equal(t, 1, *second.ID)

	rec, sb := do(t, h, http.MethodPost, "/api/v1/pipelines", `{"id":1,"launch":"c"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CREATED", sb.Status)

	rec, sb = do(t, h, http.MethodPost, "/api/v1/pipelines", `{"id":5}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "ERROR", sb.Status)

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/pipelines", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/v1/pipelines", "")
	assert.JSONEq(t, `{"ids":[]}`, rec.Body.String())
}

func TestBadRequests(t *testing.T) {
	h := NewServer(Config{}, newFakeManager()).Handler()

	rec, sb := do(t, h, http.MethodPost, "/api/v1/pipelines/abc/play", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", sb.Status)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/pipelines", `{"launch":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/pipelines", `{"launch":"a","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, sb = do(t, h, http.MethodPost, "/api/v1/pipelines/9/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_EXIST", sb.Status)
}

func TestStopAfterEOSIsOK(t *testing.T) {
	mgr := newFakeManager()
	mgr.stopWith = model.StatusPipelineEOS
	h := NewServer(Config{}, mgr).Handler()

	rec, sb := do(t, h, http.MethodPost, "/api/v1/pipelines/1/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PIPELINE_EOS", sb.Status)
}

func TestFiles(t *testing.T) {
	mgr := newFakeManager()
	h := NewServer(Config{}, mgr).Handler()

	// "aGVsbG8=" is "hello"
	rec, sb := do(t, h, http.MethodPost, "/api/v1/files", `{"path":"m.bin","data":"aGVsbG8=","mode":420}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SUCCESS", sb.Status)
	assert.Equal(t, []byte("hello"), mgr.files["m.bin"])
	assert.Equal(t, model.FileCreate, mgr.lastFlag)
	assert.Equal(t, fs.FileMode(0o644), mgr.lastMode)

	rec, sb = do(t, h, http.MethodPost, "/api/v1/files", `{"path":"m.bin","data":"eA=="}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "FILE_ALREADY_EXIST", sb.Status)

	rec, _ = do(t, h, http.MethodPost, "/api/v1/files", `{"path":"m.bin","data":"eA==","flag":"overwrite"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.FileOverwrite, mgr.lastFlag)

	rec, sb = do(t, h, http.MethodPost, "/api/v1/files", `{"path":"m.bin","flag":"truncate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PARAMETER", sb.Status)

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/files?path=m.bin", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, sb = do(t, h, http.MethodDelete, "/api/v1/files?path=m.bin", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_DST_PATH", sb.Status)
	rec, _ = do(t, h, http.MethodDelete, "/api/v1/files", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	down := health.Func("socket", func(context.Context) health.Result {
		return health.Result{Status: health.StatusUnhealthy}
	})
	h := NewServer(Config{Version: "v9", Checkers: []health.Checker{down}}, newFakeManager()).Handler()

	rec, _ := do(t, h, http.MethodGet, "/healthz?verbose=true", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var live health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &live))
	assert.Equal(t, "v9", live.Version)
	assert.Equal(t, "0 pipelines", live.Components["pipelines"].Detail)

	rec, _ = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pipemgr_http_requests_in_flight")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[model.Status]int{
		model.StatusSuccess:          http.StatusOK,
		model.StatusNotExist:         http.StatusNotFound,
		model.StatusInvalidParameter: http.StatusBadRequest,
		model.StatusInvalidDstPath:   http.StatusBadRequest,
		model.StatusCommTimeout:      http.StatusGatewayTimeout,
		model.StatusError:            http.StatusBadGateway,
		model.StatusAlreadyStarted:   http.StatusConflict,
		model.StatusStopped:          http.StatusConflict,
		model.StatusPipelineEOS:      http.StatusConflict,
		model.StatusFileAlreadyExist: http.StatusConflict,
	}
	for st, want := range cases {
		assert.Equal(t, want, HTTPStatus(st), st.String())
	}
}

func TestEventStream(t *testing.T) {
	mgr := newFakeManager()
	srv := httptest.NewServer(NewServer(Config{}, mgr).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?id=1", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return mgr.events.Subscribers(bus.TopicPipelineEvents) == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := func(ev bus.Event) {
		require.NoError(t, mgr.events.Publish(context.Background(), bus.TopicPipelineEvents, ev))
	}
	pub(bus.Event{Type: bus.EventStateChanged, PipelineID: 2, To: "PLAYING"})
	pub(bus.Event{Type: bus.EventEOS, PipelineID: 1})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: eos", lines[0])
	assert.Contains(t, lines[1], `"pipeline_id":1`)
}
