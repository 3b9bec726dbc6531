// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ManuGH/pipemgr/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type session struct {
	t    *testing.T
	conn net.Conn
	seq  uint64
	done chan error
}

func startSim(t *testing.T, id int) *session {
	t.Helper()
	mgr, wrk := net.Pipe()
	w := New(wrk, id, nil)
	h := NewSimHandler(w)
	w.SetHandler(h)

	s := &session{t: t, conn: mgr, done: make(chan error, 1)}
	go func() {
		if err := w.Register(); err != nil {
			s.done <- err
			return
		}
		err := w.Serve(context.Background())
		_ = h.Close()
		_ = wrk.Close()
		s.done <- err
	}()

	reg, err := protocol.ReadResponse(mgr)
	require.NoError(t, err)
	require.Equal(t, protocol.EventRegister, reg.Type)
	require.Equal(t, int32(id), reg.PipelineID)

	t.Cleanup(func() {
		_ = mgr.Close()
		<-s.done
	})
	return s
}

func (s *session) do(req *protocol.Request) *protocol.Response {
	s.t.Helper()
	req.SeqNo = s.seq
	s.seq++
	require.NoError(s.t, protocol.WriteRequest(s.conn, req))
	for {
		rsp, err := protocol.ReadResponse(s.conn)
		require.NoError(s.t, err)
		if rsp.Type.IsEvent() {
			continue
		}
		require.Equal(s.t, req.SeqNo, rsp.SeqNo)
		require.Equal(s.t, protocol.ResponseFor(req.Type), rsp.Type)
		return rsp
	}
}

func TestWorkerLifecycle(t *testing.T) {
	s := startSim(t, 5)

	rsp := s.do(&protocol.Request{Type: protocol.RequestCreate, PipelineID: 5,
		Create: &protocol.CreateParams{Launch: "src ! sink", Config: "a=1"}})
	assert.Equal(t, int32(0), rsp.RetCode)

	for _, typ := range []protocol.RequestType{protocol.RequestPlay, protocol.RequestPause, protocol.RequestStop} {
		rsp = s.do(&protocol.Request{Type: typ, PipelineID: 5})
		assert.Equal(t, int32(0), rsp.RetCode, typ.String())
	}

	rsp = s.do(&protocol.Request{Type: protocol.RequestDestroy, PipelineID: 5})
	assert.Equal(t, int32(0), rsp.RetCode)

	select {
	case err := <-s.done:
		require.NoError(t, err, "serve ends after destroy")
		s.done <- nil
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after destroy")
	}
}

func TestWorkerRejectsForeignPipelineID(t *testing.T) {
	s := startSim(t, 1)
	rsp := s.do(&protocol.Request{Type: protocol.RequestPlay, PipelineID: 2})
	assert.Equal(t, RetFailed, rsp.RetCode)
}

func TestWorkerFailures(t *testing.T) {
	s := startSim(t, 1)

	rsp := s.do(&protocol.Request{Type: protocol.RequestCreate, PipelineID: 1,
		Create: &protocol.CreateParams{Launch: ""}})
	assert.Equal(t, RetFailed, rsp.RetCode, "empty launch")

	rsp = s.do(&protocol.Request{Type: protocol.RequestCreate, PipelineID: 1,
		Create: &protocol.CreateParams{Launch: "x"}})
	require.Equal(t, int32(0), rsp.RetCode)

	rsp = s.do(&protocol.Request{Type: protocol.RequestModify, PipelineID: 1,
		Modify: &protocol.ModifyParams{Config: ""}})
	assert.Equal(t, RetFailed, rsp.RetCode, "empty config")

	rsp = s.do(&protocol.Request{Type: protocol.RequestStop, PipelineID: 1})
	assert.Equal(t, RetFailed, rsp.RetCode, "stop requires running")

	rsp = s.do(&protocol.Request{Type: protocol.RequestSetChannel, PipelineID: 1,
		SetChannel: &protocol.SetChannelParams{Element: "demux", ChannelID: 3}})
	assert.Equal(t, int32(0), rsp.RetCode)
}

func TestWorkerSendsEOS(t *testing.T) {
	s := startSim(t, 4)

	s.do(&protocol.Request{Type: protocol.RequestCreate, PipelineID: 4,
		Create: &protocol.CreateParams{Launch: "x", Config: "eos_after=20ms"}})
	s.do(&protocol.Request{Type: protocol.RequestPlay, PipelineID: 4})

	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ev, err := protocol.ReadResponse(s.conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventEOS, ev.Type)
	assert.Equal(t, int32(4), ev.PipelineID)
	_ = s.conn.SetReadDeadline(time.Time{})
}

func TestParseSimOptions(t *testing.T) {
	opts, err := ParseSimOptions("eos_after=1s; fail=play,stop ;bitrate=4000")
	require.NoError(t, err)
	assert.Equal(t, time.Second, opts.EOSAfter)
	assert.True(t, opts.Fail["play"])
	assert.True(t, opts.Fail["stop"])
	assert.False(t, opts.Fail["pause"])

	_, err = ParseSimOptions("eos_after=soon")
	require.Error(t, err)
}

func TestSendEventRejectsResponses(t *testing.T) {
	mgr, wrk := net.Pipe()
	defer mgr.Close()
	defer wrk.Close()
	w := New(wrk, 1, nil)
	require.Error(t, w.SendEvent(protocol.ResponsePlay, nil))
}
