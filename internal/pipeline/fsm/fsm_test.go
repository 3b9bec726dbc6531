// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"testing"

	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ok   = model.StatusSuccess
	ne   = model.StatusNotExist
	ac   = model.StatusAlreadyCreated
	as   = model.StatusAlreadyStarted
	np   = model.StatusNotPlaying
	st   = model.StatusStopped
	eos  = model.StatusPipelineEOS
	rerr = model.StatusRuntimeError
)

func TestDefaultTable(t *testing.T) {
	// Columns follow model.AllStates:
	// NONEXIST CREATED PLAYING PAUSED STOPPED RUNTIME_ERROR PIPELINE_EOS
	want := map[model.Op][]model.Status{
		model.OpCreate:     {ok, ac, ac, ac, ac, rerr, eos},
		model.OpModify:     {ne, ok, ok, ok, st, rerr, eos},
		model.OpSetChannel: {ne, ok, ok, ok, st, rerr, eos},
		model.OpPlay:       {ne, ok, as, ok, st, rerr, eos},
		model.OpPause:      {ne, np, ok, np, np, rerr, eos},
		model.OpStop:       {ne, np, ok, ok, np, ok, ok},
		model.OpDestroy:    {ne, ok, ok, ok, ok, ok, ok},
	}
	tbl := Default()
	for op, row := range want {
		for i, state := range model.AllStates {
			_, got := tbl.Check(op, state)
			assert.Equal(t, row[i], got, "op=%s state=%s", op, state)
		}
	}
}

func TestCheckTargets(t *testing.T) {
	tbl := Default()
	tests := []struct {
		op   model.Op
		from model.MPState
		to   model.MPState
	}{
		{model.OpCreate, model.StateNonExist, model.StateCreated},
		{model.OpPlay, model.StateCreated, model.StatePlaying},
		{model.OpPlay, model.StatePaused, model.StatePlaying},
		{model.OpPause, model.StatePlaying, model.StatePaused},
		{model.OpStop, model.StateEOS, model.StateStopped},
		{model.OpModify, model.StatePaused, model.StatePaused},
		{model.OpDestroy, model.StateStopped, model.StateNonExist},
	}
	for _, tt := range tests {
		to, status := tbl.Check(tt.op, tt.from)
		require.Equal(t, model.StatusSuccess, status)
		assert.Equal(t, tt.to, to, "%s from %s", tt.op, tt.from)
	}
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	_, err := NewTable([]Rule{
		{Op: model.OpPlay, From: states(model.StateCreated)},
		{Op: model.OpPlay, From: states(model.StatePaused)},
	})
	require.Error(t, err)

	_, err = NewTable([]Rule{{Op: model.OpPlay}})
	require.Error(t, err)
}

func TestUnknownOp(t *testing.T) {
	_, status := Default().Check(model.Op("rewind"), model.StatePlaying)
	assert.Equal(t, model.StatusError, status)
}

func TestMachine(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, model.StateNonExist, m.State())

	to, status := m.Check(model.OpCreate)
	require.Equal(t, model.StatusSuccess, status)
	assert.Equal(t, model.StateNonExist, m.Set(to))
	assert.Equal(t, model.StateCreated, m.State())

	_, status = m.Check(model.OpPause)
	assert.Equal(t, model.StatusNotPlaying, status)
	assert.Equal(t, model.StateCreated, m.State(), "refused op leaves state unchanged")
}
