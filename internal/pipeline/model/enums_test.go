// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForState(t *testing.T) {
	want := map[MPState]Status{
		StateNonExist:     StatusNotExist,
		StateCreated:      StatusAlreadyCreated,
		StatePlaying:      StatusAlreadyStarted,
		StatePaused:       StatusNotPlaying,
		StateStopped:      StatusStopped,
		StateEOS:          StatusPipelineEOS,
		StateRuntimeError: StatusRuntimeError,
	}
	for _, s := range AllStates {
		assert.Equal(t, want[s], StatusForState(s), s)
	}
}

func TestStatusNames(t *testing.T) {
	assert.Equal(t, "COMM_TIMEOUT", StatusCommTimeout.String())
	assert.Equal(t, -2, int(StatusCommTimeout))
	assert.Equal(t, "STATUS(42)", Status(42).String())

	s, ok := ParseStatus("ALREADY_STARTED")
	assert.True(t, ok)
	assert.Equal(t, StatusAlreadyStarted, s)

	_, ok = ParseStatus("nope")
	assert.False(t, ok)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateEOS.IsTerminal())
	assert.True(t, StateRuntimeError.IsTerminal())
	assert.False(t, StateStopped.IsTerminal())
}

func TestStatusAsError(t *testing.T) {
	assert.NoError(t, StatusSuccess.Err())
	err := error(StatusNotExist)
	assert.ErrorIs(t, StatusNotExist.Err(), err)
	assert.EqualError(t, StatusStopped.Err(), "STOPPED")
}

func TestParseFileFlag(t *testing.T) {
	for in, want := range map[string]FileFlag{
		"":          FileCreate,
		"create":    FileCreate,
		"Overwrite": FileOverwrite,
		" APPEND ":  FileAppend,
	} {
		got, ok := ParseFileFlag(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseFileFlag("truncate")
	assert.False(t, ok)
}
