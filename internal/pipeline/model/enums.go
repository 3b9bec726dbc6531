// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the pipeline lifecycle vocabulary shared by the
// manager, the state machine and the control API.
package model

import (
	"fmt"
	"strings"
)

// MPState is the lifecycle of one pipeline worker.
type MPState string

const (
	StateNonExist     MPState = "NONEXIST"
	StateCreated      MPState = "CREATED"
	StatePlaying      MPState = "PLAYING"
	StatePaused       MPState = "PAUSED"
	StateStopped      MPState = "STOPPED"
	StateRuntimeError MPState = "RUNTIME_ERROR"
	StateEOS          MPState = "PIPELINE_EOS"
)

// AllStates lists every state in declaration order.
var AllStates = []MPState{
	StateNonExist, StateCreated, StatePlaying, StatePaused,
	StateStopped, StateRuntimeError, StateEOS,
}

// IsTerminal reports the states that accept no further transition except
// stop and destroy.
func (s MPState) IsTerminal() bool {
	switch s {
	case StateRuntimeError, StateEOS:
		return true
	}
	return false
}

// Status is the outcome of a manager operation. The numeric values are
// stable: they are returned to remote callers.
type Status int

const (
	StatusSuccess          Status = 0
	StatusPipelineEOS      Status = 1
	StatusRuntimeError     Status = 2
	StatusError            Status = -1
	StatusCommTimeout      Status = -2
	StatusInvalidParameter Status = -3
	StatusNotExist         Status = -4
	StatusAlreadyCreated   Status = -5
	StatusAlreadyStarted   Status = -6
	StatusNotPlaying       Status = -7
	StatusStopped          Status = -8
	StatusInvalidDstPath   Status = -9
	StatusFileAlreadyExist Status = -10
)

var statusNames = map[Status]string{
	StatusSuccess:          "SUCCESS",
	StatusPipelineEOS:      "PIPELINE_EOS",
	StatusRuntimeError:     "RUNTIME_ERROR",
	StatusError:            "ERROR",
	StatusCommTimeout:      "COMM_TIMEOUT",
	StatusInvalidParameter: "INVALID_PARAMETER",
	StatusNotExist:         "NOT_EXIST",
	StatusAlreadyCreated:   "ALREADY_CREATED",
	StatusAlreadyStarted:   "ALREADY_STARTED",
	StatusNotPlaying:       "NOT_PLAYING",
	StatusStopped:          "STOPPED",
	StatusInvalidDstPath:   "INVALID_DST_PATH",
	StatusFileAlreadyExist: "FILE_ALREADY_EXIST",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

// OK reports success.
func (s Status) OK() bool {
	return s == StatusSuccess
}

// ParseStatus maps a status name back to its value.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return StatusError, false
}

// StatusForState is the status reported when an operation is refused
// because the pipeline is in s.
func StatusForState(s MPState) Status {
	switch s {
	case StateNonExist:
		return StatusNotExist
	case StateCreated:
		return StatusAlreadyCreated
	case StatePlaying:
		return StatusAlreadyStarted
	case StatePaused:
		return StatusNotPlaying
	case StateStopped:
		return StatusStopped
	case StateEOS:
		return StatusPipelineEOS
	case StateRuntimeError:
		return StatusRuntimeError
	}
	return StatusError
}

// Op names a caller-initiated pipeline operation.
type Op string

const (
	OpCreate     Op = "create"
	OpModify     Op = "modify"
	OpPlay       Op = "play"
	OpPause      Op = "pause"
	OpStop       Op = "stop"
	OpDestroy    Op = "destroy"
	OpSetChannel Op = "set_channel"
)

// FileFlag selects how LoadFile treats an existing destination.
type FileFlag string

const (
	FileCreate    FileFlag = "CREATE"
	FileOverwrite FileFlag = "OVERWRITE"
	FileAppend    FileFlag = "APPEND"
)

// ParseFileFlag accepts a flag name in any case. Empty selects FileCreate.
func ParseFileFlag(s string) (FileFlag, bool) {
	switch f := FileFlag(strings.ToUpper(strings.TrimSpace(s))); f {
	case "":
		return FileCreate, true
	case FileCreate, FileOverwrite, FileAppend:
		return f, true
	}
	return "", false
}

// Error lets a non-success Status travel as an error.
func (s Status) Error() string { return s.String() }

// Err returns nil for StatusSuccess and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}
