// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm encodes which pipeline operations are allowed from which
// state and what a refused operation reports.
package fsm

import (
	"fmt"

	"github.com/ManuGH/pipemgr/internal/metrics"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
)

// Rule describes one operation. To is empty when the operation leaves the
// state unchanged. Refused is reported for disallowed states other than
// NONEXIST, RUNTIME_ERROR and PIPELINE_EOS, which always report their own
// status; a zero Refused means every disallowed state reports its own status.
type Rule struct {
	Op      model.Op
	From    []model.MPState
	To      model.MPState
	Refused model.Status
}

// DefaultRules is the pipeline lifecycle.
var DefaultRules = []Rule{
	{Op: model.OpCreate, From: states(model.StateNonExist), To: model.StateCreated, Refused: model.StatusAlreadyCreated},
	{Op: model.OpModify, From: states(model.StateCreated, model.StatePlaying, model.StatePaused)},
	{Op: model.OpSetChannel, From: states(model.StateCreated, model.StatePlaying, model.StatePaused)},
	{Op: model.OpPlay, From: states(model.StateCreated, model.StatePaused), To: model.StatePlaying},
	{Op: model.OpPause, From: states(model.StatePlaying), To: model.StatePaused, Refused: model.StatusNotPlaying},
	{
		Op:      model.OpStop,
		From:    states(model.StatePlaying, model.StatePaused, model.StateRuntimeError, model.StateEOS),
		To:      model.StateStopped,
		Refused: model.StatusNotPlaying,
	},
	{
		Op: model.OpDestroy,
		From: states(model.StateCreated, model.StatePlaying, model.StatePaused,
			model.StateStopped, model.StateRuntimeError, model.StateEOS),
		To: model.StateNonExist,
	},
}

func states(s ...model.MPState) []model.MPState { return s }

// Table indexes rules by operation.
type Table struct {
	rules map[model.Op]Rule
}

// NewTable validates and indexes rules.
func NewTable(rules []Rule) (*Table, error) {
	idx := make(map[model.Op]Rule, len(rules))
	for _, r := range rules {
		if _, exists := idx[r.Op]; exists {
			return nil, fmt.Errorf("duplicate rule for op %s", r.Op)
		}
		if len(r.From) == 0 {
			return nil, fmt.Errorf("rule for op %s allows no state", r.Op)
		}
		idx[r.Op] = r
	}
	return &Table{rules: idx}, nil
}

// MustTable is NewTable for package-level tables.
func MustTable(rules []Rule) *Table {
	t, err := NewTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

var defaultTable = MustTable(DefaultRules)

// Default returns the table built from DefaultRules.
func Default() *Table { return defaultTable }

// Check reports whether op may run in state. On success it returns the
// target state and StatusSuccess; otherwise the current state and the
// refusal status.
func (t *Table) Check(op model.Op, state model.MPState) (model.MPState, model.Status) {
	r, ok := t.rules[op]
	if !ok {
		return state, model.StatusError
	}
	for _, s := range r.From {
		if s == state {
			to := r.To
			if to == "" {
				to = state
			}
			return to, model.StatusSuccess
		}
	}
	switch state {
	case model.StateNonExist, model.StateRuntimeError, model.StateEOS:
	default:
		if r.Refused != 0 {
			return state, r.Refused
		}
	}
	return state, model.StatusForState(state)
}

// Machine holds one pipeline's state. It is not safe for concurrent use;
// the owning pipeline serializes access under its own lock.
type Machine struct {
	table *Table
	state model.MPState
}

// NewMachine starts in NONEXIST.
func NewMachine(t *Table) *Machine {
	if t == nil {
		t = defaultTable
	}
	return &Machine{table: t, state: model.StateNonExist}
}

// State returns the current state.
func (m *Machine) State() model.MPState { return m.state }

// Check applies the table to the current state without changing it.
func (m *Machine) Check(op model.Op) (model.MPState, model.Status) {
	return m.table.Check(op, m.state)
}

// Set moves to s and returns the previous state.
func (m *Machine) Set(s model.MPState) model.MPState {
	from := m.state
	if from != s {
		m.state = s
		metrics.IncStateTransition(string(from), string(s))
	}
	return from
}
