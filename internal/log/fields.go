// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldPipelineID = "pipeline_id"
	FieldSeqNo      = "seq_no"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldOp        = "op"
	FieldStatus    = "status"
	FieldMsgType   = "msg_type"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / address fields
	FieldPath   = "path"
	FieldSocket = "socket"
)
