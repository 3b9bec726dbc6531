// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package protocol defines the control envelope exchanged between the manager
// and pipeline workers, its binary encoding and the length-prefixed framing.
package protocol

import "fmt"

// RequestType identifies a control request sent by the manager.
type RequestType int32

const (
	RequestCreate RequestType = iota
	RequestModify
	RequestDestroy
	RequestPlay
	RequestPause
	RequestStop
	RequestSetChannel
)

var requestNames = map[RequestType]string{
	RequestCreate:     "CREATE_REQUEST",
	RequestModify:     "MODIFY_REQUEST",
	RequestDestroy:    "DESTROY_REQUEST",
	RequestPlay:       "PLAY_REQUEST",
	RequestPause:      "PAUSE_REQUEST",
	RequestStop:       "STOP_REQUEST",
	RequestSetChannel: "SET_CHANNEL_REQUEST",
}

func (t RequestType) String() string {
	if s, ok := requestNames[t]; ok {
		return s
	}
	return fmt.Sprintf("REQUEST(%d)", int32(t))
}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	_, ok := requestNames[t]
	return ok
}

// ResponseType identifies a message sent by a worker: either the response to
// a request or an unsolicited event.
type ResponseType int32

const (
	ResponseCreate ResponseType = iota
	ResponseModify
	ResponseDestroy
	ResponsePlay
	ResponsePause
	ResponseStop
	ResponseSetChannel

	// Events carry no request sequence number.
	EventRegister ResponseType = 100
	EventMetadata ResponseType = 101
	EventEOS      ResponseType = 102
	EventError    ResponseType = 103
)

var responseNames = map[ResponseType]string{
	ResponseCreate:     "CREATE_RESPONSE",
	ResponseModify:     "MODIFY_RESPONSE",
	ResponseDestroy:    "DESTROY_RESPONSE",
	ResponsePlay:       "PLAY_RESPONSE",
	ResponsePause:      "PAUSE_RESPONSE",
	ResponseStop:       "STOP_RESPONSE",
	ResponseSetChannel: "SET_CHANNEL_RESPONSE",
	EventRegister:      "REGISTER_EVENT",
	EventMetadata:      "METADATA_EVENT",
	EventEOS:           "EOS_EVENT",
	EventError:         "ERROR_EVENT",
}

func (t ResponseType) String() string {
	if s, ok := responseNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RESPONSE(%d)", int32(t))
}

// IsEvent reports whether t is an unsolicited worker event.
func (t ResponseType) IsEvent() bool {
	return t >= EventRegister
}

// ResponseFor maps a request type to the response type a worker must answer with.
func ResponseFor(t RequestType) ResponseType {
	return ResponseType(t)
}

// CreateParams carries the pipeline description for a CREATE request.
type CreateParams struct {
	Launch string
	Config string
}

// ModifyParams carries the property update for a MODIFY request.
type ModifyParams struct {
	Config string
}

// SetChannelParams binds an element of the worker pipeline to a channel.
type SetChannelParams struct {
	Element   string
	ChannelID int32
}

// Request is the manager-to-worker envelope.
type Request struct {
	Type       RequestType
	PipelineID int32
	SeqNo      uint64
	Create     *CreateParams
	Modify     *ModifyParams
	SetChannel *SetChannelParams
}

// Response is the worker-to-manager envelope. RetCode 0 means success.
type Response struct {
	Type       ResponseType
	PipelineID int32
	SeqNo      uint64
	RetCode    int32
	Metadata   []byte
}

// OK reports whether the worker accepted the request.
func (r *Response) OK() bool {
	return r != nil && r.RetCode == 0
}
