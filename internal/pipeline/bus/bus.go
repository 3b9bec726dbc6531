// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus carries pipeline lifecycle notifications to in-process
// observers such as the control API's event stream.
package bus

import (
	"context"
	"time"
)

// TopicPipelineEvents receives every Event published by the manager.
const TopicPipelineEvents = "pipeline.events"

// EventType classifies a pipeline notification.
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventEOS          EventType = "eos"
	EventRuntimeError EventType = "runtime_error"
	EventMetadata     EventType = "metadata"
	EventWorkerExited EventType = "worker_exited"
	EventRemoved      EventType = "removed"
)

// Event is one pipeline notification.
type Event struct {
	Type       EventType `json:"type"`
	PipelineID int       `json:"pipeline_id"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Message is what travels over a topic.
type Message = Event

// Subscriber receives messages for one topic until closed.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus is a topic based publish/subscribe transport.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
