// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineOpsTotal counts manager operations by op and resulting status.
	PipelineOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_pipeline_ops_total",
		Help: "Total pipeline operations by op and resulting status",
	}, []string{"op", "status"})

	// PipelinesActive tracks the number of registry entries.
	PipelinesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipemgr_pipelines_active",
		Help: "Number of pipelines currently held by the manager registry",
	})

	// PipelineStateTransitions counts confirmed state changes.
	PipelineStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_pipeline_state_transitions_total",
		Help: "Total pipeline state transitions by source and target state",
	}, []string{"from", "to"})

	// WorkerExitsTotal counts worker process exits observed by the watcher.
	WorkerExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_worker_exits_total",
		Help: "Total worker process exits (expected=true when caused by destroy)",
	}, []string{"expected"})

	// EventsDroppedTotal counts pipeline events a subscriber never received.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_events_dropped_total",
		Help: "Pipeline events not delivered to a subscriber, by topic and reason",
	}, []string{"topic", "reason"})
)

// IncPipelineOp records the outcome of a manager operation.
func IncPipelineOp(op, status string) {
	if op == "" {
		op = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	PipelineOpsTotal.WithLabelValues(op, status).Inc()
}

// SetPipelinesActive records the current registry size.
func SetPipelinesActive(n int) {
	PipelinesActive.Set(float64(n))
}

// IncStateTransition records a state change.
func IncStateTransition(from, to string) {
	PipelineStateTransitions.WithLabelValues(from, to).Inc()
}

// IncWorkerExit records an observed worker exit.
func IncWorkerExit(expected bool) {
	label := "false"
	if expected {
		label = "true"
	}
	WorkerExitsTotal.WithLabelValues(label).Inc()
}

// IncEventDrop records an undelivered event.
func IncEventDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(topic, reason).Inc()
}
