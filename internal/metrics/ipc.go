// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IPCRequestDuration tracks request/response round trips to workers.
	IPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipemgr_ipc_request_duration_seconds",
		Help:    "Duration of control request round trips to workers",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2.0, 15), // 0.5ms to ~8s
	}, []string{"type"})

	// IPCRequestFailures counts failed round trips by reason.
	IPCRequestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_ipc_request_failures_total",
		Help: "Total failed control requests by request type and reason",
	}, []string{"type", "reason"})

	// IPCRegistrations counts worker registration attempts on the control socket.
	IPCRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_ipc_registrations_total",
		Help: "Total worker registrations by result (bound, dropped, invalid, timeout)",
	}, []string{"result"})

	// IPCEventsTotal counts unsolicited worker events.
	IPCEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_ipc_events_total",
		Help: "Total unsolicited worker events by type",
	}, []string{"type"})
)

// ObserveIPCRequest records a completed round trip.
func ObserveIPCRequest(reqType string, d time.Duration) {
	IPCRequestDuration.WithLabelValues(reqType).Observe(d.Seconds())
}

// IncIPCRequestFailure records a failed round trip.
func IncIPCRequestFailure(reqType, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	IPCRequestFailures.WithLabelValues(reqType, reason).Inc()
}

// IncIPCRegistration records the result of a registration handshake.
func IncIPCRegistration(result string) {
	IPCRegistrations.WithLabelValues(result).Inc()
}

// IncIPCEvent records an unsolicited worker event.
func IncIPCEvent(eventType string) {
	IPCEventsTotal.WithLabelValues(eventType).Inc()
}
