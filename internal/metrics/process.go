// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_proc_terminate_total",
		Help: "Signals sent to worker process groups by signal and result",
	}, []string{"signal", "result"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_proc_wait_total",
		Help: "Worker reap outcomes after termination",
	}, []string{"outcome"})

	procSpawnTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipemgr_proc_spawn_total",
		Help: "Worker spawn attempts by result",
	}, []string{"result"})
)

// IncProcTerminate records a termination signal and its result (sent, esrch, error).
func IncProcTerminate(signal, result string) {
	procTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}

// IncProcSpawn records a spawn attempt.
func IncProcSpawn(result string) {
	procSpawnTotal.WithLabelValues(result).Inc()
}
