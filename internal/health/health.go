// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health serves the daemon's liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status grades one component or the daemon as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckTimeout bounds a single component check.
const CheckTimeout = 2 * time.Second

func (s Status) worse(than Status) bool {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		}
		return 0
	}
	return rank(s) > rank(than)
}

// Result is the outcome of one component check.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Report is the probe response body. Ready is only set by readiness probes.
type Report struct {
	Status     Status            `json:"status"`
	Ready      *bool             `json:"ready,omitempty"`
	Version    string            `json:"version,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components map[string]Result `json:"components,omitempty"`
}

// Checker inspects one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// Registry runs the registered checkers for each probe.
type Registry struct {
	version string

	mu       sync.RWMutex
	checkers []Checker
}

// NewRegistry returns an empty Registry reporting version.
func NewRegistry(version string) *Registry {
	return &Registry{version: version}
}

// Register adds c to every subsequent probe.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, c)
	r.mu.Unlock()
}

// evaluate runs all checkers concurrently, each under CheckTimeout.
func (r *Registry) evaluate(ctx context.Context) (Status, map[string]Result) {
	r.mu.RLock()
	checkers := slices.Clone(r.checkers)
	r.mu.RUnlock()
	if len(checkers) == 0 {
		return StatusHealthy, nil
	}

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, CheckTimeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	byName := make(map[string]Result, len(checkers))
	for i, c := range checkers {
		byName[c.Name()] = results[i]
		if results[i].Status.worse(overall) {
			overall = results[i].Status
		}
	}
	return overall, byName
}

// Liveness reports healthy whenever the process can answer. With verbose
// set the components are evaluated and graded too.
func (r *Registry) Liveness(ctx context.Context, verbose bool) Report {
	rep := Report{Status: StatusHealthy, Version: r.version, CheckedAt: time.Now()}
	if verbose {
		rep.Status, rep.Components = r.evaluate(ctx)
	}
	return rep
}

// Readiness evaluates every component; any unhealthy one fails the probe.
func (r *Registry) Readiness(ctx context.Context) Report {
	status, comps := r.evaluate(ctx)
	ready := status != StatusUnhealthy
	return Report{Status: status, Ready: &ready, Version: r.version, CheckedAt: time.Now(), Components: comps}
}

// ServeLiveness answers 200 unconditionally; ?verbose=true adds components.
func (r *Registry) ServeLiveness(w http.ResponseWriter, req *http.Request) {
	rep := r.Liveness(req.Context(), req.URL.Query().Get("verbose") == "true")
	writeReport(w, req, http.StatusOK, rep)
}

// ServeReadiness answers 503 while any component is unhealthy.
func (r *Registry) ServeReadiness(w http.ResponseWriter, req *http.Request) {
	rep := r.Readiness(req.Context())
	code := http.StatusOK
	if !*rep.Ready {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, req, code, rep)
}

func writeReport(w http.ResponseWriter, req *http.Request, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logger := log.WithComponentFromContext(req.Context(), "health")
		logger.Debug().Err(err).Str(log.FieldEvent, "health.write_failed").Msg("probe response not written")
	}
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (c funcChecker) Name() string                     { return c.name }
func (c funcChecker) Check(ctx context.Context) Result { return c.fn(ctx) }

// Func adapts fn into a Checker called name.
func Func(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}

// Socket checks that a unix socket is bound at path.
func Socket(name, path string) Checker {
	return Func(name, func(context.Context) Result {
		info, err := os.Lstat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Result{Status: StatusUnhealthy, Detail: path, Err: "socket not found"}
		case err != nil:
			return Result{Status: StatusUnhealthy, Detail: path, Err: err.Error()}
		case info.Mode()&fs.ModeSocket == 0:
			return Result{Status: StatusUnhealthy, Detail: path, Err: "not a socket"}
		}
		return Result{Status: StatusHealthy, Detail: path}
	})
}

// Executable checks that path resolves to a launchable binary the way
// exec.Command would resolve it.
func Executable(name, path string) Checker {
	return Func(name, func(context.Context) Result {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return Result{Status: StatusUnhealthy, Detail: path, Err: err.Error()}
		}
		return Result{Status: StatusHealthy, Detail: resolved}
	})
}
