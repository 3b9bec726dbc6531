// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package localmode launches a fixed set of pipelines from a description
// file, keeps them running for a while and tears them down again.
package localmode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// DefaultConcurrency bounds parallel launches.
const DefaultConcurrency = 4

// cleanupTimeout bounds teardown once the run context is gone.
const cleanupTimeout = 30 * time.Second

var ErrNoPipelines = errors.New("local mode file lists no pipelines")

// Entry is one item of the description file. Launch and Config name files
// whose contents are sent to the worker; relative paths resolve against the
// description file's directory.
type Entry struct {
	Launch string `yaml:"launch"`
	Config string `yaml:"config"`
	Num    int    `yaml:"num"`
}

type document struct {
	LocalMode []Entry `yaml:"local_mode"`
}

// Job is an Entry with its files read.
type Job struct {
	Launch string
	Config string
	Num    int
}

// Load parses a description file. JSON input is accepted since it is valid
// YAML.
func Load(path string) ([]Job, error) {
	// #nosec G304 -- the description file is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read local mode file: %w", err)
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse local mode file: %w", err)
	}
	if len(doc.LocalMode) == 0 {
		return nil, ErrNoPipelines
	}

	base := filepath.Dir(path)
	jobs := make([]Job, 0, len(doc.LocalMode))
	for i, e := range doc.LocalMode {
		if e.Num <= 0 {
			return nil, fmt.Errorf("local_mode[%d]: num must be positive, got %d", i, e.Num)
		}
		launch, err := readNonEmpty(base, e.Launch)
		if err != nil {
			return nil, fmt.Errorf("local_mode[%d] launch: %w", i, err)
		}
		config, err := readNonEmpty(base, e.Config)
		if err != nil {
			return nil, fmt.Errorf("local_mode[%d] config: %w", i, err)
		}
		jobs = append(jobs, Job{Launch: launch, Config: config, Num: e.Num})
	}
	return jobs, nil
}

func readNonEmpty(base, path string) (string, error) {
	if path == "" {
		return "", errors.New("path is empty")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	// #nosec G304 -- paths come from the operator's description file
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%s is empty", path)
	}
	return string(data), nil
}

// Manager is the part of the pipeline manager local mode drives.
type Manager interface {
	NextID() int
	AddPipeline(ctx context.Context, id int, launch, config string) model.Status
	PlayPipeline(ctx context.Context, id int) model.Status
	StopPipeline(ctx context.Context, id int) model.Status
	DeletePipeline(ctx context.Context, id int) model.Status
}

// Runner executes one local mode session.
type Runner struct {
	mgr         Manager
	jobs        []Job
	duration    time.Duration
	concurrency int
	logger      zerolog.Logger

	mu       sync.Mutex
	launched map[int]bool // id -> played
}

// NewRunner prepares a session that keeps pipelines up for duration. A zero
// duration runs until the context ends.
func NewRunner(mgr Manager, jobs []Job, duration time.Duration) *Runner {
	return &Runner{
		mgr:         mgr,
		jobs:        jobs,
		duration:    duration,
		concurrency: DefaultConcurrency,
		logger:      log.WithComponent("localmode"),
		launched:    make(map[int]bool),
	}
}

// Run launches and plays every pipeline, waits, then stops and deletes them.
// If any launch fails, everything launched so far is torn down and the
// failure is returned.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.launch(ctx); err != nil {
		r.teardown()
		return err
	}

	r.logger.Info().
		Str(log.FieldEvent, "localmode.running").
		Int("pipelines", len(r.launched)).
		Dur("duration", r.duration).
		Msg("local mode pipelines running")

	if r.duration > 0 {
		timer := time.NewTimer(r.duration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	} else {
		<-ctx.Done()
	}

	r.teardown()
	return nil
}

func (r *Runner) launch(ctx context.Context) error {
	type task struct {
		id  int
		job Job
	}
	var tasks []task
	for _, job := range r.jobs {
		for i := 0; i < job.Num; i++ {
			tasks = append(tasks, task{id: r.mgr.NextID(), job: job})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if st := r.mgr.AddPipeline(gctx, t.id, t.job.Launch, t.job.Config); !st.OK() {
				return fmt.Errorf("launch pipeline %d: %w", t.id, st)
			}
			r.mark(t.id, false)

			if st := r.mgr.PlayPipeline(gctx, t.id); !st.OK() {
				return fmt.Errorf("play pipeline %d: %w", t.id, st)
			}
			r.mark(t.id, true)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) mark(id int, played bool) {
	r.mu.Lock()
	r.launched[id] = played
	r.mu.Unlock()
}

// teardown stops played pipelines and deletes every launched one.
func (r *Runner) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	r.mu.Lock()
	ids := make([]int, 0, len(r.launched))
	for id := range r.launched {
		ids = append(ids, id)
	}
	launched := r.launched
	r.launched = make(map[int]bool)
	r.mu.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		if launched[id] {
			if st := r.mgr.StopPipeline(ctx, id); !st.OK() {
				r.logger.Warn().Int(log.FieldPipelineID, id).Str(log.FieldStatus, st.String()).Msg("stop pipeline failed")
			}
		}
		if st := r.mgr.DeletePipeline(ctx, id); !st.OK() {
			r.logger.Warn().Int(log.FieldPipelineID, id).Str(log.FieldStatus, st.String()).Msg("destroy pipeline failed")
		}
	}
}
