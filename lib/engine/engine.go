// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitewright/sitewright/lib/buildstore"
	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/rollback"
	"github.com/sitewright/sitewright/lib/supervisor"
	"github.com/sitewright/sitewright/lib/versions"
)

// Errors returned by the engine API.
var (
	// ErrRunNotFound means no run exists for the id.
	ErrRunNotFound = errors.New("run not found")

	// ErrEmptyPrompt means StartBuild was called without a prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrBuildActive means a rollback was requested while a build is
	// in flight for the project. Reconciling the working directory
	// under a live agent would race its writes.
	ErrBuildActive = errors.New("build in flight for project")
)

// Config holds the engine's collaborators and tuning.
type Config struct {
	// Supervisor leases agent sessions. Required.
	Supervisor *supervisor.Supervisor

	// Versions records build history. Required.
	Versions *versions.Store

	// Artifacts stores snapshots. Required.
	Artifacts *buildstore.Store

	// Rollback gates builds and serves rollback requests. Required.
	Rollback *rollback.Controller

	// WorkingDir maps a project id to its working directory. Required.
	WorkingDir func(projectID string) string

	// RunTimeout bounds a whole build. Zero means 10 minutes.
	RunTimeout time.Duration

	// CancelGrace is how long a cancelled or timed-out agent may keep
	// talking before SIGKILL. Zero means 5 seconds.
	CancelGrace time.Duration

	// EventBuffer is the per-run event queue capacity. Zero means 256.
	EventBuffer int

	// RunRetention is how long a settled run stays queryable before it
	// is pruned from the registry. Zero means one hour.
	RunRetention time.Duration

	// Clock for run timeouts and grace periods. Nil means the system
	// clock.
	Clock clock.Clock

	// Logger for run lifecycle events. Nil means slog.Default.
	Logger *slog.Logger
}

// Engine is the build orchestrator. Safe for concurrent use.
type Engine struct {
	supervisor   *supervisor.Supervisor
	versions     *versions.Store
	artifacts    *buildstore.Store
	rollback     *rollback.Controller
	workingDir   func(string) string
	runTimeout   time.Duration
	cancelGrace  time.Duration
	eventBuffer  int
	runRetention time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// New validates config and returns an Engine.
func New(config Config) (*Engine, error) {
	if config.Supervisor == nil || config.Versions == nil || config.Artifacts == nil || config.Rollback == nil {
		return nil, fmt.Errorf("supervisor, versions, artifacts, and rollback are required")
	}
	if config.WorkingDir == nil {
		return nil, fmt.Errorf("working directory resolver is required")
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = 10 * time.Minute
	}
	if config.CancelGrace == 0 {
		config.CancelGrace = 5 * time.Second
	}
	if config.EventBuffer == 0 {
		config.EventBuffer = 256
	}
	if config.RunRetention == 0 {
		config.RunRetention = time.Hour
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Engine{
		supervisor:   config.Supervisor,
		versions:     config.Versions,
		artifacts:    config.Artifacts,
		rollback:     config.Rollback,
		workingDir:   config.WorkingDir,
		runTimeout:   config.RunTimeout,
		cancelGrace:  config.CancelGrace,
		eventBuffer:  config.EventBuffer,
		runRetention: config.RunRetention,
		clock:        config.Clock,
		logger:       config.Logger,
		runs:         make(map[string]*Run),
	}, nil
}

// StartBuild launches a build for the project and returns its run.
// Builds queue while the project is rolling back and are rejected
// while it is rollback_failed. The returned run's event buffer
// carries the live stream; the call itself returns as soon as the
// agent session is leased.
func (e *Engine) StartBuild(ctx context.Context, projectID, prompt string) (*Run, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if err := e.rollback.GateBuild(ctx, projectID); err != nil {
		return nil, err
	}

	session, err := e.supervisor.Acquire(ctx, projectID, e.workingDir(projectID))
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		e.supervisor.Release(session)
		return nil, fmt.Errorf("generating run id: %w", err)
	}

	run := newRun(id.String(), projectID, e.eventBuffer)
	e.mu.Lock()
	e.pruneRuns(e.clock.Now())
	e.runs[run.ID] = run
	e.mu.Unlock()

	e.logger.Info("build started",
		"run_id", run.ID,
		"project_id", projectID,
		"pid", session.Process().Pid(),
	)
	go e.runBuild(run, session, prompt)
	return run, nil
}

// Run returns a registered run.
func (e *Engine) Run(runID string) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.runs[runID]
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// CancelRun requests graceful cancellation of an in-flight run. The
// agent gets a grace period to flush a terminal event before SIGKILL;
// if none arrives, a failed terminal is synthesized.
func (e *Engine) CancelRun(runID string) error {
	run, err := e.Run(runID)
	if err != nil {
		return err
	}
	run.requestCancel()
	return nil
}

// pruneRuns drops settled runs older than the retention window.
// Caller holds e.mu.
func (e *Engine) pruneRuns(now time.Time) {
	for id, run := range e.runs {
		if settled, ok := run.settledTime(); ok && now.Sub(settled) >= e.runRetention {
			delete(e.runs, id)
		}
	}
}

// RequestRollback forwards to the rollback controller. Rejected with
// ErrBuildActive while the project has a build in flight: the
// reconciler would rewrite the working directory under the agent.
func (e *Engine) RequestRollback(ctx context.Context, projectID, targetVersionID, requesterID string) (*rollback.Result, error) {
	e.mu.Lock()
	for _, run := range e.runs {
		if run.ProjectID == projectID && run.Status() == RunRunning {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: run %s", ErrBuildActive, run.ID)
		}
	}
	e.mu.Unlock()
	return e.rollback.Rollback(ctx, projectID, targetVersionID, requesterID)
}

// ActiveRuns returns the ids of runs that have not reached a terminal
// state.
func (e *Engine) ActiveRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var active []string
	for id, run := range e.runs {
		if run.Status() == RunRunning {
			active = append(active, id)
		}
	}
	return active
}

// Shutdown cancels every active run and waits for them to settle or
// for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	var active []*Run
	for _, run := range e.runs {
		if run.Status() == RunRunning {
			active = append(active, run)
		}
	}
	e.mu.Unlock()

	for _, run := range active {
		run.requestCancel()
	}
	for _, run := range active {
		select {
		case <-run.done:
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
		}
	}
	return nil
}
