// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sitewright/sitewright/lib/buildstore"
	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/versions"
	"github.com/sitewright/sitewright/lib/worktree"
)

// Errors returned by Rollback and GateBuild.
var (
	// ErrNotFound means the target version does not exist in the
	// project.
	ErrNotFound = errors.New("rollback target not found")

	// ErrNoArtifact means the target version's artifact is not
	// retrievable.
	ErrNoArtifact = errors.New("rollback target has no artifact")

	// ErrRollbackFailed means the project's working directory may be
	// half-restored; builds are rejected until the state clears.
	ErrRollbackFailed = errors.New("project is in rollback_failed state")
)

// Config holds the controller's collaborators.
type Config struct {
	// Versions is the version store. Required.
	Versions *versions.Store

	// Artifacts is the content-addressed store. Required.
	Artifacts *buildstore.Store

	// Locks serializes rollbacks per project. Required.
	Locks *LockStore

	// States is the deployment state store. Required.
	States *StateStore

	// WorkingDir maps a project id to its working directory. Required.
	WorkingDir func(projectID string) string

	// OnRestored is called after a successful reconciliation, before
	// the state flips back to deployed. The supervisor hooks this to
	// evict the project's warm session, whose process would otherwise
	// keep stale files open.
	OnRestored func(projectID string)

	// LockTTL bounds how long a rollback may hold the lock. Zero
	// means 2 minutes.
	LockTTL time.Duration

	// ReconcileTimeout bounds background reconciliation. Zero means
	// 5 minutes.
	ReconcileTimeout time.Duration

	// Clock for lock TTLs. Nil means the system clock.
	Clock clock.Clock

	// Logger for rollback lifecycle events. Nil means slog.Default.
	Logger *slog.Logger
}

// Result is the synchronous outcome of a rollback request.
type Result struct {
	// Version is the new rollback-typed version.
	Version *versions.Version

	// PreviewReady reports that the published pointer already serves
	// the target artifact.
	PreviewReady bool
}

// Controller coordinates rollbacks. Safe for concurrent use.
type Controller struct {
	versions         *versions.Store
	artifacts        *buildstore.Store
	locks            *LockStore
	states           *StateStore
	workingDir       func(string) string
	onRestored       func(string)
	lockTTL          time.Duration
	reconcileTimeout time.Duration
	clock            clock.Clock
	logger           *slog.Logger

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewController validates config and returns a Controller.
func NewController(config Config) (*Controller, error) {
	if config.Versions == nil || config.Artifacts == nil || config.Locks == nil || config.States == nil {
		return nil, fmt.Errorf("versions, artifacts, locks, and states are required")
	}
	if config.WorkingDir == nil {
		return nil, fmt.Errorf("working directory resolver is required")
	}
	if config.LockTTL == 0 {
		config.LockTTL = 2 * time.Minute
	}
	if config.ReconcileTimeout == 0 {
		config.ReconcileTimeout = 5 * time.Minute
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Controller{
		versions:         config.Versions,
		artifacts:        config.Artifacts,
		locks:            config.Locks,
		states:           config.States,
		workingDir:       config.WorkingDir,
		onRestored:       config.OnRestored,
		lockTTL:          config.LockTTL,
		reconcileTimeout: config.ReconcileTimeout,
		clock:            config.Clock,
		logger:           config.Logger,
		inFlight:         make(map[string]chan struct{}),
	}, nil
}

// Rollback restores projectID to targetVersionID. On return the
// published pointer already serves the target artifact and a new
// rollback-typed version exists; working-directory reconciliation
// continues in the background. A second rollback for the same project
// while one is in flight fails with ErrAlreadyInProgress.
func (c *Controller) Rollback(ctx context.Context, projectID, targetVersionID, requesterID string) (*Result, error) {
	target, err := c.versions.Get(ctx, targetVersionID)
	if errors.Is(err, versions.ErrVersionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, targetVersionID)
	}
	if err != nil {
		return nil, err
	}
	if target.ProjectID != projectID {
		return nil, fmt.Errorf("%w: %s does not belong to %s", ErrNotFound, targetVersionID, projectID)
	}
	if !c.artifacts.Has(target.ArtifactID) {
		return nil, fmt.Errorf("%w: version %s", ErrNoArtifact, target.Number.String())
	}

	if err := c.locks.Acquire(ctx, projectID, requesterID, c.lockTTL); err != nil {
		return nil, err
	}
	// Every early exit below must release; the background reconciler
	// takes over ownership once it starts.
	release := func() {
		if releaseErr := c.locks.Release(context.Background(), projectID, requesterID); releaseErr != nil {
			c.logger.Error("releasing rollback lock", "project_id", projectID, "error", releaseErr)
		}
	}

	// The in-flight entry must exist before the state reads
	// rolling_back: GateBuild treats rolling_back with no entry as a
	// crashed reconciler and fails the project.
	done := make(chan struct{})
	c.mu.Lock()
	c.inFlight[projectID] = done
	c.mu.Unlock()
	abort := func() {
		c.mu.Lock()
		delete(c.inFlight, projectID)
		c.mu.Unlock()
		close(done)
	}

	if err := c.states.Set(ctx, projectID, StateRollingBack, ""); err != nil {
		abort()
		release()
		return nil, err
	}

	version, err := c.versions.Commit(ctx, versions.CommitRequest{
		ProjectID:  projectID,
		Change:     versions.ChangeRollback,
		Summary:    "rollback to " + target.Number.String(),
		ArtifactID: target.ArtifactID,
		Carry:      &target.Number,
		Publish:    true,
	})
	if err != nil {
		c.states.Set(ctx, projectID, StateDeployed, "")
		abort()
		release()
		return nil, fmt.Errorf("committing rollback version: %w", err)
	}

	c.logger.Info("rollback pointer flipped",
		"project_id", projectID,
		"target_version", target.Number.String(),
		"new_version", version.Number.String(),
		"requester", requesterID,
	)

	go c.reconcile(projectID, requesterID, target.ArtifactID, done)

	return &Result{Version: version, PreviewReady: true}, nil
}

// reconcile re-materializes the working directory from the artifact
// and settles the project's state. It owns the lock.
func (c *Controller) reconcile(projectID, requesterID, artifactID string, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, projectID)
		c.mu.Unlock()
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.reconcileTimeout)
	defer cancel()
	defer func() {
		if err := c.locks.Release(context.Background(), projectID, requesterID); err != nil {
			c.logger.Error("releasing rollback lock", "project_id", projectID, "error", err)
		}
	}()

	err := c.restore(ctx, projectID, artifactID)
	if err != nil {
		c.logger.Error("rollback reconciliation failed",
			"project_id", projectID,
			"error", err,
		)
		c.states.Set(context.Background(), projectID, StateRollbackFailed, err.Error())
		return
	}

	if c.onRestored != nil {
		c.onRestored(projectID)
	}
	if err := c.states.Set(context.Background(), projectID, StateDeployed, ""); err != nil {
		c.logger.Error("recording deployed state", "project_id", projectID, "error", err)
	}
}

func (c *Controller) restore(ctx context.Context, projectID, artifactID string) error {
	snapshot, err := c.artifacts.Get(artifactID)
	if err != nil {
		return fmt.Errorf("loading artifact: %w", err)
	}
	stats, err := worktree.Restore(ctx, c.workingDir(projectID), snapshot)
	if err != nil {
		return fmt.Errorf("restoring working directory: %w", err)
	}
	c.logger.Info("working directory reconciled",
		"project_id", projectID,
		"written", stats.FilesWritten,
		"skipped", stats.FilesSkipped,
		"removed", stats.FilesRemoved,
	)
	return nil
}

// WaitReconcile blocks until the project's in-flight reconciliation
// finishes or ctx is done. Returns immediately when none is running.
func (c *Controller) WaitReconcile(ctx context.Context, projectID string) error {
	c.mu.Lock()
	done := c.inFlight[projectID]
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GateBuild enforces the state machine for build admission: builds
// queue while rolling_back and are rejected while rollback_failed.
func (c *Controller) GateBuild(ctx context.Context, projectID string) error {
	for {
		state, detail, err := c.states.Get(ctx, projectID)
		if err != nil {
			return err
		}
		switch state {
		case StateRollbackFailed:
			return fmt.Errorf("%w: %s", ErrRollbackFailed, detail)
		case StateRollingBack:
			c.mu.Lock()
			done := c.inFlight[projectID]
			c.mu.Unlock()
			if done == nil {
				// Stale state from a reconciler that died with the
				// process. Builds must not run on the half-restored
				// tree.
				c.states.Set(ctx, projectID, StateRollbackFailed, "reconciliation interrupted")
				continue
			}
			select {
			case <-done:
				// Re-read: reconciliation may have failed.
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

// ClearFailure is the operator action that moves a rollback_failed
// project back to deployed.
func (c *Controller) ClearFailure(ctx context.Context, projectID string) error {
	state, _, err := c.states.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if state != StateRollbackFailed {
		return fmt.Errorf("project %s is %s, not %s", projectID, state, StateRollbackFailed)
	}
	return c.states.Set(ctx, projectID, StateDeployed, "")
}

// State exposes the project's deployment state for status reporting.
func (c *Controller) State(ctx context.Context, projectID string) (ProjectState, string, error) {
	return c.states.Get(ctx, projectID)
}
