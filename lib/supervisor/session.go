// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sitewright/sitewright/sandbox"
)

// State is a session's lifecycle phase.
type State int

const (
	// StateStarting means the process is being spawned.
	StateStarting State = iota

	// StateIdle means the session is warm and available for lease.
	StateIdle

	// StateBusy means the session is leased to a build.
	StateBusy

	// StateTerminating means eviction or shutdown is in progress.
	StateTerminating

	// StateDead means the process has exited.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Session is one pooled agent process bound to a project. Field access
// is guarded by the owning Supervisor's lock; the accessor methods are
// safe to call from any goroutine holding a lease.
type Session struct {
	projectID   string
	projectPath string
	process     Process
	state       State
	idleSince   time.Time

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// ProjectID returns the owning project.
func (s *Session) ProjectID() string { return s.projectID }

// ProjectPath returns the sandboxed working directory.
func (s *Session) ProjectPath() string { return s.projectPath }

// Process returns the underlying agent process.
func (s *Session) Process() Process { return s.process }

// Done is closed once the session process has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// WaitErr returns the process exit error. Valid after Done is closed.
func (s *Session) WaitErr() error {
	<-s.done
	return s.waitErr
}

// wait reaps the process exactly once.
func (s *Session) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.process.Wait()
		close(s.done)
	})
	<-s.done
	return s.waitErr
}

// ExecutorSpawner adapts a sandbox.Executor to the Spawner interface.
type ExecutorSpawner struct {
	Executor *sandbox.Executor

	// SpawnTimeout bounds sandbox startup. Zero means no limit.
	SpawnTimeout time.Duration
}

// Spawn launches a sandboxed process through the executor.
func (e ExecutorSpawner) Spawn(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (Process, error) {
	if e.SpawnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.SpawnTimeout)
		defer cancel()
	}
	handle, err := e.Executor.Spawn(ctx, projectPath, command, extraEnv)
	if err != nil {
		return nil, err
	}
	return handle, nil
}
