// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sitewright/sitewright/lib/clock"
)

// Errors returned by Acquire. Callers branch with errors.Is.
var (
	// ErrSessionBusy means the project's session is already leased.
	ErrSessionBusy = errors.New("session busy")

	// ErrPoolExhausted means the pool is at capacity with no idle
	// session to evict.
	ErrPoolExhausted = errors.New("session pool exhausted")

	// ErrShuttingDown means the supervisor is stopping.
	ErrShuttingDown = errors.New("supervisor shutting down")
)

// Process is the running agent process a session wraps. Satisfied by
// *sandbox.Handle.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Wait() error
	Terminate() error
	Kill() error
}

// Spawner launches sandboxed agent processes. Satisfied by
// ExecutorSpawner in production and by fakes in tests.
type Spawner interface {
	Spawn(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (Process, error)
}

// Config holds the supervisor's tuning parameters.
type Config struct {
	// Spawner launches session processes. Required.
	Spawner Spawner

	// Command is the agent command line for every session. Required.
	Command []string

	// Env is extra environment passed to every session.
	Env map[string]string

	// MaxSessions caps concurrently live sessions. Zero means 8.
	MaxSessions int

	// IdleEviction is how long a session may sit idle before the
	// sweeper reclaims it. Zero means 10 minutes.
	IdleEviction time.Duration

	// SweepInterval is how often the idle sweeper runs. Zero means 30
	// seconds.
	SweepInterval time.Duration

	// TerminateGrace is the SIGTERM-to-SIGKILL escalation delay. Zero
	// means 5 seconds.
	TerminateGrace time.Duration

	// Clock for idle accounting and grace timers. Nil means the system
	// clock.
	Clock clock.Clock

	// Logger for session lifecycle events. Nil means slog.Default.
	Logger *slog.Logger
}

// Supervisor owns the session pool. Safe for concurrent use.
type Supervisor struct {
	spawner        Spawner
	command        []string
	env            map[string]string
	maxSessions    int
	idleEviction   time.Duration
	sweepInterval  time.Duration
	terminateGrace time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Supervisor and starts its idle sweeper.
func New(config Config) (*Supervisor, error) {
	if config.Spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("agent command is required")
	}
	if config.MaxSessions == 0 {
		config.MaxSessions = 8
	}
	if config.IdleEviction == 0 {
		config.IdleEviction = 10 * time.Minute
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = 30 * time.Second
	}
	if config.TerminateGrace == 0 {
		config.TerminateGrace = 5 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Supervisor{
		spawner:        config.Spawner,
		command:        config.Command,
		env:            config.Env,
		maxSessions:    config.MaxSessions,
		idleEviction:   config.IdleEviction,
		sweepInterval:  config.SweepInterval,
		terminateGrace: config.TerminateGrace,
		clock:          config.Clock,
		logger:         config.Logger,
		sessions:       make(map[string]*Session),
		sweepStop:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	go s.sweep()
	return s, nil
}

// Acquire leases the project's session, spawning one if none exists.
// A project has at most one session; acquiring while it is leased
// returns ErrSessionBusy. When the pool is full the longest-idle
// session is evicted to make room; if nothing is idle, Acquire returns
// ErrPoolExhausted.
func (s *Supervisor) Acquire(ctx context.Context, projectID, projectPath string) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}

	if existing := s.sessions[projectID]; existing != nil {
		switch existing.state {
		case StateIdle:
			existing.state = StateBusy
			s.mu.Unlock()
			return existing, nil
		case StateDead:
			delete(s.sessions, projectID)
		default:
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: project %s", ErrSessionBusy, projectID)
		}
	}

	victim := s.makeRoomLocked()
	if victim == nil && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return nil, ErrPoolExhausted
	}

	session := &Session{
		projectID:   projectID,
		projectPath: projectPath,
		state:       StateStarting,
		done:        make(chan struct{}),
	}
	s.sessions[projectID] = session
	s.mu.Unlock()

	if victim != nil {
		s.terminate(victim, "evicted for capacity")
	}

	process, err := s.spawner.Spawn(ctx, projectPath, s.command, s.env)
	if err != nil {
		s.mu.Lock()
		if s.sessions[projectID] == session {
			delete(s.sessions, projectID)
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("spawning session for %s: %w", projectID, err)
	}

	s.mu.Lock()
	session.process = process
	session.state = StateBusy
	s.mu.Unlock()

	s.logger.Info("session started",
		"project_id", projectID,
		"pid", process.Pid(),
	)
	go s.monitor(session)
	return session, nil
}

// Release returns a leased session to the pool. Dead sessions are
// dropped instead.
func (s *Supervisor) Release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.state == StateDead {
		if s.sessions[session.projectID] == session {
			delete(s.sessions, session.projectID)
		}
		return
	}
	session.state = StateIdle
	session.idleSince = s.clock.Now()
}

// Evict terminates the project's session if it is idle. Used when a
// rollback replaces the working directory out from under a warm
// session.
func (s *Supervisor) Evict(projectID string) {
	s.mu.Lock()
	session := s.sessions[projectID]
	if session == nil || session.state != StateIdle {
		s.mu.Unlock()
		return
	}
	session.state = StateTerminating
	s.mu.Unlock()
	s.terminate(session, "evicted")
}

// Len returns the number of live sessions.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown terminates every session, in parallel, and waits for them
// to exit or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var victims []*Session
	for _, session := range s.sessions {
		if session.state == StateDead || session.state == StateTerminating {
			continue
		}
		session.state = StateTerminating
		victims = append(victims, session)
	}
	s.mu.Unlock()

	close(s.sweepStop)
	<-s.sweepDone

	var wg sync.WaitGroup
	for _, session := range victims {
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()
			s.terminate(session, "shutdown")
		}(session)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}

// makeRoomLocked picks the longest-idle session for eviction when the
// pool is at capacity, marks it terminating, and returns it. Returns
// nil when there is room or nothing evictable.
func (s *Supervisor) makeRoomLocked() *Session {
	if len(s.sessions) < s.maxSessions {
		return nil
	}
	var victim *Session
	for _, session := range s.sessions {
		if session.state != StateIdle {
			continue
		}
		if victim == nil || session.idleSince.Before(victim.idleSince) {
			victim = session
		}
	}
	if victim != nil {
		victim.state = StateTerminating
	}
	return victim
}

// monitor reaps the session process and drops the pool entry when it
// exits, whether by eviction or by crashing.
func (s *Supervisor) monitor(session *Session) {
	err := session.wait()

	s.mu.Lock()
	crashed := session.state != StateTerminating
	session.state = StateDead
	if s.sessions[session.projectID] == session {
		delete(s.sessions, session.projectID)
	}
	s.mu.Unlock()

	if crashed {
		s.logger.Warn("session exited unexpectedly",
			"project_id", session.projectID,
			"error", err,
		)
	}
}

// terminate asks the session to exit and escalates to SIGKILL after
// the grace period.
func (s *Supervisor) terminate(session *Session, reason string) {
	s.mu.Lock()
	session.state = StateTerminating
	process := session.process
	s.mu.Unlock()

	if process == nil {
		return
	}

	s.logger.Info("terminating session",
		"project_id", session.projectID,
		"reason", reason,
	)

	if err := process.Terminate(); err != nil {
		process.Kill()
	}
	select {
	case <-session.done:
	case <-s.clock.After(s.terminateGrace):
		s.logger.Warn("session ignored SIGTERM, killing",
			"project_id", session.projectID,
		)
		process.Kill()
		<-session.done
	}
}

// sweep periodically evicts sessions idle past the eviction threshold.
func (s *Supervisor) sweep() {
	defer close(s.sweepDone)
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		s.mu.Lock()
		var expired []*Session
		for _, session := range s.sessions {
			if session.state != StateIdle {
				continue
			}
			if now.Sub(session.idleSince) >= s.idleEviction {
				session.state = StateTerminating
				expired = append(expired, session)
			}
		}
		s.mu.Unlock()

		for _, session := range expired {
			s.terminate(session, "idle eviction")
		}
	}
}
