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
	"testing"
	"time"

	"github.com/sitewright/sitewright/lib/clock"
)

type fakeProcess struct {
	pid        int
	ignoreTerm bool

	mu     sync.Mutex
	exited chan struct{}
	terms  int
	kills  int
}

func newFakeProcess(pid int, ignoreTerm bool) *fakeProcess {
	return &fakeProcess{pid: pid, ignoreTerm: ignoreTerm, exited: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Stdin() io.WriteCloser { return nil }
func (p *fakeProcess) Stdout() io.ReadCloser { return nil }
func (p *fakeProcess) Stderr() io.ReadCloser { return nil }
func (p *fakeProcess) Wait() error           { <-p.exited; return nil }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terms++
	p.mu.Unlock()
	if !p.ignoreTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.exited:
	default:
		close(p.exited)
	}
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type fakeSpawner struct {
	mu         sync.Mutex
	ignoreTerm bool
	spawnErr   error
	spawned    []*fakeProcess
}

func (s *fakeSpawner) Spawn(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	process := newFakeProcess(1000+len(s.spawned), s.ignoreTerm)
	s.spawned = append(s.spawned, process)
	return process, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

func newTestSupervisor(t *testing.T, spawner *fakeSpawner, clk clock.Clock, maxSessions int) *Supervisor {
	t.Helper()
	s, err := New(Config{
		Spawner:        spawner,
		Command:        []string{"agent"},
		MaxSessions:    maxSessions,
		IdleEviction:   time.Minute,
		SweepInterval:  30 * time.Second,
		TerminateGrace: 5 * time.Second,
		Clock:          clk,
		Logger:         slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func waitUntil(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAcquireSpawnsOncePerProject(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)
	defer s.Shutdown(context.Background())

	session, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := s.Acquire(context.Background(), "p1", "/projects/p1"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Acquire = %v, want ErrSessionBusy", err)
	}

	s.Release(session)
	again, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	if again != session {
		t.Error("idle session not reused")
	}
	if spawner.count() != 1 {
		t.Errorf("spawn count = %d, want 1", spawner.count())
	}
	s.Release(again)
}

func TestCrashedSessionIsReplaced(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)
	defer s.Shutdown(context.Background())

	session, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release(session)

	// The warm process dies on its own.
	spawner.spawned[0].exit()
	waitUntil(t, "crashed session removal", func() bool { return s.Len() == 0 })

	if _, err := s.Acquire(context.Background(), "p1", "/projects/p1"); err != nil {
		t.Fatalf("Acquire after crash: %v", err)
	}
	if spawner.count() != 2 {
		t.Errorf("spawn count = %d, want 2", spawner.count())
	}
}

func TestIdleEviction(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)
	defer s.Shutdown(context.Background())

	session, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release(session)

	// Two sweep intervals past the eviction threshold. Wait for the
	// sweeper's ticker to register before advancing.
	clk.WaitForWaiters(1)
	clk.Advance(2 * time.Minute)
	waitUntil(t, "idle eviction", func() bool { return s.Len() == 0 })

	if spawner.spawned[0].killCount() != 0 {
		t.Error("compliant process was killed instead of terminated")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	spawner := &fakeSpawner{ignoreTerm: true}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)
	defer s.Shutdown(context.Background())

	session, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s.Release(session)

	clk.WaitForWaiters(1)
	clk.Advance(2 * time.Minute)

	// The sweeper has sent SIGTERM and is waiting out the grace
	// period alongside its own ticker.
	clk.WaitForWaiters(2)
	clk.Advance(5 * time.Second)

	waitUntil(t, "kill escalation", func() bool {
		return spawner.spawned[0].killCount() > 0 && s.Len() == 0
	})
}

func TestPoolCapacityEvictsLongestIdle(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 1)
	defer s.Shutdown(context.Background())

	session, err := s.Acquire(context.Background(), "p1", "/projects/p1")
	if err != nil {
		t.Fatalf("Acquire p1: %v", err)
	}
	s.Release(session)

	// Pool is full but p1 is idle: acquiring p2 evicts it.
	if _, err := s.Acquire(context.Background(), "p2", "/projects/p2"); err != nil {
		t.Fatalf("Acquire p2: %v", err)
	}
	if spawner.count() != 2 {
		t.Errorf("spawn count = %d, want 2", spawner.count())
	}
	waitUntil(t, "evicted session reaped", func() bool { return s.Len() == 1 })
}

func TestPoolExhaustedWhenAllBusy(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 1)
	defer s.Shutdown(context.Background())

	if _, err := s.Acquire(context.Background(), "p1", "/projects/p1"); err != nil {
		t.Fatalf("Acquire p1: %v", err)
	}
	if _, err := s.Acquire(context.Background(), "p2", "/projects/p2"); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Acquire p2 = %v, want ErrPoolExhausted", err)
	}
}

func TestSpawnFailureLeavesNoEntry(t *testing.T) {
	spawner := &fakeSpawner{spawnErr: fmt.Errorf("bwrap not found")}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)
	defer s.Shutdown(context.Background())

	if _, err := s.Acquire(context.Background(), "p1", "/projects/p1"); err == nil {
		t.Fatal("Acquire succeeded despite spawn failure")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after failed spawn", s.Len())
	}
}

func TestShutdownTerminatesEverything(t *testing.T) {
	spawner := &fakeSpawner{}
	clk := clock.Fake(time.Unix(0, 0))
	s := newTestSupervisor(t, spawner, clk, 4)

	for _, id := range []string{"p1", "p2", "p3"} {
		session, err := s.Acquire(context.Background(), id, "/projects/"+id)
		if err != nil {
			t.Fatalf("Acquire %s: %v", id, err)
		}
		s.Release(session)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := s.Acquire(context.Background(), "p4", "/projects/p4"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Acquire after shutdown = %v, want ErrShuttingDown", err)
	}
	for _, process := range spawner.spawned {
		select {
		case <-process.exited:
		default:
			t.Errorf("pid %d still running after shutdown", process.pid)
		}
	}
}
