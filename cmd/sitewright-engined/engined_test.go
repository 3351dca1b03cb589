// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/sitewright/sitewright/lib/agentstream"
	"github.com/sitewright/sitewright/lib/buildstore"
	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/engine"
	"github.com/sitewright/sitewright/lib/rollback"
	"github.com/sitewright/sitewright/lib/service"
	"github.com/sitewright/sitewright/lib/sqlitepool"
	"github.com/sitewright/sitewright/lib/supervisor"
	"github.com/sitewright/sitewright/lib/versions"
)

// scriptedProcess plays a canned agent for socket-level tests: the
// first stdin write triggers the script on stdout, then the process
// exits.
type scriptedProcess struct {
	pid    int
	script []string

	stdout  *io.PipeReader
	stdoutW *io.PipeWriter

	emitOnce sync.Once
	exitOnce sync.Once
	exited   chan struct{}
}

func newScriptedProcess(pid int, script []string) *scriptedProcess {
	reader, writer := io.Pipe()
	return &scriptedProcess{
		pid:     pid,
		script:  script,
		stdout:  reader,
		stdoutW: writer,
		exited:  make(chan struct{}),
	}
}

func (p *scriptedProcess) Pid() int              { return p.pid }
func (p *scriptedProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *scriptedProcess) Stderr() io.ReadCloser { return io.NopCloser(strings.NewReader("")) }
func (p *scriptedProcess) Wait() error           { <-p.exited; return nil }
func (p *scriptedProcess) Terminate() error      { p.exit(); return nil }
func (p *scriptedProcess) Kill() error           { p.exit(); return nil }

func (p *scriptedProcess) Stdin() io.WriteCloser { return promptTrigger{p} }

func (p *scriptedProcess) exit() {
	p.exitOnce.Do(func() {
		p.stdoutW.Close()
		close(p.exited)
	})
}

func (p *scriptedProcess) emit() {
	for _, line := range p.script {
		fmt.Fprintln(p.stdoutW, line)
	}
	p.exit()
}

type promptTrigger struct{ p *scriptedProcess }

func (t promptTrigger) Write(b []byte) (int, error) {
	t.p.emitOnce.Do(func() { go t.p.emit() })
	return len(b), nil
}

func (t promptTrigger) Close() error { return nil }

type scriptedSpawner struct {
	mu     sync.Mutex
	script []string
	count  int
}

func (s *scriptedSpawner) Spawn(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (supervisor.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return newScriptedProcess(5000+s.count, s.script), nil
}

type daemonFixture struct {
	client *service.Client
	root   string
	stop   func()
}

// newDaemonFixture wires a full EngineService over temp storage and a
// scripted agent, serves it on a temp socket, and returns a connected
// client.
func newDaemonFixture(t *testing.T, spawner supervisor.Spawner) *daemonFixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	clk := clock.Fake(time.Unix(1700000000, 0))
	root := t.TempDir()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     ":memory:",
		PoolSize: 1,
		Setup: func(conn *sqlite.Conn) error {
			if err := versions.Schema(conn); err != nil {
				return err
			}
			return rollback.Schema(conn)
		},
	})
	if err != nil {
		t.Fatalf("opening pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	artifacts, err := buildstore.Open(buildstore.Config{
		Root:   filepath.Join(root, "store"),
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("opening artifact store: %v", err)
	}

	versionStore := versions.NewStore(pool, clk, logger)
	workingDir := func(projectID string) string {
		return projectDir(filepath.Join(root, "projects"), projectID)
	}

	super, err := supervisor.New(supervisor.Config{
		Spawner: spawner,
		Command: []string{"agent"},
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("supervisor.New: %v", err)
	}
	t.Cleanup(func() { super.Shutdown(context.Background()) })

	controller, err := rollback.NewController(rollback.Config{
		Versions:   versionStore,
		Artifacts:  artifacts,
		Locks:      rollback.NewLockStore(pool, clk),
		States:     rollback.NewStateStore(pool, clk),
		WorkingDir: workingDir,
		OnRestored: super.Evict,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	buildEngine, err := engine.New(engine.Config{
		Supervisor: super,
		Versions:   versionStore,
		Artifacts:  artifacts,
		Rollback:   controller,
		WorkingDir: workingDir,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	engineService := &EngineService{
		engine:     buildEngine,
		versions:   versionStore,
		artifacts:  artifacts,
		rollback:   controller,
		supervisor: super,
		isolation:  "full",
		clock:      clk,
		logger:     logger,
		startedAt:  clk.Now(),
	}

	socketPath := filepath.Join(root, "engine.sock")
	server := service.NewSocketServer(socketPath, logger)
	engineService.registerActions(server)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(ctx) }()
	waitForSocket(t, socketPath)

	f := &daemonFixture{
		client: service.NewClient(socketPath),
		root:   root,
		stop: func() {
			cancel()
			select {
			case <-serveDone:
			case <-time.After(5 * time.Second):
				t.Error("Serve did not return after cancellation")
			}
		},
	}
	t.Cleanup(f.stop)
	return f
}

func (f *daemonFixture) seedProject(t *testing.T, projectID string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(f.root, "projects", projectID, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

// runBuild drives one build over the socket and returns the run id
// and every streamed event.
func (f *daemonFixture) runBuild(t *testing.T, projectID, prompt string) (string, []agentstream.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var header buildHeader
	stream, err := f.client.Stream(ctx, "build", map[string]any{
		"project_id": projectID,
		"prompt":     prompt,
	}, &header)
	if err != nil {
		t.Fatalf("build stream: %v", err)
	}
	defer stream.Close()

	var events []agentstream.Event
	for {
		var event agentstream.Event
		if err := stream.Next(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return header.RunID, events
			}
			t.Fatalf("reading event frame: %v", err)
		}
		events = append(events, event)
	}
}

const initLine = `{"type":"system","subtype":"init","session_id":"s1","model":"m"}`

func successScript(summary string) []string {
	return []string{
		initLine,
		fmt.Sprintf(`{"type":"result","subtype":"success","result":%q}`, summary),
	}
}

func TestBuildOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("Added a pricing page")})
	f.seedProject(t, "p1", map[string]string{"index.html": "<html>v1</html>"})

	runID, events := f.runBuild(t, "p1", "add a pricing page")
	if runID == "" {
		t.Fatal("no run id in stream header")
	}
	if len(events) == 0 {
		t.Fatal("no events streamed")
	}

	last := events[len(events)-1]
	if last.Kind != agentstream.KindCompleted {
		t.Fatalf("last event = %s", last.Kind)
	}
	if last.Completed.VersionNumber != "0.1.0" {
		t.Errorf("VersionNumber = %q", last.Completed.VersionNumber)
	}

	// The run's outcome is queryable after the stream ends.
	var status runStatusResponse
	err := f.client.Call(context.Background(), "run-status", map[string]any{"run_id": runID}, &status)
	if err != nil {
		t.Fatalf("run-status: %v", err)
	}
	if status.Status != string(engine.RunCompleted) {
		t.Errorf("Status = %s", status.Status)
	}
	if status.Version == nil || status.Version.Number != "0.1.0" || !status.Version.Published {
		t.Errorf("Version = %+v", status.Version)
	}
}

func TestBuildRejectsBadProjectID(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("noop")})

	_, err := f.client.Stream(context.Background(), "build", map[string]any{
		"project_id": "../escape",
		"prompt":     "x",
	}, nil)
	var callErr *service.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Stream = %v, want *CallError", err)
	}
}

func TestVersionQueriesOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("Added a blog")})
	f.seedProject(t, "p1", map[string]string{"index.html": "one"})
	f.runBuild(t, "p1", "add a blog")

	f.seedProject(t, "p1", map[string]string{"index.html": "two"})
	f.runBuild(t, "p1", "add more blog")

	ctx := context.Background()

	var list versionListResponse
	if err := f.client.Call(ctx, "versions", map[string]any{"project_id": "p1"}, &list); err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(list.Versions) != 2 {
		t.Fatalf("versions = %d, want 2", len(list.Versions))
	}
	// Newest first.
	if list.Versions[0].Number != "0.2.0" || list.Versions[1].Number != "0.1.0" {
		t.Errorf("numbers = %s, %s", list.Versions[0].Number, list.Versions[1].Number)
	}

	var published versionInfo
	if err := f.client.Call(ctx, "published", map[string]any{"project_id": "p1"}, &published); err != nil {
		t.Fatalf("published: %v", err)
	}
	if published.Number != "0.2.0" {
		t.Errorf("published = %s", published.Number)
	}

	var single versionInfo
	if err := f.client.Call(ctx, "version", map[string]any{"version_id": list.Versions[1].ID}, &single); err != nil {
		t.Fatalf("version: %v", err)
	}
	if single.Number != "0.1.0" {
		t.Errorf("version = %s", single.Number)
	}

	var chain versionListResponse
	if err := f.client.Call(ctx, "chain", map[string]any{"version_id": list.Versions[0].ID}, &chain); err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain.Versions) != 2 {
		t.Errorf("chain length = %d, want 2", len(chain.Versions))
	}

	// Re-point the live pointer at the older version.
	if err := f.client.Call(ctx, "publish", map[string]any{
		"project_id": "p1",
		"version_id": list.Versions[1].ID,
	}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := f.client.Call(ctx, "published", map[string]any{"project_id": "p1"}, &published); err != nil {
		t.Fatalf("published after publish: %v", err)
	}
	if published.Number != "0.1.0" {
		t.Errorf("published after publish = %s", published.Number)
	}
}

func TestArtifactLookupOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("Added a gallery")})
	f.seedProject(t, "p1", map[string]string{"index.html": "<html>gallery</html>"})
	f.runBuild(t, "p1", "add a gallery")

	ctx := context.Background()
	var published versionInfo
	if err := f.client.Call(ctx, "published", map[string]any{"project_id": "p1"}, &published); err != nil {
		t.Fatalf("published: %v", err)
	}

	var info artifactResponse
	if err := f.client.Call(ctx, "artifact", map[string]any{"artifact_id": published.ArtifactID}, &info); err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if info.ArtifactID != published.ArtifactID {
		t.Errorf("ArtifactID = %s", info.ArtifactID)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d", info.SizeBytes)
	}
	if !strings.HasPrefix(info.Location, filepath.Join(f.root, "store")) {
		t.Errorf("Location = %s, want under the store root", info.Location)
	}

	// Unknown ids fail the call instead of returning a guess.
	err := f.client.Call(ctx, "artifact", map[string]any{
		"artifact_id": strings.Repeat("ab", 32),
	}, &info)
	var callErr *service.CallError
	if !errors.As(err, &callErr) {
		t.Errorf("artifact unknown = %v, want *CallError", err)
	}
}

func TestRollbackOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("Added a contact form")})
	f.seedProject(t, "p1", map[string]string{"index.html": "first"})
	f.runBuild(t, "p1", "add a contact form")

	ctx := context.Background()
	var list versionListResponse
	if err := f.client.Call(ctx, "versions", map[string]any{"project_id": "p1"}, &list); err != nil {
		t.Fatalf("versions: %v", err)
	}
	target := list.Versions[0]

	f.seedProject(t, "p1", map[string]string{"index.html": "second", "extra.css": "x"})
	f.runBuild(t, "p1", "add styling")

	var result rollbackResponse
	err := f.client.Call(ctx, "rollback", map[string]any{
		"project_id":   "p1",
		"version_id":   target.ID,
		"requester_id": "user-1",
		"wait":         true,
	}, &result)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !result.PreviewReady {
		t.Error("PreviewReady = false")
	}
	if result.Version.Change != "rollback" {
		t.Errorf("Change = %s", result.Version.Change)
	}
	if result.State != string(rollback.StateDeployed) {
		t.Errorf("State = %s", result.State)
	}

	content, err := os.ReadFile(filepath.Join(f.root, "projects", "p1", "index.html"))
	if err != nil || string(content) != "first" {
		t.Errorf("index.html = %q, %v", content, err)
	}
	if _, err := os.Stat(filepath.Join(f.root, "projects", "p1", "extra.css")); !os.IsNotExist(err) {
		t.Error("rolled-back file survived")
	}

	var state stateResponse
	if err := f.client.Call(ctx, "state", map[string]any{"project_id": "p1"}, &state); err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.State != string(rollback.StateDeployed) {
		t.Errorf("state = %s", state.State)
	}
}

func TestStatusOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("noop")})

	var status statusResponse
	if err := f.client.Call(context.Background(), "status", nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Isolation != "full" {
		t.Errorf("Isolation = %q", status.Isolation)
	}
	if status.ActiveRuns != 0 {
		t.Errorf("ActiveRuns = %d", status.ActiveRuns)
	}
}

func TestCancelUnknownRunOverSocket(t *testing.T) {
	f := newDaemonFixture(t, &scriptedSpawner{script: successScript("noop")})

	err := f.client.Call(context.Background(), "cancel", map[string]any{"run_id": "nope"}, nil)
	var callErr *service.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("cancel = %v, want *CallError", err)
	}
	if !strings.Contains(callErr.Message, "run not found") {
		t.Errorf("Message = %q", callErr.Message)
	}
}
