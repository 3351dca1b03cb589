// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sitewright/sitewright/lib/agentstream"
	"github.com/sitewright/sitewright/lib/supervisor"
	"github.com/sitewright/sitewright/lib/versions"
	"github.com/sitewright/sitewright/lib/worktree"
)

// maxLineBytes bounds a single agent output line. Longer lines abort
// the scan and the run fails as an unexpected exit.
const maxLineBytes = 1 << 20

// RunStatus is a run's lifecycle phase.
type RunStatus string

const (
	// RunRunning means the agent is still working.
	RunRunning RunStatus = "running"

	// RunCompleted means the build finished and a version was
	// committed.
	RunCompleted RunStatus = "completed"

	// RunFailed means the run ended with a failed terminal event.
	RunFailed RunStatus = "failed"

	// RunCancelled means the caller cancelled the run.
	RunCancelled RunStatus = "cancelled"
)

// Run is one build execution. The event buffer is its live stream;
// Status and Version settle once the buffer closes.
type Run struct {
	ID        string
	ProjectID string

	events *agentstream.Buffer

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	status    RunStatus
	version   *versions.Version
	settledAt time.Time
}

func newRun(id, projectID string, eventBuffer int) *Run {
	return &Run{
		ID:        id,
		ProjectID: projectID,
		events:    agentstream.NewBuffer(eventBuffer),
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
		status:    RunRunning,
	}
}

// Events returns the run's event buffer. Single consumer.
func (r *Run) Events() *agentstream.Buffer { return r.events }

// Status returns the run's current phase.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Version returns the committed version, nil until the run completes.
func (r *Run) Version() *versions.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Done is closed when the run has fully settled.
func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) requestCancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

func (r *Run) setStatus(status RunStatus) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// settle stamps the time the run reached its terminal state. Settled
// runs age out of the engine's registry.
func (r *Run) settle(at time.Time) {
	r.mu.Lock()
	r.settledAt = at
	r.mu.Unlock()
}

func (r *Run) settledTime() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settledAt, !r.settledAt.IsZero()
}

func (r *Run) setVersion(version *versions.Version) {
	r.mu.Lock()
	r.version = version
	r.mu.Unlock()
}

// promptEnvelope is the stream-json user turn the agent reads from
// stdin.
type promptEnvelope struct {
	Type    string        `json:"type"`
	Message promptMessage `json:"message"`
}

type promptMessage struct {
	Role    string          `json:"role"`
	Content []promptContent `json:"content"`
}

type promptContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func writePrompt(w io.Writer, prompt string) error {
	line, err := json.Marshal(promptEnvelope{
		Type: "user",
		Message: promptMessage{
			Role:    "user",
			Content: []promptContent{{Type: "text", Text: prompt}},
		},
	})
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}
	return nil
}

// runBuild drives one build to completion: prompt in, events out,
// terminal event into the version pipeline. It owns the session lease
// and releases it on every path.
func (e *Engine) runBuild(run *Run, session *supervisor.Session, prompt string) {
	processor := agentstream.NewProcessor(e.clock)
	process := session.Process()

	defer func() {
		run.settle(e.clock.Now())
		run.events.Close()
		e.supervisor.Release(session)
		close(run.done)
		e.logger.Info("build finished",
			"run_id", run.ID,
			"project_id", run.ProjectID,
			"status", string(run.Status()),
			"events_dropped", run.events.Dropped(),
		)
	}()

	if err := writePrompt(process.Stdin(), prompt); err != nil {
		event := processor.Finalize(agentstream.FailureExited, "agent rejected the prompt: "+err.Error())
		run.events.Push(*event)
		run.setStatus(RunFailed)
		return
	}

	lines := make(chan []byte, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(process.Stdout())
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
	}()

	var (
		terminal    *agentstream.Event
		pendingCode string
		grace       <-chan time.Time
	)
	timeout := e.clock.After(e.runTimeout)
	cancel := run.cancel

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			for _, event := range processor.ProcessLine(line) {
				if event.Kind == agentstream.KindCompleted {
					event = e.commitVersion(run, session, event)
				}
				run.events.Push(event)
				if event.Terminal() {
					terminal = &event
					break loop
				}
			}

		case <-timeout:
			timeout = nil
			pendingCode = agentstream.FailureTimeout
			process.Terminate()
			grace = e.clock.After(e.cancelGrace)

		case <-cancel:
			cancel = nil
			if pendingCode == "" {
				pendingCode = agentstream.FailureCancelled
			}
			process.Terminate()
			if grace == nil {
				grace = e.clock.After(e.cancelGrace)
			}

		case <-grace:
			process.Kill()
			break loop
		}
	}

	// Drain any output the agent produces after the terminal event so
	// the reader goroutine can reach EOF and exit.
	go func() {
		for range lines {
		}
	}()

	if terminal == nil {
		code, message := pendingCode, ""
		switch code {
		case agentstream.FailureTimeout:
			message = "build exceeded its execution timeout"
		case agentstream.FailureCancelled:
			message = "build cancelled"
		default:
			code = agentstream.FailureExited
			message = "agent process exited before completing the build"
		}
		if event := processor.Finalize(code, message); event != nil {
			run.events.Push(*event)
			terminal = event
		}
	}

	switch {
	case terminal == nil:
		run.setStatus(RunFailed)
	case terminal.Kind == agentstream.KindCompleted:
		run.setStatus(RunCompleted)
	case terminal.Failed != nil && terminal.Failed.Code == agentstream.FailureCancelled:
		run.setStatus(RunCancelled)
	default:
		run.setStatus(RunFailed)
	}
}

// commitVersion turns a completed terminal event into a stored
// artifact and a version row. Storage or database failure converts
// the event into a failed terminal — the build is not done if its
// output cannot be recorded.
func (e *Engine) commitVersion(run *Run, session *supervisor.Session, event agentstream.Event) agentstream.Event {
	version, err := e.commit(run, session, event.Completed.Summary)
	if err != nil {
		e.logger.Error("version commit failed",
			"run_id", run.ID,
			"project_id", run.ProjectID,
			"error", err,
		)
		redactor := agentstream.NewRedactor()
		event.Kind = agentstream.KindFailed
		event.Completed = nil
		event.Failed = &agentstream.FailedPayload{
			Code:    agentstream.FailureCommit,
			Message: redactor.Clean(err.Error()),
		}
		return event
	}

	run.setVersion(version)
	event.Completed.VersionID = version.ID
	event.Completed.VersionNumber = version.Number.String()
	return event
}

func (e *Engine) commit(run *Run, session *supervisor.Session, summary string) (*versions.Version, error) {
	snapshot, err := worktree.Snapshot(session.ProjectPath())
	if err != nil {
		return nil, fmt.Errorf("snapshotting working directory: %w", err)
	}
	artifactID, err := e.artifacts.Put(snapshot)
	if err != nil {
		return nil, fmt.Errorf("storing artifact: %w", err)
	}

	classification := versions.Classify(summary)
	if !classification.Confident {
		e.logger.Debug("change classification inconclusive, defaulting to patch",
			"run_id", run.ID,
		)
	}

	version, err := e.versions.Commit(context.Background(), versions.CommitRequest{
		ProjectID:  run.ProjectID,
		Change:     classification.Change,
		Summary:    summary,
		ArtifactID: artifactID,
		Publish:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("committing version: %w", err)
	}
	return version, nil
}
