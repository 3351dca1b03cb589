// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/sqlitepool"
)

// ProjectState is a project's deployment state machine position:
// deployed -> rolling_back -> {deployed, rollback_failed}.
type ProjectState string

const (
	// StateDeployed is the steady state: builds may run.
	StateDeployed ProjectState = "deployed"

	// StateRollingBack means reconciliation is in flight. New builds
	// queue until the state returns to deployed.
	StateRollingBack ProjectState = "rolling_back"

	// StateRollbackFailed means reconciliation failed and the working
	// directory may be half-restored. Builds are rejected until a
	// successful retry or an operator clears the state.
	StateRollbackFailed ProjectState = "rollback_failed"
)

// StateStore persists per-project deployment states. A project with
// no row is deployed.
type StateStore struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// NewStateStore wraps a pool whose Setup ran Schema.
func NewStateStore(pool *sqlitepool.Pool, clk clock.Clock) *StateStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &StateStore{pool: pool, clock: clk}
}

// Set records the project's state with an optional diagnostic detail.
func (s *StateStore) Set(ctx context.Context, projectID string, state ProjectState, detail string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO project_states
		(project_id, state, detail, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			state = excluded.state,
			detail = excluded.detail,
			updated_at_ms = excluded.updated_at_ms`,
		&sqlitex.ExecOptions{
			Args: []any{projectID, string(state), detail, s.clock.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("recording project state: %w", err)
	}
	return nil
}

// Get returns the project's state and detail.
func (s *StateStore) Get(ctx context.Context, projectID string) (ProjectState, string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", "", err
	}
	defer s.pool.Put(conn)

	state, detail := StateDeployed, ""
	err = sqlitex.Execute(conn, `SELECT state, detail FROM project_states WHERE project_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state = ProjectState(stmt.ColumnText(0))
				detail = stmt.ColumnText(1)
				return nil
			},
		})
	if err != nil {
		return "", "", fmt.Errorf("reading project state: %w", err)
	}
	return state, detail, nil
}
