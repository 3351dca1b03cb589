// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/sqlitepool"
)

// ErrAlreadyInProgress means another rollback holds the project's
// lock.
var ErrAlreadyInProgress = errors.New("rollback already in progress")

// LockStore is the per-project rollback mutex, persisted in SQLite so
// it survives engine restarts and expires on a TTL as a safety net
// against a crashed holder.
type LockStore struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// NewLockStore wraps a pool whose Setup ran Schema.
func NewLockStore(pool *sqlitepool.Pool, clk clock.Clock) *LockStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &LockStore{pool: pool, clock: clk}
}

// Schema creates the rollback tables. Pass it to the pool's Setup.
func Schema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS rollback_locks (
			project_id     TEXT PRIMARY KEY,
			holder_id      TEXT NOT NULL,
			acquired_at_ms INTEGER NOT NULL,
			expires_at_ms  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS project_states (
			project_id    TEXT PRIMARY KEY,
			state         TEXT NOT NULL,
			detail        TEXT NOT NULL DEFAULT '',
			updated_at_ms INTEGER NOT NULL
		);
	`, nil)
}

// Acquire takes the project's lock for ttl. An unexpired lock held by
// anyone (including the same holder) fails with ErrAlreadyInProgress;
// an expired lock is taken over.
func (s *LockStore) Acquire(ctx context.Context, projectID, holderID string, ttl time.Duration) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UnixMilli()
	err = sqlitex.Execute(conn, `INSERT INTO rollback_locks
		(project_id, holder_id, acquired_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			holder_id = excluded.holder_id,
			acquired_at_ms = excluded.acquired_at_ms,
			expires_at_ms = excluded.expires_at_ms
		WHERE rollback_locks.expires_at_ms <= ?`,
		&sqlitex.ExecOptions{
			Args: []any{projectID, holderID, now, now + ttl.Milliseconds(), now},
		})
	if err != nil {
		return fmt.Errorf("acquiring rollback lock: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: project %s", ErrAlreadyInProgress, projectID)
	}
	return nil
}

// Release drops the lock if this holder still owns it. Releasing a
// lock that expired and was taken over is a no-op, never an error.
func (s *LockStore) Release(ctx context.Context, projectID, holderID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM rollback_locks
		WHERE project_id = ? AND holder_id = ?`,
		&sqlitex.ExecOptions{Args: []any{projectID, holderID}},
	)
	if err != nil {
		return fmt.Errorf("releasing rollback lock: %w", err)
	}
	return nil
}

// Holder returns the current unexpired lock holder, or "" when the
// project is unlocked.
func (s *LockStore) Holder(ctx context.Context, projectID string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Put(conn)

	var holder string
	now := s.clock.Now().UnixMilli()
	err = sqlitex.Execute(conn, `SELECT holder_id FROM rollback_locks
		WHERE project_id = ? AND expires_at_ms > ?`,
		&sqlitex.ExecOptions{
			Args: []any{projectID, now},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				holder = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("reading rollback lock: %w", err)
	}
	return holder, nil
}
