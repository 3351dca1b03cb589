// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package versions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/sqlitepool"
)

// Errors returned by the store. Callers branch with errors.Is.
var (
	// ErrVersionNotFound means no version exists for the id.
	ErrVersionNotFound = errors.New("version not found")

	// ErrParentNotFound means the requested parent version does not
	// exist in the project.
	ErrParentNotFound = errors.New("parent version not found")
)

// commitAttempts bounds the number-collision retry loop. The first
// retries bump patch; the last falls back to a prerelease suffix that
// cannot collide with a derived number.
const commitAttempts = 4

// Version is one node in a project's history chain.
type Version struct {
	// ID is a UUIDv7: unique and time-sortable.
	ID string

	// ProjectID owns the version.
	ProjectID string

	// ParentID is the version this build started from. Empty for the
	// project's first version.
	ParentID string

	// Number is the derived semantic version.
	Number Semver

	// Change is what kind of build produced this version.
	Change ChangeType

	// Summary is the redacted build summary.
	Summary string

	// ArtifactID is the content address of the version's snapshot.
	ArtifactID string

	// Published reports whether this is the project's live version.
	Published bool

	// CreatedAt is the commit time.
	CreatedAt time.Time

	// DeployedAt is when this version was last made the live version.
	// Zero for versions that have never been published.
	DeployedAt time.Time
}

// CommitRequest describes a version to record.
type CommitRequest struct {
	ProjectID  string
	ParentID   string
	Change     ChangeType
	Summary    string
	ArtifactID string

	// Carry seeds the version number directly instead of bumping the
	// parent. Rollback entries carry the restored version's number;
	// the collision retry then finds the nearest free slot.
	Carry *Semver

	// Publish flips the project's live pointer to the new version in
	// the same operation.
	Publish bool
}

// Store persists version chains in SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore wraps a pool whose Setup ran Schema.
func NewStore(pool *sqlitepool.Pool, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, clock: clk, logger: logger}
}

// Schema creates the version tables. Pass it to the pool's Setup.
func Schema(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
		CREATE TABLE IF NOT EXISTS versions (
			version_id     TEXT PRIMARY KEY,
			project_id     TEXT NOT NULL,
			parent_id      TEXT,
			major          INTEGER NOT NULL,
			minor          INTEGER NOT NULL,
			patch          INTEGER NOT NULL,
			prerelease     TEXT NOT NULL DEFAULT '',
			change_type    TEXT NOT NULL,
			summary        TEXT NOT NULL DEFAULT '',
			artifact_id    TEXT NOT NULL,
			created_at_ms  INTEGER NOT NULL,
			deployed_at_ms INTEGER NOT NULL DEFAULT 0,
			UNIQUE (project_id, major, minor, patch, prerelease)
		);
		CREATE INDEX IF NOT EXISTS versions_by_project
			ON versions (project_id, created_at_ms);
		CREATE TABLE IF NOT EXISTS published (
			project_id    TEXT PRIMARY KEY,
			version_id    TEXT NOT NULL REFERENCES versions (version_id),
			updated_at_ms INTEGER NOT NULL
		);
	`, nil)
}

// Commit records a new version. The number is derived from the parent
// (or the project's latest version when ParentID is empty) and the
// change type. A concurrent commit landing on the same number is
// resolved by retrying with further patch bumps, then a prerelease
// suffix.
func (s *Store) Commit(ctx context.Context, request CommitRequest) (*Version, error) {
	if request.ProjectID == "" || request.ArtifactID == "" {
		return nil, fmt.Errorf("project id and artifact id are required")
	}
	if _, err := ParseChangeType(string(request.Change)); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	parent, err := s.resolveParent(conn, request.ProjectID, request.ParentID)
	if err != nil {
		return nil, err
	}

	base := Semver{}
	parentID := ""
	if parent != nil {
		base = parent.Number
		parentID = parent.ID
	}
	number := base.Bump(request.Change)
	if request.Carry != nil {
		number = *request.Carry
	}

	for attempt := 1; attempt <= commitAttempts; attempt++ {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generating version id: %w", err)
		}
		now := s.clock.Now()

		version := &Version{
			ID:         id.String(),
			ProjectID:  request.ProjectID,
			ParentID:   parentID,
			Number:     number,
			Change:     request.Change,
			Summary:    request.Summary,
			ArtifactID: request.ArtifactID,
			CreatedAt:  now,
		}

		err = sqlitex.Execute(conn, `INSERT INTO versions
			(version_id, project_id, parent_id, major, minor, patch,
			 prerelease, change_type, summary, artifact_id, created_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					version.ID,
					version.ProjectID,
					nullable(version.ParentID),
					version.Number.Major,
					version.Number.Minor,
					version.Number.Patch,
					version.Number.Prerelease,
					string(version.Change),
					version.Summary,
					version.ArtifactID,
					now.UnixMilli(),
				},
			})
		if err == nil {
			if request.Publish {
				if err := s.publish(conn, version.ProjectID, version.ID); err != nil {
					return nil, err
				}
				version.Published = true
				version.DeployedAt = now
			}
			s.logger.Info("version committed",
				"project_id", version.ProjectID,
				"version", version.Number.String(),
				"change", string(version.Change),
				"published", request.Publish,
			)
			return version, nil
		}
		if sqlite.ErrCode(err) != sqlite.ResultConstraintUnique {
			return nil, fmt.Errorf("inserting version: %w", err)
		}

		// Number already taken by a concurrent commit. Bump patch and
		// try again; the final attempt uses a prerelease suffix keyed
		// by the unique version id, which cannot collide.
		if attempt < commitAttempts-1 {
			number = number.Bump(ChangePatch)
		} else {
			number.Prerelease = "r." + id.String()[len(id.String())-8:]
		}
	}
	return nil, fmt.Errorf("inserting version: number collisions exhausted %d attempts", commitAttempts)
}

// Get loads a version by id.
func (s *Store) Get(ctx context.Context, versionID string) (*Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return s.loadVersion(conn, versionID)
}

// Latest returns the project's most recent version, or
// ErrVersionNotFound for an empty project.
func (s *Store) Latest(ctx context.Context, projectID string) (*Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return s.loadLatest(conn, projectID)
}

// List returns the project's versions, newest first, at most limit
// (0 means all).
func (s *Store) List(ctx context.Context, projectID string, limit int) ([]*Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	publishedID := s.loadPublishedID(conn, projectID)

	var result []*Version
	err = sqlitex.Execute(conn, `SELECT `+versionColumns+` FROM versions
		WHERE project_id = ?
		ORDER BY created_at_ms DESC, version_id DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{projectID, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version := scanVersion(stmt)
				version.Published = version.ID == publishedID
				result = append(result, version)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return result, nil
}

// Chain walks parent links from the given version toward the root, at
// most limit hops (0 means all).
func (s *Store) Chain(ctx context.Context, versionID string, limit int) ([]*Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var result []*Version
	current := versionID
	for current != "" {
		if limit > 0 && len(result) >= limit {
			break
		}
		version, err := s.loadVersion(conn, current)
		if err != nil {
			return nil, err
		}
		result = append(result, version)
		current = version.ParentID
	}
	return result, nil
}

// Published returns the project's live version, or ErrVersionNotFound
// when nothing is published.
func (s *Store) Published(ctx context.Context, projectID string) (*Version, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	publishedID := s.loadPublishedID(conn, projectID)
	if publishedID == "" {
		return nil, fmt.Errorf("%w: nothing published for %s", ErrVersionNotFound, projectID)
	}
	return s.loadVersion(conn, publishedID)
}

// SetPublished flips the project's live pointer to the given version.
// The version must belong to the project.
func (s *Store) SetPublished(ctx context.Context, projectID, versionID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	version, err := s.loadVersion(conn, versionID)
	if err != nil {
		return err
	}
	if version.ProjectID != projectID {
		return fmt.Errorf("%w: %s does not belong to %s", ErrVersionNotFound, versionID, projectID)
	}

	if err := s.publish(conn, projectID, versionID); err != nil {
		return err
	}

	s.logger.Info("published version changed",
		"project_id", projectID,
		"version", version.Number.String(),
	)
	return nil
}

// publish upserts the project's live pointer and stamps the version's
// deployment time.
func (s *Store) publish(conn *sqlite.Conn, projectID, versionID string) error {
	now := s.clock.Now().UnixMilli()
	err := sqlitex.Execute(conn, `INSERT INTO published (project_id, version_id, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			version_id = excluded.version_id,
			updated_at_ms = excluded.updated_at_ms`,
		&sqlitex.ExecOptions{
			Args: []any{projectID, versionID, now},
		})
	if err != nil {
		return fmt.Errorf("publishing version: %w", err)
	}
	err = sqlitex.Execute(conn, `UPDATE versions SET deployed_at_ms = ? WHERE version_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{now, versionID},
		})
	if err != nil {
		return fmt.Errorf("stamping deployment time: %w", err)
	}
	return nil
}

const versionColumns = `version_id, project_id, parent_id, major, minor, patch,
	prerelease, change_type, summary, artifact_id, created_at_ms, deployed_at_ms`

func scanVersion(stmt *sqlite.Stmt) *Version {
	version := &Version{
		ID:        stmt.ColumnText(0),
		ProjectID: stmt.ColumnText(1),
		ParentID:  stmt.ColumnText(2),
		Number: Semver{
			Major:      int(stmt.ColumnInt64(3)),
			Minor:      int(stmt.ColumnInt64(4)),
			Patch:      int(stmt.ColumnInt64(5)),
			Prerelease: stmt.ColumnText(6),
		},
		Change:     ChangeType(stmt.ColumnText(7)),
		Summary:    stmt.ColumnText(8),
		ArtifactID: stmt.ColumnText(9),
		CreatedAt:  time.UnixMilli(stmt.ColumnInt64(10)),
	}
	if ms := stmt.ColumnInt64(11); ms > 0 {
		version.DeployedAt = time.UnixMilli(ms)
	}
	return version
}

func (s *Store) loadVersion(conn *sqlite.Conn, versionID string) (*Version, error) {
	var version *Version
	err := sqlitex.Execute(conn, `SELECT `+versionColumns+` FROM versions WHERE version_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{versionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = scanVersion(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("loading version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	version.Published = version.ID == s.loadPublishedID(conn, version.ProjectID)
	return version, nil
}

func (s *Store) loadLatest(conn *sqlite.Conn, projectID string) (*Version, error) {
	var version *Version
	err := sqlitex.Execute(conn, `SELECT `+versionColumns+` FROM versions
		WHERE project_id = ?
		ORDER BY created_at_ms DESC, version_id DESC
		LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = scanVersion(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("loading latest version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("%w: project %s has no versions", ErrVersionNotFound, projectID)
	}
	return version, nil
}

func (s *Store) loadPublishedID(conn *sqlite.Conn, projectID string) string {
	var id string
	sqlitex.Execute(conn, `SELECT version_id FROM published WHERE project_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnText(0)
				return nil
			},
		})
	return id
}

// resolveParent loads the explicit parent, or the project's latest
// version when parentID is empty. Returns nil, nil for a project with
// no history.
func (s *Store) resolveParent(conn *sqlite.Conn, projectID, parentID string) (*Version, error) {
	if parentID != "" {
		parent, err := s.loadVersion(conn, parentID)
		if errors.Is(err, ErrVersionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
		}
		if err != nil {
			return nil, err
		}
		if parent.ProjectID != projectID {
			return nil, fmt.Errorf("%w: %s belongs to another project", ErrParentNotFound, parentID)
		}
		return parent, nil
	}

	parent, err := s.loadLatest(conn, projectID)
	if errors.Is(err, ErrVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
