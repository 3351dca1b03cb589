// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sitewright/sitewright/lib/buildstore"
	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/engine"
	"github.com/sitewright/sitewright/lib/rollback"
	"github.com/sitewright/sitewright/lib/service"
	"github.com/sitewright/sitewright/lib/supervisor"
	"github.com/sitewright/sitewright/lib/versions"
)

// EngineService is the control-socket surface of the daemon. Handlers
// translate CBOR requests into engine, version store, and rollback
// controller calls.
type EngineService struct {
	engine     *engine.Engine
	versions   *versions.Store
	artifacts  *buildstore.Store
	rollback   *rollback.Controller
	supervisor *supervisor.Supervisor
	isolation  string
	clock      clock.Clock
	logger     *slog.Logger
	startedAt  time.Time
}

// registerActions registers the daemon's socket actions.
func (s *EngineService) registerActions(server *service.SocketServer) {
	// Liveness and operational stats.
	server.Handle("status", s.handleStatus)

	// Build lifecycle. "build" streams the run's events live; the
	// remaining actions are plain request-response.
	server.HandleStream("build", s.handleBuild)
	server.Handle("cancel", s.handleCancel)
	server.Handle("run-status", s.handleRunStatus)

	// Version history and artifacts.
	server.Handle("versions", s.handleVersions)
	server.Handle("version", s.handleVersion)
	server.Handle("chain", s.handleChain)
	server.Handle("published", s.handlePublished)
	server.Handle("publish", s.handlePublish)
	server.Handle("artifact", s.handleArtifact)

	// Rollback.
	server.Handle("rollback", s.handleRollback)
	server.Handle("state", s.handleState)
	server.Handle("clear-failure", s.handleClearFailure)
}

// statusResponse carries aggregate operational stats only.
type statusResponse struct {
	ActiveRuns    int     `cbor:"active_runs"`
	Sessions      int     `cbor:"sessions"`
	Isolation     string  `cbor:"isolation"`
	UptimeSeconds float64 `cbor:"uptime_seconds"`
}

func (s *EngineService) handleStatus(ctx context.Context, raw []byte) (any, error) {
	return statusResponse{
		ActiveRuns:    len(s.engine.ActiveRuns()),
		Sessions:      s.supervisor.Len(),
		Isolation:     s.isolation,
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
	}, nil
}

// projectIDPattern constrains project ids to opaque tokens. Anything
// resembling a path component is rejected before it can reach the
// filesystem layer.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func validateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("missing required field: project_id")
	}
	if !projectIDPattern.MatchString(projectID) {
		return fmt.Errorf("invalid project_id %q", projectID)
	}
	return nil
}

// projectDir maps a validated project id to its working directory.
func projectDir(root, projectID string) string {
	return filepath.Join(root, projectID)
}

// versionInfo is the wire shape of a version record.
type versionInfo struct {
	ID          string `cbor:"version_id"`
	ProjectID   string `cbor:"project_id"`
	ParentID    string `cbor:"parent_id,omitempty"`
	Number      string `cbor:"number"`
	Change      string `cbor:"change"`
	Summary     string `cbor:"summary,omitempty"`
	ArtifactID  string `cbor:"artifact_id"`
	Published   bool   `cbor:"published"`
	CreatedAtMs int64  `cbor:"created_at_ms"`

	// DeployedAtMs is when the version was last the live version. Zero
	// for versions that have never been published.
	DeployedAtMs int64 `cbor:"deployed_at_ms,omitempty"`
}

func versionInfoFrom(v *versions.Version) versionInfo {
	info := versionInfo{
		ID:          v.ID,
		ProjectID:   v.ProjectID,
		ParentID:    v.ParentID,
		Number:      v.Number.String(),
		Change:      string(v.Change),
		Summary:     v.Summary,
		ArtifactID:  v.ArtifactID,
		Published:   v.Published,
		CreatedAtMs: v.CreatedAt.UnixMilli(),
	}
	if !v.DeployedAt.IsZero() {
		info.DeployedAtMs = v.DeployedAt.UnixMilli()
	}
	return info
}

func versionInfosFrom(list []*versions.Version) []versionInfo {
	infos := make([]versionInfo, len(list))
	for i, v := range list {
		infos[i] = versionInfoFrom(v)
	}
	return infos
}
