// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/sitewright/sitewright/lib/codec"
)

type rollbackRequest struct {
	ProjectID string `cbor:"project_id"`
	VersionID string `cbor:"version_id"`
	Requester string `cbor:"requester_id"`

	// Wait blocks the response until working-directory reconciliation
	// settles instead of returning as soon as the pointer flips.
	Wait bool `cbor:"wait"`
}

type rollbackResponse struct {
	Version      versionInfo `cbor:"version"`
	PreviewReady bool        `cbor:"preview_ready"`
	State        string      `cbor:"state"`
}

func (s *EngineService) handleRollback(ctx context.Context, raw []byte) (any, error) {
	var request rollbackRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	if request.VersionID == "" {
		return nil, fmt.Errorf("missing required field: version_id")
	}

	result, err := s.engine.RequestRollback(ctx, request.ProjectID, request.VersionID, request.Requester)
	if err != nil {
		return nil, err
	}

	if request.Wait {
		if err := s.rollback.WaitReconcile(ctx, request.ProjectID); err != nil {
			return nil, err
		}
	}
	state, _, err := s.rollback.State(ctx, request.ProjectID)
	if err != nil {
		return nil, err
	}

	return rollbackResponse{
		Version:      versionInfoFrom(result.Version),
		PreviewReady: result.PreviewReady,
		State:        string(state),
	}, nil
}

type stateRequest struct {
	ProjectID string `cbor:"project_id"`
}

type stateResponse struct {
	State  string `cbor:"state"`
	Detail string `cbor:"detail,omitempty"`
}

func (s *EngineService) handleState(ctx context.Context, raw []byte) (any, error) {
	var request stateRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	state, detail, err := s.rollback.State(ctx, request.ProjectID)
	if err != nil {
		return nil, err
	}
	return stateResponse{State: string(state), Detail: detail}, nil
}

func (s *EngineService) handleClearFailure(ctx context.Context, raw []byte) (any, error) {
	var request stateRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		return nil, err
	}
	return nil, s.rollback.ClearFailure(ctx, request.ProjectID)
}
