// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"

	"github.com/sitewright/sitewright/lib/codec"
	"github.com/sitewright/sitewright/lib/service"
)

// buildRequest starts a build and follows its event stream.
type buildRequest struct {
	ProjectID string `cbor:"project_id"`
	Prompt    string `cbor:"prompt"`
}

// buildHeader is the stream header acknowledging the started run.
type buildHeader struct {
	RunID string `cbor:"run_id"`
}

// handleBuild starts a build and streams its events as CBOR frames.
// The first value on the wire is a Response envelope: ok=false if the
// build could not start, ok=true with the run id otherwise. Every
// following frame is one agentstream.Event; the stream ends after the
// terminal event.
func (s *EngineService) handleBuild(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)

	var request buildRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		streamReject(encoder, "invalid request: "+err.Error())
		return
	}
	if err := validateProjectID(request.ProjectID); err != nil {
		streamReject(encoder, err.Error())
		return
	}

	run, err := s.engine.StartBuild(ctx, request.ProjectID, request.Prompt)
	if err != nil {
		streamReject(encoder, err.Error())
		return
	}

	data, err := codec.Marshal(buildHeader{RunID: run.ID})
	if err != nil {
		streamReject(encoder, "internal: "+err.Error())
		return
	}
	if err := encoder.Encode(service.Response{OK: true, Data: data}); err != nil {
		return
	}

	for {
		event, ok, err := run.Events().Next(ctx)
		if err != nil || !ok {
			return
		}
		if err := encoder.Encode(event); err != nil {
			// Client gone. The run keeps going; its outcome stays
			// queryable through run-status.
			s.logger.Debug("build stream consumer disconnected",
				"run_id", run.ID,
				"error", err,
			)
			return
		}
	}
}

func streamReject(encoder *codec.Encoder, message string) {
	encoder.Encode(service.Response{OK: false, Error: message})
}

type cancelRequest struct {
	RunID string `cbor:"run_id"`
}

func (s *EngineService) handleCancel(ctx context.Context, raw []byte) (any, error) {
	var request cancelRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	return nil, s.engine.CancelRun(request.RunID)
}

// runStatusResponse reports a run's current phase and, once the run
// completes, its committed version.
type runStatusResponse struct {
	RunID     string       `cbor:"run_id"`
	ProjectID string       `cbor:"project_id"`
	Status    string       `cbor:"status"`
	Version   *versionInfo `cbor:"version,omitempty"`
}

func (s *EngineService) handleRunStatus(ctx context.Context, raw []byte) (any, error) {
	var request cancelRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}
	run, err := s.engine.Run(request.RunID)
	if err != nil {
		return nil, err
	}

	response := runStatusResponse{
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Status:    string(run.Status()),
	}
	if version := run.Version(); version != nil {
		info := versionInfoFrom(version)
		response.Version = &info
	}
	return response, nil
}
