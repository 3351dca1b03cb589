// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/sitewright/sitewright/lib/agentstream"
	"github.com/sitewright/sitewright/lib/service"
)

// versionInfo mirrors the daemon's version wire shape.
type versionInfo struct {
	ID           string `cbor:"version_id"`
	ProjectID    string `cbor:"project_id"`
	ParentID     string `cbor:"parent_id"`
	Number       string `cbor:"number"`
	Change       string `cbor:"change"`
	Summary      string `cbor:"summary"`
	ArtifactID   string `cbor:"artifact_id"`
	Published    bool   `cbor:"published"`
	CreatedAtMs  int64  `cbor:"created_at_ms"`
	DeployedAtMs int64  `cbor:"deployed_at_ms"`
}

type versionList struct {
	Versions []versionInfo `cbor:"versions"`
}

func cmdStatus(ctx context.Context, client *service.Client) error {
	var status struct {
		ActiveRuns    int     `cbor:"active_runs"`
		Sessions      int     `cbor:"sessions"`
		Isolation     string  `cbor:"isolation"`
		UptimeSeconds float64 `cbor:"uptime_seconds"`
	}
	if err := client.Call(ctx, "status", nil, &status); err != nil {
		return err
	}
	fmt.Printf("uptime:      %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("isolation:   %s\n", status.Isolation)
	fmt.Printf("active runs: %d\n", status.ActiveRuns)
	fmt.Printf("sessions:    %d\n", status.Sessions)
	return nil
}

func cmdBuild(ctx context.Context, client *service.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: build <project-id> <prompt...>")
	}
	projectID := args[0]
	prompt := strings.Join(args[1:], " ")

	var header struct {
		RunID string `cbor:"run_id"`
	}
	stream, err := client.Stream(ctx, "build", map[string]any{
		"project_id": projectID,
		"prompt":     prompt,
	}, &header)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Printf("run %s started\n", header.RunID)

	for {
		var event agentstream.Event
		if err := stream.Next(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading build stream: %w", err)
		}
		printEvent(event)
		if event.Terminal() && event.Kind == agentstream.KindFailed {
			return fmt.Errorf("build failed: %s", event.Failed.Code)
		}
	}
}

// printEvent renders one build event as a terminal line.
func printEvent(event agentstream.Event) {
	switch event.Kind {
	case agentstream.KindConnection:
		fmt.Printf("  connected (model %s)\n", event.Connection.Model)
	case agentstream.KindProgress:
		if event.Progress.Message != "" {
			fmt.Printf("  %s\n", event.Progress.Message)
		} else {
			fmt.Printf("  [%s]\n", event.Progress.Stage)
		}
	case agentstream.KindToolUse:
		fmt.Printf("  > %s\n", event.ToolUse.Name)
	case agentstream.KindToolResult:
		if event.ToolResult.IsError {
			fmt.Printf("  ! tool error\n")
		}
	case agentstream.KindText:
		fmt.Printf("  %s\n", strings.TrimRight(event.Text.Content, "\n"))
	case agentstream.KindCompleted:
		fmt.Printf("completed: version %s (%s)\n",
			event.Completed.VersionNumber, event.Completed.Summary)
	case agentstream.KindFailed:
		fmt.Printf("failed: %s: %s\n", event.Failed.Code, event.Failed.Message)
	}
}

func cmdCancel(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cancel <run-id>")
	}
	if err := client.Call(ctx, "cancel", map[string]any{"run_id": args[0]}, nil); err != nil {
		return err
	}
	fmt.Println("cancellation requested")
	return nil
}

func cmdRunStatus(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: run <run-id>")
	}
	var status struct {
		RunID     string       `cbor:"run_id"`
		ProjectID string       `cbor:"project_id"`
		Status    string       `cbor:"status"`
		Version   *versionInfo `cbor:"version"`
	}
	if err := client.Call(ctx, "run-status", map[string]any{"run_id": args[0]}, &status); err != nil {
		return err
	}
	fmt.Printf("run:     %s\n", status.RunID)
	fmt.Printf("project: %s\n", status.ProjectID)
	fmt.Printf("status:  %s\n", status.Status)
	if status.Version != nil {
		fmt.Printf("version: %s (%s)\n", status.Version.Number, status.Version.ID)
	}
	return nil
}

func cmdVersions(ctx context.Context, client *service.Client, args []string) error {
	flags := pflag.NewFlagSet("versions", pflag.ContinueOnError)
	limit := flags.Int("limit", 0, "maximum entries to list (0 = all)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: versions <project-id> [--limit n]")
	}

	var list versionList
	err := client.Call(ctx, "versions", map[string]any{
		"project_id": flags.Arg(0),
		"limit":      *limit,
	}, &list)
	if err != nil {
		return err
	}
	printVersions(list.Versions)
	return nil
}

func cmdVersion(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: version <version-id>")
	}
	var info versionInfo
	if err := client.Call(ctx, "version", map[string]any{"version_id": args[0]}, &info); err != nil {
		return err
	}
	fmt.Printf("version:  %s\n", info.Number)
	fmt.Printf("id:       %s\n", info.ID)
	fmt.Printf("project:  %s\n", info.ProjectID)
	if info.ParentID != "" {
		fmt.Printf("parent:   %s\n", info.ParentID)
	}
	fmt.Printf("change:   %s\n", info.Change)
	fmt.Printf("artifact: %s\n", info.ArtifactID)
	fmt.Printf("created:  %s\n", time.UnixMilli(info.CreatedAtMs).UTC().Format(time.RFC3339))
	if info.DeployedAtMs > 0 {
		fmt.Printf("deployed: %s\n", time.UnixMilli(info.DeployedAtMs).UTC().Format(time.RFC3339))
	}
	if info.Published {
		fmt.Println("published: yes")
	}
	if info.Summary != "" {
		fmt.Printf("summary:  %s\n", info.Summary)
	}
	return nil
}

func cmdChain(ctx context.Context, client *service.Client, args []string) error {
	flags := pflag.NewFlagSet("chain", pflag.ContinueOnError)
	limit := flags.Int("limit", 0, "maximum chain depth (0 = all)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: chain <version-id> [--limit n]")
	}

	var list versionList
	err := client.Call(ctx, "chain", map[string]any{
		"version_id": flags.Arg(0),
		"limit":      *limit,
	}, &list)
	if err != nil {
		return err
	}
	printVersions(list.Versions)
	return nil
}

func cmdPublished(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: published <project-id>")
	}
	var info versionInfo
	if err := client.Call(ctx, "published", map[string]any{"project_id": args[0]}, &info); err != nil {
		return err
	}
	fmt.Printf("%s  %s  %s\n", info.Number, info.ID, info.Summary)
	return nil
}

func cmdPublish(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: publish <project-id> <version-id>")
	}
	err := client.Call(ctx, "publish", map[string]any{
		"project_id": args[0],
		"version_id": args[1],
	}, nil)
	if err != nil {
		return err
	}
	fmt.Println("published")
	return nil
}

func cmdArtifact(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: artifact <artifact-id>")
	}
	var info struct {
		ArtifactID  string `cbor:"artifact_id"`
		Location    string `cbor:"location"`
		SizeBytes   int64  `cbor:"size_bytes"`
		StoredBytes int64  `cbor:"stored_bytes"`
		Compression string `cbor:"compression"`
	}
	if err := client.Call(ctx, "artifact", map[string]any{"artifact_id": args[0]}, &info); err != nil {
		return err
	}
	fmt.Printf("artifact:    %s\n", info.ArtifactID)
	fmt.Printf("location:    %s\n", info.Location)
	fmt.Printf("size:        %d\n", info.SizeBytes)
	fmt.Printf("stored:      %d (%s)\n", info.StoredBytes, info.Compression)
	return nil
}

func cmdRollback(ctx context.Context, client *service.Client, args []string) error {
	flags := pflag.NewFlagSet("rollback", pflag.ContinueOnError)
	requester := flags.String("requester", "sitewrightctl", "requester identity recorded with the rollback")
	wait := flags.Bool("wait", true, "wait for working-directory reconciliation")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		return fmt.Errorf("usage: rollback <project-id> <version-id> [--requester id] [--wait]")
	}

	var result struct {
		Version      versionInfo `cbor:"version"`
		PreviewReady bool        `cbor:"preview_ready"`
		State        string      `cbor:"state"`
	}
	err := client.Call(ctx, "rollback", map[string]any{
		"project_id":   flags.Arg(0),
		"version_id":   flags.Arg(1),
		"requester_id": *requester,
		"wait":         *wait,
	}, &result)
	if err != nil {
		return err
	}
	fmt.Printf("rolled back to %s as version %s (state %s)\n",
		flags.Arg(1), result.Version.Number, result.State)
	return nil
}

func cmdState(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: state <project-id>")
	}
	var state struct {
		State  string `cbor:"state"`
		Detail string `cbor:"detail"`
	}
	if err := client.Call(ctx, "state", map[string]any{"project_id": args[0]}, &state); err != nil {
		return err
	}
	fmt.Printf("state: %s\n", state.State)
	if state.Detail != "" {
		fmt.Printf("detail: %s\n", state.Detail)
	}
	return nil
}

func cmdClearFailure(ctx context.Context, client *service.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: clear-failure <project-id>")
	}
	if err := client.Call(ctx, "clear-failure", map[string]any{"project_id": args[0]}, nil); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}

func printVersions(list []versionInfo) {
	for _, info := range list {
		marker := " "
		if info.Published {
			marker = "*"
		}
		created := time.UnixMilli(info.CreatedAtMs).UTC().Format("2006-01-02 15:04")
		fmt.Printf("%s %-12s %-9s %s  %s\n", marker, info.Number, info.Change, created, info.Summary)
	}
}
