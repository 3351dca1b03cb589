// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testExecutor(t *testing.T, root string) *Executor {
	t.Helper()
	executor, err := NewExecutor(ExecutorConfig{
		AllowedRoot:   root,
		AllowDegraded: true,
		Logger:        slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return executor
}

func TestValidatePathInsideRoot(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "proj1")
	if err := os.Mkdir(project, 0o755); err != nil {
		t.Fatal(err)
	}

	executor := testExecutor(t, root)
	resolved, err := executor.ValidatePath(project)
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}
	if resolved == "" {
		t.Fatal("empty resolved path")
	}
}

func TestValidatePathRejectsEscape(t *testing.T) {
	root := t.TempDir()
	executor := testExecutor(t, root)

	for _, path := range []string{
		filepath.Join(root, ".."),
		filepath.Join(root, "..", "other"),
		"/etc",
	} {
		if _, err := executor.ValidatePath(path); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidatePath(%q) = %v, want ErrInvalidPath", path, err)
		}
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	executor := testExecutor(t, root)
	if _, err := executor.ValidatePath(link); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("symlink escape accepted: %v", err)
	}
}

func TestValidatePathRejectsMissingDirectory(t *testing.T) {
	root := t.TempDir()
	executor := testExecutor(t, root)
	if _, err := executor.ValidatePath(filepath.Join(root, "nope")); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("missing directory accepted: %v", err)
	}
}

func TestNewExecutorRefusesWithoutDegradation(t *testing.T) {
	caps := DetectCapabilities()
	if caps.FullIsolation() {
		t.Skip("host has full isolation; refusal path not reachable")
	}
	_, err := NewExecutor(ExecutorConfig{
		AllowedRoot:   t.TempDir(),
		AllowDegraded: false,
		Logger:        slog.New(slog.DiscardHandler),
	})
	if !errors.Is(err, ErrSandboxUnavailable) {
		t.Errorf("NewExecutor = %v, want ErrSandboxUnavailable", err)
	}
}
