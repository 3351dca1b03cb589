// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// Sentinel errors for spawn failures. Callers branch with errors.Is.
var (
	// ErrInvalidPath means the project path escapes the allowed root.
	ErrInvalidPath = errors.New("project path outside allowed root")

	// ErrSandboxUnavailable means the isolation primitive is missing
	// and the executor is configured to refuse degraded spawns, or
	// sandbox startup timed out.
	ErrSandboxUnavailable = errors.New("sandbox unavailable")

	// ErrSpawnFailed wraps OS-level launch errors.
	ErrSpawnFailed = errors.New("spawn failed")
)

// Isolation reports how much isolation a spawned process actually got.
type Isolation int

const (
	// IsolationFull means bubblewrap with namespaces and seccomp.
	IsolationFull Isolation = iota

	// IsolationDegraded means a plain process with a restricted
	// environment and HOME. Used only when the host lacks the
	// primitives and the executor allows degradation.
	IsolationDegraded
)

func (i Isolation) String() string {
	if i == IsolationFull {
		return "full"
	}
	return "degraded"
}

// ExecutorConfig holds the parameters for creating an Executor.
type ExecutorConfig struct {
	// AllowedRoot is the directory all project paths must resolve
	// inside. Required.
	AllowedRoot string

	// Profile is the isolation profile. Nil selects DefaultProfile.
	Profile *Profile

	// Policy is the seccomp allow-list. Nil selects DefaultPolicy —
	// every fully isolated spawn carries a syscall filter.
	Policy *Policy

	// AllowDegraded permits restricted-environment spawns when full
	// isolation is unavailable.
	AllowDegraded bool

	// Logger for executor operations. Nil means slog.Default.
	Logger *slog.Logger
}

// Executor spawns sandboxed agent processes. The isolation strategy is
// selected once at construction from detected host capabilities; every
// spawn reports which strategy it actually used.
type Executor struct {
	allowedRoot string
	profile     *Profile
	policy      *Policy
	caps        *Capabilities
	degraded    bool
	logger      *slog.Logger
}

// NewExecutor detects host capabilities and creates an executor.
// Returns ErrSandboxUnavailable when full isolation is missing and
// degradation is not allowed.
func NewExecutor(config ExecutorConfig) (*Executor, error) {
	if config.AllowedRoot == "" {
		return nil, fmt.Errorf("allowed root is required")
	}
	allowedRoot, err := filepath.Abs(config.AllowedRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving allowed root: %w", err)
	}

	profile := config.Profile
	if profile == nil {
		profile = DefaultProfile()
	}
	policy := config.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	caps := DetectCapabilities()
	degraded := !caps.FullIsolation()
	if degraded {
		if !config.AllowDegraded {
			return nil, fmt.Errorf("%w: %s", ErrSandboxUnavailable, caps.DegradedReason())
		}
		logger.Warn("running with reduced isolation",
			"reason", caps.DegradedReason(),
		)
	}

	return &Executor{
		allowedRoot: allowedRoot,
		profile:     profile,
		policy:      policy,
		caps:        caps,
		degraded:    degraded,
		logger:      logger,
	}, nil
}

// Isolation returns the isolation level this executor provides.
func (e *Executor) Isolation() Isolation {
	if e.degraded {
		return IsolationDegraded
	}
	return IsolationFull
}

// ValidatePath checks that projectPath resolves inside the allowed
// root and returns the cleaned absolute path.
func (e *Executor) ValidatePath(projectPath string) (string, error) {
	absolute, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, projectPath)
	}
	// Resolve symlinks so a link inside the root cannot point outside
	// it. The path must exist — sessions are only created for
	// provisioned project directories.
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, projectPath, err)
	}
	resolvedRoot, err := filepath.EvalSymlinks(e.allowedRoot)
	if err != nil {
		return "", fmt.Errorf("resolving allowed root: %w", err)
	}
	relative, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || relative == ".." || len(relative) >= 3 && relative[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("%w: %s resolves outside %s", ErrInvalidPath, projectPath, e.allowedRoot)
	}
	return resolved, nil
}

// Spawn launches the agent command sandboxed to projectPath. The
// context bounds sandbox startup; expiry reports ErrSandboxUnavailable.
// The returned handle owns the process's stdin and stdout pipes.
func (e *Executor) Spawn(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrSpawnFailed)
	}
	resolved, err := e.ValidatePath(projectPath)
	if err != nil {
		return nil, err
	}

	if e.degraded {
		return e.spawnDegraded(ctx, resolved, command, extraEnv)
	}
	return e.spawnBwrap(ctx, resolved, command, extraEnv)
}

// spawnBwrap launches the command under bubblewrap with the compiled
// seccomp filter on an inherited descriptor.
func (e *Executor) spawnBwrap(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (*Handle, error) {
	bwrapArgs := BwrapArgs{
		Profile:     e.profile,
		ProjectPath: projectPath,
		ExtraEnv:    extraEnv,
		Command:     command,
	}

	cmd := exec.Command(e.caps.BwrapPath)

	if e.policy != nil {
		filter, err := e.policy.FilterFile()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
		}
		defer filter.Close()
		// ExtraFiles[0] becomes fd 3 in the child.
		cmd.ExtraFiles = append(cmd.ExtraFiles, filter)
		bwrapArgs.SeccompFD = 3
	}

	args, err := BuildBwrapArgs(bwrapArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	cmd.Args = append([]string{e.caps.BwrapPath}, args...)

	// Minimal environment for the bwrap process itself. bwrap clears
	// the environment internally, but the bwrap process's own environ
	// is visible via /proc — it must not carry host secrets.
	cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return e.start(ctx, cmd, projectPath, IsolationFull)
}

// spawnDegraded launches the command directly with a restricted
// environment and a project-scoped HOME.
func (e *Executor) spawnDegraded(ctx context.Context, projectPath string, command []string, extraEnv map[string]string) (*Handle, error) {
	e.logger.Warn("spawning with reduced isolation",
		"project_path", projectPath,
		"reason", e.caps.DegradedReason(),
	)

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = projectPath

	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + filepath.Join(projectPath, ".home"),
		"TERM=dumb",
	}
	for key, value := range extraEnv {
		env = append(env, key+"="+value)
	}
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return e.start(ctx, cmd, projectPath, IsolationDegraded)
}

// start wires pipes, starts the process, and wraps it in a Handle.
// The context bounds startup only; once started, the process outlives
// it and is stopped through Terminate or Kill.
func (e *Executor) start(ctx context.Context, cmd *exec.Cmd, projectPath string, isolation Isolation) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: startup timed out: %v", ErrSandboxUnavailable, err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: startup timed out: %v", ErrSandboxUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	e.logger.Info("sandboxed process started",
		"pid", cmd.Process.Pid,
		"project_path", projectPath,
		"isolation", isolation.String(),
	)

	return &Handle{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		isolation: isolation,
	}, nil
}

// Handle is a running sandboxed process.
type Handle struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	isolation Isolation
}

// Pid returns the process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Isolation reports the isolation level the process runs under.
func (h *Handle) Isolation() Isolation { return h.isolation }

// Stdin returns the process's stdin pipe.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout returns the process's stdout pipe. The caller must drain it
// before Wait.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// Stderr returns the process's stderr pipe.
func (h *Handle) Stderr() io.ReadCloser { return h.stderr }

// Wait blocks until the process exits. Returns nil for exit status 0.
func (h *Handle) Wait() error { return h.cmd.Wait() }

// Terminate sends SIGTERM to the process group.
func (h *Handle) Terminate() error { return h.signalGroup(unix.SIGTERM) }

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() error { return h.signalGroup(unix.SIGKILL) }

// signalGroup signals the whole process group so the agent's own
// children (shells, package managers) go down with it.
func (h *Handle) signalGroup(sig unix.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := unix.Kill(-h.cmd.Process.Pid, sig); err != nil {
		// Fall back to the single process when the group is gone.
		return h.cmd.Process.Signal(sig)
	}
	return nil
}

// ExitCode extracts the exit code from a Wait error. Returns -1, false
// when the error carries no exit status.
func ExitCode(err error) (int, bool) {
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode(), true
	}
	return -1, false
}
