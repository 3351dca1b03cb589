// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment type.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the engine.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Sandbox configures agent process isolation.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Supervisor configures the session pool.
	Supervisor SupervisorConfig `yaml:"supervisor"`

	// Agent configures the AI coding agent subprocess.
	Agent AgentConfig `yaml:"agent"`

	// Builds configures run execution and commits.
	Builds BuildsConfig `yaml:"builds"`

	// Rollback configures rollback locking and reconciliation.
	Rollback RollbackConfig `yaml:"rollback"`

	// Per-environment overrides, applied after the base config loads.
	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that may differ per environment.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for engine data.
	Root string `yaml:"root"`

	// ProjectsRoot is the allowed root for project working
	// directories. Every project path handed to the executor must
	// resolve inside this directory.
	ProjectsRoot string `yaml:"projects_root"`

	// Store is the content-addressed artifact store directory.
	Store string `yaml:"store"`

	// Database is the SQLite database file holding versions and
	// rollback locks.
	Database string `yaml:"database"`

	// Socket is the Unix control socket path.
	Socket string `yaml:"socket"`
}

// SandboxConfig configures agent process isolation.
type SandboxConfig struct {
	// ProfileFile is the YAML sandbox profile describing filesystem
	// binds, namespaces, and environment.
	ProfileFile string `yaml:"profile_file"`

	// SeccompPolicyFile is the JSONC syscall allow-list compiled into
	// the seccomp filter. Empty selects the built-in allow-list.
	SeccompPolicyFile string `yaml:"seccomp_policy_file"`

	// RequireIsolation controls behavior when bubblewrap or user
	// namespaces are unavailable. Values: "degrade" (run with a
	// restricted environment and log a loud warning) or "error"
	// (refuse to spawn).
	RequireIsolation string `yaml:"require_isolation"`

	// SpawnTimeout bounds sandbox startup. Expiry is reported as
	// sandbox-unavailable.
	SpawnTimeout time.Duration `yaml:"spawn_timeout"`
}

// SupervisorConfig configures the session pool.
type SupervisorConfig struct {
	// MaxSessions bounds the number of live sandbox sessions across
	// all projects.
	MaxSessions int `yaml:"max_sessions"`

	// IdleEviction is how long a session may sit idle before the
	// sweep terminates it.
	IdleEviction time.Duration `yaml:"idle_eviction"`

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TerminateGrace is how long a terminating session gets between
	// SIGTERM and SIGKILL.
	TerminateGrace time.Duration `yaml:"terminate_grace"`
}

// AgentConfig configures the AI coding agent subprocess.
type AgentConfig struct {
	// Command is the agent binary. Resolved against PATH when not
	// absolute.
	Command string `yaml:"command"`

	// Args are prepended before the per-run prompt argument.
	Args []string `yaml:"args"`

	// Env is extra environment for the agent process, KEY=VALUE.
	Env []string `yaml:"env"`
}

// BuildsConfig configures run execution and version commits.
type BuildsConfig struct {
	// RunTimeout bounds one agent run; expiry cancels the run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// CancelGrace is how long a cancelled run gets to emit its own
	// terminal event before one is synthesized and the process is
	// force-killed.
	CancelGrace time.Duration `yaml:"cancel_grace"`

	// MaxArtifactBytes bounds a single build artifact.
	MaxArtifactBytes int64 `yaml:"max_artifact_bytes"`

	// EventBuffer is the per-subscriber event buffer capacity. When a
	// consumer falls behind, oldest progress events are coalesced;
	// terminal events are never dropped.
	EventBuffer int `yaml:"event_buffer"`
}

// RollbackConfig configures rollback locking and reconciliation.
type RollbackConfig struct {
	// LockTTL bounds how long a rollback lock may be held before it
	// is considered abandoned.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// ReconcileTimeout bounds working-directory reconciliation. On
	// expiry the project is marked rollback-failed rather than left
	// rolling-back indefinitely.
	ReconcileTimeout time.Duration `yaml:"reconcile_timeout"`
}

// Default returns the base configuration. The config file is still
// required; these exist so every field has a sensible zero value.
func Default() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".local", "share", "sitewright")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:         root,
			ProjectsRoot: filepath.Join(root, "projects"),
			Store:        filepath.Join(root, "store"),
			Database:     filepath.Join(root, "engine.db"),
			Socket:       filepath.Join(root, "engine.sock"),
		},
		Sandbox: SandboxConfig{
			RequireIsolation: "degrade",
			SpawnTimeout:     15 * time.Second,
		},
		Supervisor: SupervisorConfig{
			MaxSessions:    16,
			IdleEviction:   10 * time.Minute,
			SweepInterval:  30 * time.Second,
			TerminateGrace: 10 * time.Second,
		},
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"--output-format", "stream-json", "--print", "--verbose"},
		},
		Builds: BuildsConfig{
			RunTimeout:       20 * time.Minute,
			CancelGrace:      10 * time.Second,
			MaxArtifactBytes: 512 * 1024 * 1024,
			EventBuffer:      256,
		},
		Rollback: RollbackConfig{
			LockTTL:          2 * time.Minute,
			ReconcileTimeout: 5 * time.Minute,
		},
	}
}

// Load reads the config path from SITEWRIGHT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("SITEWRIGHT_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("SITEWRIGHT_CONFIG environment variable not set; " +
			"set it to the path of your sitewright.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applies
// environment overrides, and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyOverrides applies the section matching cfg.Environment.
func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production default: degraded isolation is a misconfiguration,
		// not a fallback.
		if overrides == nil {
			overrides = &Overrides{Sandbox: &SandboxConfig{RequireIsolation: "error"}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		applyIfSet(&c.Paths.Root, overrides.Paths.Root)
		applyIfSet(&c.Paths.ProjectsRoot, overrides.Paths.ProjectsRoot)
		applyIfSet(&c.Paths.Store, overrides.Paths.Store)
		applyIfSet(&c.Paths.Database, overrides.Paths.Database)
		applyIfSet(&c.Paths.Socket, overrides.Paths.Socket)
	}
	if overrides.Sandbox != nil {
		applyIfSet(&c.Sandbox.ProfileFile, overrides.Sandbox.ProfileFile)
		applyIfSet(&c.Sandbox.SeccompPolicyFile, overrides.Sandbox.SeccompPolicyFile)
		applyIfSet(&c.Sandbox.RequireIsolation, overrides.Sandbox.RequireIsolation)
		if overrides.Sandbox.SpawnTimeout > 0 {
			c.Sandbox.SpawnTimeout = overrides.Sandbox.SpawnTimeout
		}
	}
}

func applyIfSet(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// expandPaths expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandPaths() {
	vars := map[string]string{
		"SITEWRIGHT_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SITEWRIGHT_ROOT"] = c.Paths.Root

	c.Paths.ProjectsRoot = expandVars(c.Paths.ProjectsRoot, vars)
	c.Paths.Store = expandVars(c.Paths.Store, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
	c.Sandbox.ProfileFile = expandVars(c.Sandbox.ProfileFile, vars)
	c.Sandbox.SeccompPolicyFile = expandVars(c.Sandbox.SeccompPolicyFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, fallback := parts[1], ""
		if len(parts) >= 3 {
			fallback = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.ProjectsRoot == "" {
		errs = append(errs, fmt.Errorf("paths.projects_root is required"))
	}
	if c.Sandbox.RequireIsolation != "degrade" && c.Sandbox.RequireIsolation != "error" {
		errs = append(errs, fmt.Errorf("sandbox.require_isolation must be \"degrade\" or \"error\""))
	}
	if c.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if c.Builds.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("builds.run_timeout must be positive"))
	}
	if c.Rollback.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("rollback.lock_ttl must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.ProjectsRoot, c.Paths.Store} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}
