// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"zombiezen.com/go/sqlite"

	"github.com/sitewright/sitewright/lib/buildstore"
	"github.com/sitewright/sitewright/lib/clock"
	"github.com/sitewright/sitewright/lib/config"
	"github.com/sitewright/sitewright/lib/engine"
	"github.com/sitewright/sitewright/lib/process"
	"github.com/sitewright/sitewright/lib/rollback"
	"github.com/sitewright/sitewright/lib/service"
	"github.com/sitewright/sitewright/lib/sqlitepool"
	"github.com/sitewright/sitewright/lib/supervisor"
	"github.com/sitewright/sitewright/lib/version"
	"github.com/sitewright/sitewright/lib/versions"
	"github.com/sitewright/sitewright/sandbox"
)

// shutdownTimeout bounds the drain of active builds and sessions after
// SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to sitewright.yaml (overrides SITEWRIGHT_CONFIG)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Paths.Database,
		PoolSize: 4,
		Setup: func(conn *sqlite.Conn) error {
			if err := versions.Schema(conn); err != nil {
				return err
			}
			return rollback.Schema(conn)
		},
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	artifacts, err := buildstore.Open(buildstore.Config{
		Root:             cfg.Paths.Store,
		MaxArtifactBytes: cfg.Builds.MaxArtifactBytes,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	executor, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}

	supervisorPool, err := supervisor.New(supervisor.Config{
		Spawner: supervisor.ExecutorSpawner{
			Executor:     executor,
			SpawnTimeout: cfg.Sandbox.SpawnTimeout,
		},
		Command:        append([]string{cfg.Agent.Command}, cfg.Agent.Args...),
		Env:            splitEnv(cfg.Agent.Env),
		MaxSessions:    cfg.Supervisor.MaxSessions,
		IdleEviction:   cfg.Supervisor.IdleEviction,
		SweepInterval:  cfg.Supervisor.SweepInterval,
		TerminateGrace: cfg.Supervisor.TerminateGrace,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("starting session supervisor: %w", err)
	}

	clk := clock.Real()
	versionStore := versions.NewStore(pool, clk, logger)
	workingDir := func(projectID string) string {
		return projectDir(cfg.Paths.ProjectsRoot, projectID)
	}

	controller, err := rollback.NewController(rollback.Config{
		Versions:   versionStore,
		Artifacts:  artifacts,
		Locks:      rollback.NewLockStore(pool, clk),
		States:     rollback.NewStateStore(pool, clk),
		WorkingDir: workingDir,
		// A restored working directory invalidates the warm session's
		// view of it.
		OnRestored:       supervisorPool.Evict,
		LockTTL:          cfg.Rollback.LockTTL,
		ReconcileTimeout: cfg.Rollback.ReconcileTimeout,
		Clock:            clk,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("starting rollback controller: %w", err)
	}

	buildEngine, err := engine.New(engine.Config{
		Supervisor:  supervisorPool,
		Versions:    versionStore,
		Artifacts:   artifacts,
		Rollback:    controller,
		WorkingDir:  workingDir,
		RunTimeout:  cfg.Builds.RunTimeout,
		CancelGrace: cfg.Builds.CancelGrace,
		EventBuffer: cfg.Builds.EventBuffer,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("starting build engine: %w", err)
	}

	engineService := &EngineService{
		engine:     buildEngine,
		versions:   versionStore,
		artifacts:  artifacts,
		rollback:   controller,
		supervisor: supervisorPool,
		isolation:  executor.Isolation().String(),
		clock:      clk,
		logger:     logger,
		startedAt:  clk.Now(),
	}

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger)
	engineService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("engine running",
		"environment", string(cfg.Environment),
		"socket", cfg.Paths.Socket,
		"isolation", executor.Isolation().String(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := buildEngine.Shutdown(drainCtx); err != nil {
		logger.Warn("builds did not drain cleanly", "error", err)
	}
	if err := supervisorPool.Shutdown(drainCtx); err != nil {
		logger.Warn("sessions did not drain cleanly", "error", err)
	}
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// newLogger builds the process logger: human-readable text in
// development, JSON lines in production.
func newLogger(environment config.Environment) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if environment == config.Production {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	options.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

func newExecutor(cfg *config.Config, logger *slog.Logger) (*sandbox.Executor, error) {
	var profile *sandbox.Profile
	if cfg.Sandbox.ProfileFile != "" {
		loaded, err := sandbox.LoadProfile(cfg.Sandbox.ProfileFile)
		if err != nil {
			return nil, fmt.Errorf("loading sandbox profile: %w", err)
		}
		profile = loaded
	}

	var policy *sandbox.Policy
	if cfg.Sandbox.SeccompPolicyFile != "" {
		loaded, err := sandbox.LoadPolicy(cfg.Sandbox.SeccompPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("loading seccomp policy: %w", err)
		}
		policy = loaded
	}

	executor, err := sandbox.NewExecutor(sandbox.ExecutorConfig{
		AllowedRoot:   cfg.Paths.ProjectsRoot,
		Profile:       profile,
		Policy:        policy,
		AllowDegraded: cfg.Sandbox.RequireIsolation == "degrade",
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox executor: %w", err)
	}
	return executor, nil
}

// splitEnv converts KEY=VALUE pairs into the map the supervisor takes.
func splitEnv(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
