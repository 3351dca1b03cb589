// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sitewright/sitewright/lib/process"
	"github.com/sitewright/sitewright/lib/service"
	"github.com/sitewright/sitewright/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sitewrightctl", pflag.ContinueOnError)
	flags.Usage = usage
	socketPath := flags.String("socket", defaultSocketPath(), "engine control socket path")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		fmt.Println(version.Full())
		return nil
	}

	args := flags.Args()
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := service.NewClient(*socketPath)
	command, rest := args[0], args[1:]

	switch command {
	case "status":
		return cmdStatus(ctx, client)
	case "build":
		return cmdBuild(ctx, client, rest)
	case "cancel":
		return cmdCancel(ctx, client, rest)
	case "run":
		return cmdRunStatus(ctx, client, rest)
	case "versions":
		return cmdVersions(ctx, client, rest)
	case "version":
		return cmdVersion(ctx, client, rest)
	case "chain":
		return cmdChain(ctx, client, rest)
	case "published":
		return cmdPublished(ctx, client, rest)
	case "publish":
		return cmdPublish(ctx, client, rest)
	case "artifact":
		return cmdArtifact(ctx, client, rest)
	case "rollback":
		return cmdRollback(ctx, client, rest)
	case "state":
		return cmdState(ctx, client, rest)
	case "clear-failure":
		return cmdClearFailure(ctx, client, rest)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// defaultSocketPath mirrors the daemon's default config so the CLI
// works out of the box on a development machine. SITEWRIGHT_SOCKET
// overrides it.
func defaultSocketPath() string {
	if path := os.Getenv("SITEWRIGHT_SOCKET"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "sitewright", "engine.sock")
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: sitewrightctl [--socket path] <command> [args]

commands:
  status                                 engine liveness and stats
  build <project-id> <prompt...>         run a build, streaming its events
  cancel <run-id>                        cancel an in-flight build
  run <run-id>                           show a run's status and version
  versions <project-id> [--limit n]      list a project's versions
  version <version-id>                   show one version
  chain <version-id> [--limit n]         walk a version's parent chain
  published <project-id>                 show the live version
  publish <project-id> <version-id>      point the live version at an entry
  artifact <artifact-id>                 verify an artifact and show its location
  rollback <project-id> <version-id>     restore an earlier version
  state <project-id>                     show rollback state
  clear-failure <project-id>             re-enable builds after rollback failure

environment:
  SITEWRIGHT_SOCKET  engine control socket path
`)
}
