// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sitewright/sitewright/lib/process"
	"github.com/sitewright/sitewright/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sitewright-sandbox", pflag.ContinueOnError)
	flags.Usage = usage
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

	command, rest := args[0], args[1:]
	switch command {
	case "capabilities":
		return cmdCapabilities()
	case "check-profile":
		return cmdCheckProfile(rest)
	case "check-policy":
		return cmdCheckPolicy(rest)
	case "run":
		return cmdRun(ctx, rest)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: sitewright-sandbox <command> [args]

commands:
  capabilities                            report host isolation support
  check-profile <file>                    validate a sandbox profile
  check-policy <file>                     validate and compile a seccomp policy
  run --root dir [flags] <project> <cmd>  run a command sandboxed to a project

run flags:
  --root dir       allowed root all project paths must resolve inside (required)
  --profile file   sandbox profile (default: built-in)
  --policy file    seccomp policy (default: built-in)
  --degrade        permit reduced isolation when the host lacks bubblewrap
  --dry-run        print the bubblewrap invocation instead of executing
`)
}
