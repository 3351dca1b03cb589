// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sitewright/sitewright/sandbox"
)

// cmdCapabilities reports what the host can isolate. Exits non-zero
// when full isolation is unavailable so scripts can gate on it.
func cmdCapabilities() error {
	caps := sandbox.DetectCapabilities()
	fmt.Print(formatCapabilities(caps))
	if !caps.FullIsolation() {
		return fmt.Errorf("full isolation unavailable: %s", caps.DegradedReason())
	}
	return nil
}

func formatCapabilities(caps *sandbox.Capabilities) string {
	var b strings.Builder
	if caps.BwrapAvailable {
		fmt.Fprintf(&b, "bubblewrap:       %s (%s)\n", caps.BwrapPath, caps.BwrapVersion)
	} else {
		fmt.Fprintf(&b, "bubblewrap:       not found\n")
	}
	fmt.Fprintf(&b, "user namespaces:  %s\n", enabledWord(caps.UserNamespacesEnabled))
	if caps.FullIsolation() {
		fmt.Fprintf(&b, "full isolation:   yes\n")
	} else {
		fmt.Fprintf(&b, "full isolation:   no (%s)\n", caps.DegradedReason())
	}
	return b.String()
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// cmdCheckProfile validates a profile file the way the engine would at
// startup.
func cmdCheckProfile(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: check-profile <file>")
	}
	profile, err := sandbox.LoadProfile(args[0])
	if err != nil {
		return err
	}
	fmt.Print(profileSummary(profile))
	return nil
}

func profileSummary(p *sandbox.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile:     %s\n", p.Name)
	fmt.Fprintf(&b, "mounts:      %d\n", len(p.Filesystem))
	var namespaces []string
	if p.Namespaces.PID {
		namespaces = append(namespaces, "pid")
	}
	if p.Namespaces.IPC {
		namespaces = append(namespaces, "ipc")
	}
	if p.Namespaces.UTS {
		namespaces = append(namespaces, "uts")
	}
	if p.Namespaces.Cgroup {
		namespaces = append(namespaces, "cgroup")
	}
	if p.Namespaces.User {
		namespaces = append(namespaces, "user")
	}
	if p.Namespaces.Net {
		namespaces = append(namespaces, "net")
	}
	fmt.Fprintf(&b, "namespaces:  %s\n", strings.Join(namespaces, " "))
	fmt.Fprintf(&b, "environment: %d variables\n", len(p.Environment))
	return b.String()
}

// cmdCheckPolicy validates a seccomp policy file and compiles it so a
// rule-count or duplicate error surfaces here instead of at spawn time.
func cmdCheckPolicy(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: check-policy <file>")
	}
	policy, err := sandbox.LoadPolicy(args[0])
	if err != nil {
		return err
	}
	compiled, err := policy.Compile()
	if err != nil {
		return err
	}
	fmt.Printf("syscalls: %d allowed\n", len(policy.Syscalls))
	fmt.Printf("filter:   %d bytes\n", len(compiled))
	return nil
}

// cmdRun executes a command under the same boundary the engine gives
// an agent, or prints the composed bubblewrap invocation with
// --dry-run.
func cmdRun(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	root := flags.String("root", "", "allowed root all project paths must resolve inside")
	profilePath := flags.String("profile", "", "sandbox profile file (default: built-in)")
	policyPath := flags.String("policy", "", "seccomp policy file (default: built-in)")
	degrade := flags.Bool("degrade", false, "permit reduced isolation when the host lacks bubblewrap")
	dryRun := flags.Bool("dry-run", false, "print the bubblewrap invocation instead of executing")
	if err := flags.Parse(args); err != nil {
		return err
	}
	rest := flags.Args()
	if *root == "" || len(rest) < 2 {
		return fmt.Errorf("usage: run --root dir [--profile f] [--policy f] [--degrade] [--dry-run] <project-dir> <command...>")
	}
	projectPath, command := rest[0], rest[1:]

	profile := sandbox.DefaultProfile()
	if *profilePath != "" {
		loaded, err := sandbox.LoadProfile(*profilePath)
		if err != nil {
			return err
		}
		profile = loaded
	}
	policy := sandbox.DefaultPolicy()
	if *policyPath != "" {
		loaded, err := sandbox.LoadPolicy(*policyPath)
		if err != nil {
			return err
		}
		policy = loaded
	}

	if *dryRun {
		argv, err := dryRunArgv(profile, projectPath, policy != nil, command)
		if err != nil {
			return err
		}
		bwrapPath := "bwrap"
		if caps := sandbox.DetectCapabilities(); caps.BwrapAvailable {
			bwrapPath = caps.BwrapPath
		}
		fmt.Println(strings.Join(append([]string{bwrapPath}, argv...), " \\\n  "))
		return nil
	}

	executor, err := sandbox.NewExecutor(sandbox.ExecutorConfig{
		AllowedRoot:   *root,
		Profile:       profile,
		Policy:        policy,
		AllowDegraded: *degrade,
		Logger:        slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if err != nil {
		return err
	}

	handle, err := executor.Spawn(ctx, projectPath, command, nil)
	if err != nil {
		return err
	}

	go func() {
		io.Copy(handle.Stdin(), os.Stdin)
		handle.Stdin().Close()
	}()
	go io.Copy(os.Stderr, handle.Stderr())
	go func() {
		<-ctx.Done()
		handle.Terminate()
	}()

	io.Copy(os.Stdout, handle.Stdout())
	err = handle.Wait()
	if code, ok := sandbox.ExitCode(err); ok {
		os.Exit(code)
	}
	return err
}

// dryRunArgv composes the bubblewrap argument list exactly as a spawn
// would, with the seccomp filter on fd 3 when a policy is set.
func dryRunArgv(profile *sandbox.Profile, projectPath string, havePolicy bool, command []string) ([]string, error) {
	args := sandbox.BwrapArgs{
		Profile:     profile,
		ProjectPath: projectPath,
		Command:     command,
	}
	if havePolicy {
		args.SeccompFD = 3
	}
	return sandbox.BuildBwrapArgs(args)
}
