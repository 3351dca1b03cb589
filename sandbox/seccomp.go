// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Policy is a deny-by-default syscall allow-list. Anything not listed
// fails with EPERM inside the sandbox rather than killing the process,
// so an agent probing an unexpected syscall degrades instead of dying
// mid-build.
//
// The shipped policy was derived empirically by running representative
// agent sessions under strace, not guessed from documentation. Each
// entry carries its x86-64 syscall number; the compiler trusts the
// policy file rather than embedding a name table for every
// architecture.
type Policy struct {
	// Syscalls is the allow-list.
	Syscalls []SyscallRule `json:"syscalls"`
}

// SyscallRule allows one syscall.
type SyscallRule struct {
	// Name is the syscall name, for auditability of the policy file.
	Name string `json:"name"`

	// Nr is the x86-64 syscall number.
	Nr uint32 `json:"nr"`
}

// LoadPolicy reads a policy from a JSONC file (comments and trailing
// commas allowed — policy files are hand-maintained).
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seccomp policy %s: %w", path, err)
	}
	var policy Policy
	if err := json.Unmarshal(jsonc.ToJSON(data), &policy); err != nil {
		return nil, fmt.Errorf("parsing seccomp policy %s: %w", path, err)
	}
	if len(policy.Syscalls) == 0 {
		return nil, fmt.Errorf("seccomp policy %s: empty allow-list", path)
	}
	return &policy, nil
}

// seccompData field offsets (struct seccomp_data).
const (
	seccompDataNrOffset   = 0
	seccompDataArchOffset = 4
)

// Compile assembles the policy into a classic-BPF seccomp filter in
// the binary layout bubblewrap's --seccomp option expects (an array of
// struct sock_filter).
//
// Filter layout: verify the architecture is x86-64 (kill otherwise),
// load the syscall number, jump to allow on any match, fall through to
// EPERM.
func (p *Policy) Compile() ([]byte, error) {
	// Each allow rule is one conditional jump with an 8-bit skip
	// offset; the jump targets must stay addressable.
	if len(p.Syscalls) > 255 {
		return nil, fmt.Errorf("seccomp policy has %d syscalls, max 255", len(p.Syscalls))
	}

	instructions := []bpf.Instruction{
		bpf.LoadAbsolute{Off: seccompDataArchOffset, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.AUDIT_ARCH_X86_64, SkipTrue: 1},
		bpf.RetConstant{Val: unix.SECCOMP_RET_KILL_PROCESS},
		bpf.LoadAbsolute{Off: seccompDataNrOffset, Size: 4},
	}

	count := len(p.Syscalls)
	for i, rule := range p.Syscalls {
		// Matching rules skip the remaining comparisons plus the deny
		// instruction, landing on the final allow.
		skip := uint8(count - 1 - i + 1)
		instructions = append(instructions, bpf.JumpIf{
			Cond:     bpf.JumpEqual,
			Val:      rule.Nr,
			SkipTrue: skip,
		})
	}

	instructions = append(instructions,
		bpf.RetConstant{Val: unix.SECCOMP_RET_ERRNO | uint32(unix.EPERM)},
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
	)

	assembled, err := bpf.Assemble(instructions)
	if err != nil {
		return nil, fmt.Errorf("assembling seccomp filter: %w", err)
	}

	var buffer bytes.Buffer
	for _, instruction := range assembled {
		// struct sock_filter: u16 code, u8 jt, u8 jf, u32 k.
		if err := binary.Write(&buffer, binary.NativeEndian, instruction.Op); err != nil {
			return nil, fmt.Errorf("encoding seccomp filter: %w", err)
		}
		buffer.WriteByte(instruction.Jt)
		buffer.WriteByte(instruction.Jf)
		if err := binary.Write(&buffer, binary.NativeEndian, instruction.K); err != nil {
			return nil, fmt.Errorf("encoding seccomp filter: %w", err)
		}
	}
	return buffer.Bytes(), nil
}

// FilterFile writes the compiled filter to an anonymous memfd for
// passing to bubblewrap via --seccomp and an inherited descriptor.
// The caller closes the file after the child has started.
func (p *Policy) FilterFile() (*os.File, error) {
	compiled, err := p.Compile()
	if err != nil {
		return nil, err
	}

	fd, err := unix.MemfdCreate("sitewright-seccomp", 0)
	if err != nil {
		return nil, fmt.Errorf("creating seccomp memfd: %w", err)
	}
	file := os.NewFile(uintptr(fd), "sitewright-seccomp")

	if _, err := file.Write(compiled); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing seccomp filter: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewinding seccomp filter: %w", err)
	}
	return file, nil
}
