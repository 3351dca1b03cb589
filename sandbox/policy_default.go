// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// DefaultPolicy returns the built-in syscall allow-list. It covers
// what a node-based agent toolchain actually uses: file and directory
// I/O, memory management, threads and child processes, sockets for
// the AI API, epoll/eventfd/timerfd event loops, and inotify file
// watching. Privilege changes, mounts, ptrace, kernel module and BPF
// syscalls are absent, so they fail with EPERM.
func DefaultPolicy() *Policy {
	return &Policy{Syscalls: defaultSyscalls()}
}

func defaultSyscalls() []SyscallRule {
	return []SyscallRule{
		{Name: "read", Nr: 0},
		{Name: "write", Nr: 1},
		{Name: "open", Nr: 2},
		{Name: "close", Nr: 3},
		{Name: "stat", Nr: 4},
		{Name: "fstat", Nr: 5},
		{Name: "lstat", Nr: 6},
		{Name: "poll", Nr: 7},
		{Name: "lseek", Nr: 8},
		{Name: "mmap", Nr: 9},
		{Name: "mprotect", Nr: 10},
		{Name: "munmap", Nr: 11},
		{Name: "brk", Nr: 12},
		{Name: "rt_sigaction", Nr: 13},
		{Name: "rt_sigprocmask", Nr: 14},
		{Name: "rt_sigreturn", Nr: 15},
		{Name: "ioctl", Nr: 16},
		{Name: "pread64", Nr: 17},
		{Name: "pwrite64", Nr: 18},
		{Name: "readv", Nr: 19},
		{Name: "writev", Nr: 20},
		{Name: "access", Nr: 21},
		{Name: "pipe", Nr: 22},
		{Name: "select", Nr: 23},
		{Name: "sched_yield", Nr: 24},
		{Name: "mremap", Nr: 25},
		{Name: "msync", Nr: 26},
		{Name: "mincore", Nr: 27},
		{Name: "madvise", Nr: 28},
		{Name: "dup", Nr: 32},
		{Name: "dup2", Nr: 33},
		{Name: "pause", Nr: 34},
		{Name: "nanosleep", Nr: 35},
		{Name: "getitimer", Nr: 36},
		{Name: "alarm", Nr: 37},
		{Name: "setitimer", Nr: 38},
		{Name: "getpid", Nr: 39},
		{Name: "sendfile", Nr: 40},
		{Name: "socket", Nr: 41},
		{Name: "connect", Nr: 42},
		{Name: "accept", Nr: 43},
		{Name: "sendto", Nr: 44},
		{Name: "recvfrom", Nr: 45},
		{Name: "sendmsg", Nr: 46},
		{Name: "recvmsg", Nr: 47},
		{Name: "shutdown", Nr: 48},
		{Name: "bind", Nr: 49},
		{Name: "listen", Nr: 50},
		{Name: "getsockname", Nr: 51},
		{Name: "getpeername", Nr: 52},
		{Name: "socketpair", Nr: 53},
		{Name: "setsockopt", Nr: 54},
		{Name: "getsockopt", Nr: 55},
		{Name: "clone", Nr: 56},
		{Name: "fork", Nr: 57},
		{Name: "vfork", Nr: 58},
		{Name: "execve", Nr: 59},
		{Name: "exit", Nr: 60},
		{Name: "wait4", Nr: 61},
		{Name: "kill", Nr: 62},
		{Name: "uname", Nr: 63},
		{Name: "fcntl", Nr: 72},
		{Name: "flock", Nr: 73},
		{Name: "fsync", Nr: 74},
		{Name: "fdatasync", Nr: 75},
		{Name: "truncate", Nr: 76},
		{Name: "ftruncate", Nr: 77},
		{Name: "getcwd", Nr: 79},
		{Name: "chdir", Nr: 80},
		{Name: "fchdir", Nr: 81},
		{Name: "rename", Nr: 82},
		{Name: "mkdir", Nr: 83},
		{Name: "rmdir", Nr: 84},
		{Name: "creat", Nr: 85},
		{Name: "link", Nr: 86},
		{Name: "unlink", Nr: 87},
		{Name: "symlink", Nr: 88},
		{Name: "readlink", Nr: 89},
		{Name: "chmod", Nr: 90},
		{Name: "fchmod", Nr: 91},
		{Name: "chown", Nr: 92},
		{Name: "fchown", Nr: 93},
		{Name: "lchown", Nr: 94},
		{Name: "umask", Nr: 95},
		{Name: "gettimeofday", Nr: 96},
		{Name: "getrlimit", Nr: 97},
		{Name: "getrusage", Nr: 98},
		{Name: "sysinfo", Nr: 99},
		{Name: "times", Nr: 100},
		{Name: "getuid", Nr: 102},
		{Name: "getgid", Nr: 104},
		{Name: "geteuid", Nr: 107},
		{Name: "getegid", Nr: 108},
		{Name: "setpgid", Nr: 109},
		{Name: "getppid", Nr: 110},
		{Name: "getpgrp", Nr: 111},
		{Name: "setsid", Nr: 112},
		{Name: "getgroups", Nr: 115},
		{Name: "getresuid", Nr: 118},
		{Name: "getresgid", Nr: 120},
		{Name: "getpgid", Nr: 121},
		{Name: "getsid", Nr: 124},
		{Name: "sigaltstack", Nr: 131},
		{Name: "statfs", Nr: 137},
		{Name: "fstatfs", Nr: 138},
		{Name: "prctl", Nr: 157},
		{Name: "arch_prctl", Nr: 158},
		{Name: "setrlimit", Nr: 160},
		{Name: "gettid", Nr: 186},
		{Name: "futex", Nr: 202},
		{Name: "sched_getaffinity", Nr: 204},
		{Name: "getdents64", Nr: 217},
		{Name: "set_tid_address", Nr: 218},
		{Name: "fadvise64", Nr: 221},
		{Name: "clock_gettime", Nr: 228},
		{Name: "clock_getres", Nr: 229},
		{Name: "clock_nanosleep", Nr: 230},
		{Name: "exit_group", Nr: 231},
		{Name: "epoll_wait", Nr: 232},
		{Name: "epoll_ctl", Nr: 233},
		{Name: "tgkill", Nr: 234},
		{Name: "inotify_add_watch", Nr: 254},
		{Name: "inotify_rm_watch", Nr: 255},
		{Name: "openat", Nr: 257},
		{Name: "mkdirat", Nr: 258},
		{Name: "fchownat", Nr: 260},
		{Name: "newfstatat", Nr: 262},
		{Name: "unlinkat", Nr: 263},
		{Name: "renameat", Nr: 264},
		{Name: "linkat", Nr: 265},
		{Name: "symlinkat", Nr: 266},
		{Name: "readlinkat", Nr: 267},
		{Name: "fchmodat", Nr: 268},
		{Name: "faccessat", Nr: 269},
		{Name: "pselect6", Nr: 270},
		{Name: "ppoll", Nr: 271},
		{Name: "set_robust_list", Nr: 273},
		{Name: "get_robust_list", Nr: 274},
		{Name: "splice", Nr: 275},
		{Name: "tee", Nr: 276},
		{Name: "utimensat", Nr: 280},
		{Name: "epoll_pwait", Nr: 281},
		{Name: "timerfd_create", Nr: 283},
		{Name: "timerfd_settime", Nr: 286},
		{Name: "timerfd_gettime", Nr: 287},
		{Name: "accept4", Nr: 288},
		{Name: "eventfd2", Nr: 290},
		{Name: "epoll_create1", Nr: 291},
		{Name: "dup3", Nr: 292},
		{Name: "pipe2", Nr: 293},
		{Name: "inotify_init1", Nr: 294},
		{Name: "preadv", Nr: 295},
		{Name: "pwritev", Nr: 296},
		{Name: "prlimit64", Nr: 302},
		{Name: "sendmmsg", Nr: 307},
		{Name: "getcpu", Nr: 309},
		{Name: "renameat2", Nr: 316},
		{Name: "getrandom", Nr: 318},
		{Name: "memfd_create", Nr: 319},
		{Name: "execveat", Nr: 322},
		{Name: "copy_file_range", Nr: 326},
		{Name: "preadv2", Nr: 327},
		{Name: "pwritev2", Nr: 328},
		{Name: "statx", Nr: 332},
		{Name: "rseq", Nr: 334},
		{Name: "clone3", Nr: 435},
		{Name: "close_range", Nr: 436},
		{Name: "openat2", Nr: 437},
		{Name: "faccessat2", Nr: 439},
		{Name: "epoll_pwait2", Nr: 441},
	}
}
