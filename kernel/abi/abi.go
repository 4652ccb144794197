// Package abi holds the user/kernel contract: syscall numbers, flag bits,
// error codes and the layout of structures copied across the boundary.
package abi

// Syscall identifiers (RISC-V Linux numbering where one exists).
const (
	SysDup         = 24
	SysOpen        = 56
	SysClose       = 57
	SysPipe        = 59
	SysRead        = 63
	SysWrite       = 64
	SysExit        = 93
	SysSleep       = 101
	SysYield       = 124
	SysGetTaskInfo = 127
	SysGetTime     = 169
	SysGetpid      = 172
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysEventFd     = 290
	SysMailRead    = 401
	SysMailWrite   = 402
)

// MaxSyscallNum bounds the per-id invocation counters.
const MaxSyscallNum = 512

// Standard descriptors preinstalled in every task.
const (
	FdStdin  = 0
	FdStdout = 1
	FdStderr = 2
)

// Open flags.
const (
	ORdOnly = 0
	OWrOnly = 1 << 0
	ORdWr   = 1 << 1
	OCreate = 1 << 9
	OTrunc  = 1 << 10
)

// Mmap protection bits.
const (
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2

	ProtMask = ProtRead | ProtWrite | ProtExec
)

// EventFd flags.
const (
	EfdSemaphore = 1
	EfdNonblock  = 1 << 11
)

// Mailbox limits.
const (
	MailCapacity = 16
	PostMaxLen   = 256
)

// ABIVersion is the syscall contract implemented by this kernel.
const ABIVersion = "1.2.0"

var syscallNames = map[uintptr]string{
	SysDup:         "dup",
	SysOpen:        "open",
	SysClose:       "close",
	SysPipe:        "pipe",
	SysRead:        "read",
	SysWrite:       "write",
	SysExit:        "exit",
	SysSleep:       "sleep",
	SysYield:       "yield",
	SysGetTaskInfo: "get_task_info",
	SysGetTime:     "get_time",
	SysGetpid:      "getpid",
	SysMunmap:      "munmap",
	SysFork:        "fork",
	SysExec:        "exec",
	SysMmap:        "mmap",
	SysWaitpid:     "waitpid",
	SysEventFd:     "eventfd",
	SysMailRead:    "mail_read",
	SysMailWrite:   "mail_write",
}

// SyscallName returns the name of a syscall id, or "" if it is not one.
func SyscallName(id uintptr) string { return syscallNames[id] }

// MaxExecArgs bounds the argv vector exec accepts.
const MaxExecArgs = 32
