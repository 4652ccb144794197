package arch

import "fmt"

// Program is user-mode code. It runs with h as its only view of the machine
// and returns the task's exit code.
type Program func(h Hart) int

// Hart is the user-visible execution unit.
type Hart interface {
	// Ecall traps into the kernel with a syscall id and three argument words.
	Ecall(id uintptr, args [3]uintptr) int
	// Load reads user memory at va through the MMU. A bad access traps and
	// does not return.
	Load(va uint64, p []byte)
	// Store writes user memory at va through the MMU. A bad access traps and
	// does not return.
	Store(va uint64, p []byte)
	// Regs returns the live register file.
	Regs() *TrapContext
}

// TrapContext is the register state saved on trap entry and restored on
// return to user mode.
type TrapContext struct {
	// A holds the argument registers; A[0] also carries return values.
	A  [3]uintptr
	SP uint64
	// PC is where user mode resumes.
	PC Program

	KernelSP   uint64
	KernelSatp uint64
}

// AppInitContext is the trap context a freshly loaded program starts from.
func AppInitContext(entry Program, userSP, kernelSatp, kernelSP uint64) TrapContext {
	return TrapContext{
		SP:         userSP,
		PC:         entry,
		KernelSP:   kernelSP,
		KernelSatp: kernelSatp,
	}
}

// Restart unwinds the running user program so the trap-return path can
// re-enter user mode at a replaced PC (exec).
type Restart struct{}

// Exit unwinds the running user program after the exit syscall.
type Exit struct {
	Code int
}

// Exception is a synchronous trap cause other than a syscall.
type Exception uint8

const (
	LoadPageFault Exception = iota + 1
	StorePageFault
	IllegalInstruction
)

func (e Exception) String() string {
	switch e {
	case LoadPageFault:
		return "LoadPageFault"
	case StorePageFault:
		return "StorePageFault"
	case IllegalInstruction:
		return "IllegalInstruction"
	default:
		return fmt.Sprintf("Exception(%d)", uint8(e))
	}
}

// ExitCode is the code a task is killed with for e.
func (e Exception) ExitCode() int {
	if e == IllegalInstruction {
		return -3
	}
	return -2
}
