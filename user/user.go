// Package user is the library user programs are written against. It wraps
// the raw hart interface in typed syscalls and keeps a scratch area on the
// user stack for the buffers those calls pass to the kernel.
package user

import (
	"encoding/binary"
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/arch"
)

// Env is a running program's handle on its hart.
type Env struct {
	h    arch.Hart
	args []string
}

// New captures the program arguments left in a0/a1 by the loader. It must be
// the first thing a program does.
func New(h arch.Hart) *Env {
	e := &Env{h: h}
	argc, argv := uint64(h.Regs().A[0]), uint64(h.Regs().A[1])
	for i := uint64(0); i < argc; i++ {
		e.args = append(e.args, e.loadString(e.loadU64(argv+8*i)))
	}
	return e
}

// Main adapts fn into a program.
func Main(fn func(e *Env) int) arch.Program {
	return func(h arch.Hart) int { return fn(New(h)) }
}

// Args returns argv.
func (e *Env) Args() []string { return e.args }

// Hart exposes the raw hart.
func (e *Env) Hart() arch.Hart { return e.h }

func (e *Env) syscall(id uintptr, a0, a1, a2 uint64) int {
	return e.h.Ecall(id, [3]uintptr{uintptr(a0), uintptr(a1), uintptr(a2)})
}

// reserve grows the stack by n bytes, 8-byte aligned, and returns the new
// stack pointer. Pair it with release.
func (e *Env) reserve(n int) uint64 {
	r := e.h.Regs()
	r.SP = (r.SP - uint64(n)) &^ 7
	return r.SP
}

func (e *Env) release(sp uint64) { e.h.Regs().SP = sp }

func (e *Env) push(p []byte) uint64 {
	va := e.reserve(len(p))
	if len(p) > 0 {
		e.h.Store(va, p)
	}
	return va
}

func (e *Env) pushString(s string) uint64 {
	return e.push(append([]byte(s), 0))
}

func (e *Env) loadU64(va uint64) uint64 {
	var b [8]byte
	e.h.Load(va, b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (e *Env) loadString(va uint64) string {
	var s []byte
	var c [1]byte
	for {
		e.h.Load(va, c[:])
		if c[0] == 0 {
			return string(s)
		}
		s = append(s, c[0])
		va++
	}
}

func (e *Env) sp() uint64 { return e.h.Regs().SP }

func (e *Env) Write(fd int, p []byte) int {
	defer e.release(e.sp())
	return e.syscall(abi.SysWrite, uint64(fd), e.push(p), uint64(len(p)))
}

// Read fills p from fd. On success every byte of p is refreshed from the
// kernel's view of the buffer, so out-of-band results (eventfd counters)
// are visible too.
func (e *Env) Read(fd int, p []byte) int {
	defer e.release(e.sp())
	va := e.reserve(len(p))
	ret := e.syscall(abi.SysRead, uint64(fd), va, uint64(len(p)))
	if ret >= 0 && len(p) > 0 {
		e.h.Load(va, p)
	}
	return ret
}

func (e *Env) Open(path string, flags uint32) int {
	defer e.release(e.sp())
	return e.syscall(abi.SysOpen, e.pushString(path), uint64(flags), 0)
}

func (e *Env) Close(fd int) int { return e.syscall(abi.SysClose, uint64(fd), 0, 0) }
func (e *Env) Dup(fd int) int   { return e.syscall(abi.SysDup, uint64(fd), 0, 0) }

// Pipe returns the read and write ends.
func (e *Env) Pipe() (r, w int, ret int) {
	defer e.release(e.sp())
	va := e.reserve(16)
	if ret = e.syscall(abi.SysPipe, va, 0, 0); ret < 0 {
		return -1, -1, ret
	}
	return int(e.loadU64(va)), int(e.loadU64(va + 8)), ret
}

// Exit ends the program. It does not return.
func (e *Env) Exit(code int) {
	e.syscall(abi.SysExit, uint64(int64(code)), 0, 0)
	panic("user: exit returned")
}

func (e *Env) Yield() int          { return e.syscall(abi.SysYield, 0, 0, 0) }
func (e *Env) Sleep(ms uint64) int { return e.syscall(abi.SysSleep, ms, 0, 0) }
func (e *Env) Getpid() int         { return e.syscall(abi.SysGetpid, 0, 0, 0) }

func (e *Env) Mmap(start, n, prot uint64) int {
	return e.syscall(abi.SysMmap, start, n, prot)
}

func (e *Env) Munmap(start, n uint64) int {
	return e.syscall(abi.SysMunmap, start, n, 0)
}

// Time returns the clock in milliseconds and as a TimeVal.
func (e *Env) Time() (int, abi.TimeVal) {
	defer e.release(e.sp())
	va := e.reserve(abi.TimeValSize)
	ms := e.syscall(abi.SysGetTime, va, 0, 0)
	buf := make([]byte, abi.TimeValSize)
	e.h.Load(va, buf)
	tv, _ := abi.DecodeTimeVal(buf)
	return ms, tv
}

func (e *Env) TaskInfo() (abi.TaskInfo, int) {
	defer e.release(e.sp())
	va := e.reserve(abi.TaskInfoSize)
	if ret := e.syscall(abi.SysGetTaskInfo, va, 0, 0); ret < 0 {
		return abi.TaskInfo{}, ret
	}
	buf := make([]byte, abi.TaskInfoSize)
	e.h.Load(va, buf)
	ti, _ := abi.DecodeTaskInfo(buf)
	return ti, 0
}

// Fork starts a copy of the caller that runs child instead of returning. The
// child sees the same arguments and a copy of the stack. The parent gets the
// child's pid.
func (e *Env) Fork(child func(e *Env) int) int {
	r := e.h.Regs()
	pc := r.PC
	args := e.args
	r.PC = func(h arch.Hart) int { return child(&Env{h: h, args: args}) }
	ret := e.syscall(abi.SysFork, 0, 0, 0)
	r.PC = pc
	return ret
}

// Exec replaces the program with path. It returns only on failure.
func (e *Env) Exec(path string, args ...string) int {
	defer e.release(e.sp())
	if len(args) == 0 {
		args = []string{path}
	}
	ptrs := make([]byte, 8*(len(args)+1))
	for i, a := range args {
		binary.LittleEndian.PutUint64(ptrs[8*i:], e.pushString(a))
	}
	argv := e.push(ptrs)
	return e.syscall(abi.SysExec, e.pushString(path), argv, 0)
}

// TryWait reaps an exited child (pid -1: any). It returns abi.EAGAIN while
// the child runs and abi.ENOENT when there is no such child.
func (e *Env) TryWait(pid int) (int, int) {
	defer e.release(e.sp())
	va := e.reserve(4)
	ret := e.syscall(abi.SysWaitpid, uint64(int64(pid)), va, 0)
	if ret < 0 {
		return ret, 0
	}
	var b [4]byte
	e.h.Load(va, b[:])
	return ret, int(int32(binary.LittleEndian.Uint32(b[:])))
}

// Wait yields until a child matching pid exits and returns its pid and code.
func (e *Env) Wait(pid int) (int, int) {
	for {
		got, code := e.TryWait(pid)
		if got != abi.EAGAIN.Ret() {
			return got, code
		}
		e.Yield()
	}
}

func (e *Env) EventFd(initval uint64, flags uint32) int {
	return e.syscall(abi.SysEventFd, initval, uint64(flags), 0)
}

func (e *Env) MailRead(p []byte) int {
	defer e.release(e.sp())
	va := e.reserve(len(p))
	ret := e.syscall(abi.SysMailRead, va, uint64(len(p)), 0)
	if ret > 0 {
		e.h.Load(va, p[:ret])
	}
	return ret
}

func (e *Env) MailWrite(pid int, p []byte) int {
	defer e.release(e.sp())
	return e.syscall(abi.SysMailWrite, uint64(pid), e.push(p), uint64(len(p)))
}

func (e *Env) Print(s string) { e.Write(abi.FdStdout, []byte(s)) }

func (e *Env) Printf(format string, args ...any) { e.Print(fmt.Sprintf(format, args...)) }

func (e *Env) Println(args ...any) { e.Print(fmt.Sprintln(args...)) }

// Assert exits with -1 after printing msg if ok is false.
func (e *Env) Assert(ok bool, format string, args ...any) {
	if !ok {
		e.Printf("assertion failed: "+format+"\n", args...)
		e.Exit(-1)
	}
}
