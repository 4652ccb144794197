package kernel

import (
	"fmt"

	"taskos/kernel/arch"
	"taskos/kernel/mm"
	"taskos/kernel/task"
)

// fault is the unwind value of a user access the MMU refused.
type fault struct {
	cause arch.Exception
	va    uint64
}

func (f *fault) Error() string { return fmt.Sprintf("%v at %#x", f.cause, f.va) }

// hart is the execution unit as one user program sees it.
type hart struct {
	s        *System
	t        *task.TCB
	regs     arch.TrapContext
	inKernel bool
}

func (h *hart) Regs() *arch.TrapContext { return &h.regs }

// Ecall saves the registers, runs the syscall and returns its result in a0.
// On the way back to user mode an exec restarts the program and an expired
// time slice yields the processor.
func (h *hart) Ecall(id uintptr, args [3]uintptr) int {
	p := h.s.proc
	h.regs.A = args
	h.t.SetTrapContext(h.regs)
	p.TrapEnter()

	h.inKernel = true
	ret := h.s.sys.Dispatch(id, args)
	if h.t.TakeRestart() {
		panic(arch.Restart{})
	}
	if p.SliceExpired() {
		p.SuspendCurrentAndRunNext()
	}
	h.inKernel = false

	p.TrapLeave()
	h.regs.A[0] = uintptr(ret)
	return ret
}

func (h *hart) translate(va uint64, n int, access mm.Access, cause arch.Exception) mm.UserBuffer {
	buf, err := mm.TranslateUserBuffer(h.s.mach.Frames.Mem(), h.t.Token(), va, n, access)
	if err != nil {
		panic(&fault{cause: cause, va: va})
	}
	return buf
}

func (h *hart) Load(va uint64, p []byte) {
	h.translate(va, len(p), mm.AccessRead, arch.LoadPageFault).CopyOut(p)
}

func (h *hart) Store(va uint64, p []byte) {
	h.translate(va, len(p), mm.AccessWrite, arch.StorePageFault).CopyIn(p)
}

// enterUser is the first thing every task runs. It drops into user mode and
// retires the task once the program is done.
func (s *System) enterUser(t *task.TCB) {
	code := s.trapReturn(t)
	s.proc.ExitCurrentAndRunNext(code)
}

// trapReturn runs the program at the saved PC until it exits, re-entering it
// whenever exec replaced it.
func (s *System) trapReturn(t *task.TCB) int {
	for {
		if code, restart := s.runUser(t); !restart {
			return code
		}
	}
}

func (s *System) runUser(t *task.TCB) (code int, restart bool) {
	h := &hart{s: s, t: t, regs: s.proc.CurrentTrapContext()}
	defer func() {
		r := recover()
		if r == nil || s.proc.Stopped() {
			return
		}
		switch v := r.(type) {
		case arch.Restart:
			restart = true
		case arch.Exit:
			code = v.Code
		case *fault:
			s.log.Printf("[kernel] %v in application %d, kernel killed it.", v, t.Pid())
			code = v.cause.ExitCode()
		default:
			if h.inKernel {
				s.proc.Halt(-1, s.fatal(t.Pid(), r))
			}
			s.log.Printf("[kernel] IllegalInstruction in application %d (%v), kernel killed it.", t.Pid(), r)
			code = arch.IllegalInstruction.ExitCode()
		}
	}()
	return h.regs.PC(h), false
}
