// Package task implements task control blocks, the ready queue and the
// processor that runs tasks on the single execution unit.
package task

import (
	"encoding/binary"
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/arch"
	"taskos/kernel/fs"
	"taskos/kernel/ipc"
	"taskos/kernel/ksync"
	"taskos/kernel/loader"
	"taskos/kernel/mm"
)

// Status is a task's lifecycle state.
type Status uint8

const (
	UnInit Status = iota
	Ready
	Running
	Blocked
	Zombie
)

func (s Status) String() string {
	switch s {
	case UnInit:
		return "UnInit"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// NoParent is the parent pid of a task nobody waits for.
const NoParent = -1

// Machine is what task construction needs from the rest of the kernel.
type Machine struct {
	Frames      *mm.FrameAllocator
	KernelSpace *mm.MemorySet
	Trampoline  mm.PhysPageNum
	Pids        *PidAllocator
	// Entry is the first thing a new task runs on its kernel stack: the
	// return to user mode.
	Entry func(t *TCB)
	// Stdio opens the three standard streams for a new task.
	Stdio func() (stdin, stdout, stderr fs.File)
}

// TaskInner is the mutable part of a TCB.
type TaskInner struct {
	Status Status
	Cx     *arch.TaskContext
	Trap   arch.TrapContext
	Space  *mm.MemorySet
	// Parent is a pid, resolved through the manager; it never keeps the
	// parent alive.
	Parent   int
	Children []*TCB
	ExitCode int
	Fds      *fs.FdTable
	Mail     *ipc.Mailbox
	Name     string

	UserTimeUs   uint64
	KernelTimeUs uint64

	// Restart asks the trap path to re-enter user mode at Trap.PC (exec).
	Restart bool
	// WakeAt is the deadline a sleeping task waits for.
	WakeAt uint64
}

// TCB is a task control block.
type TCB struct {
	pid    int
	kstack *KernelStack
	inner  *ksync.UPCell[TaskInner]
}

func (t *TCB) Pid() int { return t.pid }

func (t *TCB) String() string { return fmt.Sprintf("task %d", t.pid) }

// Inner borrows the mutable state. The guard must be released before the
// task can switch away.
func (t *TCB) Inner() *ksync.Guard[TaskInner] { return t.inner.ExclusiveAccess() }

// With runs fn with the mutable state borrowed.
func (t *TCB) With(fn func(in *TaskInner)) { t.inner.With(fn) }

func (t *TCB) Status() Status {
	var s Status
	t.With(func(in *TaskInner) { s = in.Status })
	return s
}

func (t *TCB) ExitCode() int {
	var c int
	t.With(func(in *TaskInner) { c = in.ExitCode })
	return c
}

func (t *TCB) Name() string {
	var n string
	t.With(func(in *TaskInner) { n = in.Name })
	return n
}

func (t *TCB) ParentPid() int {
	var p int
	t.With(func(in *TaskInner) { p = in.Parent })
	return p
}

// Children returns a snapshot of the child list.
func (t *TCB) Children() []*TCB {
	var c []*TCB
	t.With(func(in *TaskInner) { c = append(c, in.Children...) })
	return c
}

// Token returns the satp token of the task's address space.
func (t *TCB) Token() uint64 {
	var tok uint64
	t.With(func(in *TaskInner) { tok = in.Space.Token() })
	return tok
}

func (t *TCB) TrapContext() arch.TrapContext {
	var cx arch.TrapContext
	t.With(func(in *TaskInner) { cx = in.Trap })
	return cx
}

func (t *TCB) SetTrapContext(cx arch.TrapContext) {
	t.With(func(in *TaskInner) { in.Trap = cx })
}

// TakeRestart clears and returns the restart request.
func (t *TCB) TakeRestart() bool {
	var r bool
	t.With(func(in *TaskInner) {
		r = in.Restart
		in.Restart = false
	})
	return r
}

// KernelStackTop is the task's initial kernel stack pointer.
func (t *TCB) KernelStackTop() uint64 { return t.kstack.Top() }

// Info returns the get_task_info record of t.
func (t *TCB) Info() abi.TaskInfo {
	ti := abi.TaskInfo{Pid: uint64(t.pid)}
	t.With(func(in *TaskInner) {
		ti.Status = uint64(in.Status)
		ti.UserTimeUs = in.UserTimeUs
		ti.KernelTimeUs = in.KernelTimeUs
		copy(ti.Name[:abi.TaskNameLen-1], in.Name)
	})
	return ti
}

func (m *Machine) newContext(t *TCB) *arch.TaskContext {
	return arch.GotoTrapReturn(t.kstack.Top(), func() { m.Entry(t) })
}

// NewTCB loads img into a fresh address space and returns a Ready task.
func NewTCB(m *Machine, img *loader.Image, args []string) (*TCB, error) {
	space, sp, err := mm.FromImage(m.Frames, m.Trampoline, img.Segments)
	if err != nil {
		return nil, fmt.Errorf("task: load %s: %w", img.Name, err)
	}
	sp, argv, err := pushArgs(m.Frames.Mem(), space.Token(), sp, args)
	if err != nil {
		space.Release()
		return nil, err
	}
	pid := m.Pids.Alloc()
	ks, err := NewKernelStack(m.KernelSpace, pid)
	if err != nil {
		m.Pids.Dealloc(pid)
		space.Release()
		return nil, err
	}

	t := &TCB{pid: pid, kstack: ks}
	trap := loader.InitAppContext(img, uint64(sp), m.KernelSpace.Token(), ks.Top())
	trap.A[0], trap.A[1] = uintptr(len(args)), uintptr(argv)
	stdin, stdout, stderr := m.Stdio()
	t.inner = ksync.NewUPCell("tcb", TaskInner{
		Status: UnInit,
		Cx:     m.newContext(t),
		Trap:   trap,
		Space:  space,
		Parent: NoParent,
		Fds:    fs.NewFdTable(stdin, stdout, stderr),
		Mail:   ipc.NewMailbox(),
		Name:   img.Name,
	})
	t.With(func(in *TaskInner) { in.Status = Ready })
	return t, nil
}

// Fork returns a Ready child with a copy of t's address space, a clone of
// its descriptor table and an empty mailbox. The child's trap context is
// t's with a0 cleared.
func (t *TCB) Fork(m *Machine) (*TCB, error) {
	g := t.Inner()
	defer g.Release()
	parent := g.Get()

	space, err := mm.FromExisting(parent.Space)
	if err != nil {
		return nil, fmt.Errorf("task: fork %d: %w", t.pid, err)
	}
	pid := m.Pids.Alloc()
	ks, err := NewKernelStack(m.KernelSpace, pid)
	if err != nil {
		m.Pids.Dealloc(pid)
		space.Release()
		return nil, err
	}

	child := &TCB{pid: pid, kstack: ks}
	trap := parent.Trap
	trap.KernelSP = ks.Top()
	trap.A[0] = 0
	child.inner = ksync.NewUPCell("tcb", TaskInner{
		Status: Ready,
		Cx:     m.newContext(child),
		Trap:   trap,
		Space:  space,
		Parent: t.pid,
		Fds:    parent.Fds.Clone(),
		Mail:   ipc.NewMailbox(),
		Name:   parent.Name,
	})
	parent.Children = append(parent.Children, child)
	return child, nil
}

// Exec replaces t's address space and trap context with a fresh load of img.
// Pid, parent, children and descriptors are kept. The caller's trap path
// must honour the restart request before touching user memory again.
func (t *TCB) Exec(m *Machine, img *loader.Image, args []string) error {
	space, sp, err := mm.FromImage(m.Frames, m.Trampoline, img.Segments)
	if err != nil {
		return fmt.Errorf("task: exec %s: %w", img.Name, err)
	}
	sp, argv, err := pushArgs(m.Frames.Mem(), space.Token(), sp, args)
	if err != nil {
		space.Release()
		return err
	}
	trap := loader.InitAppContext(img, uint64(sp), m.KernelSpace.Token(), t.kstack.Top())
	trap.A[0], trap.A[1] = uintptr(len(args)), uintptr(argv)

	var old *mm.MemorySet
	t.With(func(in *TaskInner) {
		old = in.Space
		in.Space = space
		in.Trap = trap
		in.Name = img.Name
		in.Restart = true
	})
	old.Release()
	return nil
}

// release frees everything a reaped zombie still holds.
func (t *TCB) release(m *Machine) {
	t.With(func(in *TaskInner) {
		if in.Space != nil {
			in.Space.Release()
			in.Space = nil
		}
	})
	t.kstack.Release()
	m.Pids.Dealloc(t.pid)
}

// pushArgs copies args onto the user stack below sp: the strings, then a
// NUL-terminated argv pointer array. It returns the new sp and argv.
func pushArgs(mem *mm.PhysMem, token uint64, sp mm.VirtAddr, args []string) (mm.VirtAddr, mm.VirtAddr, error) {
	ptrs := make([]uint64, len(args)+1)
	for i := len(args) - 1; i >= 0; i-- {
		sp -= mm.VirtAddr(len(args[i]) + 1)
		if err := mm.WriteUser(mem, token, uint64(sp), append([]byte(args[i]), 0)); err != nil {
			return 0, 0, fmt.Errorf("task: push argument %d: %w", i, err)
		}
		ptrs[i] = uint64(sp)
	}
	sp -= sp % 8
	sp -= mm.VirtAddr(8 * len(ptrs))
	buf := make([]byte, 8*len(ptrs))
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(buf[8*i:], p)
	}
	if err := mm.WriteUser(mem, token, uint64(sp), buf); err != nil {
		return 0, 0, fmt.Errorf("task: push argv: %w", err)
	}
	return sp, sp, nil
}
