// Package kernel assembles the machine: physical memory, the kernel address
// space, the task manager and processor, and the trap path that carries user
// programs in and out of the kernel.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskos/kernel/fs"
	"taskos/kernel/klog"
	"taskos/kernel/loader"
	"taskos/kernel/mm"
	"taskos/kernel/syscall"
	"taskos/kernel/task"
)

// DefaultTimeSlice is the preemption quantum used when Config leaves it zero.
const DefaultTimeSlice = 10 * time.Millisecond

var ErrNoInit = errors.New("kernel: no init command")

// Config tunes a System. Zero values select the defaults.
type Config struct {
	// MemoryBytes is the size of the simulated physical memory.
	MemoryBytes uint64
	// TimeSlice is how long a task runs before it is preempted at its next
	// trap. Negative disables preemption.
	TimeSlice time.Duration
	Log       *klog.Logger
}

func (c Config) withDefaults() Config {
	if c.MemoryBytes == 0 {
		c.MemoryBytes = mm.DefaultMemorySize
	}
	if c.TimeSlice == 0 {
		c.TimeSlice = DefaultTimeSlice
	}
	if c.Log == nil {
		c.Log = klog.New(nil, klog.Off)
	}
	return c
}

// System is one booted kernel.
type System struct {
	cfg  Config
	log  *klog.Logger
	mem  *mm.PhysMem
	apps loader.Loader

	mach *task.Machine
	mgr  *task.Manager
	proc *task.Processor
	sys  *syscall.Dispatcher
}

// New boots a kernel over clock. term backs the standard streams of every
// task, apps serves spawn and exec, and disk (optional) serves open.
func New(cfg Config, clock task.Clock, term fs.Terminal, apps loader.Loader, disk *fs.Disk) (*System, error) {
	cfg = cfg.withDefaults()
	mem, err := mm.NewPhysMem(cfg.MemoryBytes)
	if err != nil {
		return nil, err
	}
	frames := mm.NewFrameAllocator(mem, 0)
	kspace, tramp, err := mm.NewKernelSpace(frames)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("kernel: kernel space: %w", err)
	}

	s := &System{cfg: cfg, log: cfg.Log, mem: mem, apps: apps}
	s.mach = &task.Machine{
		Frames:      frames,
		KernelSpace: kspace,
		Trampoline:  tramp,
		Pids:        task.NewPidAllocator(),
		Entry:       s.enterUser,
		Stdio: func() (fs.File, fs.File, fs.File) {
			out := fs.NewStdout(term)
			return fs.NewStdin(term, s.proc), out, out
		},
	}
	s.mgr = task.NewManager(s.mach)
	var slice uint64
	if cfg.TimeSlice > 0 {
		slice = uint64(cfg.TimeSlice / time.Microsecond)
	}
	s.proc = task.NewProcessor(s.mgr, clock, s.log, slice)
	s.sys = syscall.NewDispatcher(s.proc, apps, disk, s.log)
	s.log.Infof("kernel: %d KiB physical memory, %d free frames", cfg.MemoryBytes>>10, frames.Free())
	return s, nil
}

func (s *System) Processor() *task.Processor    { return s.proc }
func (s *System) Manager() *task.Manager        { return s.mgr }
func (s *System) Syscalls() *syscall.Dispatcher { return s.sys }

// Spawn loads the program named by args[0] as a new task. The first task
// spawned is init.
func (s *System) Spawn(args []string) (*task.TCB, error) {
	if len(args) == 0 {
		return nil, ErrNoInit
	}
	img, ok := s.apps.AppData(args[0])
	if !ok {
		return nil, fmt.Errorf("kernel: spawn %q: %w", args[0], syscall.ErrNoProgram)
	}
	t, err := s.mgr.Spawn(img, args)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("spawned task %d: %q", t.Pid(), args)
	return t, nil
}

// Run schedules tasks until init exits, every task has finished, the kernel
// halts or ctx is done. It returns init's exit code. A kernel panic is
// reported to the panic handler and returned as a *PanicError.
func (s *System) Run(ctx context.Context) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = -1, s.fatal(-1, r)
		}
		s.log.Debugf("%d task switches, %dus switching", s.proc.Switches(), s.proc.SwitchTime())
	}()
	return s.proc.RunTasks(ctx)
}

// Close releases physical memory. Call it only after Run has returned.
func (s *System) Close() error { return s.mem.Close() }
