package syscall

import (
	"encoding/binary"
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/arch"
	"taskos/kernel/mm"
	"taskos/kernel/task"
)

var ErrNoProgram = fmt.Errorf("syscall: no such program: %w", abi.ENOENT)

// sysExit unwinds the calling program; the trap path retires the task.
func (d *Dispatcher) sysExit(code int) int {
	panic(arch.Exit{Code: code})
}

func (d *Dispatcher) sysYield() int {
	d.proc.SuspendCurrentAndRunNext()
	return 0
}

// sysSleep parks the caller for ms milliseconds. Zero yields.
func (d *Dispatcher) sysSleep(ms uint64) int {
	if ms == 0 {
		return d.sysYield()
	}
	d.proc.SleepCurrent(d.proc.Clock().NowMicros() + ms*1000)
	return 0
}

func (d *Dispatcher) sysGetpid() int { return d.current().Pid() }

func (d *Dispatcher) sysGetTaskInfo(ptr uint64) int {
	t := d.current()
	d.log.Infof("Current app is app_%d, which name is %s", t.Pid(), t.Name())
	if ptr == 0 {
		return 0
	}
	info := t.Info()
	if err := d.writeUser(ptr, info.Encode()); err != nil {
		return errno(err)
	}
	return 0
}

// sysGetTime returns the clock in milliseconds and, when ptr is set, stores
// it as an abi.TimeVal.
func (d *Dispatcher) sysGetTime(ptr uint64) int {
	us := d.proc.Clock().NowMicros()
	if ptr != 0 {
		if err := d.writeUser(ptr, abi.TimeValFromMicros(us).Encode()); err != nil {
			return errno(err)
		}
	}
	return int(us / 1000)
}

func (d *Dispatcher) sysMmap(start, length, prot uint64) int {
	perm, err := mm.PermFromProt(prot)
	if err != nil {
		return errno(err)
	}
	d.current().With(func(in *task.TaskInner) {
		err = in.Space.Map(mm.VirtAddr(start), length, perm, mm.BackingAnonymous)
	})
	if err != nil {
		return errno(err)
	}
	return 0
}

func (d *Dispatcher) sysMunmap(start, length uint64) int {
	var err error
	d.current().With(func(in *task.TaskInner) {
		err = in.Space.Unmap(mm.VirtAddr(start), length)
	})
	if err != nil {
		return errno(err)
	}
	return 0
}

// sysFork returns the child's pid to the parent. The child resumes at the
// saved PC with a0 cleared.
func (d *Dispatcher) sysFork() int {
	child, err := d.proc.Manager().Fork(d.current())
	if err != nil {
		return errno(err)
	}
	return child.Pid()
}

// sysExec replaces the caller's program. argv is a zero-terminated array of
// string pointers; a zero argv runs the program with its name as the only
// argument. On success the trap path restarts the caller in the new image.
func (d *Dispatcher) sysExec(pathPtr, argvPtr uint64) int {
	path, err := d.userString(pathPtr)
	if err != nil {
		return errno(err)
	}
	args := []string{path}
	if argvPtr != 0 {
		if args, err = d.userArgv(argvPtr); err != nil {
			return errno(err)
		}
	}
	img, ok := d.apps.AppData(path)
	if !ok {
		return errno(fmt.Errorf("%w: %q", ErrNoProgram, path))
	}
	if err := d.proc.Manager().Exec(d.current(), img, args); err != nil {
		return errno(err)
	}
	d.log.Debugf("pid %d: exec %s %q", d.current().Pid(), path, args)
	return len(args)
}

func (d *Dispatcher) userArgv(ptr uint64) ([]string, error) {
	var args []string
	for {
		raw, err := d.readUser(ptr, 8)
		if err != nil {
			return nil, err
		}
		p := binary.LittleEndian.Uint64(raw)
		if p == 0 {
			return args, nil
		}
		if len(args) == abi.MaxExecArgs {
			return nil, fmt.Errorf("syscall: more than %d exec arguments: %w", abi.MaxExecArgs, abi.EINVAL)
		}
		s, err := d.userString(p)
		if err != nil {
			return nil, err
		}
		args = append(args, s)
		ptr += 8
	}
}

// sysWaitpid reaps an exited child (pid -1: any) and stores its exit code as
// a little-endian i32 at codePtr when set. A missing child is ENOENT and a
// running one EAGAIN.
func (d *Dispatcher) sysWaitpid(pid int, codePtr uint64) int {
	if codePtr != 0 {
		if _, err := d.userBuffer(codePtr, 4, mm.AccessWrite); err != nil {
			return errno(err)
		}
	}
	reaped, code, err := d.proc.Manager().Reap(d.current(), pid)
	if err != nil {
		return errno(err)
	}
	if codePtr != 0 {
		var out [4]byte
		binary.LittleEndian.PutUint32(out[:], uint32(int32(code)))
		if err := d.writeUser(codePtr, out[:]); err != nil {
			return errno(err)
		}
	}
	return reaped
}
