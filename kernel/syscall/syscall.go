// Package syscall is the kernel side of the user/kernel boundary: it counts
// and demultiplexes trapped calls and runs their handlers against the
// current task.
package syscall

import (
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/fs"
	"taskos/kernel/klog"
	"taskos/kernel/ksync"
	"taskos/kernel/loader"
	"taskos/kernel/mm"
	"taskos/kernel/task"
)

// UnknownSyscallError is the panic value for an id no handler serves.
type UnknownSyscallError struct {
	ID uintptr
}

func (e *UnknownSyscallError) Error() string {
	return fmt.Sprintf("syscall: unsupported syscall id %d", e.ID)
}

// Dispatcher runs syscalls for the task current on its processor.
type Dispatcher struct {
	proc   *task.Processor
	apps   loader.Loader
	disk   *fs.Disk
	log    *klog.Logger
	counts *ksync.UPCell[[abi.MaxSyscallNum]uint64]
}

// NewDispatcher returns a dispatcher. apps serves exec; disk serves open and
// may be nil.
func NewDispatcher(proc *task.Processor, apps loader.Loader, disk *fs.Disk, log *klog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:   proc,
		apps:   apps,
		disk:   disk,
		log:    log,
		counts: ksync.NewUPCell[[abi.MaxSyscallNum]uint64]("syscall counters", [abi.MaxSyscallNum]uint64{}),
	}
}

// Count returns how many times id has been invoked.
func (d *Dispatcher) Count(id uintptr) uint64 {
	if id >= abi.MaxSyscallNum {
		return 0
	}
	var n uint64
	d.counts.With(func(c *[abi.MaxSyscallNum]uint64) { n = c[id] })
	return n
}

// Dispatch runs syscall id. Unknown ids panic with *UnknownSyscallError.
func (d *Dispatcher) Dispatch(id uintptr, args [3]uintptr) int {
	if id < abi.MaxSyscallNum {
		d.counts.With(func(c *[abi.MaxSyscallNum]uint64) { c[id]++ })
	}
	ret := d.dispatch(id, args)
	if d.log.Enabled(klog.Trace) {
		d.log.Tracef("pid %d: %s(%#x, %#x, %#x) = %d",
			d.proc.CurrentTask().Pid(), abi.SyscallName(id), args[0], args[1], args[2], ret)
	}
	return ret
}

func (d *Dispatcher) dispatch(id uintptr, a [3]uintptr) int {
	switch id {
	case abi.SysDup:
		return d.sysDup(int(a[0]))
	case abi.SysOpen:
		return d.sysOpen(uint64(a[0]), uint32(a[1]))
	case abi.SysClose:
		return d.sysClose(int(a[0]))
	case abi.SysPipe:
		return d.sysPipe(uint64(a[0]))
	case abi.SysRead:
		return d.sysRead(int(a[0]), uint64(a[1]), int(a[2]))
	case abi.SysWrite:
		return d.sysWrite(int(a[0]), uint64(a[1]), int(a[2]))
	case abi.SysExit:
		return d.sysExit(int(int32(a[0])))
	case abi.SysSleep:
		return d.sysSleep(uint64(a[0]))
	case abi.SysYield:
		return d.sysYield()
	case abi.SysGetTaskInfo:
		return d.sysGetTaskInfo(uint64(a[0]))
	case abi.SysGetTime:
		return d.sysGetTime(uint64(a[0]))
	case abi.SysGetpid:
		return d.sysGetpid()
	case abi.SysMunmap:
		return d.sysMunmap(uint64(a[0]), uint64(a[1]))
	case abi.SysFork:
		return d.sysFork()
	case abi.SysExec:
		return d.sysExec(uint64(a[0]), uint64(a[1]))
	case abi.SysMmap:
		return d.sysMmap(uint64(a[0]), uint64(a[1]), uint64(a[2]))
	case abi.SysWaitpid:
		return d.sysWaitpid(int(a[0]), uint64(a[1]))
	case abi.SysEventFd:
		return d.sysEventFd(uint64(a[0]), uint32(a[1]))
	case abi.SysMailRead:
		return d.sysMailRead(uint64(a[0]), int(a[1]))
	case abi.SysMailWrite:
		return d.sysMailWrite(int(a[0]), uint64(a[1]), int(a[2]))
	default:
		panic(&UnknownSyscallError{ID: id})
	}
}

func errno(err error) int { return abi.FromError(err).Ret() }

func (d *Dispatcher) current() *task.TCB { return d.proc.CurrentTask() }

func (d *Dispatcher) mem() *mm.PhysMem { return d.proc.Manager().Machine().Frames.Mem() }

func (d *Dispatcher) token() uint64 { return d.proc.CurrentToken() }

func (d *Dispatcher) userBuffer(ptr uint64, n int, access mm.Access) (mm.UserBuffer, error) {
	if n < 0 {
		return mm.UserBuffer{}, fmt.Errorf("syscall: negative length %d: %w", n, abi.EINVAL)
	}
	return mm.TranslateUserBuffer(d.mem(), d.token(), ptr, n, access)
}

func (d *Dispatcher) readUser(ptr uint64, n int) ([]byte, error) {
	return mm.ReadUser(d.mem(), d.token(), ptr, n)
}

func (d *Dispatcher) writeUser(ptr uint64, data []byte) error {
	return mm.WriteUser(d.mem(), d.token(), ptr, data)
}

func (d *Dispatcher) userString(ptr uint64) (string, error) {
	return mm.TranslatedStr(d.mem(), d.token(), ptr)
}
