package syscall

import (
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/ipc"
	"taskos/kernel/mm"
	"taskos/kernel/task"
)

var ErrNoTask = fmt.Errorf("syscall: no such task: %w", abi.ENOENT)

func mailbox(t *task.TCB) *ipc.Mailbox {
	var mb *ipc.Mailbox
	t.With(func(in *task.TaskInner) { mb = in.Mail })
	return mb
}

// sysMailRead moves the oldest post of the caller's mailbox into the buffer,
// cut to n bytes. n == 0 only checks for a pending post.
func (d *Dispatcher) sysMailRead(ptr uint64, n int) int {
	mb := mailbox(d.current())
	if n == 0 {
		if mb.Readable() {
			return 0
		}
		return errno(ipc.ErrMailboxEmpty)
	}
	buf, err := d.userBuffer(ptr, min(n, abi.PostMaxLen), mm.AccessWrite)
	if err != nil {
		return errno(err)
	}
	post, err := mb.Fetch()
	if err != nil {
		return errno(err)
	}
	return buf.CopyIn(post.Bytes())
}

// sysMailWrite posts up to abi.PostMaxLen bytes to pid's mailbox. n == 0
// only checks for room.
func (d *Dispatcher) sysMailWrite(pid int, ptr uint64, n int) int {
	target, ok := d.proc.Manager().Lookup(pid)
	if !ok || target.Status() == task.Zombie {
		return errno(fmt.Errorf("%w: %d", ErrNoTask, pid))
	}
	mb := mailbox(target)
	if n == 0 {
		if mb.Writable() {
			return 0
		}
		return errno(ipc.ErrMailboxFull)
	}
	if n < 0 {
		return abi.EINVAL.Ret()
	}
	data, err := d.readUser(ptr, min(n, abi.PostMaxLen))
	if err != nil {
		return errno(err)
	}
	if err := mb.Push(data); err != nil {
		return errno(err)
	}
	return len(data)
}
