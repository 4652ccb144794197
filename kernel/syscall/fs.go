package syscall

import (
	"encoding/binary"

	"taskos/kernel/abi"
	"taskos/kernel/fs"
	"taskos/kernel/ipc"
	"taskos/kernel/mm"
	"taskos/kernel/task"
)

func (d *Dispatcher) fdTable() *fs.FdTable {
	var t *fs.FdTable
	d.current().With(func(in *task.TaskInner) { t = in.Fds })
	return t
}

func (d *Dispatcher) install(f fs.File) int {
	fd := d.fdTable().Alloc(f)
	if fd < 0 {
		return errno(fs.ErrTooManyOpen)
	}
	return fd
}

func (d *Dispatcher) sysWrite(fd int, ptr uint64, n int) int {
	f, err := d.fdTable().Get(fd)
	if err != nil {
		return errno(err)
	}
	if !f.Writable() {
		return errno(fs.ErrNotWritable)
	}
	buf, err := d.userBuffer(ptr, n, mm.AccessRead)
	if err != nil {
		return errno(err)
	}
	w, err := f.Write(buf)
	if err != nil {
		return errno(err)
	}
	return w
}

func (d *Dispatcher) sysRead(fd int, ptr uint64, n int) int {
	f, err := d.fdTable().Get(fd)
	if err != nil {
		return errno(err)
	}
	if !f.Readable() {
		return errno(fs.ErrNotReadable)
	}
	buf, err := d.userBuffer(ptr, n, mm.AccessWrite)
	if err != nil {
		return errno(err)
	}
	r, err := f.Read(buf)
	if err != nil {
		return errno(err)
	}
	return r
}

func (d *Dispatcher) sysOpen(pathPtr uint64, flags uint32) int {
	path, err := d.userString(pathPtr)
	if err != nil {
		return errno(err)
	}
	if d.disk == nil {
		return errno(fs.ErrNotFound)
	}
	f, err := d.disk.Open(path, flags)
	if err != nil {
		return errno(err)
	}
	return d.install(f)
}

func (d *Dispatcher) sysClose(fd int) int {
	if err := d.fdTable().Close(fd); err != nil {
		return errno(err)
	}
	return 0
}

func (d *Dispatcher) sysDup(fd int) int {
	nfd, err := d.fdTable().Dup(fd)
	if err != nil {
		return errno(err)
	}
	return nfd
}

// sysPipe stores the read and write descriptors as two little-endian u64
// words at ptr.
func (d *Dispatcher) sysPipe(ptr uint64) int {
	var out [16]byte
	if _, err := mm.TranslateUserBuffer(d.mem(), d.token(), ptr, len(out), mm.AccessWrite); err != nil {
		return errno(err)
	}
	r, w := ipc.NewPipe(d.proc)
	t := d.fdTable()
	rfd := t.Alloc(r)
	if rfd < 0 {
		_ = w.Close()
		return errno(fs.ErrTooManyOpen)
	}
	wfd := t.Alloc(w)
	if wfd < 0 {
		_ = t.Close(rfd)
		return errno(fs.ErrTooManyOpen)
	}
	binary.LittleEndian.PutUint64(out[0:8], uint64(rfd))
	binary.LittleEndian.PutUint64(out[8:16], uint64(wfd))
	if err := d.writeUser(ptr, out[:]); err != nil {
		return errno(err)
	}
	return 0
}

func (d *Dispatcher) sysEventFd(initval uint64, flags uint32) int {
	if flags&^uint32(abi.EfdSemaphore|abi.EfdNonblock) != 0 {
		return abi.EINVAL.Ret()
	}
	return d.install(ipc.NewEventFd(d.proc, initval, flags))
}
