package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/littlefs"

	"taskos/hal"
	"taskos/kernel/abi"
	"taskos/kernel/mm"
)

const diskProgSize = 256

// flashDevice presents a hal.Flash as a tinyfs block device.
type flashDevice struct {
	flash hal.Flash
}

func (d flashDevice) ReadAt(buf []byte, off int64) (int, error) {
	return d.flash.ReadAt(buf, uint32(off))
}

func (d flashDevice) WriteAt(buf []byte, off int64) (int, error) {
	return d.flash.WriteAt(buf, uint32(off))
}

func (d flashDevice) Size() int64           { return int64(d.flash.SizeBytes()) }
func (d flashDevice) WriteBlockSize() int64 { return diskProgSize }
func (d flashDevice) EraseBlockSize() int64 { return int64(d.flash.EraseBlockBytes()) }

func (d flashDevice) EraseBlocks(start, n int64) error {
	bs := int64(d.flash.EraseBlockBytes())
	return d.flash.Erase(uint32(start*bs), uint32(n*bs))
}

var _ tinyfs.BlockDevice = flashDevice{}

// Disk is a littlefs volume on flash. Every call holds the disk lock, so the
// host importer may use it alongside the kernel.
type Disk struct {
	mu  sync.Mutex
	lfs *littlefs.LFS
}

// OpenDisk mounts the volume on flash, formatting it first if it does not
// mount.
func OpenDisk(flash hal.Flash) (*Disk, error) {
	if flash == nil || flash.SizeBytes() == 0 {
		return nil, fmt.Errorf("fs: no flash: %w", hal.ErrNotImplemented)
	}
	lfs := littlefs.New(flashDevice{flash: flash})
	lfs.Configure(&littlefs.Config{
		CacheSize:     diskProgSize,
		LookaheadSize: 32,
		BlockCycles:   100,
	})
	if err := lfs.Mount(); err != nil {
		if err := lfs.Format(); err != nil {
			return nil, fmt.Errorf("fs: format: %w", err)
		}
		if err := lfs.Mount(); err != nil {
			return nil, fmt.Errorf("fs: mount after format: %w", err)
		}
	}
	return &Disk{lfs: lfs}, nil
}

// Close unmounts the volume.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lfs.Unmount()
}

func osFlags(flags uint32) (int, bool, bool) {
	readable, writable := true, false
	var of int
	switch {
	case flags&abi.OWrOnly != 0:
		of, readable, writable = os.O_WRONLY, false, true
	case flags&abi.ORdWr != 0:
		of, writable = os.O_RDWR, true
	default:
		of = os.O_RDONLY
	}
	if flags&abi.OCreate != 0 {
		of |= os.O_CREATE
	}
	if flags&abi.OTrunc != 0 {
		of |= os.O_TRUNC
	}
	return of, readable, writable
}

// Open opens name with the user-level open flags.
func (d *Disk) Open(name string, flags uint32) (File, error) {
	of, readable, writable := osFlags(flags)
	d.mu.Lock()
	defer d.mu.Unlock()
	if of&os.O_CREATE == 0 {
		if _, err := d.lfs.Stat(name); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
	}
	f, err := d.lfs.OpenFile(name, of)
	if err != nil {
		return nil, fmt.Errorf("fs: open %s: %w", name, err)
	}
	return &diskFile{disk: d, f: f, readable: readable, writable: writable}, nil
}

// WriteFile replaces name's contents.
func (d *Disk) WriteFile(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.lfs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("fs: create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("fs: write %s: %w", name, err)
	}
	return f.Close()
}

// ReadFile returns name's contents.
func (d *Disk) ReadFile(name string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.lfs.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove deletes name.
func (d *Disk) Remove(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.lfs.Remove(name); err != nil {
		return fmt.Errorf("fs: remove %s: %w", name, err)
	}
	return nil
}

type diskFile struct {
	disk     *Disk
	f        tinyfs.File
	readable bool
	writable bool
}

func (f *diskFile) Readable() bool { return f.readable }
func (f *diskFile) Writable() bool { return f.writable }

func (f *diskFile) Read(buf mm.UserBuffer) (int, error) {
	if !f.readable {
		return 0, ErrNotReadable
	}
	f.disk.mu.Lock()
	defer f.disk.mu.Unlock()
	total := 0
	for _, b := range buf.Buffers {
		n, err := f.f.Read(b)
		total += n
		if errors.Is(err, io.EOF) || n < len(b) {
			break
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *diskFile) Write(buf mm.UserBuffer) (int, error) {
	if !f.writable {
		return 0, ErrNotWritable
	}
	f.disk.mu.Lock()
	defer f.disk.mu.Unlock()
	total := 0
	for _, b := range buf.Buffers {
		n, err := f.f.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *diskFile) Close() error {
	f.disk.mu.Lock()
	defer f.disk.mu.Unlock()
	return f.f.Close()
}
