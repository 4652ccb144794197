// Package fs holds the file abstraction tasks see through descriptors, the
// per-task descriptor table, the standard streams and the on-disk store.
package fs

import (
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/mm"
)

var (
	ErrBadFd       = fmt.Errorf("fs: bad file descriptor: %w", abi.EBADF)
	ErrNotReadable = fmt.Errorf("fs: file not open for reading: %w", abi.EBADF)
	ErrNotWritable = fmt.Errorf("fs: file not open for writing: %w", abi.EBADF)
	ErrNotFound    = fmt.Errorf("fs: no such file: %w", abi.ENOENT)
	ErrTooManyOpen = fmt.Errorf("fs: descriptor table full: %w", abi.EFAIL)
)

// File is anything a descriptor can refer to.
type File interface {
	Readable() bool
	Writable() bool
	// Read fills buf from the file and returns the byte count; 0 means EOF.
	Read(buf mm.UserBuffer) (int, error)
	// Write drains buf into the file and returns the byte count.
	Write(buf mm.UserBuffer) (int, error)
	// Close is called once, when the last descriptor referring to the file
	// is closed.
	Close() error
}
