package abi

import "errors"

// Errno is a negative syscall return value.
//
// The set is closed: handlers only ever return one of the constants below.
type Errno int

const (
	EFAIL  Errno = -1 // generic failure
	EAGAIN Errno = -2 // non-blocking operation would block, or child still running
	EBADF  Errno = -3 // descriptor not open or wrong direction
	EFAULT Errno = -4 // user pointer not mapped with the required permission
	EINVAL Errno = -5 // malformed argument
	ENOENT Errno = -6 // no such file, task or child
)

func (e Errno) Error() string { return e.String() }

func (e Errno) String() string {
	switch e {
	case EFAIL:
		return "failed"
	case EAGAIN:
		return "would block"
	case EBADF:
		return "bad file descriptor"
	case EFAULT:
		return "bad address"
	case EINVAL:
		return "invalid argument"
	case ENOENT:
		return "no such entry"
	default:
		return "unknown"
	}
}

// Ret converts the errno into a syscall return value.
func (e Errno) Ret() int { return int(e) }

// FromError maps err to its Errno. Errors that do not wrap an Errno map to EFAIL.
func FromError(err error) Errno {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	return EFAIL
}
