package ipc

import (
	"encoding/binary"
	"fmt"
	"math"

	"taskos/kernel/abi"
	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

var (
	ErrWouldBlock       = fmt.Errorf("ipc: operation would block: %w", abi.EAGAIN)
	ErrEventBufferShort = fmt.Errorf("ipc: eventfd buffer shorter than 8 bytes: %w", abi.EINVAL)
	ErrEventWriteSize   = fmt.Errorf("ipc: eventfd write must be exactly 8 bytes: %w", abi.EINVAL)
	ErrEventValue       = fmt.Errorf("ipc: eventfd value out of range: %w", abi.EINVAL)
)

// EventMax is the largest value the counter can hold.
const EventMax = math.MaxUint64 - 1

// EventSize is the width of the eventfd counter on the wire.
const EventSize = 8

// EventFd is a 64-bit event counter.
//
// In counting mode a read consumes the whole counter; in semaphore mode it
// takes one unit. Reads of a zero counter block unless the counter is
// non-blocking. A write that would push the counter past EventMax blocks
// until a read drains it, or fails with ErrWouldBlock when non-blocking.
type EventFd struct {
	count     *ksync.UPCell[uint64]
	mu        *ksync.SpinMutex
	cv        *ksync.Condvar
	drained   *ksync.Condvar
	semaphore bool
	nonblock  bool
}

// NewEventFd returns a counter starting at initval. flags is a combination of
// abi.EfdSemaphore and abi.EfdNonblock.
func NewEventFd(sched ksync.Scheduler, initval uint64, flags uint32) *EventFd {
	return &EventFd{
		count:     ksync.NewUPCell("eventfd", initval),
		mu:        ksync.NewSpinMutex(sched),
		cv:        ksync.NewCondvar(sched),
		drained:   ksync.NewCondvar(sched),
		semaphore: flags&abi.EfdSemaphore != 0,
		nonblock:  flags&abi.EfdNonblock != 0,
	}
}

func (e *EventFd) Readable() bool { return true }
func (e *EventFd) Writable() bool { return true }
func (e *EventFd) Close() error   { return nil }

// Value returns the current counter.
func (e *EventFd) Value() uint64 {
	var v uint64
	e.count.With(func(c *uint64) { v = *c })
	return v
}

// Read waits for a non-zero counter. Counting mode copies the counter into
// buf, resets it and returns 0; semaphore mode decrements it and returns 1.
func (e *EventFd) Read(buf mm.UserBuffer) (int, error) {
	if !e.semaphore && buf.Len() < EventSize {
		return 0, ErrEventBufferShort
	}
	e.mu.Lock()
	for e.Value() == 0 {
		if e.nonblock {
			e.mu.Unlock()
			return 0, ErrWouldBlock
		}
		e.cv.Wait(e.mu)
	}

	ret := 0
	g := e.count.ExclusiveAccess()
	if e.semaphore {
		*g.Get()--
		ret = 1
	} else {
		var out [EventSize]byte
		binary.NativeEndian.PutUint64(out[:], *g.Get())
		buf.CopyIn(out[:])
		*g.Get() = 0
	}
	g.Release()
	e.drained.Signal()
	e.mu.Unlock()
	return ret, nil
}

// Write adds the 8-byte value in buf (or one, in semaphore mode) and wakes a
// waiter if the counter is non-zero. The value 2^64-1 is rejected.
func (e *EventFd) Write(buf mm.UserBuffer) (int, error) {
	if buf.Len() != EventSize {
		return 0, ErrEventWriteSize
	}
	delta := uint64(1)
	if !e.semaphore {
		delta = binary.NativeEndian.Uint64(buf.Bytes())
	}
	if delta > EventMax {
		return 0, ErrEventValue
	}
	e.mu.Lock()
	for e.Value() > EventMax-delta {
		if e.nonblock {
			e.mu.Unlock()
			return 0, ErrWouldBlock
		}
		e.drained.Wait(e.mu)
	}
	var nonzero bool
	e.count.With(func(c *uint64) {
		*c += delta
		nonzero = *c > 0
	})
	if nonzero {
		e.cv.Signal()
	}
	e.mu.Unlock()
	return 0, nil
}
