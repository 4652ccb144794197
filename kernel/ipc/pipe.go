package ipc

import (
	"fmt"

	"taskos/kernel/abi"
	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

var ErrBrokenPipe = fmt.Errorf("ipc: write to pipe with no reader: %w", abi.EFAIL)

// PipeBufferSize is the ring capacity of a pipe.
const PipeBufferSize = 32

type pipeRing struct {
	buf     [PipeBufferSize]byte
	head    int
	n       int
	readers int
	writers int
}

func (r *pipeRing) push(p []byte) int {
	done := 0
	for done < len(p) && r.n < PipeBufferSize {
		r.buf[(r.head+r.n)%PipeBufferSize] = p[done]
		r.n++
		done++
	}
	return done
}

func (r *pipeRing) pop(p []byte) int {
	done := 0
	for done < len(p) && r.n > 0 {
		p[done] = r.buf[r.head]
		r.head = (r.head + 1) % PipeBufferSize
		r.n--
		done++
	}
	return done
}

type pipeShared struct {
	ring     *ksync.UPCell[pipeRing]
	mu       *ksync.SpinMutex
	canRead  *ksync.Condvar
	canWrite *ksync.Condvar
}

// Pipe is one end of a unidirectional byte channel.
type Pipe struct {
	shared   *pipeShared
	readable bool
}

// NewPipe returns the read and write ends of a new pipe.
func NewPipe(sched ksync.Scheduler) (r, w *Pipe) {
	s := &pipeShared{
		ring:     ksync.NewUPCell("pipe", pipeRing{readers: 1, writers: 1}),
		mu:       ksync.NewSpinMutex(sched),
		canRead:  ksync.NewCondvar(sched),
		canWrite: ksync.NewCondvar(sched),
	}
	return &Pipe{shared: s, readable: true}, &Pipe{shared: s}
}

func (p *Pipe) Readable() bool { return p.readable }
func (p *Pipe) Writable() bool { return !p.readable }

// Read blocks while the pipe is empty and a write end is open. It returns
// what is buffered, up to buf.Len(); 0 means every write end is closed.
func (p *Pipe) Read(buf mm.UserBuffer) (int, error) {
	if !p.readable {
		return 0, fmt.Errorf("ipc: read from pipe write end: %w", abi.EBADF)
	}
	if buf.Len() == 0 {
		return 0, nil
	}
	s := p.shared
	s.mu.Lock()
	for {
		var n int
		var eof bool
		s.ring.With(func(r *pipeRing) {
			for _, b := range buf.Buffers {
				got := r.pop(b)
				n += got
				if got < len(b) {
					break
				}
			}
			eof = r.n == 0 && r.writers == 0
		})
		if n > 0 {
			s.canWrite.Signal()
			s.mu.Unlock()
			return n, nil
		}
		if eof {
			s.mu.Unlock()
			return 0, nil
		}
		s.canRead.Wait(s.mu)
	}
}

// Write blocks while the ring is full until all of buf is written.
func (p *Pipe) Write(buf mm.UserBuffer) (int, error) {
	if p.readable {
		return 0, fmt.Errorf("ipc: write to pipe read end: %w", abi.EBADF)
	}
	s := p.shared
	s.mu.Lock()
	total := 0
	for _, b := range buf.Buffers {
		for len(b) > 0 {
			var n int
			var broken bool
			s.ring.With(func(r *pipeRing) {
				broken = r.readers == 0
				if !broken {
					n = r.push(b)
				}
			})
			if broken {
				s.mu.Unlock()
				if total > 0 {
					return total, nil
				}
				return 0, ErrBrokenPipe
			}
			if n > 0 {
				total += n
				b = b[n:]
				s.canRead.Signal()
				continue
			}
			s.canWrite.Wait(s.mu)
		}
	}
	s.mu.Unlock()
	return total, nil
}

// Close drops this end. Closing the last write end wakes blocked readers so
// they see EOF.
func (p *Pipe) Close() error {
	s := p.shared
	var lastWriter, lastReader bool
	s.ring.With(func(r *pipeRing) {
		if p.readable {
			r.readers--
			lastReader = r.readers == 0
		} else {
			r.writers--
			lastWriter = r.writers == 0
		}
	})
	if lastWriter {
		s.canRead.NotifyAll()
	}
	if lastReader {
		s.canWrite.NotifyAll()
	}
	return nil
}

// Buffered returns the number of unread bytes.
func (p *Pipe) Buffered() int {
	n := 0
	p.shared.ring.With(func(r *pipeRing) { n = r.n })
	return n
}
