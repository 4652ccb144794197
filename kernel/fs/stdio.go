package fs

import (
	"io"

	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

// Terminal is the character device behind the standard streams.
type Terminal interface {
	io.Writer
	// TryReadByte returns the next input byte if one is pending.
	TryReadByte() (byte, bool)
}

// Stdin reads the terminal. A read with no pending input yields until a byte
// arrives.
type Stdin struct {
	term  Terminal
	sched ksync.Scheduler
}

// NewStdin returns the standard input stream.
func NewStdin(term Terminal, sched ksync.Scheduler) *Stdin {
	return &Stdin{term: term, sched: sched}
}

func (s *Stdin) Readable() bool                  { return true }
func (s *Stdin) Writable() bool                  { return false }
func (s *Stdin) Write(mm.UserBuffer) (int, error) { return 0, ErrNotWritable }
func (s *Stdin) Close() error                    { return nil }

func (s *Stdin) Read(buf mm.UserBuffer) (int, error) {
	if buf.Len() == 0 {
		return 0, nil
	}
	c, ok := s.term.TryReadByte()
	for !ok {
		s.sched.Yield()
		c, ok = s.term.TryReadByte()
	}
	line := []byte{c}
	for len(line) < buf.Len() {
		c, ok := s.term.TryReadByte()
		if !ok {
			break
		}
		line = append(line, c)
	}
	return buf.CopyIn(line), nil
}

// Stdout writes to the terminal. Stderr shares the implementation.
type Stdout struct {
	term Terminal
}

// NewStdout returns an output stream on term.
func NewStdout(term Terminal) *Stdout { return &Stdout{term: term} }

func (s *Stdout) Readable() bool                 { return false }
func (s *Stdout) Writable() bool                 { return true }
func (s *Stdout) Read(mm.UserBuffer) (int, error) { return 0, ErrNotReadable }
func (s *Stdout) Close() error                   { return nil }

func (s *Stdout) Write(buf mm.UserBuffer) (int, error) {
	n := 0
	for _, b := range buf.Buffers {
		w, err := s.term.Write(b)
		n += w
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
