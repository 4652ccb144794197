//go:build !tinygo

package hal

import (
	"io"
	"sync"
)

const serialInputBytes = 4096

type hostSerial struct {
	mu sync.Mutex
	w  io.Writer
	in chan byte
}

func newHostSerial(w io.Writer) *hostSerial {
	return &hostSerial{w: w, in: make(chan byte, serialInputBytes)}
}

func (s *hostSerial) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, ErrNotImplemented
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *hostSerial) TryReadByte() (byte, bool) {
	select {
	case c := <-s.in:
		return c, true
	default:
		return 0, false
	}
}

// Feed queues received bytes and returns how many fit; the rest are dropped
// like a UART overrun.
func (s *hostSerial) Feed(p []byte) int {
	for i, c := range p {
		select {
		case s.in <- c:
		default:
			return i
		}
	}
	return len(p)
}

func (s *hostSerial) readFrom(r io.Reader) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		s.Feed(buf[:n])
		if err != nil {
			return
		}
	}
}
