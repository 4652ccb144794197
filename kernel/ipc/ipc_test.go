package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"taskos/kernel/abi"
	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

type fakeTask int

func (t fakeTask) Pid() int { return int(t) }

type fakeSched struct {
	blocks  int
	woken   []ksync.Task
	onBlock func()
}

func (s *fakeSched) Current() ksync.Task { return fakeTask(1) }
func (s *fakeSched) Yield()              {}
func (s *fakeSched) Wake(t ksync.Task)   { s.woken = append(s.woken, t) }
func (s *fakeSched) Block() {
	s.blocks++
	if s.onBlock == nil {
		panic("unexpected block")
	}
	s.onBlock()
}

func ub(b []byte) mm.UserBuffer { return mm.NewUserBuffer([][]byte{b}) }

func u64(v uint64) []byte {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], v)
	return b[:]
}

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < abi.MailCapacity; i++ {
		if err := m.Push([]byte(fmt.Sprintf("post %d", i))); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if m.Status() != MailFull {
		t.Fatalf("Status() = %v, want Full", m.Status())
	}
	for i := 0; i < abi.MailCapacity; i++ {
		p, err := m.Fetch()
		if err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
		if want := fmt.Sprintf("post %d", i); string(p.Bytes()) != want {
			t.Fatalf("Fetch %d = %q, want %q", i, p.Bytes(), want)
		}
	}
	if m.Status() != MailEmpty {
		t.Fatalf("Status() = %v, want Empty", m.Status())
	}
	if _, err := m.Fetch(); !errors.Is(err, ErrMailboxEmpty) {
		t.Fatalf("Fetch on empty = %v", err)
	}
}

func TestMailboxFullRejectsWithoutChange(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < abi.MailCapacity; i++ {
		_ = m.Push([]byte{byte(i)})
	}
	before := *m
	if err := m.Push([]byte("overflow")); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("Push on full = %v", err)
	}
	if *m != before {
		t.Fatal("rejected Push mutated the mailbox")
	}
	if m.Len() != abi.MailCapacity {
		t.Fatalf("Len() = %d", m.Len())
	}
}

func TestMailboxTruncatesPosts(t *testing.T) {
	m := NewMailbox()
	_ = m.Push(bytes.Repeat([]byte{'x'}, abi.PostMaxLen+40))
	p, _ := m.Fetch()
	if p.Len() != abi.PostMaxLen {
		t.Fatalf("Len() = %d, want %d", p.Len(), abi.PostMaxLen)
	}
}

func TestEventFdCountingBlocksUntilWrite(t *testing.T) {
	s := &fakeSched{}
	e := NewEventFd(s, 0, 0)
	s.onBlock = func() {
		if _, err := e.Write(ub(u64(42))); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	out := make([]byte, 8)
	n, err := e.Read(ub(out))
	if err != nil || n != 0 {
		t.Fatalf("Read = %d, %v, want 0, nil", n, err)
	}
	if got := binary.NativeEndian.Uint64(out); got != 42 {
		t.Fatalf("value = %d, want 42", got)
	}
	if s.blocks != 1 || len(s.woken) != 1 {
		t.Fatalf("blocks = %d woken = %v", s.blocks, s.woken)
	}
	if e.Value() != 0 {
		t.Fatalf("counter = %d after counting read", e.Value())
	}
}

func TestEventFdNonblockWouldBlock(t *testing.T) {
	e := NewEventFd(&fakeSched{}, 0, abi.EfdNonblock)
	n, err := e.Read(ub(make([]byte, 8)))
	if !errors.Is(err, ErrWouldBlock) || abi.FromError(err) != abi.EAGAIN {
		t.Fatalf("Read = %d, %v, want EAGAIN", n, err)
	}
}

func TestEventFdSemaphoreScenario(t *testing.T) {
	sem := NewEventFd(&fakeSched{}, 0, abi.EfdSemaphore)
	if n, err := sem.Write(ub(u64(1))); n != 0 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if n, err := sem.Read(ub(make([]byte, 8))); n != 1 || err != nil {
		t.Fatalf("Read = %d, %v, want 1, nil", n, err)
	}
	if sem.Value() != 0 {
		t.Fatalf("counter = %d, want 0", sem.Value())
	}

	other := NewEventFd(&fakeSched{}, 0, abi.EfdSemaphore|abi.EfdNonblock)
	if _, err := other.Read(ub(make([]byte, 8))); abi.FromError(err) != abi.EAGAIN {
		t.Fatalf("Read on empty non-blocking counter = %v", err)
	}
}

func TestEventFdSemaphoreDecrementsByOne(t *testing.T) {
	e := NewEventFd(&fakeSched{}, 3, abi.EfdSemaphore)
	for want := uint64(2); ; want-- {
		if n, _ := e.Read(ub(nil)); n != 1 {
			t.Fatalf("Read = %d, want 1", n)
		}
		if e.Value() != want {
			t.Fatalf("counter = %d, want %d", e.Value(), want)
		}
		if want == 0 {
			break
		}
	}
}

func TestEventFdArgumentErrors(t *testing.T) {
	e := NewEventFd(&fakeSched{}, 1, 0)
	if _, err := e.Read(ub(make([]byte, 4))); abi.FromError(err) != abi.EINVAL {
		t.Fatalf("short read = %v, want EINVAL", err)
	}
	if _, err := e.Write(ub(make([]byte, 7))); abi.FromError(err) != abi.EINVAL {
		t.Fatalf("short write = %v, want EINVAL", err)
	}
	if e.Value() != 1 {
		t.Fatalf("counter changed to %d", e.Value())
	}
}

func TestEventFdOverflow(t *testing.T) {
	e := NewEventFd(&fakeSched{}, EventMax, abi.EfdNonblock)
	if _, err := e.Write(ub(u64(1))); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("overflowing write = %v, want ErrWouldBlock", err)
	}
	if e.Value() != EventMax {
		t.Fatalf("counter = %d, want %d", e.Value(), uint64(EventMax))
	}
	if _, err := e.Write(ub(u64(math.MaxUint64))); !errors.Is(err, ErrEventValue) {
		t.Fatalf("write of 2^64-1 = %v, want ErrEventValue", err)
	}
	if _, err := e.Write(ub(u64(0))); err != nil {
		t.Fatalf("write of zero at EventMax = %v", err)
	}

	sem := NewEventFd(&fakeSched{}, EventMax, abi.EfdSemaphore|abi.EfdNonblock)
	if _, err := sem.Write(ub(u64(1))); abi.FromError(err) != abi.EAGAIN {
		t.Fatalf("semaphore overflow = %v, want EAGAIN", err)
	}
}

func TestEventFdOverflowBlocksUntilRead(t *testing.T) {
	s := &fakeSched{}
	e := NewEventFd(s, EventMax-1, 0)
	s.onBlock = func() {
		out := make([]byte, 8)
		if _, err := e.Read(ub(out)); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got := binary.NativeEndian.Uint64(out); got != EventMax-1 {
			t.Fatalf("drained %d", got)
		}
	}
	if _, err := e.Write(ub(u64(5))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if s.blocks != 1 || e.Value() != 5 {
		t.Fatalf("blocks = %d counter = %d, want 1, 5", s.blocks, e.Value())
	}
}

func TestPipeReadWrite(t *testing.T) {
	r, w := NewPipe(&fakeSched{})
	if !r.Readable() || r.Writable() || w.Readable() || !w.Writable() {
		t.Fatal("pipe ends have wrong direction")
	}
	if n, err := w.Write(ub([]byte("ping"))); n != 4 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	buf := make([]byte, 16)
	n, err := r.Read(mm.NewUserBuffer([][]byte{buf[:2], buf[2:]}))
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	_ = w.Close()
	if n, err := r.Read(ub(buf)); n != 0 || err != nil {
		t.Fatalf("Read at EOF = %d, %v", n, err)
	}
}

func TestPipeReaderWokenByWriter(t *testing.T) {
	s := &fakeSched{}
	r, w := NewPipe(s)
	s.onBlock = func() { _, _ = w.Write(ub([]byte("late"))) }

	buf := make([]byte, 8)
	n, err := r.Read(ub(buf))
	if err != nil || string(buf[:n]) != "late" {
		t.Fatalf("Read = %q, %v", buf[:n], err)
	}
	if s.blocks != 1 {
		t.Fatalf("blocks = %d, want 1", s.blocks)
	}
}

func TestPipeWriterBlocksWhenFull(t *testing.T) {
	s := &fakeSched{}
	r, w := NewPipe(s)
	drained := 0
	s.onBlock = func() {
		n, _ := r.Read(ub(make([]byte, PipeBufferSize)))
		drained += n
	}
	msg := bytes.Repeat([]byte{'a'}, PipeBufferSize+10)
	if n, err := w.Write(ub(msg)); n != len(msg) || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if drained != PipeBufferSize || r.Buffered() != 10 {
		t.Fatalf("drained = %d buffered = %d", drained, r.Buffered())
	}
}

func TestPipeBrokenWithoutReader(t *testing.T) {
	r, w := NewPipe(&fakeSched{})
	_ = r.Close()
	if _, err := w.Write(ub([]byte("x"))); !errors.Is(err, ErrBrokenPipe) {
		t.Fatalf("Write = %v, want ErrBrokenPipe", err)
	}
}

func TestPipeReleasesLockOnEveryReturn(t *testing.T) {
	r, w := NewPipe(&fakeSched{})
	free := func(step string) {
		t.Helper()
		if !r.shared.mu.TryLock() {
			t.Fatalf("%s: pipe lock still held", step)
		}
		r.shared.mu.Unlock()
	}

	if _, err := w.Write(ub([]byte("ab"))); err != nil {
		t.Fatal(err)
	}
	free("write")
	if n, _ := r.Read(ub(make([]byte, 4))); n != 2 {
		t.Fatalf("Read = %d, want 2", n)
	}
	free("read")
	_ = w.Close()
	if n, _ := r.Read(ub(make([]byte, 4))); n != 0 {
		t.Fatalf("Read at EOF = %d", n)
	}
	free("read at EOF")

	r2, w2 := NewPipe(&fakeSched{})
	_ = r2.Close()
	if _, err := w2.Write(ub([]byte("x"))); !errors.Is(err, ErrBrokenPipe) {
		t.Fatalf("Write = %v", err)
	}
	if !w2.shared.mu.TryLock() {
		t.Fatal("broken write: pipe lock still held")
	}
}
