//go:build !tinygo

package hal

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSimClockIdleOnlyMovesForward(t *testing.T) {
	c := NewSimClock()
	c.Idle(500)
	if got := c.NowMicros(); got != 500 {
		t.Fatalf("NowMicros() = %d, want 500", got)
	}
	c.Idle(100)
	if got := c.NowMicros(); got != 500 {
		t.Fatalf("Idle into the past moved the clock to %d", got)
	}
	c.Advance(25)
	if got := c.NowMicros(); got != 525 {
		t.Fatalf("NowMicros() = %d, want 525", got)
	}
}

func TestMemFlashWriteRequiresErase(t *testing.T) {
	f := NewMemFlash(8192, 4096)
	if _, err := f.WriteAt([]byte{0x0F}, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0xF0}, 10); !errors.Is(err, ErrFlashWriteRequiresErase) {
		t.Fatalf("WriteAt over programmed byte = %v", err)
	}
	if err := f.Erase(0, 4096); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, 10); err != nil || buf[0] != 0xFF {
		t.Fatalf("after erase read %#x, %v", buf[0], err)
	}
	if err := f.Erase(100, 4096); err == nil {
		t.Fatal("misaligned erase succeeded")
	}
}

func TestHostFlashPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	f, err := openHostFlash(path, 2*hostFlashEraseBlockBytes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("hi"), 4096); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = openHostFlash(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.SizeBytes() != 2*hostFlashEraseBlockBytes {
		t.Fatalf("SizeBytes() = %d", f.SizeBytes())
	}
	buf := make([]byte, 3)
	if _, err := f.ReadAt(buf, 4095); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0xFF, 'h', 'i'}) {
		t.Fatalf("read %q", buf)
	}
}

func TestSerialFeedAndOverrun(t *testing.T) {
	var out bytes.Buffer
	s := newHostSerial(&out)
	if _, ok := s.TryReadByte(); ok {
		t.Fatal("TryReadByte on empty input returned a byte")
	}
	if n := s.Feed([]byte("ab")); n != 2 {
		t.Fatalf("Feed = %d, want 2", n)
	}
	for _, want := range []byte("ab") {
		c, ok := s.TryReadByte()
		if !ok || c != want {
			t.Fatalf("TryReadByte() = %q, %v; want %q", c, ok, want)
		}
	}
	if n := s.Feed(make([]byte, serialInputBytes+5)); n != serialInputBytes {
		t.Fatalf("Feed past capacity = %d, want %d", n, serialInputBytes)
	}
	s.Write([]byte("out"))
	if out.String() != "out" {
		t.Fatalf("serial output = %q", out.String())
	}
}

func TestCRLFWriter(t *testing.T) {
	var out bytes.Buffer
	n, err := crlfWriter{w: &out}.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if out.String() != "a\r\nb\r\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestKeyEventBytes(t *testing.T) {
	tests := []struct {
		ev   KeyEvent
		want string
	}{
		{KeyEvent{Rune: 'x'}, "x"},
		{KeyEvent{Rune: 'é'}, "é"},
		{KeyEvent{Code: KeyEnter}, "\n"},
		{KeyEvent{Code: KeyBackspace}, "\x7f"},
		{KeyEvent{Code: KeyUp}, "\x1b[A"},
		{KeyEvent{Code: KeyDelete}, "\x1b[3~"},
		{KeyEvent{}, ""},
	}
	for _, tt := range tests {
		if got := string(tt.ev.Bytes()); got != tt.want {
			t.Errorf("%+v.Bytes() = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestFramebufferPresentPublishes(t *testing.T) {
	fb := newHostFramebuffer(4, 2)
	PutPixel(fb, 1, 1, 0xBEEF)
	PutPixel(fb, 9, 9, 0xFFFF)

	snap := make([]byte, len(fb.front))
	fb.snapshotRGB565(snap)
	if snap[1*fb.stride+2] != 0 {
		t.Fatal("pixel visible before Present")
	}
	if err := fb.Present(); err != nil {
		t.Fatal(err)
	}
	fb.snapshotRGB565(snap)
	if got := uint16(snap[1*fb.stride+2]) | uint16(snap[1*fb.stride+3])<<8; got != 0xBEEF {
		t.Fatalf("pixel = %#x, want 0xbeef", got)
	}
}

type fakeMachine struct {
	run   func(ctx context.Context) error
	steps int
}

func (m *fakeMachine) Run(ctx context.Context) error { return m.run(ctx) }
func (m *fakeMachine) Step() error                   { m.steps++; return nil }

func TestRunHeadlessReportsFailedShutdown(t *testing.T) {
	err := RunHeadless(context.Background(), HostConfig{}, HeadlessConfig{Hz: 1000},
		func(h HAL) (Machine, error) {
			return &fakeMachine{run: func(context.Context) error {
				h.Platform().Shutdown(true)
				h.Platform().Shutdown(false)
				return nil
			}}, nil
		})
	if !errors.Is(err, ErrShutdownFailure) {
		t.Fatalf("RunHeadless() = %v, want ErrShutdownFailure", err)
	}
}

func TestRunHeadlessStopsAfterTicks(t *testing.T) {
	m := &fakeMachine{run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	err := RunHeadless(context.Background(), HostConfig{}, HeadlessConfig{Hz: 1000, Ticks: 3},
		func(HAL) (Machine, error) { return m, nil })
	if err != nil {
		t.Fatalf("RunHeadless() = %v", err)
	}
	if m.steps != 3 {
		t.Fatalf("steps = %d, want 3", m.steps)
	}
}
