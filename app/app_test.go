package app

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"taskos/hal"
	"taskos/kernel"
)

type testSerial struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (s *testSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *testSerial) TryReadByte() (byte, bool) { return 0, false }

func (s *testSerial) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

type testPlatform struct {
	calls   int
	failure bool
}

func (p *testPlatform) Shutdown(failure bool) {
	p.calls++
	p.failure = failure
}

type testHAL struct {
	serial   *testSerial
	flash    hal.Flash
	clock    *hal.SimClock
	platform *testPlatform
}

func newTestHAL() *testHAL {
	return &testHAL{
		serial:   &testSerial{},
		flash:    hal.NewMemFlash(256<<10, 4096),
		clock:    hal.NewSimClock(),
		platform: &testPlatform{},
	}
}

func (h *testHAL) Logger() hal.Logger     { return nil }
func (h *testHAL) Display() hal.Display   { return nil }
func (h *testHAL) Flash() hal.Flash       { return h.flash }
func (h *testHAL) Time() hal.Time         { return h.clock }
func (h *testHAL) Serial() hal.Serial     { return h.serial }
func (h *testHAL) Platform() hal.Platform { return h.platform }

func TestRunShutsDownCleanly(t *testing.T) {
	h := newTestHAL()
	m, err := New(h, Config{Init: []string{"initproc", "hello_world", "file_test"}, MemoryBytes: 2 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.platform.calls != 1 || h.platform.failure {
		t.Fatalf("Shutdown calls=%d failure=%v", h.platform.calls, h.platform.failure)
	}
	out := h.serial.String()
	for _, want := range []string{"Hello, world!", "file_test passed"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output lacks %q:\n%s", want, out)
		}
	}
}

func TestFailingProgramFailsShutdown(t *testing.T) {
	h := newTestHAL()
	m, err := New(h, Config{Init: []string{"initproc", "missing_program"}, MemoryBytes: 2 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !h.platform.failure {
		t.Fatal("Shutdown did not report failure")
	}
}

func TestNewRejectsUnknownInit(t *testing.T) {
	if _, err := New(newTestHAL(), Config{Init: []string{"nope"}, MemoryBytes: 2 << 20}); err == nil {
		t.Fatal("New accepted an unknown init program")
	}
}

func TestPanicLines(t *testing.T) {
	lines := panicLines(kernel.PanicInfo{Pid: 3, Value: "bad", Stack: []byte("a\n\nb\n")})
	want := []string{"Kernel Panic:", "task: 3", "panic: bad", "stack:", "a", "b"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("panicLines = %q", lines)
	}
}

func TestTakeRunes(t *testing.T) {
	tests := []struct {
		s          string
		n          int16
		head, tail string
	}{
		{"hello", 10, "hello", ""},
		{"hello", 2, "he", "llo"},
		{"héllo", 2, "hé", "llo"},
		{"", 3, "", ""},
	}
	for _, tt := range tests {
		head, tail := takeRunes(tt.s, tt.n)
		if head != tt.head || tail != tt.tail {
			t.Errorf("takeRunes(%q, %d) = %q, %q", tt.s, tt.n, head, tail)
		}
	}
}
