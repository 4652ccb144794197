package fs

import (
	"bytes"
	"errors"
	"testing"

	"taskos/hal"
	"taskos/kernel/abi"
	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

type countingFile struct {
	closed int
}

func (f *countingFile) Readable() bool                   { return true }
func (f *countingFile) Writable() bool                   { return true }
func (f *countingFile) Read(mm.UserBuffer) (int, error)  { return 0, nil }
func (f *countingFile) Write(mm.UserBuffer) (int, error) { return 0, nil }
func (f *countingFile) Close() error {
	f.closed++
	return nil
}

func newTable() (*FdTable, *countingFile) {
	std := &countingFile{}
	return NewFdTable(std, std, std), std
}

func TestFdTableAllocLowestFree(t *testing.T) {
	tbl, _ := newTable()
	a := tbl.Alloc(&countingFile{})
	b := tbl.Alloc(&countingFile{})
	if a != 3 || b != 4 {
		t.Fatalf("Alloc = %d, %d, want 3, 4", a, b)
	}
	if err := tbl.Close(a); err != nil {
		t.Fatal(err)
	}
	if c := tbl.Alloc(&countingFile{}); c != 3 {
		t.Fatalf("Alloc after Close = %d, want 3", c)
	}
}

func TestFdTableBadDescriptor(t *testing.T) {
	tbl, _ := newTable()
	for _, fd := range []int{-1, 3, 100} {
		if _, err := tbl.Get(fd); !errors.Is(err, abi.EBADF) {
			t.Errorf("Get(%d) = %v, want EBADF", fd, err)
		}
		if err := tbl.Close(fd); !errors.Is(err, ErrBadFd) {
			t.Errorf("Close(%d) = %v, want ErrBadFd", fd, err)
		}
	}
}

func TestFdTableDupSharesFile(t *testing.T) {
	tbl, _ := newTable()
	f := &countingFile{}
	fd := tbl.Alloc(f)
	dup, err := tbl.Dup(fd)
	if err != nil {
		t.Fatal(err)
	}
	_ = tbl.Close(fd)
	if f.closed != 0 {
		t.Fatal("file closed while a dup is open")
	}
	got, _ := tbl.Get(dup)
	if got != File(f) {
		t.Fatal("dup refers to a different file")
	}
	_ = tbl.Close(dup)
	if f.closed != 1 {
		t.Fatalf("closed = %d, want 1", f.closed)
	}
}

func TestFdTableCloneRefcounts(t *testing.T) {
	parent, _ := newTable()
	f := &countingFile{}
	fd := parent.Alloc(f)
	child := parent.Clone()

	d, _ := parent.Descriptor(fd)
	if d.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", d.Refs())
	}
	_ = parent.CloseAll()
	if f.closed != 0 {
		t.Fatal("file closed while child still holds it")
	}
	if child.Open() != 4 {
		t.Fatalf("child Open() = %d, want 4", child.Open())
	}
	_ = child.CloseAll()
	if f.closed != 1 {
		t.Fatalf("closed = %d, want 1", f.closed)
	}
}

type fakeTerm struct {
	out bytes.Buffer
	in  []byte
}

func (t *fakeTerm) Write(p []byte) (int, error) { return t.out.Write(p) }

func (t *fakeTerm) TryReadByte() (byte, bool) {
	if len(t.in) == 0 {
		return 0, false
	}
	c := t.in[0]
	t.in = t.in[1:]
	return c, true
}

type yieldSched struct {
	yields  int
	onYield func()
}

func (s *yieldSched) Current() ksync.Task { return nil }
func (s *yieldSched) Yield() {
	s.yields++
	if s.onYield != nil {
		s.onYield()
	}
}
func (s *yieldSched) Block()           {}
func (s *yieldSched) Wake(ksync.Task) {}

func TestStdinYieldsUntilInput(t *testing.T) {
	term := &fakeTerm{}
	sched := &yieldSched{}
	sched.onYield = func() {
		if sched.yields == 2 {
			term.in = []byte("ok")
		}
	}
	in := NewStdin(term, sched)

	buf := make([]byte, 4)
	n, err := in.Read(mm.NewUserBuffer([][]byte{buf[:1], buf[1:]}))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || string(buf[:n]) != "ok" {
		t.Fatalf("Read = %d %q, want 2 \"ok\"", n, buf[:n])
	}
	if sched.yields != 2 {
		t.Fatalf("yields = %d, want 2", sched.yields)
	}
}

func TestStdoutWritesEverySlice(t *testing.T) {
	term := &fakeTerm{}
	out := NewStdout(term)
	n, err := out.Write(mm.NewUserBuffer([][]byte{[]byte("hel"), []byte("lo\n")}))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if term.out.String() != "hello\n" {
		t.Fatalf("terminal got %q", term.out.String())
	}
	if _, err := out.Read(mm.UserBuffer{}); !errors.Is(err, ErrNotReadable) {
		t.Fatalf("Read on stdout = %v", err)
	}
}

func TestDiskOpenReadWrite(t *testing.T) {
	disk, err := OpenDisk(hal.NewMemFlash(256*1024, 4096))
	if err != nil {
		t.Fatalf("OpenDisk: %v", err)
	}
	defer disk.Close()

	if _, err := disk.Open("missing", abi.ORdOnly); !errors.Is(err, abi.ENOENT) {
		t.Fatalf("Open(missing) = %v, want ENOENT", err)
	}

	w, err := disk.Open("greeting", abi.OCreate|abi.OWrOnly)
	if err != nil {
		t.Fatalf("Open(create): %v", err)
	}
	if w.Readable() || !w.Writable() {
		t.Fatal("write-only file has wrong direction")
	}
	if n, err := w.Write(mm.NewUserBuffer([][]byte{[]byte("hi "), []byte("there")})); err != nil || n != 8 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	_ = w.Close()

	r, err := disk.Open("greeting", abi.ORdOnly)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 32)
	n, err := r.Read(mm.NewUserBuffer([][]byte{buf}))
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hi there" {
		t.Fatalf("Read = %q", buf[:n])
	}
	_ = r.Close()

	data, err := disk.ReadFile("greeting")
	if err != nil || string(data) != "hi there" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
}
