package task

import (
	"context"
	"errors"
	"slices"
	"testing"

	"taskos/hal"
	"taskos/kernel/arch"
	"taskos/kernel/fs"
	"taskos/kernel/klog"
	"taskos/kernel/loader"
	"taskos/kernel/mm"
)

type nopFile struct{}

func (nopFile) Readable() bool                   { return true }
func (nopFile) Writable() bool                   { return true }
func (nopFile) Read(mm.UserBuffer) (int, error)  { return 0, nil }
func (nopFile) Write(mm.UserBuffer) (int, error) { return 0, nil }
func (nopFile) Close() error                     { return nil }

var testImage = &loader.Image{
	Name:     "prog",
	ABI:      "1.0.0",
	Segments: []mm.Segment{{Data: []byte{1, 2, 3, 4}, Perm: mm.PermR | mm.PermX}},
	Entry:    func(arch.Hart) int { return 0 },
}

func newTestMachine(t *testing.T, entry func(*TCB)) *Machine {
	t.Helper()
	mem, err := mm.NewPhysMem(512 * mm.PageSize)
	if err != nil {
		t.Fatalf("NewPhysMem: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	frames := mm.NewFrameAllocator(mem, 0)
	ks, tramp, err := mm.NewKernelSpace(frames)
	if err != nil {
		t.Fatalf("NewKernelSpace: %v", err)
	}
	if entry == nil {
		entry = func(*TCB) {}
	}
	return &Machine{
		Frames:      frames,
		KernelSpace: ks,
		Trampoline:  tramp,
		Pids:        NewPidAllocator(),
		Entry:       entry,
		Stdio:       func() (fs.File, fs.File, fs.File) { return nopFile{}, nopFile{}, nopFile{} },
	}
}

func mustSpawn(t *testing.T, m *Manager, args ...string) *TCB {
	t.Helper()
	tcb, err := m.Spawn(testImage, args)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return tcb
}

func mustFork(t *testing.T, m *Manager, parent *TCB) *TCB {
	t.Helper()
	child, err := m.Fork(parent)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	return child
}

func TestPidAllocatorRecycles(t *testing.T) {
	a := NewPidAllocator()
	p0, p1 := a.Alloc(), a.Alloc()
	if p0 != 0 || p1 != 1 {
		t.Fatalf("Alloc = %d, %d, want 0, 1", p0, p1)
	}
	a.Dealloc(p0)
	if got := a.Alloc(); got != p0 {
		t.Fatalf("Alloc after Dealloc = %d, want %d", got, p0)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("Dealloc of unallocated pid did not panic")
		}
	}()
	a.Dealloc(7)
}

func TestNewTCBIsReady(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	tcb := mustSpawn(t, m, "prog", "x")
	if tcb.Status() != Ready {
		t.Fatalf("Status() = %v, want Ready", tcb.Status())
	}
	if tcb.ParentPid() != NoParent {
		t.Fatalf("ParentPid() = %d, want NoParent", tcb.ParentPid())
	}
	cx := tcb.TrapContext()
	if cx.A[0] != 2 || cx.A[1] == 0 || cx.PC == nil {
		t.Fatalf("trap context = %+v", cx)
	}
	if cx.KernelSP != tcb.KernelStackTop() {
		t.Fatalf("KernelSP = %#x, want %#x", cx.KernelSP, tcb.KernelStackTop())
	}
	argv, err := mm.ReadUser(m.Machine().Frames.Mem(), tcb.Token(), uint64(cx.A[1]), 8)
	if err != nil {
		t.Fatal(err)
	}
	arg0 := uint64(argv[0]) | uint64(argv[1])<<8 | uint64(argv[2])<<16 | uint64(argv[3])<<24
	if s, err := mm.TranslatedStr(m.Machine().Frames.Mem(), tcb.Token(), arg0); err != nil || s != "prog" {
		t.Fatalf("argv[0] = %q, %v", s, err)
	}
}

func TestManagerFIFOSkipsBlocked(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	a, b, c := mustSpawn(t, m), mustSpawn(t, m), mustSpawn(t, m)
	b.With(func(in *TaskInner) { in.Status = Blocked })

	var got []int
	for {
		next, ok := m.FindNextTask()
		if !ok {
			break
		}
		got = append(got, next.Pid())
	}
	if want := []int{a.Pid(), c.Pid()}; !slices.Equal(got, want) {
		t.Fatalf("FindNextTask order = %v, want %v", got, want)
	}
	if m.Init() != a {
		t.Fatalf("Init() = %v, want %v", m.Init(), a)
	}
}

func TestForkCopiesAndLinks(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	parent := mustSpawn(t, m)
	parent.With(func(in *TaskInner) { in.Trap.A[0] = 99 })
	child := mustFork(t, m, parent)

	if child.ParentPid() != parent.Pid() {
		t.Fatalf("child parent = %d, want %d", child.ParentPid(), parent.Pid())
	}
	if kids := parent.Children(); len(kids) != 1 || kids[0] != child {
		t.Fatalf("parent children = %v", kids)
	}
	if cx := child.TrapContext(); cx.A[0] != 0 || cx.KernelSP != child.KernelStackTop() {
		t.Fatalf("child trap context = %+v", cx)
	}
	if child.Token() == parent.Token() {
		t.Fatal("child shares the parent's page table")
	}
}

func TestExecKeepsIdentity(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	parent := mustSpawn(t, m)
	child := mustFork(t, m, parent)
	old := child.Token()

	img := &loader.Image{Name: "other", ABI: "1.0.0", Entry: testImage.Entry}
	if err := m.Exec(child, img, []string{"other"}); err != nil {
		t.Fatal(err)
	}
	if child.Token() == old {
		t.Fatal("Exec kept the old address space")
	}
	if child.Name() != "other" || child.ParentPid() != parent.Pid() {
		t.Fatalf("after Exec name=%q parent=%d", child.Name(), child.ParentPid())
	}
	if !child.TakeRestart() || child.TakeRestart() {
		t.Fatal("restart request not raised exactly once")
	}
}

func TestRetireReparentsToInit(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	initTask := mustSpawn(t, m)
	mid := mustFork(t, m, initTask)
	g1 := mustFork(t, m, mid)
	g2 := mustFork(t, m, mid)
	freeBefore := m.Machine().Frames.Free()

	m.retire(mid, 3)

	if mid.Status() != Zombie || mid.ExitCode() != 3 {
		t.Fatalf("mid status=%v code=%d", mid.Status(), mid.ExitCode())
	}
	if len(mid.Children()) != 0 {
		t.Fatalf("zombie kept children %v", mid.Children())
	}
	for _, g := range []*TCB{g1, g2} {
		if g.ParentPid() != initTask.Pid() {
			t.Errorf("%v parent = %d, want init", g, g.ParentPid())
		}
	}
	kids := initTask.Children()
	if len(kids) != 3 || !slices.Contains(kids, g1) || !slices.Contains(kids, g2) {
		t.Fatalf("init children = %v", kids)
	}
	if m.Machine().Frames.Free() <= freeBefore {
		t.Fatal("retire did not release user pages")
	}
	mid.With(func(in *TaskInner) {
		if in.Fds != nil {
			t.Error("retire left the descriptor table open")
		}
	})
}

func TestReap(t *testing.T) {
	m := NewManager(newTestMachine(t, nil))
	initTask := mustSpawn(t, m)
	a := mustFork(t, m, initTask)
	b := mustFork(t, m, initTask)

	if _, _, err := m.Reap(initTask, -1); !errors.Is(err, ErrChildRunning) {
		t.Fatalf("Reap(any) with live children = %v", err)
	}
	if _, _, err := m.Reap(initTask, 42); !errors.Is(err, ErrNoChild) {
		t.Fatalf("Reap(42) = %v", err)
	}
	if _, _, err := m.Reap(a, -1); !errors.Is(err, ErrNoChild) {
		t.Fatalf("Reap on childless task = %v", err)
	}

	m.retire(b, 7)
	pid, code, err := m.Reap(initTask, -1)
	if err != nil || pid != b.Pid() || code != 7 {
		t.Fatalf("Reap = %d, %d, %v; want %d, 7, nil", pid, code, err, b.Pid())
	}
	if _, ok := m.Lookup(b.Pid()); ok {
		t.Fatal("reaped task still registered")
	}
	if kids := initTask.Children(); len(kids) != 1 || kids[0] != a {
		t.Fatalf("init children = %v", kids)
	}
}

func newTestProcessor(t *testing.T, clock Clock, entry func(p **Processor, tcb *TCB)) *Processor {
	t.Helper()
	var p *Processor
	mach := newTestMachine(t, func(tcb *TCB) { entry(&p, tcb) })
	p = NewProcessor(NewManager(mach), clock, klog.New(nil, klog.Off), 0)
	return p
}

func TestProcessorRoundRobin(t *testing.T) {
	var trace []int
	p := newTestProcessor(t, hal.NewSimClock(), func(pp **Processor, tcb *TCB) {
		p := *pp
		trace = append(trace, tcb.Pid())
		p.SuspendCurrentAndRunNext()
		trace = append(trace, tcb.Pid()+10)
		if tcb.Pid() == 0 {
			p.SuspendCurrentAndRunNext()
		}
		p.ExitCurrentAndRunNext(tcb.Pid())
	})
	for range 3 {
		mustSpawn(t, p.Manager())
	}

	code, err := p.RunTasks(context.Background())
	if code != 0 || err != nil {
		t.Fatalf("RunTasks() = %d, %v", code, err)
	}
	if want := []int{0, 1, 2, 10, 11, 12}; !slices.Equal(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	if p.Switches() != 7 {
		t.Fatalf("Switches() = %d, want 7", p.Switches())
	}
}

func TestProcessorInitExitCodeHalts(t *testing.T) {
	p := newTestProcessor(t, hal.NewSimClock(), func(pp **Processor, tcb *TCB) {
		(*pp).ExitCurrentAndRunNext(5)
	})
	mustSpawn(t, p.Manager())

	code, err := p.RunTasks(context.Background())
	if code != 5 || err != nil {
		t.Fatalf("RunTasks() = %d, %v; want 5, nil", code, err)
	}
	if !p.Halted() {
		t.Fatal("Halted() = false after init exit")
	}
}

func TestProcessorSleepAdvancesClock(t *testing.T) {
	clock := hal.NewSimClock()
	var woke uint64
	p := newTestProcessor(t, clock, func(pp **Processor, tcb *TCB) {
		(*pp).SleepCurrent(clock.NowMicros() + 1500)
		woke = clock.NowMicros()
		(*pp).ExitCurrentAndRunNext(0)
	})
	mustSpawn(t, p.Manager())

	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if woke != 1500 {
		t.Fatalf("woke at %d, want 1500", woke)
	}
}

func TestProcessorChargesTrapTime(t *testing.T) {
	clock := hal.NewSimClock()
	var tcb0 *TCB
	p := newTestProcessor(t, clock, func(pp **Processor, tcb *TCB) {
		clock.Advance(100)
		(*pp).TrapEnter()
		clock.Advance(30)
		(*pp).TrapLeave()
		(*pp).ExitCurrentAndRunNext(0)
	})
	tcb0 = mustSpawn(t, p.Manager())

	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	info := tcb0.Info()
	if info.UserTimeUs != 100 || info.KernelTimeUs != 30 {
		t.Fatalf("user=%d kernel=%d, want 100/30", info.UserTimeUs, info.KernelTimeUs)
	}
}

func TestProcessorDeadlockPanics(t *testing.T) {
	p := newTestProcessor(t, hal.NewSimClock(), func(pp **Processor, tcb *TCB) {
		(*pp).BlockCurrentAndRunNext()
	})
	mustSpawn(t, p.Manager())

	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, ErrDeadlock) {
			t.Fatalf("recover() = %v, want ErrDeadlock", err)
		}
	}()
	p.RunTasks(context.Background())
}

func TestProcessorNothingToRunPanics(t *testing.T) {
	p := newTestProcessor(t, hal.NewSimClock(), nil)
	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, ErrNoTaskRan) {
			t.Fatalf("recover() = %v, want ErrNoTaskRan", err)
		}
	}()
	p.RunTasks(context.Background())
}

func TestProcessorWakeRequeues(t *testing.T) {
	var trace []string
	var sleeper *TCB
	p := newTestProcessor(t, hal.NewSimClock(), func(pp **Processor, tcb *TCB) {
		p := *pp
		if tcb.Pid() == 0 {
			trace = append(trace, "block")
			p.BlockCurrentAndRunNext()
			trace = append(trace, "woken")
			p.ExitCurrentAndRunNext(0)
			return
		}
		trace = append(trace, "wake")
		p.Wake(sleeper)
		p.Wake(sleeper)
		p.ExitCurrentAndRunNext(0)
	})
	sleeper = mustSpawn(t, p.Manager())
	mustSpawn(t, p.Manager())

	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []string{"block", "wake", "woken"}; !slices.Equal(trace, want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

// tickClock advances one microsecond on every read.
type tickClock struct{ now uint64 }

func (c *tickClock) NowMicros() uint64 { c.now++; return c.now }
func (c *tickClock) Idle(until uint64) { c.now = max(c.now, until) }

func TestProcessorSwitchTime(t *testing.T) {
	body := func(pp **Processor, tcb *TCB) {
		(*pp).SuspendCurrentAndRunNext()
		(*pp).ExitCurrentAndRunNext(0)
	}

	p := newTestProcessor(t, hal.NewSimClock(), body)
	mustSpawn(t, p.Manager())
	mustSpawn(t, p.Manager())
	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.SwitchTime() != 0 {
		t.Fatalf("SwitchTime() = %d on a frozen clock", p.SwitchTime())
	}

	clock := &tickClock{}
	p = newTestProcessor(t, clock, body)
	mustSpawn(t, p.Manager())
	mustSpawn(t, p.Manager())
	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := p.SwitchTime(); st == 0 || st >= clock.now {
		t.Fatalf("SwitchTime() = %d, want within (0, %d)", st, clock.now)
	}
}

func TestProcessorIgnoresStaleSleepDeadline(t *testing.T) {
	clock := hal.NewSimClock()
	var sleeper *TCB
	var woke []uint64
	p := newTestProcessor(t, clock, func(pp **Processor, tcb *TCB) {
		p := *pp
		if tcb == sleeper {
			p.SleepCurrent(1000)
			woke = append(woke, clock.NowMicros())
			p.SleepCurrent(5000)
			woke = append(woke, clock.NowMicros())
			p.ExitCurrentAndRunNext(0)
		}
		p.Wake(sleeper)
		p.ExitCurrentAndRunNext(0)
	})
	sleeper = mustSpawn(t, p.Manager())
	mustSpawn(t, p.Manager())

	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []uint64{0, 5000}; !slices.Equal(woke, want) {
		t.Fatalf("woke at %v, want %v", woke, want)
	}
}

func TestProcessorStopsAfterRun(t *testing.T) {
	p := newTestProcessor(t, hal.NewSimClock(), func(pp **Processor, tcb *TCB) {
		if (*pp).Stopped() {
			t.Error("Stopped() while a task runs")
		}
		(*pp).ExitCurrentAndRunNext(0)
	})
	mustSpawn(t, p.Manager())
	if _, err := p.RunTasks(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p.Stopped() {
		t.Fatal("Stopped() = false after RunTasks returned")
	}
}
