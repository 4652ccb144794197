package task

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"taskos/kernel/arch"
	"taskos/kernel/klog"
	"taskos/kernel/ksync"
)

var (
	ErrDeadlock  = errors.New("task: every live task is blocked")
	ErrNoTaskRan = errors.New("task: no task to run")
)

// Clock is the platform timer.
type Clock interface {
	NowMicros() uint64
	// Idle waits until the clock reads at least untilMicros.
	Idle(untilMicros uint64)
}

type sleeper struct {
	at  uint64
	seq uint64
	t   *TCB
}

type sleepQueue []sleeper

func (q sleepQueue) Len() int { return len(q) }
func (q sleepQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q sleepQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *sleepQueue) Push(x any)   { *q = append(*q, x.(sleeper)) }
func (q *sleepQueue) Pop() any {
	old := *q
	s := old[len(old)-1]
	*q = old[:len(old)-1]
	return s
}

type procState struct {
	current    *TCB
	idle       *arch.TaskContext
	sliceStart uint64
	stamp      uint64
	sleepers   sleepQueue
	seq        uint64
	ran        bool
	switches   uint64
	// leftAt is when the core last left a task (or woke from idle);
	// switchUs sums the time from there to the next task entry.
	leftAt   uint64
	switchUs uint64
}

type haltInfo struct {
	code int
	err  error
}

// Processor binds the running task to the single execution unit and hosts
// the idle loop that picks the next task.
type Processor struct {
	m     *Manager
	clock Clock
	log   *klog.Logger
	slice uint64

	state   *ksync.UPCell[procState]
	halt    atomic.Pointer[haltInfo]
	stopped atomic.Bool
}

// NewProcessor returns a processor scheduling m's tasks. sliceMicros is the
// preemption time slice; zero disables preemption.
func NewProcessor(m *Manager, clock Clock, log *klog.Logger, sliceMicros uint64) *Processor {
	return &Processor{
		m:     m,
		clock: clock,
		log:   log,
		slice: sliceMicros,
		state: ksync.NewUPCell("processor", procState{idle: arch.IdleContext()}),
	}
}

func (p *Processor) Manager() *Manager { return p.m }
func (p *Processor) Clock() Clock      { return p.clock }

// CurrentTask returns the running task, or nil in the idle loop.
func (p *Processor) CurrentTask() *TCB {
	var t *TCB
	p.state.With(func(st *procState) { t = st.current })
	return t
}

// Current implements ksync.Scheduler.
func (p *Processor) Current() ksync.Task {
	if t := p.CurrentTask(); t != nil {
		return t
	}
	return nil
}

// CurrentToken returns the running task's satp token.
func (p *Processor) CurrentToken() uint64 { return p.CurrentTask().Token() }

// CurrentTrapContext returns the running task's saved trap context.
func (p *Processor) CurrentTrapContext() arch.TrapContext {
	return p.CurrentTask().TrapContext()
}

// Switches returns the number of switches into tasks so far.
func (p *Processor) Switches() uint64 {
	var n uint64
	p.state.With(func(st *procState) { n = st.switches })
	return n
}

// SwitchTime returns the microseconds spent between leaving one task and
// entering the next, idle waits excluded.
func (p *Processor) SwitchTime() uint64 {
	var us uint64
	p.state.With(func(st *procState) { us = st.switchUs })
	return us
}

// Stopped reports whether RunTasks has returned. Flows still parked at that
// point are being unwound and must not touch kernel state.
func (p *Processor) Stopped() bool { return p.stopped.Load() }

// RunTasks is the idle loop. It returns when the init task exits, when the
// kernel halts, when every task has finished or when ctx is done. Fatal
// scheduling states panic.
func (p *Processor) RunTasks(ctx context.Context) (int, error) {
	defer p.stop()
	p.markLeft()
	for {
		if h := p.halt.Load(); h != nil {
			return h.code, h.err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p.wakeSleepers()
		if t, ok := p.m.FindNextTask(); ok {
			p.run(t)
			continue
		}
		if at, ok := p.nextWake(); ok {
			p.clock.Idle(at)
			p.markLeft()
			continue
		}
		if n := p.m.Alive(); n > 0 {
			panic(fmt.Errorf("%w: %d task(s)", ErrDeadlock, n))
		}
		if !p.everRan() {
			panic(ErrNoTaskRan)
		}
		p.log.Printf("All applications completed!")
		return 0, nil
	}
}

func (p *Processor) run(t *TCB) {
	now := p.clock.NowMicros()
	var cx *arch.TaskContext
	t.With(func(in *TaskInner) {
		in.Status = Running
		cx = in.Cx
	})
	var idle *arch.TaskContext
	p.state.With(func(st *procState) {
		st.current = t
		st.sliceStart = now
		st.stamp = now
		st.ran = true
		st.switches++
		st.switchUs += now - st.leftAt
		idle = st.idle
	})
	p.log.Tracef("switch to task %d, %d ready", t.pid, p.m.ReadyLen())
	arch.Switch(idle, cx)
}

func (p *Processor) markLeft() {
	now := p.clock.NowMicros()
	p.state.With(func(st *procState) { st.leftAt = now })
}

func (p *Processor) everRan() bool {
	var ran bool
	p.state.With(func(st *procState) { ran = st.ran })
	return ran
}

// Schedule saves the running flow into switched and returns to the idle loop.
func (p *Processor) Schedule(switched *arch.TaskContext) {
	var idle *arch.TaskContext
	p.state.With(func(st *procState) { idle = st.idle })
	arch.Switch(switched, idle)
}

// takeCurrent unbinds the running task, charging the time since the last
// trap boundary to its kernel time.
func (p *Processor) takeCurrent() *TCB {
	now := p.clock.NowMicros()
	var t *TCB
	var spent uint64
	p.state.With(func(st *procState) {
		t = st.current
		st.current = nil
		spent = now - st.stamp
		st.leftAt = now
	})
	if t == nil {
		panic("task: no running task")
	}
	t.With(func(in *TaskInner) { in.KernelTimeUs += spent })
	return t
}

func (p *Processor) contextOf(t *TCB, status Status) *arch.TaskContext {
	var cx *arch.TaskContext
	t.With(func(in *TaskInner) {
		in.Status = status
		cx = in.Cx
	})
	return cx
}

// SuspendCurrentAndRunNext moves the running task to the back of the ready
// queue and runs the next one.
func (p *Processor) SuspendCurrentAndRunNext() {
	t := p.takeCurrent()
	cx := p.contextOf(t, Ready)
	p.m.Add(t)
	p.Schedule(cx)
}

// BlockCurrentAndRunNext parks the running task until Wake.
func (p *Processor) BlockCurrentAndRunNext() {
	t := p.takeCurrent()
	p.Schedule(p.contextOf(t, Blocked))
}

// SleepCurrent parks the running task until the clock reaches untilMicros.
func (p *Processor) SleepCurrent(untilMicros uint64) {
	t := p.takeCurrent()
	cx := p.contextOf(t, Blocked)
	t.With(func(in *TaskInner) { in.WakeAt = untilMicros })
	p.state.With(func(st *procState) {
		st.seq++
		heap.Push(&st.sleepers, sleeper{at: untilMicros, seq: st.seq, t: t})
	})
	p.Schedule(cx)
}

// ExitCurrentAndRunNext retires the running task and never returns. The
// exit of init halts the processor with init's code.
func (p *Processor) ExitCurrentAndRunNext(code int) {
	t := p.takeCurrent()
	var user, kernel uint64
	t.With(func(in *TaskInner) { user, kernel = in.UserTimeUs, in.KernelTimeUs })
	p.log.Infof("task %d (%s) exited with code %d, ran %dus user, %dus kernel",
		t.pid, t.Name(), code, user, kernel)
	p.m.retire(t, code)
	if t == p.m.Init() {
		p.log.Printf("[kernel] init exited with code %d", code)
		p.halt.CompareAndSwap(nil, &haltInfo{code: code})
	}
	p.exit()
}

// Halt stops the processor from the running task with err and never returns.
func (p *Processor) Halt(code int, err error) {
	p.halt.CompareAndSwap(nil, &haltInfo{code: code, err: err})
	p.state.With(func(st *procState) { st.current = nil })
	p.exit()
}

// Halted reports whether the processor has been halted.
func (p *Processor) Halted() bool { return p.halt.Load() != nil }

func (p *Processor) exit() {
	var idle *arch.TaskContext
	p.state.With(func(st *procState) { idle = st.idle })
	arch.Switch(nil, idle)
}

// Yield implements ksync.Scheduler.
func (p *Processor) Yield() { p.SuspendCurrentAndRunNext() }

// Block implements ksync.Scheduler.
func (p *Processor) Block() { p.BlockCurrentAndRunNext() }

// Wake makes a blocked task Ready and queues it.
func (p *Processor) Wake(task ksync.Task) {
	t, ok := task.(*TCB)
	if !ok {
		return
	}
	woke := false
	t.With(func(in *TaskInner) {
		if in.Status == Blocked {
			in.Status = Ready
			woke = true
		}
	})
	if woke {
		p.m.Add(t)
	}
}

func (p *Processor) wakeSleepers() {
	now := p.clock.NowMicros()
	var due []sleeper
	p.state.With(func(st *procState) {
		for st.sleepers.Len() > 0 && st.sleepers[0].at <= now {
			due = append(due, heap.Pop(&st.sleepers).(sleeper))
		}
	})
	for _, s := range due {
		// An entry whose deadline the task no longer waits for is stale.
		current := false
		s.t.With(func(in *TaskInner) {
			if in.WakeAt == s.at && in.Status == Blocked {
				in.WakeAt = 0
				current = true
			}
		})
		if current {
			p.Wake(s.t)
		}
	}
}

func (p *Processor) nextWake() (uint64, bool) {
	var at uint64
	var ok bool
	p.state.With(func(st *procState) {
		if st.sleepers.Len() > 0 {
			at, ok = st.sleepers[0].at, true
		}
	})
	return at, ok
}

// TrapEnter charges the time since the last boundary to user time.
func (p *Processor) TrapEnter() { p.charge(true) }

// TrapLeave charges the time since the last boundary to kernel time.
func (p *Processor) TrapLeave() { p.charge(false) }

func (p *Processor) charge(user bool) {
	now := p.clock.NowMicros()
	var t *TCB
	var spent uint64
	p.state.With(func(st *procState) {
		t = st.current
		spent = now - st.stamp
		st.stamp = now
	})
	if t == nil {
		return
	}
	t.With(func(in *TaskInner) {
		if user {
			in.UserTimeUs += spent
		} else {
			in.KernelTimeUs += spent
		}
	})
}

// SliceExpired reports whether the running task has used up its time slice.
func (p *Processor) SliceExpired() bool {
	if p.slice == 0 {
		return false
	}
	now := p.clock.NowMicros()
	var start uint64
	p.state.With(func(st *procState) { start = st.sliceStart })
	return now-start >= p.slice
}

// stop marks the processor stopped and ends the parked flows of every task
// that is still registered.
func (p *Processor) stop() {
	p.stopped.Store(true)
	for _, t := range p.m.Tasks() {
		var cx *arch.TaskContext
		var status Status
		t.With(func(in *TaskInner) {
			cx = in.Cx
			status = in.Status
		})
		if status != Zombie && status != Running {
			arch.Abandon(cx)
		}
	}
}
