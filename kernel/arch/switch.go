// Package arch is the only place that models raw machine state: the saved
// task context, the context switch, the trap frame and the user-visible hart.
package arch

import "runtime"

// TaskContext is the saved kernel-side execution state of a task.
//
// Higher layers treat it as opaque. The resume point is a goroutine parked on
// the baton channel; a context that has never run holds the entry that the
// first restore starts instead.
type TaskContext struct {
	sp      uint64
	entry   func()
	baton   chan struct{}
	done    chan struct{}
	started bool
}

// GotoTrapReturn builds the context a new task starts from: the first restore
// runs entry on the task's own stack.
func GotoTrapReturn(kstackTop uint64, entry func()) *TaskContext {
	return &TaskContext{
		sp:    kstackTop,
		entry: entry,
		baton: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// IdleContext returns a context for the control flow that is already running
// (the boot/idle loop).
func IdleContext() *TaskContext {
	return &TaskContext{baton: make(chan struct{}, 1), started: true}
}

// StackPointer returns the saved kernel stack pointer.
func (cx *TaskContext) StackPointer() uint64 { return cx.sp }

// Switch saves the running flow into current and restores next.
//
// Switch returns only when some later Switch restores current. A nil current
// discards the outgoing flow; in that case Switch never returns.
func Switch(current, next *TaskContext) {
	next.restore()
	if current == nil {
		runtime.Goexit()
	}
	if _, ok := <-current.baton; !ok {
		runtime.Goexit()
	}
}

// Abandon ends a parked context without resuming it: its pending Switch
// exits the flow instead of returning. Abandon returns once the flow's
// deferred calls have run. An abandoned context must never be restored.
func Abandon(cx *TaskContext) {
	if !cx.started {
		return
	}
	close(cx.baton)
	if cx.done != nil {
		<-cx.done
	}
}

func (cx *TaskContext) restore() {
	if !cx.started {
		cx.started = true
		go func() {
			defer close(cx.done)
			cx.entry()
		}()
		return
	}
	cx.baton <- struct{}{}
}
