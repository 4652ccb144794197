package kernel

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicInfo contains details about a kernel panic.
type PanicInfo struct {
	// Pid is the task that was in the kernel, or -1 for the idle loop.
	Pid   int
	Value any
	Stack []byte
}

// PanicError is what Run returns after a kernel panic.
type PanicError struct {
	PanicInfo
}

func (e *PanicError) Error() string {
	if e.Pid < 0 {
		return fmt.Sprintf("kernel panic: %v", e.Value)
	}
	return fmt.Sprintf("kernel panic in task %d: %v", e.Pid, e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

var (
	panicActive atomic.Bool
	panicOnce   sync.Once

	panicHandler atomic.Value // func(PanicInfo)
)

// InPanicMode reports whether the kernel has panicked.
func InPanicMode() bool {
	return panicActive.Load()
}

// SetPanicHandler installs a process-wide panic handler.
//
// The handler is invoked at most once (on the first panic). It must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	panicHandler.Store(fn)
}

func triggerPanic(info PanicInfo) {
	panicOnce.Do(func() {
		panicActive.Store(true)
		if v := panicHandler.Load(); v != nil {
			if fn, ok := v.(func(PanicInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
}

// fatal reports a recovered kernel panic and returns it as an error. It must
// run in the deferred call that recovered r so the stack still shows the
// panic site.
func (s *System) fatal(pid int, r any) error {
	info := PanicInfo{Pid: pid, Value: r, Stack: debug.Stack()}
	s.log.Errorf("%v", &PanicError{PanicInfo: info})
	triggerPanic(info)
	return &PanicError{PanicInfo: info}
}
