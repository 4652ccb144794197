package ksync

// Task is the scheduler's handle for a suspended task.
type Task interface {
	Pid() int
}

// Scheduler is what the primitives need from the task layer.
type Scheduler interface {
	// Current returns the running task.
	Current() Task
	// Yield re-enqueues the running task and runs the next one.
	Yield()
	// Block parks the running task until Wake is called for it.
	Block()
	// Wake makes t runnable again.
	Wake(t Task)
}

// Mutex is what Condvar.Wait releases and re-acquires.
type Mutex interface {
	Lock()
	Unlock()
}

// SpinMutex is a test-and-set lock.
//
// A spinning task can never see the holder release on one core, so every
// failed attempt yields before trying again.
type SpinMutex struct {
	sched  Scheduler
	locked *UPCell[bool]
}

// NewSpinMutex returns an unlocked mutex.
func NewSpinMutex(sched Scheduler) *SpinMutex {
	return &SpinMutex{sched: sched, locked: NewUPCell("spin mutex", false)}
}

// Lock acquires the mutex.
func (m *SpinMutex) Lock() {
	for !m.TryLock() {
		m.sched.Yield()
	}
}

// TryLock acquires the mutex if it is free.
func (m *SpinMutex) TryLock() bool {
	g := m.locked.ExclusiveAccess()
	defer g.Release()
	if *g.Get() {
		return false
	}
	*g.Get() = true
	return true
}

// Unlock releases the mutex.
func (m *SpinMutex) Unlock() {
	g := m.locked.ExclusiveAccess()
	defer g.Release()
	if !*g.Get() {
		panic("ksync: unlock of unlocked SpinMutex")
	}
	*g.Get() = false
}
