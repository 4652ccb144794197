package ksync

// Condvar is a condition variable over the task scheduler.
type Condvar struct {
	sched   Scheduler
	waiters *UPCell[[]Task]
}

// NewCondvar returns a condition variable with no waiters.
func NewCondvar(sched Scheduler) *Condvar {
	return &Condvar{sched: sched, waiters: NewUPCell[[]Task]("condvar", nil)}
}

// Wait releases m, blocks the running task until signalled and re-acquires m
// before returning.
func (c *Condvar) Wait(m Mutex) {
	m.Unlock()
	cur := c.sched.Current()
	c.waiters.With(func(q *[]Task) {
		*q = append(*q, cur)
	})
	c.sched.Block()
	m.Lock()
}

// Signal wakes the longest-waiting task, if any.
func (c *Condvar) Signal() {
	var t Task
	c.waiters.With(func(q *[]Task) {
		if len(*q) == 0 {
			return
		}
		t = (*q)[0]
		(*q)[0] = nil
		*q = (*q)[1:]
	})
	if t != nil {
		c.sched.Wake(t)
	}
}

// NotifyAll wakes every waiting task in queue order.
func (c *Condvar) NotifyAll() {
	var all []Task
	c.waiters.With(func(q *[]Task) {
		all = *q
		*q = nil
	})
	for _, t := range all {
		c.sched.Wake(t)
	}
}

// Waiting returns the number of queued waiters.
func (c *Condvar) Waiting() int {
	n := 0
	c.waiters.With(func(q *[]Task) { n = len(*q) })
	return n
}
