package hal

import "sync/atomic"

// SimClock is a Time that only moves when told to. Idle jumps straight to
// the deadline, so programs that sleep run without waiting.
type SimClock struct {
	now atomic.Uint64
}

func NewSimClock() *SimClock { return &SimClock{} }

func (c *SimClock) NowMicros() uint64 { return c.now.Load() }

func (c *SimClock) Idle(untilMicros uint64) {
	for {
		now := c.now.Load()
		if untilMicros <= now || c.now.CompareAndSwap(now, untilMicros) {
			return
		}
	}
}

// Advance moves the clock forward by us microseconds.
func (c *SimClock) Advance(us uint64) { c.now.Add(us) }
