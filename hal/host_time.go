//go:build !tinygo

package hal

import "time"

type hostTime struct {
	start time.Time
}

func newHostTime() *hostTime {
	return &hostTime{start: time.Now()}
}

func (t *hostTime) NowMicros() uint64 {
	return uint64(time.Since(t.start) / time.Microsecond)
}

func (t *hostTime) Idle(untilMicros uint64) {
	now := t.NowMicros()
	if untilMicros <= now {
		return
	}
	time.Sleep(time.Duration(untilMicros-now) * time.Microsecond)
}
