package abi

import "encoding/binary"

// TimeValSize is the encoded size of TimeVal.
const TimeValSize = 16

// TimeVal is what get_time copies to user memory: two little-endian u64
// words, seconds then microseconds.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TimeValFromMicros splits a microsecond count.
func TimeValFromMicros(us uint64) TimeVal {
	return TimeVal{Sec: us / 1_000_000, Usec: us % 1_000_000}
}

func (tv TimeVal) Encode() []byte {
	buf := make([]byte, TimeValSize)
	binary.LittleEndian.PutUint64(buf[0:8], tv.Sec)
	binary.LittleEndian.PutUint64(buf[8:16], tv.Usec)
	return buf
}

// DecodeTimeVal parses the wire form.
func DecodeTimeVal(b []byte) (TimeVal, bool) {
	if len(b) < TimeValSize {
		return TimeVal{}, false
	}
	return TimeVal{
		Sec:  binary.LittleEndian.Uint64(b[0:8]),
		Usec: binary.LittleEndian.Uint64(b[8:16]),
	}, true
}
