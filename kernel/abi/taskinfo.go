package abi

import "encoding/binary"

// TaskNameLen is the fixed name field width in TaskInfo.
const TaskNameLen = 32

// TaskInfoSize is the encoded size of TaskInfo.
const TaskInfoSize = 8*4 + TaskNameLen

// TaskInfo is what get_task_info copies to user memory.
//
// Layout (little-endian):
//   - u64: pid
//   - u64: status
//   - u64: user time (us)
//   - u64: kernel time (us)
//   - [32]byte: name, NUL padded
type TaskInfo struct {
	Pid          uint64
	Status       uint64
	UserTimeUs   uint64
	KernelTimeUs uint64
	Name         [TaskNameLen]byte
}

// Encode returns the wire form of the record.
func (ti *TaskInfo) Encode() []byte {
	buf := make([]byte, TaskInfoSize)
	binary.LittleEndian.PutUint64(buf[0:8], ti.Pid)
	binary.LittleEndian.PutUint64(buf[8:16], ti.Status)
	binary.LittleEndian.PutUint64(buf[16:24], ti.UserTimeUs)
	binary.LittleEndian.PutUint64(buf[24:32], ti.KernelTimeUs)
	copy(buf[32:], ti.Name[:])
	return buf
}

// DecodeTaskInfo parses the wire form.
func DecodeTaskInfo(b []byte) (TaskInfo, bool) {
	var ti TaskInfo
	if len(b) < TaskInfoSize {
		return ti, false
	}
	ti.Pid = binary.LittleEndian.Uint64(b[0:8])
	ti.Status = binary.LittleEndian.Uint64(b[8:16])
	ti.UserTimeUs = binary.LittleEndian.Uint64(b[16:24])
	ti.KernelTimeUs = binary.LittleEndian.Uint64(b[24:32])
	copy(ti.Name[:], b[32:TaskInfoSize])
	return ti, true
}

// NameString returns the name up to the first NUL.
func (ti *TaskInfo) NameString() string {
	for i, c := range ti.Name {
		if c == 0 {
			return string(ti.Name[:i])
		}
	}
	return string(ti.Name[:])
}
