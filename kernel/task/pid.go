package task

import (
	"fmt"
	"slices"

	"taskos/kernel/ksync"
	"taskos/kernel/mm"
)

type pidState struct {
	next     int
	recycled []int
}

// PidAllocator hands out process ids, reusing freed ones first.
type PidAllocator struct {
	state *ksync.UPCell[pidState]
}

func NewPidAllocator() *PidAllocator {
	return &PidAllocator{state: ksync.NewUPCell("pid allocator", pidState{})}
}

// Alloc returns an unused pid.
func (a *PidAllocator) Alloc() int {
	pid := 0
	a.state.With(func(st *pidState) {
		if n := len(st.recycled); n > 0 {
			pid = st.recycled[n-1]
			st.recycled = st.recycled[:n-1]
			return
		}
		pid = st.next
		st.next++
	})
	return pid
}

// Dealloc frees pid. Freeing a pid that is not in use panics.
func (a *PidAllocator) Dealloc(pid int) {
	a.state.With(func(st *pidState) {
		if pid < 0 || pid >= st.next || slices.Contains(st.recycled, pid) {
			panic(fmt.Sprintf("task: pid %d has not been allocated", pid))
		}
		st.recycled = append(st.recycled, pid)
	})
}

// KernelStack is a task's stack region in kernel space.
type KernelStack struct {
	space  *mm.MemorySet
	bottom mm.VirtAddr
	top    mm.VirtAddr
}

// NewKernelStack maps pid's kernel stack into space.
func NewKernelStack(space *mm.MemorySet, pid int) (*KernelStack, error) {
	bottom, top := mm.KernelStackPosition(pid)
	if err := space.InsertFramedArea(bottom, top, mm.PermR|mm.PermW); err != nil {
		return nil, fmt.Errorf("task: kernel stack for pid %d: %w", pid, err)
	}
	return &KernelStack{space: space, bottom: bottom, top: top}, nil
}

// Top is the initial kernel stack pointer.
func (ks *KernelStack) Top() uint64 { return uint64(ks.top) }

// Release unmaps the stack.
func (ks *KernelStack) Release() {
	ks.space.RemoveAreaWithStartVPN(ks.bottom.Floor())
}
