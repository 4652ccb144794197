package mm

import (
	"fmt"

	"taskos/kernel/ksync"
)

type frameState struct {
	current  PhysPageNum
	end      PhysPageNum
	recycled []PhysPageNum
}

// FrameAllocator hands out physical frames of a PhysMem.
//
// Frames are taken from a bump pointer; freed frames go on a recycle stack
// that is drained first.
type FrameAllocator struct {
	mem   *PhysMem
	state *ksync.UPCell[frameState]
}

// NewFrameAllocator manages every frame of mem from reserved onwards.
// reserved frames at the start of the arena are never handed out.
func NewFrameAllocator(mem *PhysMem, reserved int) *FrameAllocator {
	start := mem.StartPPN() + PhysPageNum(reserved)
	return &FrameAllocator{
		mem:   mem,
		state: ksync.NewUPCell("frame allocator", frameState{current: start, end: mem.EndPPN()}),
	}
}

// Mem returns the arena the frames belong to.
func (a *FrameAllocator) Mem() *PhysMem { return a.mem }

// Alloc returns a zeroed frame, or false when memory is exhausted.
func (a *FrameAllocator) Alloc() (PhysPageNum, bool) {
	g := a.state.ExclusiveAccess()
	st := g.Get()
	var ppn PhysPageNum
	switch {
	case len(st.recycled) > 0:
		ppn = st.recycled[len(st.recycled)-1]
		st.recycled = st.recycled[:len(st.recycled)-1]
	case st.current < st.end:
		ppn = st.current
		st.current++
	default:
		g.Release()
		return 0, false
	}
	g.Release()
	clear(a.mem.Frame(ppn))
	return ppn, true
}

// Dealloc returns ppn to the allocator. Freeing a frame that is not allocated
// panics.
func (a *FrameAllocator) Dealloc(ppn PhysPageNum) {
	a.state.With(func(st *frameState) {
		if ppn >= st.current || ppn < a.mem.StartPPN() {
			panic(fmt.Sprintf("mm: frame %v has not been allocated", ppn))
		}
		for _, r := range st.recycled {
			if r == ppn {
				panic(fmt.Sprintf("mm: frame %v freed twice", ppn))
			}
		}
		st.recycled = append(st.recycled, ppn)
	})
}

// Free returns the number of frames that can still be allocated.
func (a *FrameAllocator) Free() int {
	n := 0
	a.state.With(func(st *frameState) {
		n = int(st.end-st.current) + len(st.recycled)
	})
	return n
}
