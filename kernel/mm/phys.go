package mm

import (
	"errors"
	"fmt"
)

var ErrArenaSize = errors.New("mm: arena size must be a non-zero multiple of the page size")

// PhysMem is the simulated physical memory: a contiguous byte arena starting
// at MemoryStart.
type PhysMem struct {
	mem     []byte
	release func() error
}

// NewPhysMem maps an arena of size bytes.
func NewPhysMem(size uint64) (*PhysMem, error) {
	if size == 0 || size%PageSize != 0 {
		return nil, ErrArenaSize
	}
	mem, release, err := mapArena(int(size))
	if err != nil {
		return nil, fmt.Errorf("mm: map %d byte arena: %w", size, err)
	}
	return &PhysMem{mem: mem, release: release}, nil
}

// Size returns the arena size in bytes.
func (m *PhysMem) Size() uint64 { return uint64(len(m.mem)) }

// StartPPN is the first frame of the arena.
func (m *PhysMem) StartPPN() PhysPageNum { return PhysAddr(MemoryStart).Floor() }

// EndPPN is one past the last frame of the arena.
func (m *PhysMem) EndPPN() PhysPageNum {
	return PhysAddr(MemoryStart + uint64(len(m.mem))).Floor()
}

// Frame returns the 4 KiB backing of ppn. It panics if ppn is outside the arena.
func (m *PhysMem) Frame(ppn PhysPageNum) []byte {
	if ppn < m.StartPPN() || ppn >= m.EndPPN() {
		panic(fmt.Sprintf("mm: %v outside physical memory", ppn))
	}
	off := uint64(ppn-m.StartPPN()) * PageSize
	return m.mem[off : off+PageSize : off+PageSize]
}

// Close unmaps the arena.
func (m *PhysMem) Close() error {
	if m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.mem = nil
	return err
}
