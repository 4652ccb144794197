package mm

import (
	"encoding/binary"
	"fmt"
)

const satpModeSv39 = 8

// PageTable is a three-level Sv39 table whose nodes live in arena frames.
type PageTable struct {
	mem    *PhysMem
	frames *FrameAllocator
	root   PhysPageNum
	owned  []PhysPageNum
}

// NewPageTable allocates an empty root node.
func NewPageTable(frames *FrameAllocator) (*PageTable, error) {
	root, ok := frames.Alloc()
	if !ok {
		return nil, ErrOutOfMemory
	}
	return &PageTable{
		mem:    frames.Mem(),
		frames: frames,
		root:   root,
		owned:  []PhysPageNum{root},
	}, nil
}

// FromToken returns a read-only view of the table identified by a satp
// token. The view owns no frames and cannot map.
func FromToken(mem *PhysMem, token uint64) *PageTable {
	return &PageTable{mem: mem, root: PhysPageNum(token & (1<<44 - 1))}
}

// Token returns the satp value that activates this table.
func (pt *PageTable) Token() uint64 {
	return satpModeSv39<<60 | uint64(pt.root)
}

func (pt *PageTable) entry(node PhysPageNum, idx int) PageTableEntry {
	return PageTableEntry(binary.LittleEndian.Uint64(pt.mem.Frame(node)[idx*8:]))
}

func (pt *PageTable) setEntry(node PhysPageNum, idx int, e PageTableEntry) {
	binary.LittleEndian.PutUint64(pt.mem.Frame(node)[idx*8:], uint64(e))
}

// walk returns the node and index holding vpn's leaf entry. With create set
// it allocates missing intermediate nodes.
func (pt *PageTable) walk(vpn VirtPageNum, create bool) (PhysPageNum, int, error) {
	idx := vpn.Indexes()
	node := pt.root
	for level := 0; level < 2; level++ {
		e := pt.entry(node, idx[level])
		if !e.IsValid() {
			if !create {
				return 0, 0, ErrNotMapped
			}
			if pt.frames == nil {
				panic("mm: map through a token view")
			}
			next, ok := pt.frames.Alloc()
			if !ok {
				return 0, 0, ErrOutOfMemory
			}
			pt.owned = append(pt.owned, next)
			e = NewPTE(next, PTEValid)
			pt.setEntry(node, idx[level], e)
		}
		node = e.PPN()
	}
	return node, idx[2], nil
}

// Map installs vpn -> ppn. Mapping a vpn that is already valid panics.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) error {
	node, i, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}
	if pt.entry(node, i).IsValid() {
		panic(fmt.Sprintf("mm: %v is mapped before mapping", vpn))
	}
	pt.setEntry(node, i, NewPTE(ppn, flags|PTEValid))
	return nil
}

// Unmap clears vpn's entry. Unmapping an invalid vpn panics.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	node, i, err := pt.walk(vpn, false)
	if err != nil || !pt.entry(node, i).IsValid() {
		panic(fmt.Sprintf("mm: %v is invalid before unmapping", vpn))
	}
	pt.setEntry(node, i, 0)
}

// Translate returns vpn's leaf entry if it is valid.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	if !vpn.Valid() {
		return 0, false
	}
	node, i, err := pt.walk(vpn, false)
	if err != nil {
		return 0, false
	}
	e := pt.entry(node, i)
	return e, e.IsValid()
}

// TranslateVA resolves a virtual address.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return e.PPN().Addr() + PhysAddr(va.PageOffset()), true
}

// Release frees every node frame. The table must not be used afterwards.
func (pt *PageTable) Release() {
	if pt.frames == nil {
		return
	}
	for _, ppn := range pt.owned {
		pt.frames.Dealloc(ppn)
	}
	pt.owned = nil
}
