package mm

import (
	"fmt"
	"strings"
)

// PTEFlags are the low eight bits of an Sv39 page-table entry.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
	PTEGlobal
	PTEAccessed
	PTEDirty
)

func (f PTEFlags) String() string {
	const names = "VRWXUGAD"
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if f&(1<<i) != 0 {
			b.WriteByte(names[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PageTableEntry is an Sv39 PTE: ppn<<10 | flags.
type PageTableEntry uint64

// NewPTE builds an entry pointing at ppn.
func NewPTE(ppn PhysPageNum, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

func (e PageTableEntry) PPN() PhysPageNum {
	return PhysPageNum(uint64(e) >> 10 & (1<<ppnWidth - 1))
}

func (e PageTableEntry) Flags() PTEFlags { return PTEFlags(e) }
func (e PageTableEntry) IsValid() bool   { return e.Flags()&PTEValid != 0 }
func (e PageTableEntry) Readable() bool  { return e.Flags()&PTERead != 0 }
func (e PageTableEntry) Writable() bool  { return e.Flags()&PTEWrite != 0 }
func (e PageTableEntry) Executable() bool {
	return e.Flags()&PTEExec != 0
}
func (e PageTableEntry) User() bool { return e.Flags()&PTEUser != 0 }

// IsLeaf reports whether the entry maps a page rather than a next-level table.
func (e PageTableEntry) IsLeaf() bool {
	return e.Flags()&(PTERead|PTEWrite|PTEExec) != 0
}

func (e PageTableEntry) String() string {
	return fmt.Sprintf("PTE{%v %v}", e.PPN(), e.Flags())
}
