// Package mm implements physical frames, Sv39 page tables and per-task
// address spaces on top of a simulated physical memory arena.
package mm

import "fmt"

const (
	PageSize     = 4096
	PageSizeBits = 12

	// Sv39 widths.
	vaWidth  = 39
	paWidth  = 56
	vpnWidth = vaWidth - PageSizeBits
	ppnWidth = paWidth - PageSizeBits
)

// PhysAddr is a physical address.
type PhysAddr uint64

// VirtAddr is a virtual address.
type VirtAddr uint64

// PhysPageNum is a physical page number.
type PhysPageNum uint64

// VirtPageNum is a virtual page number.
type VirtPageNum uint64

func (pa PhysAddr) PageOffset() uint64     { return uint64(pa) & (PageSize - 1) }
func (pa PhysAddr) Floor() PhysPageNum     { return PhysPageNum(uint64(pa) / PageSize) }
func (pa PhysAddr) Ceil() PhysPageNum      { return PhysPageNum((uint64(pa) + PageSize - 1) / PageSize) }
func (pa PhysAddr) Aligned() bool          { return pa.PageOffset() == 0 }
func (pa PhysAddr) String() string         { return fmt.Sprintf("PA:%#x", uint64(pa)) }
func (ppn PhysPageNum) Addr() PhysAddr     { return PhysAddr(uint64(ppn) << PageSizeBits) }
func (ppn PhysPageNum) String() string     { return fmt.Sprintf("PPN:%#x", uint64(ppn)) }
func (va VirtAddr) PageOffset() uint64     { return uint64(va) & (PageSize - 1) }
func (va VirtAddr) Floor() VirtPageNum     { return VirtPageNum(uint64(va) / PageSize) }
func (va VirtAddr) Ceil() VirtPageNum      { return VirtPageNum((uint64(va) + PageSize - 1) / PageSize) }
func (va VirtAddr) Aligned() bool          { return va.PageOffset() == 0 }
func (va VirtAddr) String() string         { return fmt.Sprintf("VA:%#x", uint64(va)) }
func (vpn VirtPageNum) Addr() VirtAddr     { return VirtAddr(uint64(vpn) << PageSizeBits) }
func (vpn VirtPageNum) String() string     { return fmt.Sprintf("VPN:%#x", uint64(vpn)) }
func (vpn VirtPageNum) Valid() bool        { return uint64(vpn) < 1<<vpnWidth }
func (vpn VirtPageNum) Next() VirtPageNum  { return vpn + 1 }

// Indexes returns the three page-table indexes of vpn, root level first.
func (vpn VirtPageNum) Indexes() [3]int {
	v := uint64(vpn)
	var idx [3]int
	for i := 2; i >= 0; i-- {
		idx[i] = int(v & 511)
		v >>= 9
	}
	return idx
}

// VPNRange is the half-open page range [Start, End).
type VPNRange struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewVPNRange covers [start, end) rounded out to whole pages.
func NewVPNRange(start, end VirtAddr) VPNRange {
	return VPNRange{Start: start.Floor(), End: end.Ceil()}
}

// Len returns the number of pages.
func (r VPNRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Contains reports whether vpn lies in the range.
func (r VPNRange) Contains(vpn VirtPageNum) bool { return vpn >= r.Start && vpn < r.End }

// Overlaps reports whether the two ranges share a page.
func (r VPNRange) Overlaps(o VPNRange) bool { return r.Start < o.End && o.Start < r.End }

func (r VPNRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start.Addr()), uint64(r.End.Addr()))
}
