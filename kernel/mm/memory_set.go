package mm

import (
	"fmt"
	"slices"

	"taskos/kernel/abi"
)

// MapPermission is the R/W/X/U subset of PTE flags an area is mapped with.
type MapPermission uint8

const (
	PermR MapPermission = MapPermission(PTERead)
	PermW MapPermission = MapPermission(PTEWrite)
	PermX MapPermission = MapPermission(PTEExec)
	PermU MapPermission = MapPermission(PTEUser)
)

func (p MapPermission) String() string {
	b := []byte("----")
	for i, c := range []struct {
		bit MapPermission
		ch  byte
	}{{PermR, 'R'}, {PermW, 'W'}, {PermX, 'X'}, {PermU, 'U'}} {
		if p&c.bit != 0 {
			b[i] = c.ch
		}
	}
	return string(b)
}

// PermFromProt converts mmap protection bits into a user permission.
func PermFromProt(prot uint64) (MapPermission, error) {
	if prot&^abi.ProtMask != 0 || prot&abi.ProtMask == 0 {
		return 0, ErrNoPermission
	}
	perm := PermU
	if prot&abi.ProtRead != 0 {
		perm |= PermR
	}
	if prot&abi.ProtWrite != 0 {
		perm |= PermW
	}
	if prot&abi.ProtExec != 0 {
		perm |= PermX
	}
	return perm, nil
}

// Backing says where an area's frames come from.
type Backing uint8

const (
	// BackingImage frames are filled from a program image.
	BackingImage Backing = iota + 1
	// BackingAnonymous frames start zeroed (stacks, mmap).
	BackingAnonymous
	// BackingLoaned maps a frame owned elsewhere; the set never frees it.
	BackingLoaned
)

func (b Backing) String() string {
	switch b {
	case BackingImage:
		return "image"
	case BackingAnonymous:
		return "anonymous"
	case BackingLoaned:
		return "loaned"
	default:
		return fmt.Sprintf("Backing(%d)", uint8(b))
	}
}

// MapArea is a contiguous run of pages mapped with one permission.
type MapArea struct {
	vpns    VPNRange
	frames  map[VirtPageNum]PhysPageNum
	perm    MapPermission
	backing Backing
	loaned  PhysPageNum
}

func newMapArea(vpns VPNRange, perm MapPermission, backing Backing) *MapArea {
	return &MapArea{
		vpns:    vpns,
		frames:  make(map[VirtPageNum]PhysPageNum, vpns.Len()),
		perm:    perm,
		backing: backing,
	}
}

func (a *MapArea) Range() VPNRange        { return a.vpns }
func (a *MapArea) Perm() MapPermission    { return a.perm }
func (a *MapArea) Backing() Backing       { return a.backing }
func (a *MapArea) String() string         { return fmt.Sprintf("%v %v %v", a.vpns, a.perm, a.backing) }
func (a *MapArea) owns(vpn VirtPageNum) bool {
	_, ok := a.frames[vpn]
	return ok
}

func (a *MapArea) mapOne(pt *PageTable, frames *FrameAllocator, vpn VirtPageNum) error {
	if a.backing == BackingLoaned {
		return pt.Map(vpn, a.loaned, PTEFlags(a.perm))
	}
	ppn, ok := frames.Alloc()
	if !ok {
		return ErrOutOfMemory
	}
	if err := pt.Map(vpn, ppn, PTEFlags(a.perm)); err != nil {
		frames.Dealloc(ppn)
		return err
	}
	a.frames[vpn] = ppn
	return nil
}

func (a *MapArea) unmapOne(pt *PageTable, frames *FrameAllocator, vpn VirtPageNum) {
	if ppn, ok := a.frames[vpn]; ok {
		frames.Dealloc(ppn)
		delete(a.frames, vpn)
	}
	pt.Unmap(vpn)
}

// MemorySet is an address space: a page table plus the areas mapped in it.
type MemorySet struct {
	frames *FrameAllocator
	pt     *PageTable
	areas  []*MapArea
}

// NewBare returns an address space with nothing mapped.
func NewBare(frames *FrameAllocator) (*MemorySet, error) {
	pt, err := NewPageTable(frames)
	if err != nil {
		return nil, err
	}
	return &MemorySet{frames: frames, pt: pt}, nil
}

// Token returns the satp value of the set's page table.
func (ms *MemorySet) Token() uint64 { return ms.pt.Token() }

// Areas returns the mapped areas in insertion order.
func (ms *MemorySet) Areas() []*MapArea { return slices.Clone(ms.areas) }

// MappedPages counts the pages backed by this set's own frames.
func (ms *MemorySet) MappedPages() int {
	n := 0
	for _, a := range ms.areas {
		n += len(a.frames)
	}
	return n
}

func (ms *MemorySet) push(a *MapArea, data []byte) error {
	for vpn := a.vpns.Start; vpn < a.vpns.End; vpn++ {
		if err := a.mapOne(ms.pt, ms.frames, vpn); err != nil {
			for undo := a.vpns.Start; undo < vpn; undo++ {
				a.unmapOne(ms.pt, ms.frames, undo)
			}
			return err
		}
	}
	mem := ms.frames.Mem()
	for vpn := a.vpns.Start; len(data) > 0; vpn++ {
		n := copy(mem.Frame(a.frames[vpn]), data)
		data = data[n:]
	}
	ms.areas = append(ms.areas, a)
	return nil
}

// InsertFramedArea maps [start, end) with freshly allocated zeroed frames.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	return ms.push(newMapArea(NewVPNRange(start, end), perm, BackingAnonymous), nil)
}

// RemoveAreaWithStartVPN unmaps and frees the area starting at vpn.
func (ms *MemorySet) RemoveAreaWithStartVPN(vpn VirtPageNum) bool {
	for i, a := range ms.areas {
		if a.vpns.Start != vpn {
			continue
		}
		for v := a.vpns.Start; v < a.vpns.End; v++ {
			a.unmapOne(ms.pt, ms.frames, v)
		}
		ms.areas = slices.Delete(ms.areas, i, i+1)
		return true
	}
	return false
}

// Map installs a new area over [start, start+length) with zeroed frames.
// start must be page aligned and no page of the range may be mapped already.
func (ms *MemorySet) Map(start VirtAddr, length uint64, perm MapPermission, backing Backing) error {
	if !start.Aligned() {
		return ErrMisaligned
	}
	if perm&(PermR|PermW|PermX) == 0 {
		return ErrNoPermission
	}
	if backing == BackingLoaned {
		return fmt.Errorf("mm: cannot map a loaned area by range: %w", abi.EINVAL)
	}
	if length == 0 {
		return nil
	}
	r := NewVPNRange(start, start+VirtAddr(length))
	if r.End < r.Start || !(r.End - 1).Valid() {
		return ErrBadAddress
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		if _, ok := ms.pt.Translate(vpn); ok {
			return ErrOverlap
		}
	}
	for _, a := range ms.areas {
		if a.vpns.Overlaps(r) {
			return ErrOverlap
		}
	}
	return ms.push(newMapArea(r, perm, backing), nil)
}

// Unmap removes every page of [start, start+length). Each page must belong
// to one of the set's own areas; otherwise nothing is changed. Areas that
// are only partly covered are trimmed or split.
func (ms *MemorySet) Unmap(start VirtAddr, length uint64) error {
	if !start.Aligned() {
		return ErrMisaligned
	}
	if length == 0 {
		return nil
	}
	r := NewVPNRange(start, start+VirtAddr(length))
	if r.End < r.Start {
		return ErrBadAddress
	}
	for vpn := r.Start; vpn < r.End; vpn++ {
		a := ms.areaOf(vpn)
		if a == nil || !a.owns(vpn) {
			return ErrNotMapped
		}
	}

	var kept []*MapArea
	for _, a := range ms.areas {
		if !a.vpns.Overlaps(r) {
			kept = append(kept, a)
			continue
		}
		lo, hi := max(a.vpns.Start, r.Start), min(a.vpns.End, r.End)
		for vpn := lo; vpn < hi; vpn++ {
			a.unmapOne(ms.pt, ms.frames, vpn)
		}
		if left := a.slice(a.vpns.Start, lo); left != nil {
			kept = append(kept, left)
		}
		if right := a.slice(hi, a.vpns.End); right != nil {
			kept = append(kept, right)
		}
	}
	ms.areas = kept
	return nil
}

// slice returns the part of a covering [start, end), or nil if empty.
func (a *MapArea) slice(start, end VirtPageNum) *MapArea {
	if start >= end {
		return nil
	}
	part := newMapArea(VPNRange{Start: start, End: end}, a.perm, a.backing)
	part.loaned = a.loaned
	for vpn := start; vpn < end; vpn++ {
		if ppn, ok := a.frames[vpn]; ok {
			part.frames[vpn] = ppn
		}
	}
	return part
}

func (ms *MemorySet) areaOf(vpn VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.vpns.Contains(vpn) {
			return a
		}
	}
	return nil
}

// Translate resolves va to a physical address.
func (ms *MemorySet) Translate(va VirtAddr) (PhysAddr, bool) {
	return ms.pt.TranslateVA(va)
}

// TranslateVPN returns vpn's page-table entry.
func (ms *MemorySet) TranslateVPN(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.pt.Translate(vpn)
}

// Segment is one loadable piece of a program image.
type Segment struct {
	Data    []byte
	MemSize uint64
	Perm    MapPermission
}

// FromImage builds a user address space: each segment on its own pages from
// UserBase upwards, a guard page, the user stack and the loaned trampoline.
// It returns the set and the initial user stack pointer.
func FromImage(frames *FrameAllocator, trampoline PhysPageNum, segs []Segment) (*MemorySet, VirtAddr, error) {
	ms, err := NewBare(frames)
	if err != nil {
		return nil, 0, err
	}
	if err := ms.mapTrampoline(trampoline); err != nil {
		ms.Release()
		return nil, 0, err
	}
	va := VirtAddr(UserBase)
	for _, seg := range segs {
		size := max(uint64(len(seg.Data)), seg.MemSize, 1)
		end := va + VirtAddr(size)
		a := newMapArea(NewVPNRange(va, end), seg.Perm|PermU, BackingImage)
		if err := ms.push(a, seg.Data); err != nil {
			ms.Release()
			return nil, 0, err
		}
		va = end.Ceil().Addr()
	}
	stackBottom := va + PageSize
	stackTop := stackBottom + UserStackSize
	a := newMapArea(NewVPNRange(stackBottom, stackTop), PermR|PermW|PermU, BackingAnonymous)
	if err := ms.push(a, nil); err != nil {
		ms.Release()
		return nil, 0, err
	}
	return ms, stackTop, nil
}

func (ms *MemorySet) mapTrampoline(ppn PhysPageNum) error {
	a := newMapArea(NewVPNRange(Trampoline, Trampoline+PageSize), PermR|PermX, BackingLoaned)
	a.loaned = ppn
	return ms.push(a, nil)
}

// FromExisting copies every area of parent into fresh frames.
func FromExisting(parent *MemorySet) (*MemorySet, error) {
	ms, err := NewBare(parent.frames)
	if err != nil {
		return nil, err
	}
	mem := parent.frames.Mem()
	for _, pa := range parent.areas {
		a := newMapArea(pa.vpns, pa.perm, pa.backing)
		a.loaned = pa.loaned
		if err := ms.push(a, nil); err != nil {
			ms.Release()
			return nil, err
		}
		for vpn, src := range pa.frames {
			copy(mem.Frame(a.frames[vpn]), mem.Frame(src))
		}
	}
	return ms, nil
}

// RecycleDataPages unmaps every area and frees the frames it owns. The page
// table itself stays allocated.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		for vpn := a.vpns.Start; vpn < a.vpns.End; vpn++ {
			a.unmapOne(ms.pt, ms.frames, vpn)
		}
	}
	ms.areas = nil
}

// Release frees everything the set owns, page-table nodes included.
func (ms *MemorySet) Release() {
	ms.RecycleDataPages()
	ms.pt.Release()
}

// NewKernelSpace returns the kernel address space with the trampoline page
// mapped, and the trampoline frame for user spaces to borrow.
func NewKernelSpace(frames *FrameAllocator) (*MemorySet, PhysPageNum, error) {
	ms, err := NewBare(frames)
	if err != nil {
		return nil, 0, err
	}
	if err := ms.InsertFramedArea(Trampoline, Trampoline+PageSize, PermR|PermX); err != nil {
		ms.Release()
		return nil, 0, err
	}
	return ms, ms.areas[0].frames[VirtAddr(Trampoline).Floor()], nil
}
