package mm

// Memory layout shared by every address space.
const (
	// MemoryStart is the physical address of the first arena byte.
	MemoryStart = 0x8000_0000

	// DefaultMemorySize is the physical arena size used when none is configured.
	DefaultMemorySize = 8 << 20

	// UserBase is where the first program segment is loaded; page 0 stays
	// unmapped so null pointers fault.
	UserBase = 0x1_0000

	UserStackSize   = PageSize * 2
	KernelStackSize = PageSize * 2

	// Trampoline is the highest virtual page, mapped in every space.
	Trampoline = 1<<vaWidth - PageSize
)

// KernelStackPosition returns the [bottom, top) virtual range of pid's kernel
// stack in kernel space. Stacks sit below the trampoline, each with a guard
// page under it.
func KernelStackPosition(pid int) (bottom, top VirtAddr) {
	top = VirtAddr(Trampoline - uint64(pid)*(KernelStackSize+PageSize))
	bottom = top - KernelStackSize
	return bottom, top
}
