package hal

import (
	"fmt"
	"os"
	"sync"
)

// MemFlash is a volatile Flash held in memory. Erased bytes read as 0xFF and
// writes may only clear bits, like NOR flash.
type MemFlash struct {
	mu         sync.Mutex
	data       []byte
	eraseBlock uint32
}

// NewMemFlash returns an erased flash of size bytes.
func NewMemFlash(size, eraseBlock uint32) *MemFlash {
	f := &MemFlash{data: make([]byte, size), eraseBlock: eraseBlock}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *MemFlash) SizeBytes() uint32       { return uint32(len(f.data)) }
func (f *MemFlash) EraseBlockBytes() uint32 { return f.eraseBlock }

func (f *MemFlash) ReadAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= uint32(len(f.data)) {
		return 0, fmt.Errorf("flash read at %d: %w", off, os.ErrInvalid)
	}
	return copy(p, f.data[off:]), nil
}

func (f *MemFlash) WriteAt(p []byte, off uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off >= uint32(len(f.data)) {
		return 0, fmt.Errorf("flash write at %d: %w", off, os.ErrInvalid)
	}
	dst := f.data[off:]
	if len(p) > len(dst) {
		p = p[:len(dst)]
	}
	for i := range p {
		if dst[i]&p[i] != p[i] {
			return 0, ErrFlashWriteRequiresErase
		}
	}
	return copy(dst, p), nil
}

func (f *MemFlash) Erase(off, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if off%f.eraseBlock != 0 || size%f.eraseBlock != 0 || uint64(off)+uint64(size) > uint64(len(f.data)) {
		return fmt.Errorf("flash erase off=%d size=%d: %w", off, size, os.ErrInvalid)
	}
	for i := off; i < off+size; i++ {
		f.data[i] = 0xFF
	}
	return nil
}
