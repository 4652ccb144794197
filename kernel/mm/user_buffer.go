package mm

// Access is the kind of user-memory access being translated.
type Access uint8

const (
	AccessRead Access = iota + 1
	AccessWrite
)

func (a Access) allowed(e PageTableEntry) bool {
	if !e.IsValid() || !e.User() {
		return false
	}
	if a == AccessWrite {
		return e.Writable()
	}
	return e.Readable()
}

// TranslatedByteBuffer splits the user range [ptr, ptr+length) of the space
// identified by token into physical slices. Every page must be user
// accessible with the requested access.
func TranslatedByteBuffer(mem *PhysMem, token uint64, ptr uint64, length int, access Access) ([][]byte, error) {
	if length < 0 || ptr+uint64(length) < ptr {
		return nil, ErrBadAddress
	}
	pt := FromToken(mem, token)
	var out [][]byte
	start := VirtAddr(ptr)
	end := start + VirtAddr(length)
	for start < end {
		vpn := start.Floor()
		e, ok := pt.Translate(vpn)
		if !ok || !access.allowed(e) {
			return nil, ErrBadAddress
		}
		frame := mem.Frame(e.PPN())
		pageEnd := min((vpn + 1).Addr(), end)
		out = append(out, frame[start.PageOffset():start.PageOffset()+uint64(pageEnd-start)])
		start = pageEnd
	}
	return out, nil
}

// UserBuffer is a translated user range.
type UserBuffer struct {
	Buffers [][]byte
}

// NewUserBuffer wraps translated slices.
func NewUserBuffer(bufs [][]byte) UserBuffer { return UserBuffer{Buffers: bufs} }

// TranslateUserBuffer translates and wraps in one step.
func TranslateUserBuffer(mem *PhysMem, token uint64, ptr uint64, length int, access Access) (UserBuffer, error) {
	bufs, err := TranslatedByteBuffer(mem, token, ptr, length, access)
	if err != nil {
		return UserBuffer{}, err
	}
	return NewUserBuffer(bufs), nil
}

// Len returns the total byte count.
func (ub UserBuffer) Len() int {
	n := 0
	for _, b := range ub.Buffers {
		n += len(b)
	}
	return n
}

// CopyOut copies user bytes into dst and returns the count.
func (ub UserBuffer) CopyOut(dst []byte) int {
	n := 0
	for _, b := range ub.Buffers {
		if n == len(dst) {
			break
		}
		n += copy(dst[n:], b)
	}
	return n
}

// CopyIn copies src into user memory and returns the count.
func (ub UserBuffer) CopyIn(src []byte) int {
	n := 0
	for _, b := range ub.Buffers {
		if n == len(src) {
			break
		}
		n += copy(b, src[n:])
	}
	return n
}

// Bytes returns a copy of the whole range.
func (ub UserBuffer) Bytes() []byte {
	out := make([]byte, ub.Len())
	ub.CopyOut(out)
	return out
}

// ReadUser copies n bytes from user memory.
func ReadUser(mem *PhysMem, token uint64, va uint64, n int) ([]byte, error) {
	ub, err := TranslateUserBuffer(mem, token, va, n, AccessRead)
	if err != nil {
		return nil, err
	}
	return ub.Bytes(), nil
}

// WriteUser copies data into user memory.
func WriteUser(mem *PhysMem, token uint64, va uint64, data []byte) error {
	ub, err := TranslateUserBuffer(mem, token, va, len(data), AccessWrite)
	if err != nil {
		return err
	}
	ub.CopyIn(data)
	return nil
}

// MaxUserString bounds TranslatedStr.
const MaxUserString = PageSize

// TranslatedStr reads a NUL-terminated string from user memory.
func TranslatedStr(mem *PhysMem, token uint64, va uint64) (string, error) {
	pt := FromToken(mem, token)
	var s []byte
	for len(s) < MaxUserString {
		e, ok := pt.Translate(VirtAddr(va).Floor())
		if !ok || !AccessRead.allowed(e) {
			return "", ErrBadAddress
		}
		frame := mem.Frame(e.PPN())
		for off := VirtAddr(va).PageOffset(); off < PageSize; off++ {
			if frame[off] == 0 {
				return string(s), nil
			}
			s = append(s, frame[off])
			va++
		}
	}
	return "", ErrBadAddress
}
