package mm

import (
	"fmt"

	"taskos/kernel/abi"
)

var (
	ErrOutOfMemory  = fmt.Errorf("mm: out of physical frames: %w", abi.EFAIL)
	ErrMisaligned   = fmt.Errorf("mm: address not page aligned: %w", abi.EFAIL)
	ErrNoPermission = fmt.Errorf("mm: empty or invalid permission: %w", abi.EFAIL)
	ErrOverlap      = fmt.Errorf("mm: range overlaps an existing mapping: %w", abi.EFAIL)
	ErrNotMapped    = fmt.Errorf("mm: page not mapped: %w", abi.EFAIL)
	ErrBadAddress   = fmt.Errorf("mm: bad user address: %w", abi.EFAULT)
)
