package hal

import (
	"errors"
	"io"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var (
	ErrNotImplemented          = errors.New("not implemented")
	ErrFlashWriteRequiresErase = errors.New("flash write requires erase")
)

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Flash provides raw access to non-volatile memory.
//
// It is intentionally low-level: addresses and erase blocks only.
type Flash interface {
	SizeBytes() uint32
	EraseBlockBytes() uint32
	ReadAt(p []byte, off uint32) (int, error)
	WriteAt(p []byte, off uint32) (int, error)
	Erase(off, size uint32) error
}

// Time is the platform timer the scheduler idles on.
type Time interface {
	// NowMicros returns the microseconds since boot.
	NowMicros() uint64
	// Idle waits until NowMicros reaches untilMicros.
	Idle(untilMicros uint64)
}

// Serial is the console character device.
type Serial interface {
	io.Writer
	// TryReadByte returns the next received byte without waiting.
	TryReadByte() (byte, bool)
}

// Platform controls the machine itself.
type Platform interface {
	// Shutdown powers the machine off. failure marks an abnormal stop.
	Shutdown(failure bool)
}

// HAL provides the only contact point between the OS and the outside world.
type HAL interface {
	Logger() Logger
	Display() Display
	Flash() Flash
	Time() Time
	Serial() Serial
	Platform() Platform
}
