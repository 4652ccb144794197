//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ErrShutdownFailure is returned by the runners when the OS powered off with
// the failure flag set.
var ErrShutdownFailure = errors.New("hal: platform shut down after failure")

// HostConfig selects the devices of the host machine.
type HostConfig struct {
	// FlashPath is the flash image file. Empty keeps the flash in memory.
	FlashPath string
	// FlashSize is the size of a new flash image.
	FlashSize uint32
	// TTY puts the controlling terminal in raw mode and uses it as the
	// serial console.
	TTY bool
	// Stdin feeds the process's standard input to the serial console.
	Stdin bool
	// Width and Height size the framebuffer.
	Width, Height int
}

type hostHAL struct {
	logger   *hostLogger
	fb       *hostFramebuffer
	kbd      *hostKeyboard
	t        *hostTime
	flash    Flash
	serial   *hostSerial
	platform *hostPlatform

	closers []io.Closer
}

// New returns a host HAL implementation.
func New(cfg HostConfig) (HAL, error) {
	return newHost(cfg)
}

func newHost(cfg HostConfig) (*hostHAL, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 320, 320
	}
	if cfg.FlashSize == 0 {
		cfg.FlashSize = hostFlashDefaultSizeBytes
	}
	h := &hostHAL{
		logger:   &hostLogger{w: os.Stdout},
		fb:       newHostFramebuffer(cfg.Width, cfg.Height),
		kbd:      newHostKeyboard(),
		t:        newHostTime(),
		platform: newHostPlatform(),
	}

	if cfg.FlashPath == "" {
		h.flash = NewMemFlash(cfg.FlashSize, hostFlashEraseBlockBytes)
	} else {
		f, err := openHostFlash(cfg.FlashPath, cfg.FlashSize)
		if err != nil {
			return nil, err
		}
		h.flash = f
		h.closers = append(h.closers, f)
	}

	switch {
	case cfg.TTY:
		t, err := openHostTTY()
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("hal: tty console: %w", err)
		}
		h.serial = newHostSerial(t.Output())
		go t.pump(h.serial, func() { h.platform.Shutdown(false) })
		h.closers = append(h.closers, t)
	case cfg.Stdin:
		h.serial = newHostSerial(os.Stdout)
		go h.serial.readFrom(os.Stdin)
	default:
		h.serial = newHostSerial(os.Stdout)
	}
	return h, nil
}

func (h *hostHAL) Logger() Logger     { return h.logger }
func (h *hostHAL) Display() Display   { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Flash() Flash       { return h.flash }
func (h *hostHAL) Time() Time         { return h.t }
func (h *hostHAL) Serial() Serial     { return h.serial }
func (h *hostHAL) Platform() Platform { return h.platform }

// Close releases the host devices.
func (h *hostHAL) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i].Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(b)
	l.w.Write([]byte{'\n'})
}

type hostPlatform struct {
	once    sync.Once
	done    chan struct{}
	failure atomic.Bool
}

func newHostPlatform() *hostPlatform {
	return &hostPlatform{done: make(chan struct{})}
}

func (p *hostPlatform) Shutdown(failure bool) {
	p.once.Do(func() {
		p.failure.Store(failure)
		close(p.done)
	})
}

// result is the runner's return value once the platform is off.
func (p *hostPlatform) result() error {
	select {
	case <-p.done:
	default:
		return nil
	}
	if p.failure.Load() {
		return ErrShutdownFailure
	}
	return nil
}
