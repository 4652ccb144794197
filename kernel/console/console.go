// Package console is the kernel's character device: output goes to the
// serial line and to a terminal drawn on the framebuffer, input comes from
// the serial line.
package console

import (
	"sync"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"

	"taskos/hal"
)

// Console implements fs.Terminal.
type Console struct {
	serial hal.Serial

	mu    sync.Mutex
	fb    hal.Framebuffer
	term  *tinyterm.Terminal
	dirty bool
}

// New returns a console on serial. A nil display disables the screen.
func New(serial hal.Serial, disp hal.Display) *Console {
	c := &Console{serial: serial}
	if disp == nil {
		return c
	}
	fb := disp.Framebuffer()
	if fb == nil || fb.Format() != hal.PixelFormatRGB565 {
		return c
	}
	c.fb = fb
	c.term = tinyterm.NewTerminal(&fbDisplay{fb: fb})
	c.term.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        6,
		UseSoftwareScroll: true,
	})
	fb.ClearRGB(0, 0, 0)
	c.dirty = true
	return c
}

func (c *Console) Write(p []byte) (int, error) {
	if c.term != nil {
		c.mu.Lock()
		_, _ = c.term.Write(p)
		c.dirty = true
		c.mu.Unlock()
	}
	if c.serial == nil {
		return len(p), nil
	}
	return c.serial.Write(p)
}

func (c *Console) TryReadByte() (byte, bool) {
	if c.serial == nil {
		return 0, false
	}
	return c.serial.TryReadByte()
}

// Flush presents the screen if anything was drawn since the last flush.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fb == nil || !c.dirty {
		return nil
	}
	c.dirty = false
	return c.fb.Present()
}
