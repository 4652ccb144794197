package console

import (
	"image/color"

	"tinygo.org/x/drivers"

	"taskos/hal"
)

// fbDisplay draws on an RGB565 framebuffer for tinyterm.
type fbDisplay struct {
	fb hal.Framebuffer
}

var _ drivers.Displayer = (*fbDisplay)(nil)

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	hal.PutPixel(d.fb, int(x), int(y), hal.RGB565(c.R, c.G, c.B))
}

// Display is a no-op; the console presents on Flush.
func (d *fbDisplay) Display() error { return nil }

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	w, h := d.fb.Width(), d.fb.Height()
	x0, y0 := clamp(int(x), w), clamp(int(y), h)
	x1, y1 := clamp(int(x)+int(width), w), clamp(int(y)+int(height), h)
	if x0 >= x1 || y0 >= y1 {
		return nil
	}
	pixel := hal.RGB565(c.R, c.G, c.B)
	lo, hi := byte(pixel), byte(pixel>>8)
	buf, stride := d.fb.Buffer(), d.fb.StrideBytes()
	for py := y0; py < y1; py++ {
		row := buf[py*stride : py*stride+x1*2]
		for px := x0; px < x1; px++ {
			row[px*2] = lo
			row[px*2+1] = hi
		}
	}
	return nil
}

// ScrollUp moves the picture up by lines rows and clears the bottom.
func (d *fbDisplay) ScrollUp(lines int16, bg color.RGBA) error {
	h := d.fb.Height()
	n := int(lines)
	if n <= 0 {
		return nil
	}
	if n >= h {
		return d.FillRectangle(0, 0, int16(d.fb.Width()), int16(h), bg)
	}
	buf, stride := d.fb.Buffer(), d.fb.StrideBytes()
	copy(buf[:(h-n)*stride], buf[n*stride:h*stride])
	return d.FillRectangle(0, int16(h-n), int16(d.fb.Width()), int16(n), bg)
}

func (d *fbDisplay) SetScroll(int16) {}

func (d *fbDisplay) SetRotation(drivers.Rotation) error { return nil }

func clamp(v, hi int) int {
	return min(max(v, 0), hi)
}
