package monitor

import (
	"image/color"

	"spindle/hal"

	"tinygo.org/x/drivers"
)

// region is a rectangular window onto an RGB565 framebuffer that satisfies
// drivers.Displayer and the tinyterm display interface. Coordinates are
// relative to the region's origin.
//
// SetScroll emulates a panel's vertical scroll register: row scroll of the
// region's memory is shown at the top, and rows wrap around the bottom.
type region struct {
	fb     hal.Framebuffer
	x, y   int
	w, h   int
	scroll int
}

var _ drivers.Displayer = (*region)(nil)

func newRegion(fb hal.Framebuffer, x, y, w, h int) *region {
	r := &region{fb: fb, x: x, y: y, w: w, h: h}
	if fb != nil {
		r.w = clampInt(w, 0, fb.Width()-x)
		r.h = clampInt(h, 0, fb.Height()-y)
	}
	return r
}

func (d *region) Size() (x, y int16) {
	if d.fb == nil {
		return 0, 0
	}
	return int16(d.w), int16(d.h)
}

func (d *region) pixels() []byte {
	if d.fb == nil || d.fb.Format() != hal.PixelFormatRGB565 {
		return nil
	}
	return d.fb.Buffer()
}

func (d *region) SetPixel(x, y int16, c color.RGBA) {
	buf := d.pixels()
	if buf == nil {
		return
	}
	ix, iy := int(x), int(y)
	if ix < 0 || ix >= d.w || iy < 0 || iy >= d.h {
		return
	}
	off := (d.y+d.row(iy))*d.fb.StrideBytes() + (d.x+ix)*2
	if off < 0 || off+1 >= len(buf) {
		return
	}
	pixel := rgb565From888(c.R, c.G, c.B)
	buf[off] = byte(pixel)
	buf[off+1] = byte(pixel >> 8)
}

// Display is a no-op; the monitor presents the whole framebuffer once per
// frame.
func (d *region) Display() error { return nil }

func (d *region) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	buf := d.pixels()
	if buf == nil {
		return nil
	}
	x0 := clampInt(int(x), 0, d.w)
	y0 := clampInt(int(y), 0, d.h)
	x1 := clampInt(int(x)+int(width), 0, d.w)
	y1 := clampInt(int(y)+int(height), 0, d.h)
	for py := y0; py < y1; py++ {
		d.fillRow(buf, d.row(py), x0, x1, c)
	}
	return nil
}

// fillRow paints framebuffer row py of the region between x0 and x1.
func (d *region) fillRow(buf []byte, py, x0, x1 int, c color.RGBA) {
	pixel := rgb565From888(c.R, c.G, c.B)
	lo, hi := byte(pixel), byte(pixel>>8)
	row := (d.y + py) * d.fb.StrideBytes()
	for px := x0; px < x1; px++ {
		off := row + (d.x+px)*2
		if off < 0 || off+1 >= len(buf) {
			continue
		}
		buf[off] = lo
		buf[off+1] = hi
	}
}

// ScrollUp moves the region's framebuffer rows up by lines and clears the
// exposed bottom rows.
func (d *region) ScrollUp(lines int16, bg color.RGBA) error {
	buf := d.pixels()
	if buf == nil || lines <= 0 {
		return nil
	}
	n := int(lines)
	if n > d.h {
		n = d.h
	}
	stride := d.fb.StrideBytes()
	rowBytes := d.w * 2
	for py := 0; py < d.h-n; py++ {
		dst := (d.y+py)*stride + d.x*2
		src := (d.y+py+n)*stride + d.x*2
		if src+rowBytes > len(buf) {
			break
		}
		copy(buf[dst:dst+rowBytes], buf[src:src+rowBytes])
	}
	for py := d.h - n; py < d.h; py++ {
		d.fillRow(buf, py, 0, d.w, bg)
	}
	return nil
}

// row maps a memory row to the framebuffer row it is shown on.
func (d *region) row(y int) int {
	if d.scroll == 0 {
		return y
	}
	return (y - d.scroll + d.h) % d.h
}

func (d *region) SetScroll(line int16) {
	if d.h == 0 {
		return
	}
	next := int(line) % d.h
	if next < 0 {
		next += d.h
	}
	delta := (next - d.scroll + d.h) % d.h
	if delta == 0 {
		return
	}
	// Rows brought in at the bottom are cleared, not rotated.
	_ = d.ScrollUp(int16(delta), color.RGBA{})
	d.scroll = next
}

func (d *region) SetRotation(rotation drivers.Rotation) error { return nil }

func rgb565From888(r, g, b uint8) uint16 {
	return uint16((uint16(r>>3)&0x1F)<<11 | (uint16(g>>2)&0x3F)<<5 | (uint16(b>>3) & 0x1F))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
