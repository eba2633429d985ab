package monitor

import (
	"image/color"
	"strings"
	"unicode/utf8"

	"spindle/hal"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

// Screen clears fb to bgcol and draws lines top to bottom, wrapping long
// lines at the screen width. Lines that do not fit are cut off. The frame is
// presented before returning.
func Screen(fb hal.Framebuffer, lines []string, fgcol, bgcol color.RGBA) {
	if fb == nil {
		return
	}
	fb.ClearRGB(bgcol.R, bgcol.G, bgcol.B)

	font := &proggy.TinySZ8pt7b
	_, outboxWidth := tinyfont.LineWidth(font, "0")
	fontWidth := int16(outboxWidth)
	if fontWidth <= 0 {
		_ = fb.Present()
		return
	}
	d := newRegion(fb, 0, 0, fb.Width(), fb.Height())
	cols := int16(fb.Width()) / fontWidth
	if cols <= 0 {
		cols = 1
	}
	maxH := int16(fb.Height())

	y := int16(0)
	for _, line := range lines {
		for len(line) > 0 {
			if y+fontHeight > maxH {
				_ = fb.Present()
				return
			}
			chunk, rest := takeRunes(line, cols)
			drawX := int16(0)
			for _, r := range chunk {
				tinyfont.DrawChar(d, font, drawX, y+fontOffset, r, fgcol)
				drawX += fontWidth
			}
			y += fontHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = fb.Present()
}

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if int64(len(s)) <= int64(n) {
		return s, ""
	}
	var i int
	var count int16
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		if size <= 0 {
			break
		}
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
