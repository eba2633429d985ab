package hal

import "errors"

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

var ErrNotImplemented = errors.New("not implemented")

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

// KeyCode is a minimal key identifier.
type KeyCode uint16

const (
	KeyUnknown KeyCode = iota
	KeyUp
	KeyDown
	KeyEnter
	KeyEscape
	KeyBackspace
)

// KeyEvent is a keyboard event.
type KeyEvent struct {
	Code  KeyCode
	Press bool
	Rune  rune
}

// Keyboard provides key events (best-effort on each platform).
type Keyboard interface {
	Events() <-chan KeyEvent
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; the kernel sees each tick as a timer
// interrupt.
type Time interface {
	Ticks() <-chan uint64
}

// HAL provides the only contact point between the runtime and the outside world.
type HAL interface {
	Logger() Logger
	CPU() CPU
	Memory() Memory
	Display() Display
	Keyboard() Keyboard
	Time() Time
}
