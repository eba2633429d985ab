//go:build tinygo && !baremetal

package hal

import (
	"time"
)

type tinyGoHostHAL struct {
	logger *tinyGoHostLogger
	cpu    *CoopCPU
	mem    *HeapMemory
	fb     *tinyGoHostFramebuffer
	kbd    *tinyGoHostKeyboard
	t      *tinyGoHostTime
}

// New returns a TinyGo-on-host HAL implementation.
//
// This is used by `tinygo run` targets like linux/wasm where there is no MCU pin mapping.
func New() HAL {
	return &tinyGoHostHAL{
		logger: &tinyGoHostLogger{},
		cpu:    NewCoopCPU(),
		mem:    NewHeapMemory(0),
		fb:     newTinyGoHostFramebuffer(320, 240),
		kbd:    newTinyGoHostKeyboard(),
		t:      newTinyGoHostTime(),
	}
}

func (h *tinyGoHostHAL) Logger() Logger     { return h.logger }
func (h *tinyGoHostHAL) CPU() CPU           { return h.cpu }
func (h *tinyGoHostHAL) Memory() Memory     { return h.mem }
func (h *tinyGoHostHAL) Display() Display   { return tinyGoHostDisplay{fb: h.fb} }
func (h *tinyGoHostHAL) Keyboard() Keyboard { return h.kbd }
func (h *tinyGoHostHAL) Time() Time         { return h.t }

type tinyGoHostDisplay struct {
	fb Framebuffer
}

func (d tinyGoHostDisplay) Framebuffer() Framebuffer { return d.fb }

type tinyGoHostTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoHostTime() *tinyGoHostTime {
	t := &tinyGoHostTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(1 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoHostTime) Ticks() <-chan uint64 { return t.ch }

type tinyGoHostLogger struct{}

func (l *tinyGoHostLogger) WriteLineString(s string) {
	println(s)
}

func (l *tinyGoHostLogger) WriteLineBytes(b []byte) {
	println(string(b))
}

type tinyGoHostKeyboard struct {
	ch chan KeyEvent
}

func newTinyGoHostKeyboard() *tinyGoHostKeyboard {
	return &tinyGoHostKeyboard{ch: make(chan KeyEvent)}
}

func (k *tinyGoHostKeyboard) Events() <-chan KeyEvent { return k.ch }
