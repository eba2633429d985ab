//go:build !tinygo

package hal

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

const hostDefaultStackBudget = 4 * 1024 * 1024

type hostHAL struct {
	logger *hostLogger
	cpu    *CoopCPU
	mem    *HeapMemory
	fb     *hostFramebuffer
	kbd    *hostKeyboard
	t      *hostTime
}

// New returns a host HAL implementation.
//
// SPINDLE_STACK_BUDGET overrides the total number of stack bytes threads may
// allocate.
func New() HAL {
	budget := hostDefaultStackBudget
	if v := os.Getenv("SPINDLE_STACK_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			budget = n
		}
	}
	return &hostHAL{
		logger: &hostLogger{w: os.Stdout},
		cpu:    NewCoopCPU(),
		mem:    NewHeapMemory(budget),
		fb:     newHostFramebuffer(320, 240),
		kbd:    newHostKeyboard(),
		t:      newHostTime(),
	}
}

func (h *hostHAL) Logger() Logger     { return h.logger }
func (h *hostHAL) CPU() CPU           { return h.cpu }
func (h *hostHAL) Memory() Memory     { return h.mem }
func (h *hostHAL) Display() Display   { return hostDisplay{fb: h.fb} }
func (h *hostHAL) Keyboard() Keyboard { return h.kbd }
func (h *hostHAL) Time() Time         { return h.t }

type hostDisplay struct {
	fb *hostFramebuffer
}

func (d hostDisplay) Framebuffer() Framebuffer { return d.fb }

type hostLogger struct {
	mu sync.Mutex
	w  *os.File
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
