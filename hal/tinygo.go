//go:build tinygo && baremetal

package hal

import (
	"machine"
)

const tinyGoStackBudget = 64 * 1024

type tinyGoHAL struct {
	logger *uartLogger
	cpu    *CoopCPU
	mem    *HeapMemory
	fb     Framebuffer
	kbd    Keyboard
	t      *tinyGoTime
}

// New returns a bare-metal HAL implementation.
//
// UART: UART0 at 115200 8N1 carries the log.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	return &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		cpu:    NewCoopCPU(),
		mem:    NewHeapMemory(tinyGoStackBudget),
		fb:     &stubFramebuffer{w: 320, h: 240, format: PixelFormatRGB565},
		kbd:    &stubKeyboard{},
		t:      newTinyGoTime(),
	}
}

func (h *tinyGoHAL) Logger() Logger     { return h.logger }
func (h *tinyGoHAL) CPU() CPU           { return h.cpu }
func (h *tinyGoHAL) Memory() Memory     { return h.mem }
func (h *tinyGoHAL) Display() Display   { return tinyGoDisplay{fb: h.fb} }
func (h *tinyGoHAL) Keyboard() Keyboard { return h.kbd }
func (h *tinyGoHAL) Time() Time         { return h.t }
