package app

import (
	"fmt"
	"image/color"
	"strings"

	"spindle/hal"
	"spindle/kernel"
	"spindle/monitor"
)

// panicHandler reports a fatal scheduler error on the log and the screen,
// then halts the flow that hit it. The host loop picks the error up from
// step.
func (sys *system) panicHandler() func(kernel.PanicInfo) {
	return func(info kernel.PanicInfo) {
		sys.fail(fmt.Errorf("spindle panic: thread %d: %v", info.ThreadID, info.Value))

		lines := []string{
			"Spindle Panic:",
			fmt.Sprintf("thread: %d", info.ThreadID),
			fmt.Sprintf("panic: %v", info.Value),
		}
		if len(info.Stack) > 0 {
			lines = append(lines, "stack:")
			for _, line := range strings.Split(string(info.Stack), "\n") {
				if line == "" {
					continue
				}
				lines = append(lines, line)
			}
		} else {
			lines = append(lines, "stack: unavailable")
		}

		if l := sys.h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}

		if fb := sys.framebuffer(); fb != nil {
			monitor.Screen(fb, lines, color.RGBA{A: 0xFF}, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
		}
		select {}
	}
}

func bootScreen(h hal.HAL, msg string) {
	bootDiagSetStep(msg)
	d := h.Display()
	if d == nil {
		return
	}
	monitor.Screen(d.Framebuffer(), []string{"spindle boot", msg}, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, color.RGBA{A: 0xFF})
}
