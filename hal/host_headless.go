//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	Hz      int
	Ticks   uint64
	// TTY forwards key presses from the controlling terminal.
	TTY bool
}

// RunHeadless runs the runtime without opening a window.
//
// newApp is called once with the host HAL; the returned step function is
// called on every host tick.
func RunHeadless(ctx context.Context, newApp func(HAL) func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}

	h := New().(*hostHAL)
	if cfg.TTY {
		stop, err := h.kbd.attachTTY()
		if err != nil {
			return fmt.Errorf("headless tty: %w", err)
		}
		defer stop()
	}
	step := newApp(h)

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			h.t.step(1)
			if step != nil {
				if err := step(); err != nil {
					return err
				}
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
