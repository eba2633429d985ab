//go:build !tinygo

package hal

import (
	"fmt"

	"github.com/mattn/go-tty"
)

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

func (k *hostKeyboard) emit(ev KeyEvent) {
	select {
	case k.ch <- ev:
	default:
	}
}

// attachTTY reads raw key presses from the controlling terminal until the
// returned stop function is called.
func (k *hostKeyboard) attachTTY() (stop func(), err error) {
	t, err := tty.Open()
	if err != nil {
		return nil, fmt.Errorf("open tty: %w", err)
	}
	go func() {
		for {
			r, err := t.ReadRune()
			if err != nil {
				return
			}
			k.emit(keyEventFromRune(r))
		}
	}()
	return func() { _ = t.Close() }, nil
}

func keyEventFromRune(r rune) KeyEvent {
	switch r {
	case '\r', '\n':
		return KeyEvent{Code: KeyEnter, Press: true}
	case 0x1b:
		return KeyEvent{Code: KeyEscape, Press: true}
	case 0x7f, 0x08:
		return KeyEvent{Code: KeyBackspace, Press: true}
	}
	return KeyEvent{Press: true, Rune: r}
}
