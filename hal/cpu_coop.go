package hal

import (
	"runtime"
	"sync/atomic"
)

const pendingInterrupts = 64

// CoopCPU is a CPU whose execution states are goroutines.
//
// A single baton is passed between contexts: SwitchTo wakes the target and
// parks the caller, so exactly one context runs at a time. Interrupt handlers
// raised from other goroutines are queued and executed by whichever context
// holds the baton, when it re-enables interrupts or idles.
type CoopCPU struct {
	_ [0]func() // prevent accidental copying.

	// masked and running are only touched by the context holding the baton.
	masked  bool
	running *coopContext

	irq   chan func()
	lines atomic.Int32
	nudge chan struct{}
}

// NewCoopCPU returns a CPU with interrupts enabled and no interrupt lines.
func NewCoopCPU() *CoopCPU {
	return &CoopCPU{
		irq:   make(chan func(), pendingInterrupts),
		nudge: make(chan struct{}, 1),
	}
}

type coopContext struct {
	entry    func()
	boot     bool
	started  bool
	released bool
	resume   chan struct{}
}

// BootContext adopts the calling goroutine, which must hold the baton.
func (c *CoopCPU) BootContext() Context {
	cc := &coopContext{boot: true, started: true, resume: make(chan struct{}, 1)}
	c.running = cc
	return cc
}

func (c *CoopCPU) NewContext(entry func()) Context {
	return &coopContext{entry: entry, resume: make(chan struct{}, 1)}
}

func (c *CoopCPU) SwitchTo(from, to Context) {
	next := to.(*coopContext)
	if next.released {
		panic("hal: switch to released context")
	}
	var prev *coopContext
	if from != nil {
		prev = from.(*coopContext)
	}
	if prev == next {
		return
	}
	leaving := c.running
	c.running = next

	if !next.started {
		next.started = true
		go next.run()
	} else {
		next.resume <- struct{}{}
	}

	if prev == nil {
		// The boot goroutine may still have deferred calls pending; park it
		// so they never run.
		if leaving != nil && leaving.boot {
			select {}
		}
		runtime.Goexit()
	}
	<-prev.resume
}

func (cc *coopContext) run() {
	cc.entry()
	panic("hal: context entry returned")
}

// Release retires ctx. A context parked in SwitchTo is never resumed again,
// so its deferred calls never run.
func (c *CoopCPU) Release(ctx Context) {
	if ctx == nil {
		return
	}
	cc := ctx.(*coopContext)
	cc.released = true
	cc.entry = nil
}

func (c *CoopCPU) DisableInterrupts() InterruptState {
	prev := c.masked
	c.masked = true
	return InterruptState(prev)
}

func (c *CoopCPU) RestoreInterrupts(s InterruptState) {
	c.masked = bool(s)
	if !c.masked {
		c.deliverPending()
	}
}

// Masked reports whether interrupts are currently masked.
func (c *CoopCPU) Masked() bool { return c.masked }

func (c *CoopCPU) deliverPending() {
	for {
		select {
		case h := <-c.irq:
			c.service(h)
		default:
			return
		}
	}
}

func (c *CoopCPU) service(h func()) {
	prev := c.masked
	c.masked = true
	h()
	c.masked = prev
}

func (c *CoopCPU) Idle() bool {
	for {
		select {
		case h := <-c.irq:
			c.service(h)
			return true
		default:
		}
		if c.lines.Load() == 0 {
			return false
		}
		select {
		case h := <-c.irq:
			c.service(h)
			return true
		case <-c.nudge:
		}
	}
}

func (c *CoopCPU) NewInterruptLine(name string) InterruptLine {
	c.lines.Add(1)
	return &coopLine{cpu: c, name: name}
}

type coopLine struct {
	cpu    *CoopCPU
	name   string
	closed atomic.Bool
}

func (l *coopLine) Name() string { return l.name }

// Raise queues handler, returning false if the line is closed or too many
// interrupts are already pending.
func (l *coopLine) Raise(handler func()) bool {
	if handler == nil || l.closed.Load() {
		return false
	}
	select {
	case l.cpu.irq <- handler:
		return true
	default:
		return false
	}
}

func (l *coopLine) Close() {
	if l.closed.Swap(true) {
		return
	}
	l.cpu.lines.Add(-1)
	select {
	case l.cpu.nudge <- struct{}{}:
	default:
	}
}
