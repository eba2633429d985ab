// Package app assembles a running spindle system on a HAL: the scheduler,
// interrupt bridges for time and keyboard, and a handful of demo threads
// talking over ipc, all shown live by the monitor.
package app

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"spindle/hal"
	"spindle/internal/buildinfo"
	"spindle/ipc"
	"spindle/kernel"
	"spindle/klog"
	"spindle/monitor"
)

// ErrQuit is returned by the step function after the system shut down on
// request.
var ErrQuit = errors.New("app: quit")

type Config struct {
	LogLevel klog.Level
	// BootPriority is the priority of the main thread once it has started
	// the system.
	BootPriority int
	// StackSize is the stack given to each demo thread; 0 selects the
	// scheduler default.
	StackSize int
	// ProduceEvery is the producer period in timer ticks.
	ProduceEvery uint64
	// RefreshEvery is the monitor refresh period in timer ticks.
	RefreshEvery uint64
}

func (c *Config) setDefaults() {
	if c.LogLevel == klog.Nothing {
		c.LogLevel = klog.InfoLevel
	}
	if c.BootPriority == 0 {
		c.BootPriority = 32
	}
	if c.ProduceEvery == 0 {
		c.ProduceEvery = 250
	}
	if c.RefreshEvery == 0 {
		c.RefreshEvery = 50
	}
}

type system struct {
	h   hal.HAL
	cfg Config
	log *klog.Logger
	s   *kernel.Scheduler
	r   *ipc.Router
	mon *monitor.Monitor

	stats *ipc.SharedBuffer
	once  *kernel.OnceControl

	// ticks is written by the timer interrupt handler only.
	ticks uint64
	clock *kernel.ThreadQueue
	keys  *kernel.MessageQueue[hal.KeyEvent]

	stopping bool
	stop     *kernel.ThreadQueue
	threads  []*kernel.Thread

	err  atomic.Pointer[error]
	done chan struct{}
}

// New initializes and starts the system with default config.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// Run starts the system and blocks forever (TinyGo/native entrypoint).
func Run(h hal.HAL) {
	RunWithConfig(h, Config{})
}

// NewWithConfig starts the system on its own flow and returns a step
// function for the host loop. The step function reports a fatal scheduler
// error, or ErrQuit once the system stopped.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	sys := newSystem(h, cfg)
	go sys.run()
	return sys.step
}

func RunWithConfig(h hal.HAL, cfg Config) {
	_ = NewWithConfig(h, cfg)
	select {}
}

func newSystem(h hal.HAL, cfg Config) *system {
	cfg.setDefaults()
	sys := &system{
		h:    h,
		cfg:  cfg,
		log:  klog.New(h.Logger(), cfg.LogLevel),
		done: make(chan struct{}),
	}
	sys.s = kernel.New(h.CPU(), h.Memory(), kernel.Config{
		Log:            sys.log,
		PanicHandler:   sys.panicHandler(),
		PublishThreads: true,
	})
	return sys
}

func (sys *system) step() error {
	if p := sys.err.Load(); p != nil {
		return *p
	}
	select {
	case <-sys.done:
		return ErrQuit
	default:
		return nil
	}
}

func (sys *system) fail(err error) {
	sys.err.CompareAndSwap(nil, &err)
}

// run is the bootstrap flow: it becomes the main thread, starts everything
// and then sleeps until a shutdown is requested.
func (sys *system) run() {
	defer close(sys.done)
	defer func() {
		if r := recover(); r != nil {
			sys.fail(fmt.Errorf("app: main thread: %v", r))
		}
	}()

	bootDiagStart(sys.h)
	s := sys.s
	s.Bootstrap("main", kernel.PriorityHighest)
	bootScreen(sys.h, "starting threads")

	if err := sys.setup(); err != nil {
		sys.fail(err)
		return
	}
	sys.log.Infof("spindle %s: %d threads up", buildinfo.Short(), len(sys.threads))

	s.SetPriority(s.Current(), sys.cfg.BootPriority)
	for !sys.stopping {
		sys.stop.Sleep()
	}
	sys.shutdown()
}

func (sys *system) setup() error {
	s := sys.s
	sys.r = ipc.NewRouter(s, sys.log)
	sys.stats = ipc.NewSharedBuffer(s)
	sys.once = s.NewOnceControl()
	sys.clock = s.NewThreadQueue()
	sys.stop = s.NewThreadQueue()

	keys, err := kernel.NewMessageQueue[hal.KeyEvent](s, 16)
	if err != nil {
		return err
	}
	sys.keys = keys

	if fb := sys.framebuffer(); fb != nil {
		mon, err := monitor.New(s, fb, monitor.Config{Status: sys.status})
		if err != nil {
			return err
		}
		sys.mon = mon
		sys.log.Tee(func(line string) {
			// Per-switch debug lines would keep the monitor busy forever.
			if !strings.HasPrefix(line, "DEBUG: ") {
				mon.Log(line)
			}
		})
	}

	type def struct {
		name string
		prio int
		fn   func()
	}
	defs := []def{
		{"keys", 10, sys.keyThread},
		{"consumer", 20, sys.consumerThread},
		{"producer", 20, sys.producerThread},
		{"reporter", 30, sys.reporterThread},
	}
	if sys.mon != nil {
		defs = append(defs, def{"monitor", 40, sys.mon.Run})
	}
	for _, d := range defs {
		fn := d.fn
		t, err := s.NewThread(func(any) any { fn(); return nil }, nil, kernel.ThreadConfig{
			Name:      d.name,
			Priority:  d.prio,
			StackSize: sys.cfg.StackSize,
		})
		if err != nil {
			return fmt.Errorf("start %s: %w", d.name, err)
		}
		sys.threads = append(sys.threads, t)
	}

	sys.startInterrupts()
	return nil
}

func (sys *system) framebuffer() hal.Framebuffer {
	if d := sys.h.Display(); d != nil {
		return d.Framebuffer()
	}
	return nil
}

// startInterrupts bridges host channels onto interrupt lines. Handlers run
// on the scheduler flow with interrupts masked.
func (sys *system) startInterrupts() {
	cpu := sys.h.CPU()
	if t := sys.h.Time(); t != nil {
		if ch := t.Ticks(); ch != nil {
			line := cpu.NewInterruptLine("timer")
			go func() {
				defer line.Close()
				for seq := range ch {
					line.Raise(func() { sys.onTick(seq) })
				}
			}()
		}
	}
	if kb := sys.h.Keyboard(); kb != nil {
		if ch := kb.Events(); ch != nil {
			line := cpu.NewInterruptLine("keyboard")
			go func() {
				defer line.Close()
				for ev := range ch {
					line.Raise(func() { sys.onKey(ev) })
				}
			}()
		}
	}
}

func (sys *system) onTick(seq uint64) {
	sys.ticks = seq
	sys.clock.WakeupAll()
	if sys.mon != nil && seq%sys.cfg.RefreshEvery == 0 {
		sys.mon.Refresh()
	}
}

func (sys *system) onKey(ev hal.KeyEvent) {
	if !sys.keys.TrySend(ev) {
		sys.log.Warnf("keyboard: dropped key %d", ev.Code)
	}
}

// sleepTicks blocks the calling thread for at least n timer ticks.
func (sys *system) sleepTicks(n uint64) {
	deadline := sys.ticks + n
	for sys.ticks < deadline {
		sys.clock.Sleep()
	}
}

func (sys *system) announce() {
	if sys.once.Once() {
		sys.log.Infof("ipc: endpoints online")
		sys.once.Done()
	}
}

func (sys *system) keyThread() {
	for {
		ev := sys.keys.Receive()
		if !ev.Press {
			continue
		}
		switch {
		case ev.Code == hal.KeyEscape:
			sys.log.Infof("keys: escape, shutting down")
			sys.stopping = true
			sys.stop.WakeupAll()
		case ev.Rune != 0:
			sys.log.Infof("keys: %q", ev.Rune)
		default:
			sys.log.Infof("keys: code %d", ev.Code)
		}
	}
}

func (sys *system) consumerThread() {
	port, err := sys.r.Open(ipc.EPConsumer, 4)
	if err != nil {
		sys.log.Errorf("consumer: %v", err)
		return
	}
	sys.announce()

	var sum, n uint64
	for {
		req := port.Receive()
		if req.Kind != ipc.KindRequest || req.Len < 8 {
			continue
		}
		sum += binary.LittleEndian.Uint64(req.Payload())
		n++
		sys.stats.Write([]byte(fmt.Sprintf("n=%d sum=%d", n, sum)))

		var out [8]byte
		binary.LittleEndian.PutUint64(out[:], sum)
		if err := port.Reply(req, out[:]); err != nil {
			sys.log.Warnf("consumer: reply: %v", err)
		}
	}
}

func (sys *system) producerThread() {
	port, err := sys.r.Open(ipc.EPProducer, 1)
	if err != nil {
		sys.log.Errorf("producer: %v", err)
		return
	}
	sys.announce()

	for i := uint64(1); ; i++ {
		sys.sleepTicks(sys.cfg.ProduceEvery)

		var in [8]byte
		binary.LittleEndian.PutUint64(in[:], i)
		reply, err := port.Call(ipc.EPConsumer, in[:])
		if err != nil {
			sys.log.Errorf("producer: %v", err)
			return
		}
		sys.log.Debugf("producer: sent %d, total %d", i, binary.LittleEndian.Uint64(reply.Payload()))
	}
}

func (sys *system) reporterThread() {
	buf := make([]byte, ipc.MaxMessageBytes)
	var seq uint32
	for {
		var n int
		seq, n = sys.stats.WaitNewer(seq, buf)
		if seq%8 == 0 {
			sys.log.Infof("stats: %s", buf[:n])
		}
	}
}

func (sys *system) status() string {
	var buf [64]byte
	_, n := sys.stats.Read(buf[:])
	return fmt.Sprintf("tick %d  %s", sys.ticks, buf[:n])
}

func (sys *system) shutdown() {
	for i := len(sys.threads) - 1; i >= 0; i-- {
		sys.threads[i].Destroy()
	}
	info := sys.s.Debug()
	sys.log.Infof("spindle: stopped after %d switches", info.Switches)
}
