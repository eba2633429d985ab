package kernel

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"spindle/hal"
	"spindle/klog"
)

const DefaultStackSize = 16 * 1024

// Config tunes a Scheduler.
type Config struct {
	Log *klog.Logger
	// PanicHandler is called once, on the first fatal error or thread panic.
	PanicHandler func(PanicInfo)
	// DefaultStackSize applies to threads created without a stack size.
	DefaultStackSize int
	// PublishThreads adds a per-thread table to every Debug snapshot.
	PublishThreads bool
}

// Scheduler is the cooperative, priority-ordered thread scheduler.
//
// All of its state is mutated with interrupts masked on the CPU it drives;
// that is its only mutual exclusion. Exactly one thread is current at a time,
// or none while the CPU idles.
type Scheduler struct {
	cpu hal.CPU
	mem hal.Memory
	log *klog.Logger
	cfg Config

	current *Thread
	threads threadList
	runq    [NumPriorities]threadList
	// ready has bit p set iff runq[p] is non-empty.
	ready  uint64
	nextID ThreadID

	stray *strayStack

	switches uint64
	debug    atomic.Pointer[DebugInfo]

	panicActive atomic.Bool
	panicOnce   sync.Once
}

// New returns a scheduler driving cpu and allocating stacks from mem.
func New(cpu hal.CPU, mem hal.Memory, cfg Config) *Scheduler {
	if cfg.DefaultStackSize <= 0 {
		cfg.DefaultStackSize = DefaultStackSize
	}
	s := &Scheduler{cpu: cpu, mem: mem, log: cfg.Log, cfg: cfg}
	s.threads.kind = linkAll
	for p := range s.runq {
		s.runq[p].kind = linkRun
	}
	s.publish()
	return s
}

func (s *Scheduler) lock() hal.InterruptState    { return s.cpu.DisableInterrupts() }
func (s *Scheduler) unlock(st hal.InterruptState) { s.cpu.RestoreInterrupts(st) }

func clampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

// Bootstrap adopts the calling flow as the bootstrap thread, which has no
// entry function, and makes it current.
func (s *Scheduler) Bootstrap(name string, priority int) *Thread {
	st := s.lock()
	defer s.unlock(st)
	if s.current != nil {
		s.fatalf("bootstrap while thread %d is current", s.current.id)
	}
	s.nextID++
	t := &Thread{
		s:        s,
		id:       s.nextID,
		name:     name,
		state:    StateRunning,
		priority: clampPriority(priority),
		ctx:      s.cpu.BootContext(),
	}
	t.joiners.init(s)
	s.threads.pushBack(t)
	s.current = t
	s.log.Infof("sched: bootstrap thread %d (%s) prio %d", t.id, t.name, t.priority)
	s.publish()
	return t
}

// NewThread creates a thread running entry(arg).
//
// The thread is runnable immediately unless cfg.Suspended is set; creating a
// thread never switches. When no stack is supplied one is allocated, and a
// failed allocation fails the creation with ErrNoMemory.
func (s *Scheduler) NewThread(entry ThreadFunc, arg any, cfg ThreadConfig) (*Thread, error) {
	if entry == nil {
		return nil, fmt.Errorf("new thread %q: %w", cfg.Name, ErrNoEntry)
	}

	stack, owned := cfg.Stack, false
	if stack == nil {
		size := cfg.StackSize
		if size <= 0 {
			size = s.cfg.DefaultStackSize
		}
		var err error
		stack, err = s.mem.AllocStack(size)
		if err != nil {
			return nil, fmt.Errorf("new thread %q: %w: %w", cfg.Name, ErrNoMemory, err)
		}
		owned = true
	}

	t := &Thread{
		s:         s,
		name:      cfg.Name,
		priority:  clampPriority(cfg.Priority),
		entry:     entry,
		arg:       arg,
		stack:     stack,
		ownsStack: owned,
	}
	t.joiners.init(s)
	t.ctx = s.cpu.NewContext(func() { s.trampoline(t) })

	st := s.lock()
	s.nextID++
	t.id = s.nextID
	s.threads.pushBack(t)
	if cfg.Suspended {
		t.state = StateSuspended
	} else {
		t.state = StateRunning
		s.enqueueReady(t)
	}
	s.log.Infof("sched: created thread %d (%s) prio %d stack %d", t.id, t.name, t.priority, len(t.stack))
	s.publish()
	s.unlock(st)
	return t, nil
}

// Go is NewThread for a function without argument or result.
func (s *Scheduler) Go(name string, priority int, fn func()) (*Thread, error) {
	return s.NewThread(func(any) any { fn(); return nil }, nil, ThreadConfig{Name: name, Priority: priority})
}

// Current returns the running thread, or nil while idling.
func (s *Scheduler) Current() *Thread {
	st := s.lock()
	defer s.unlock(st)
	return s.current
}

// Exit terminates the calling thread with result. It does not return.
func (s *Scheduler) Exit(result any) {
	cur := s.Current()
	if cur == nil {
		s.fatalf("exit without a current thread")
	}
	cur.Exit(result)
}

// Destroy destroys t; see Thread.Destroy.
func (s *Scheduler) Destroy(t *Thread) { t.Destroy() }

// Sleep blocks the calling thread, on q when q is non-nil, until Wakeup.
func (s *Scheduler) Sleep(q *ThreadQueue) {
	st := s.lock()
	defer s.unlock(st)
	s.sleepLocked(q)
}

func (s *Scheduler) sleepLocked(q *ThreadQueue) {
	cur := s.current
	if cur == nil {
		s.fatalf("sleep without a current thread")
	}
	if q != nil {
		s.enqueueWaitLocked(q, cur)
	} else {
		cur.state = StateWaiting
	}
	s.dispatch(false)
}

// enqueueWaitLocked parks t on q in the Waiting state without switching.
func (s *Scheduler) enqueueWaitLocked(q *ThreadQueue, t *Thread) {
	switch t.state {
	case StateRunning:
		if t != s.current {
			s.removeReady(t)
		}
	case StateWaiting:
		s.detachWait(t)
	}
	t.state = StateWaiting
	q.list.pushBack(t)
	t.waitingOn = q
}

func (s *Scheduler) detachWait(t *Thread) {
	if q := t.waitingOn; q != nil {
		q.list.remove(t)
		t.waitingOn = nil
	}
}

// Wakeup makes a waiting thread runnable. It never switches; the woken
// thread runs at the next switch point. Safe to call from interrupt handlers.
func (s *Scheduler) Wakeup(t *Thread) {
	st := s.lock()
	defer s.unlock(st)
	s.wakeupLocked(t)
}

func (s *Scheduler) wakeupLocked(t *Thread) {
	if t == nil || t.state != StateWaiting {
		return
	}
	s.detachWait(t)
	t.state = StateRunning
	if t != s.current {
		s.enqueueReady(t)
	}
}

// WakeupAll wakes every thread on q in queue order and empties q.
func (s *Scheduler) WakeupAll(q *ThreadQueue) {
	st := s.lock()
	defer s.unlock(st)
	s.wakeupAllLocked(q)
}

func (s *Scheduler) wakeupAllLocked(q *ThreadQueue) {
	for {
		t := q.list.popFront()
		if t == nil {
			return
		}
		t.waitingOn = nil
		if t.state == StateWaiting {
			t.state = StateRunning
			if t != s.current {
				s.enqueueReady(t)
			}
		}
	}
}

// Yield gives the CPU to the most urgent ready thread, even a less urgent
// one. With nothing else ready it returns immediately.
func (s *Scheduler) Yield() {
	st := s.lock()
	defer s.unlock(st)
	if s.current == nil {
		return
	}
	s.dispatch(true)
}

// Resume makes a suspended thread runnable. It never switches.
func (s *Scheduler) Resume(t *Thread) bool {
	st := s.lock()
	defer s.unlock(st)
	if t.state != StateSuspended {
		return false
	}
	t.state = StateRunning
	s.enqueueReady(t)
	return true
}

// Suspend stops a running thread until Resume. Suspending the calling thread
// switches away.
func (s *Scheduler) Suspend(t *Thread) bool {
	st := s.lock()
	defer s.unlock(st)
	if t.state != StateRunning {
		return false
	}
	t.state = StateSuspended
	if t != s.current {
		s.removeReady(t)
		return true
	}
	s.dispatch(false)
	return true
}

// SetPriority changes t's priority, then lets a more urgent ready thread
// preempt the caller.
func (s *Scheduler) SetPriority(t *Thread, priority int) {
	st := s.lock()
	defer s.unlock(st)
	priority = clampPriority(priority)
	if t.state == StateRunning && t != s.current {
		s.removeReady(t)
		t.priority = priority
		s.enqueueReady(t)
	} else {
		t.priority = priority
	}
	if s.current != nil && s.current.state == StateRunning {
		s.dispatch(false)
	}
}

func (s *Scheduler) enqueueReady(t *Thread) {
	s.runq[t.priority].pushBack(t)
	s.ready |= 1 << uint(t.priority)
}

func (s *Scheduler) removeReady(t *Thread) {
	q := &s.runq[t.priority]
	q.remove(t)
	if q.empty() {
		s.ready &^= 1 << uint(t.priority)
	}
}

// bestReady returns the most urgent non-empty priority, or -1.
func (s *Scheduler) bestReady() int {
	if s.ready == 0 {
		return -1
	}
	return bits.TrailingZeros64(s.ready)
}

func (s *Scheduler) dequeueReady() *Thread {
	p := s.bestReady()
	if p < 0 {
		return nil
	}
	q := &s.runq[p]
	t := q.popFront()
	if q.empty() {
		s.ready &^= 1 << uint(p)
	}
	return t
}

// dispatch is the only switch point. Interrupts must be masked.
//
// A running current thread keeps the CPU unless yielding or a strictly more
// urgent thread is ready. When nothing can run the CPU idles until an
// interrupt handler wakes a thread.
func (s *Scheduler) dispatch(yield bool) {
	prev := s.current
	if prev != nil && prev.state == StateRunning {
		best := s.bestReady()
		if !yield && (best < 0 || best >= prev.priority) {
			return
		}
		s.enqueueReady(prev)
	}

	s.current = nil
	next := s.dequeueReady()
	for next == nil {
		if !s.cpu.Idle() {
			s.fatalf("deadlock: no thread to run and no interrupt source")
		}
		next = s.dequeueReady()
	}
	s.current = next

	if next == prev {
		s.publish()
		return
	}
	s.switches++
	s.publish()

	var from hal.Context
	if prev != nil {
		s.log.Debugf("sched: switch %d (%s, %s) -> %d (%s)", prev.id, prev.name, prev.state, next.id, next.name)
		if prev.state != StateExited && prev.state != StateDisabled {
			from = prev.ctx
		}
	} else {
		s.log.Debugf("sched: switch idle -> %d (%s)", next.id, next.name)
	}
	s.cpu.SwitchTo(from, next.ctx)

	// Resumed as prev.
	s.reapStray()
}
