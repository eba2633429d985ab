package kernel

import (
	"spindle/hal"
)

// ThreadID identifies a thread. IDs increase monotonically from 1.
type ThreadID uint32

// State is a thread's lifecycle state.
type State uint8

const (
	StateDisabled State = iota
	StateRunning
	StateSuspended
	StateWaiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateWaiting:
		return "waiting"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

const (
	NumPriorities   = 64
	PriorityHighest = 0
	PriorityLowest  = NumPriorities - 1
)

// ThreadFunc is a thread entry point. Its return value becomes the thread's
// exit result.
type ThreadFunc func(arg any) any

// ThreadConfig describes a new thread.
type ThreadConfig struct {
	Name string
	// Priority is clamped to [PriorityHighest, PriorityLowest]; lower is
	// more urgent.
	Priority int
	// Stack is borrowed when set and never freed by the scheduler.
	Stack []byte
	// StackSize is used when Stack is nil; 0 selects the scheduler default.
	StackSize int
	// Suspended creates the thread without making it runnable.
	Suspended bool
}

// Thread is a schedulable flow of execution.
type Thread struct {
	s *Scheduler

	id       ThreadID
	name     string
	state    State
	priority int

	entry ThreadFunc
	arg   any
	ctx   hal.Context

	stack     []byte
	ownsStack bool

	result any
	exited bool

	links     [numLinks]threadLink
	waitingOn *ThreadQueue
	joiners   ThreadQueue

	// locks counts mutexes this thread owns.
	locks int
}

func (t *Thread) ID() ThreadID   { return t.id }
func (t *Thread) Name() string   { return t.name }
func (t *Thread) StackSize() int { return len(t.stack) }
func (t *Thread) OwnsStack() bool { return t.ownsStack }

// State returns the thread's current state.
func (t *Thread) State() State {
	st := t.s.lock()
	defer t.s.unlock(st)
	return t.state
}

// Priority returns the thread's current priority.
func (t *Thread) Priority() int {
	st := t.s.lock()
	defer t.s.unlock(st)
	return t.priority
}

// WaitingOn returns the queue the thread sleeps on, or nil.
func (t *Thread) WaitingOn() *ThreadQueue {
	st := t.s.lock()
	defer t.s.unlock(st)
	return t.waitingOn
}

// Join waits for t to exit and returns its result.
//
// It reports false when called without a current thread, on the calling
// thread itself, or on a destroyed thread. A thread destroyed while others
// are joined to it releases them with false.
func (t *Thread) Join() (any, bool) {
	s := t.s
	st := s.lock()
	defer s.unlock(st)

	cur := s.current
	if cur == nil || cur == t || t.state == StateDisabled {
		return nil, false
	}
	for !t.exited && t.state != StateDisabled {
		s.sleepLocked(&t.joiners)
	}
	if !t.exited {
		return nil, false
	}
	return t.result, true
}

// Exit terminates t with result.
//
// When t is the calling thread, Exit does not return: the thread's stack is
// unwound (running deferred calls) and the scheduler switches away. A
// recover in thread code must re-panic values it does not recognise or it
// will swallow the exit.
func (t *Thread) Exit(result any) {
	s := t.s
	st := s.lock()
	if t.state == StateDisabled || t.state == StateExited {
		s.unlock(st)
		return
	}
	if t != s.current {
		s.exitLocked(t, result)
		s.cpu.Release(t.ctx)
		s.unlock(st)
		return
	}
	if t.entry != nil {
		s.unlock(st)
		panic(&threadUnwind{t: t, result: result})
	}

	// The boot thread has no trampoline to unwind to.
	s.exitLocked(t, result)
	s.dispatch(false)
	s.fatalf("unreachable: thread %d resumed after exit", t.id)
}

// Destroy removes t from the scheduler and releases its stack.
//
// Destroying an already destroyed thread is a no-op. Destroying the calling
// thread does not return; its stack is staged and released by the next
// thread to run.
func (t *Thread) Destroy() {
	s := t.s
	st := s.lock()
	if t.state == StateDisabled {
		s.unlock(st)
		return
	}
	if t.locks > 0 {
		s.fatalf("destroy of thread %d holding %d mutexes", t.id, t.locks)
	}
	if t != s.current {
		s.destroyLocked(t)
		s.unlock(st)
		return
	}
	if t.entry != nil {
		s.unlock(st)
		panic(&threadUnwind{t: t, destroy: true})
	}
	s.destroyCurrentLocked(t)
}

// threadUnwind carries an Exit or Destroy of the current thread up to its
// trampoline.
type threadUnwind struct {
	t       *Thread
	result  any
	destroy bool
}

// trampoline is the first frame of every created thread.
func (s *Scheduler) trampoline(t *Thread) {
	// Still masked from the dispatch that started us.
	s.reapStray()
	s.cpu.RestoreInterrupts(false)

	result, u := s.runEntry(t)

	s.lock()
	if u != nil && u.destroy {
		if t.locks > 0 {
			s.fatalf("destroy of thread %d holding %d mutexes", t.id, t.locks)
		}
		s.destroyCurrentLocked(t)
		return
	}
	s.exitLocked(t, result)
	s.dispatch(false)
	s.fatalf("unreachable: thread %d resumed after exit", t.id)
}

func (s *Scheduler) runEntry(t *Thread) (result any, u *threadUnwind) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if uw, ok := r.(*threadUnwind); ok && uw.t == t {
			result, u = uw.result, uw
			return
		}
		s.threadPanic(t, r)
	}()
	return t.entry(t.arg), nil
}

func (s *Scheduler) exitLocked(t *Thread, result any) {
	switch t.state {
	case StateRunning:
		if t != s.current {
			s.removeReady(t)
		}
	case StateWaiting:
		s.detachWait(t)
	}
	t.result = result
	t.exited = true
	t.state = StateExited
	s.log.Infof("sched: thread %d (%s) exited", t.id, t.name)
	s.wakeupAllLocked(&t.joiners)
}

func (s *Scheduler) destroyLocked(t *Thread) {
	s.threads.remove(t)
	switch t.state {
	case StateRunning:
		s.removeReady(t)
	case StateWaiting:
		s.detachWait(t)
	}
	t.state = StateDisabled
	s.wakeupAllLocked(&t.joiners)
	if t.ownsStack {
		s.mem.FreeStack(t.stack)
	}
	t.stack = nil
	s.cpu.Release(t.ctx)
	s.log.Infof("sched: thread %d (%s) destroyed", t.id, t.name)
	s.publish()
}

// destroyCurrentLocked never returns.
func (s *Scheduler) destroyCurrentLocked(t *Thread) {
	s.threads.remove(t)
	s.current = nil
	t.state = StateDisabled
	s.wakeupAllLocked(&t.joiners)
	s.stageStray(t)
	s.log.Infof("sched: thread %d (%s) destroyed itself", t.id, t.name)
	s.dispatch(false)
	s.fatalf("unreachable: destroyed thread %d resumed", t.id)
}
