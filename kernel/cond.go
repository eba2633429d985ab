package kernel

// Cond is a condition variable used together with a Mutex.
type Cond struct {
	s       *Scheduler
	waiters ThreadQueue
}

func (s *Scheduler) NewCond() *Cond {
	c := &Cond{s: s}
	c.waiters.init(s)
	return c
}

// Wait atomically releases m and sleeps until Signal or Broadcast, then
// relocks m before returning.
//
// The thread only sleeps if it is still on the wait queue once m is
// released. With this package's Mutex that always holds: Unlock hands m over
// without switching and runs with interrupts masked, so nothing can signal c
// in between.
func (c *Cond) Wait(m *Mutex) {
	s := c.s
	st := s.lock()
	cur := s.current
	if cur == nil {
		s.fatalf("cond wait without a current thread")
	}
	s.enqueueWaitLocked(&c.waiters, cur)
	m.Unlock()
	if cur.waitingOn == &c.waiters {
		s.dispatch(false)
	}
	s.unlock(st)
	m.Lock()
}

// Signal wakes the longest waiting thread, if any.
func (c *Cond) Signal() {
	st := c.s.lock()
	defer c.s.unlock(st)
	c.waiters.wakeupOneLocked()
}

// Broadcast wakes every waiting thread.
func (c *Cond) Broadcast() { c.s.WakeupAll(&c.waiters) }

// Waiters returns the number of sleeping threads.
func (c *Cond) Waiters() int { return c.waiters.Len() }
