package kernel

// Mutex is a sleeping lock owned by a thread.
//
// Unlock hands ownership straight to the longest waiting thread, so a woken
// locker never has to compete for the mutex again.
type Mutex struct {
	s         *Scheduler
	owner     *Thread
	count     int
	recursive bool
	waiters   ThreadQueue
}

// NewMutex returns an unlocked non-recursive mutex.
func (s *Scheduler) NewMutex() *Mutex { return s.newMutex(false) }

// NewRecursiveMutex returns an unlocked mutex its owner may lock repeatedly.
// It must be unlocked as many times as it was locked.
func (s *Scheduler) NewRecursiveMutex() *Mutex { return s.newMutex(true) }

func (s *Scheduler) newMutex(recursive bool) *Mutex {
	m := &Mutex{s: s, recursive: recursive}
	m.waiters.init(s)
	return m
}

func (m *Mutex) Lock() {
	s := m.s
	st := s.lock()
	defer s.unlock(st)

	cur := s.current
	if cur == nil {
		s.fatalf("mutex lock without a current thread")
	}
	if m.acquireLocked(cur) {
		return
	}
	if m.owner == cur {
		s.fatalf("thread %d relocked non-recursive mutex", cur.id)
	}
	for m.owner != cur {
		s.sleepLocked(&m.waiters)
	}
}

// TryLock acquires m if that does not require sleeping.
func (m *Mutex) TryLock() bool {
	s := m.s
	st := s.lock()
	defer s.unlock(st)
	cur := s.current
	if cur == nil {
		return false
	}
	return m.acquireLocked(cur)
}

func (m *Mutex) acquireLocked(cur *Thread) bool {
	switch {
	case m.count == 0:
		m.owner = cur
		m.count = 1
		cur.locks++
		return true
	case m.owner == cur && m.recursive:
		m.count++
		return true
	}
	return false
}

func (m *Mutex) Unlock() {
	s := m.s
	st := s.lock()
	defer s.unlock(st)

	if m.count == 0 {
		s.fatalf("unlock of unlocked mutex")
	}
	if m.owner != s.current {
		var id ThreadID
		if m.owner != nil {
			id = m.owner.id
		}
		s.fatalf("unlock of mutex owned by thread %d", id)
	}
	m.count--
	if m.count > 0 {
		return
	}
	m.owner.locks--
	m.owner = nil

	next := m.waiters.list.front()
	if next == nil {
		return
	}
	m.owner = next
	m.count = 1
	next.locks++
	s.wakeupLocked(next)
}

// Owner returns the owning thread, or nil when unlocked.
func (m *Mutex) Owner() *Thread {
	st := m.s.lock()
	defer m.s.unlock(st)
	return m.owner
}

// Destroy asserts that m is unlocked and has no waiters.
func (m *Mutex) Destroy() {
	s := m.s
	st := s.lock()
	defer s.unlock(st)
	if m.count != 0 {
		s.fatalf("destroy of mutex locked %d times", m.count)
	}
	if !m.waiters.list.empty() {
		s.fatalf("destroy of mutex with %d waiters", m.waiters.list.n)
	}
}
