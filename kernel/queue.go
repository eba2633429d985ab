package kernel

// ThreadQueue is a FIFO of threads sleeping on some condition.
//
// A thread sits on at most one ThreadQueue at a time. The zero value is not
// usable; create queues with NewThreadQueue.
type ThreadQueue struct {
	s    *Scheduler
	list threadList
}

// NewThreadQueue returns an empty wait queue owned by s.
func (s *Scheduler) NewThreadQueue() *ThreadQueue {
	q := &ThreadQueue{}
	q.init(s)
	return q
}

func (q *ThreadQueue) init(s *Scheduler) {
	q.s = s
	q.list.kind = linkWait
}

// Len returns the number of sleeping threads.
func (q *ThreadQueue) Len() int {
	st := q.s.lock()
	defer q.s.unlock(st)
	return q.list.n
}

func (q *ThreadQueue) Empty() bool { return q.Len() == 0 }

// Head returns the thread that would be woken first, or nil.
func (q *ThreadQueue) Head() *Thread {
	st := q.s.lock()
	defer q.s.unlock(st)
	return q.list.front()
}

// Enqueue moves t onto q in the Waiting state without switching. Used to
// register a thread as a waiter before it actually sleeps.
func (q *ThreadQueue) Enqueue(t *Thread) {
	st := q.s.lock()
	defer q.s.unlock(st)
	q.s.enqueueWaitLocked(q, t)
}

// Sleep blocks the calling thread on q.
func (q *ThreadQueue) Sleep() { q.s.Sleep(q) }

// WakeupOne wakes the thread at the head of q and reports whether there was
// one.
func (q *ThreadQueue) WakeupOne() bool {
	st := q.s.lock()
	defer q.s.unlock(st)
	return q.wakeupOneLocked()
}

func (q *ThreadQueue) wakeupOneLocked() bool {
	t := q.list.front()
	if t == nil {
		return false
	}
	q.s.wakeupLocked(t)
	return true
}

// WakeupAll wakes every thread on q in FIFO order.
func (q *ThreadQueue) WakeupAll() { q.s.WakeupAll(q) }
