package kernel

import "fmt"

// MessageQueue is a bounded FIFO of values shared by sending and receiving
// threads. Senders and receivers sleep on a single wait queue.
//
// Try variants never sleep and may be called from interrupt handlers.
type MessageQueue[T any] struct {
	s       *Scheduler
	buf     []T
	head    int
	count   int
	waiters ThreadQueue
}

// NewMessageQueue returns an empty queue holding up to capacity values.
func NewMessageQueue[T any](s *Scheduler, capacity int) (*MessageQueue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("message queue of %d: %w", capacity, ErrInvalidCapacity)
	}
	q := &MessageQueue[T]{s: s, buf: make([]T, capacity)}
	q.waiters.init(s)
	return q, nil
}

func (q *MessageQueue[T]) Cap() int { return len(q.buf) }

func (q *MessageQueue[T]) Len() int {
	st := q.s.lock()
	defer q.s.unlock(st)
	return q.count
}

func (q *MessageQueue[T]) full() bool  { return q.count == len(q.buf) }
func (q *MessageQueue[T]) empty() bool { return q.count == 0 }

// notify wakes waiters after a state change. Senders and receivers share
// one wait queue, so the first value into an empty queue or the first slot
// freed in a full one wakes every waiter; each re-checks and the wrong side
// goes back to sleep. A queue left neither empty nor full can satisfy either
// side, so the next waiter is woken too.
func (q *MessageQueue[T]) notify(transition bool) {
	if transition {
		q.s.wakeupAllLocked(&q.waiters)
		return
	}
	if !q.empty() && !q.full() {
		q.waiters.wakeupOneLocked()
	}
}

func (q *MessageQueue[T]) waitLocked(what string, blocked func() bool) {
	if q.s.current == nil && blocked() {
		q.s.fatalf("message queue %s without a current thread", what)
	}
	for blocked() {
		q.s.sleepLocked(&q.waiters)
	}
}

func (q *MessageQueue[T]) pushTail(v T) {
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
}

func (q *MessageQueue[T]) pushHead(v T) {
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = v
	q.count++
}

func (q *MessageQueue[T]) popHead() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}

// Send appends v, sleeping while the queue is full.
func (q *MessageQueue[T]) Send(v T) {
	st := q.s.lock()
	defer q.s.unlock(st)
	q.waitLocked("send", q.full)
	q.pushTail(v)
	q.notify(q.count == 1)
}

// TrySend appends v unless the queue is full.
func (q *MessageQueue[T]) TrySend(v T) bool {
	if q.count == len(q.buf) {
		return false
	}
	st := q.s.lock()
	defer q.s.unlock(st)
	if q.full() {
		return false
	}
	q.pushTail(v)
	q.notify(q.count == 1)
	return true
}

// Jam puts v in front of every queued value, sleeping while the queue is
// full.
func (q *MessageQueue[T]) Jam(v T) {
	st := q.s.lock()
	defer q.s.unlock(st)
	q.waitLocked("jam", q.full)
	q.pushHead(v)
	q.notify(q.count == 1)
}

func (q *MessageQueue[T]) TryJam(v T) bool {
	if q.count == len(q.buf) {
		return false
	}
	st := q.s.lock()
	defer q.s.unlock(st)
	if q.full() {
		return false
	}
	q.pushHead(v)
	q.notify(q.count == 1)
	return true
}

// Receive removes and returns the oldest value, sleeping while the queue is
// empty.
func (q *MessageQueue[T]) Receive() T {
	st := q.s.lock()
	defer q.s.unlock(st)
	q.waitLocked("receive", q.empty)
	v := q.popHead()
	q.notify(q.count == len(q.buf)-1)
	return v
}

func (q *MessageQueue[T]) TryReceive() (T, bool) {
	if q.count == 0 {
		var zero T
		return zero, false
	}
	st := q.s.lock()
	defer q.s.unlock(st)
	if q.empty() {
		var zero T
		return zero, false
	}
	v := q.popHead()
	q.notify(q.count == len(q.buf)-1)
	return v, true
}

// Peek returns the oldest value without removing it, sleeping while the
// queue is empty.
func (q *MessageQueue[T]) Peek() T {
	st := q.s.lock()
	defer q.s.unlock(st)
	q.waitLocked("peek", q.empty)
	return q.buf[q.head]
}

func (q *MessageQueue[T]) TryPeek() (T, bool) {
	st := q.s.lock()
	defer q.s.unlock(st)
	if q.empty() {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}
