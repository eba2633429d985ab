package kernel

type linkKind uint8

const (
	linkAll linkKind = iota
	linkRun
	linkWait
	numLinks
)

type threadLink struct {
	prev, next *Thread
	list       *threadList
}

// threadList is an intrusive FIFO threaded through one of a thread's links.
// A thread can sit on one list of each kind at a time.
type threadList struct {
	kind       linkKind
	head, tail *Thread
	n          int
}

func (l *threadList) empty() bool   { return l.head == nil }
func (l *threadList) front() *Thread { return l.head }

func (l *threadList) contains(t *Thread) bool {
	return t.links[l.kind].list == l
}

func (l *threadList) pushBack(t *Thread) {
	lk := &t.links[l.kind]
	if lk.list != nil {
		panic("kernel: thread already linked")
	}
	lk.list = l
	lk.prev = l.tail
	lk.next = nil
	if l.tail != nil {
		l.tail.links[l.kind].next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.n++
}

func (l *threadList) remove(t *Thread) {
	lk := &t.links[l.kind]
	if lk.list != l {
		return
	}
	if lk.prev != nil {
		lk.prev.links[l.kind].next = lk.next
	} else {
		l.head = lk.next
	}
	if lk.next != nil {
		lk.next.links[l.kind].prev = lk.prev
	} else {
		l.tail = lk.prev
	}
	*lk = threadLink{}
	l.n--
}

func (l *threadList) popFront() *Thread {
	t := l.head
	if t != nil {
		l.remove(t)
	}
	return t
}

func (l *threadList) each(fn func(*Thread)) {
	for t := l.head; t != nil; t = t.links[l.kind].next {
		fn(t)
	}
}
