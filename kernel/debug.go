package kernel

import "spindle/hal"

// ThreadInfo is one row of the published thread table.
type ThreadInfo struct {
	ID        ThreadID
	Name      string
	State     State
	Priority  int
	StackSize int
	Locks     int
	// Queued is set while the thread sleeps on a wait queue.
	Queued    bool
}

// DebugInfo is the scheduler state published on every dispatch for
// debuggers and monitors.
type DebugInfo struct {
	Current  ThreadID
	Head     ThreadID
	Tail     ThreadID
	Threads  []ThreadInfo
	Switches uint64
	Count    int
	Ready    uint64
}

// Debug returns the most recently published snapshot. Safe to call from any
// goroutine.
func (s *Scheduler) Debug() DebugInfo {
	if p := s.debug.Load(); p != nil {
		return *p
	}
	return DebugInfo{}
}

func (s *Scheduler) publish() {
	info := &DebugInfo{
		Switches: s.switches,
		Count:    s.threads.n,
		Ready:    s.ready,
	}
	if s.current != nil {
		info.Current = s.current.id
	}
	if t := s.threads.head; t != nil {
		info.Head = t.id
	}
	if t := s.threads.tail; t != nil {
		info.Tail = t.id
	}
	if s.cfg.PublishThreads {
		info.Threads = make([]ThreadInfo, 0, s.threads.n)
		s.threads.each(func(t *Thread) {
			info.Threads = append(info.Threads, ThreadInfo{
				ID:        t.id,
				Name:      t.name,
				State:     t.state,
				Priority:  t.priority,
				StackSize: len(t.stack),
				Queued:    t.waitingOn != nil,
				Locks:     t.locks,
			})
		})
	}
	s.debug.Store(info)
}

// strayStack holds the resources of a thread that destroyed itself until
// the next thread runs on its own context.
type strayStack struct {
	stack []byte
	owned bool
	ctx   hal.Context
}

func (s *Scheduler) stageStray(t *Thread) {
	s.reapStray()
	s.stray = &strayStack{stack: t.stack, owned: t.ownsStack, ctx: t.ctx}
	t.stack = nil
}

func (s *Scheduler) reapStray() {
	st := s.stray
	if st == nil {
		return
	}
	s.stray = nil
	if st.owned {
		s.mem.FreeStack(st.stack)
	}
	s.cpu.Release(st.ctx)
	s.log.Debugf("sched: released stray stack of %d bytes", len(st.stack))
}
