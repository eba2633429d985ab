package kernel

import (
	"fmt"
)

// PanicInfo contains details about a fatal error or a panicking thread.
type PanicInfo struct {
	ThreadID ThreadID
	Value    any
	Stack    []byte
}

// InPanicMode reports whether the scheduler hit a fatal error.
func (s *Scheduler) InPanicMode() bool {
	return s.panicActive.Load()
}

// triggerPanic invokes the panic handler at most once per scheduler.
func (s *Scheduler) triggerPanic(info PanicInfo) {
	s.panicOnce.Do(func() {
		s.panicActive.Store(true)
		info.Stack = captureStack()
		if fn := s.cfg.PanicHandler; fn != nil {
			fn(info)
		}
	})
}

func (s *Scheduler) fatalf(format string, args ...any) {
	var id ThreadID
	if s.current != nil {
		id = s.current.id
	}
	err := &FatalError{Thread: id, Msg: fmt.Sprintf(format, args...)}
	s.log.Errorf("sched: %s", err.Msg)
	s.triggerPanic(PanicInfo{ThreadID: id, Value: err})
	panic(err)
}

func (s *Scheduler) threadPanic(t *Thread, v any) {
	s.log.Errorf("sched: thread %d (%s) panicked: %v", t.id, t.name, v)
	s.triggerPanic(PanicInfo{ThreadID: t.id, Value: v})
	panic(v)
}
