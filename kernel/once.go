package kernel

type onceState uint8

const (
	onceUninitialized onceState = iota
	onceInProgress
	onceInitialized
)

// OnceControl elects a single thread to run an initialization while every
// other caller waits for it.
//
//	if once.Once() {
//		setup()
//		once.Done()
//	}
type OnceControl struct {
	s     *Scheduler
	state onceState
}

func (s *Scheduler) NewOnceControl() *OnceControl {
	return &OnceControl{s: s}
}

// Once returns true for exactly one caller, which must call Done. Other
// callers yield until Done has been called and then return false.
//
// Waiting callers spin through Yield, which only lets threads of the same or
// higher urgency run. A caller more urgent than the initializing thread
// spins forever; run initializers at the most urgent priority of any caller.
func (o *OnceControl) Once() bool {
	for {
		st := o.s.lock()
		switch o.state {
		case onceUninitialized:
			o.state = onceInProgress
			o.s.unlock(st)
			return true
		case onceInitialized:
			o.s.unlock(st)
			return false
		}
		o.s.unlock(st)
		o.s.Yield()
	}
}

// Done marks the initialization complete.
func (o *OnceControl) Done() {
	st := o.s.lock()
	defer o.s.unlock(st)
	if o.state == onceInProgress {
		o.state = onceInitialized
	}
}
