package kernel

import (
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"spindle/hal"
)

const bootPriority = 32

// newTestScheduler makes the test goroutine the bootstrap thread.
func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *hal.CoopCPU, *hal.HeapMemory) {
	t.Helper()
	cpu := hal.NewCoopCPU()
	mem := hal.NewHeapMemory(0)
	s := New(cpu, mem, cfg)
	s.Bootstrap("boot", bootPriority)
	return s, cpu, mem
}

func mustGo(t *testing.T, s *Scheduler, name string, prio int, fn func()) *Thread {
	t.Helper()
	th, err := s.Go(name, prio, fn)
	if err != nil {
		t.Fatalf("Go(%q) error = %v", name, err)
	}
	return th
}

// expectFatal runs fn on the bootstrap thread and returns the fatal error it
// raised.
func expectFatal(t *testing.T, fn func()) (fe *FatalError) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(*FatalError)
		if !ok {
			t.Fatalf("recovered %v, want *FatalError", r)
		}
		fe = err
	}()
	fn()
	return nil
}

func TestDispatchPriorityThenFIFO(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	var order []string
	for _, c := range []struct {
		name string
		prio int
	}{{"A", 5}, {"B", 10}, {"C", 5}} {
		name := c.name
		mustGo(t, s, name, c.prio, func() { order = append(order, name) })
	}
	if len(order) != 0 {
		t.Fatalf("threads ran before a switch point: %v", order)
	}

	s.Yield()

	if want := []string{"A", "C", "B"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestYieldRoundRobin(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	var order []int
	for i := 1; i <= 3; i++ {
		id := i
		mustGo(t, s, "rr", 10, func() {
			for n := 0; n < 2; n++ {
				order = append(order, id)
				s.Yield()
			}
		})
	}
	s.Yield()

	if want := []int{1, 2, 3, 1, 2, 3}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestYieldAlone(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	boot := s.Current()

	s.Yield()

	if got := s.Current(); got != boot {
		t.Fatalf("Current() = %v, want boot thread", got)
	}
	if got := s.Debug().Switches; got != 0 {
		t.Fatalf("Switches = %d, want 0", got)
	}
}

func TestJoinExitResult(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	var events []string
	e, err := s.NewThread(func(any) any {
		defer func() { events = append(events, "E deferred") }()
		events = append(events, "E exiting")
		s.Exit(42)
		events = append(events, "E after exit")
		return nil
	}, nil, ThreadConfig{Name: "E", Priority: 20})
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	mustGo(t, s, "D", 10, func() {
		v, ok := e.Join()
		events = append(events, "D joined")
		if ok && v == 42 {
			events = append(events, "D got 42")
		}
	})

	s.Yield()

	want := []string{"E exiting", "E deferred", "D joined", "D got 42"}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if got := e.State(); got != StateExited {
		t.Fatalf("E state = %v, want %v", got, StateExited)
	}
	if v, ok := e.Join(); !ok || v != 42 {
		t.Fatalf("Join() on exited thread = %v, %v, want 42, true", v, ok)
	}
}

func TestJoinReturnValue(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	th, err := s.NewThread(func(arg any) any { return arg.(int) * 2 }, 21, ThreadConfig{Priority: 10})
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	v, ok := th.Join()
	if !ok || v != 42 {
		t.Fatalf("Join() = %v, %v, want 42, true", v, ok)
	}
}

func TestJoinFailures(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	boot := s.Current()

	if _, ok := boot.Join(); ok {
		t.Fatalf("Join() on self ok = true, want false")
	}

	th := mustGo(t, s, "victim", 10, func() {})
	th.Destroy()
	if _, ok := th.Join(); ok {
		t.Fatalf("Join() on destroyed thread ok = true, want false")
	}
	if got := th.State(); got != StateDisabled {
		t.Fatalf("State() = %v, want %v", got, StateDisabled)
	}
	th.Destroy()
}

func TestExitWakesOnlyItsJoiners(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	a, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Name: "a", Priority: 20, Suspended: true})
	b, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Name: "b", Priority: 20, Suspended: true})

	var woke []string
	mustGo(t, s, "joinA", 10, func() { a.Join(); woke = append(woke, "joinA") })
	mustGo(t, s, "joinB", 10, func() { b.Join(); woke = append(woke, "joinB") })
	s.Yield()

	a.Exit("done")
	s.Yield()

	if want := []string{"joinA"}; !reflect.DeepEqual(woke, want) {
		t.Fatalf("woke = %v, want %v", woke, want)
	}
	if got := b.joiners.Len(); got != 1 {
		t.Fatalf("b joiners = %d, want 1", got)
	}
}

func TestDestroyReleasesJoiners(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	target, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Name: "target", Suspended: true})
	joined, ok := "unset", true
	mustGo(t, s, "joiner", 10, func() {
		_, ok = target.Join()
		joined = "returned"
	})
	s.Yield()
	if joined != "unset" {
		t.Fatalf("joiner returned before target finished")
	}

	target.Destroy()
	s.Yield()

	if joined != "returned" || ok {
		t.Fatalf("joiner = %s, ok = %v, want returned, false", joined, ok)
	}
}

func TestDestroyFreesOwnedStack(t *testing.T) {
	s, _, mem := newTestScheduler(t, Config{})

	th, err := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{StackSize: 4096, Priority: 10})
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	if got := mem.InUse(); got != 4096 {
		t.Fatalf("InUse() = %d, want 4096", got)
	}
	th.Destroy()
	if got := mem.InUse(); got != 0 {
		t.Fatalf("InUse() after Destroy = %d, want 0", got)
	}
}

func TestBorrowedStackNotFreed(t *testing.T) {
	s, _, mem := newTestScheduler(t, Config{})

	stack := make([]byte, 2048)
	th, err := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Stack: stack})
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	if th.OwnsStack() {
		t.Fatalf("OwnsStack() = true, want false")
	}
	if got := th.StackSize(); got != 2048 {
		t.Fatalf("StackSize() = %d, want 2048", got)
	}
	th.Destroy()
	if allocs, frees := mem.Stats(); allocs != 0 || frees != 0 {
		t.Fatalf("Stats() = %d, %d, want 0, 0", allocs, frees)
	}
}

func TestSelfDestroyReapsStrayStack(t *testing.T) {
	s, _, mem := newTestScheduler(t, Config{})

	var events []string
	th := mustGo(t, s, "self", 10, func() {
		defer func() { events = append(events, "deferred") }()
		events = append(events, "destroying")
		s.Current().Destroy()
		events = append(events, "after destroy")
	})
	s.Yield()

	if want := []string{"destroying", "deferred"}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if got := th.State(); got != StateDisabled {
		t.Fatalf("State() = %v, want %v", got, StateDisabled)
	}
	if got := mem.InUse(); got != 0 {
		t.Fatalf("InUse() = %d, want 0 after stray stack release", got)
	}
	if s.stray != nil {
		t.Fatalf("stray stack still staged")
	}
}

func TestExitNonCurrent(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	ran := false
	th := mustGo(t, s, "never", 10, func() { ran = true })
	th.Exit(9)
	s.Yield()

	if ran {
		t.Fatalf("exited thread ran")
	}
	if v, ok := th.Join(); !ok || v != 9 {
		t.Fatalf("Join() = %v, %v, want 9, true", v, ok)
	}
}

func TestSuspendResume(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	var events []string
	sus, err := s.NewThread(func(any) any {
		events = append(events, "created suspended")
		return nil
	}, nil, ThreadConfig{Priority: 10, Suspended: true})
	if err != nil {
		t.Fatalf("NewThread() error = %v", err)
	}
	self := mustGo(t, s, "self", 10, func() {
		events = append(events, "a")
		s.Suspend(s.Current())
		events = append(events, "b")
	})

	s.Yield()
	if want := []string{"a"}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if got := self.State(); got != StateSuspended {
		t.Fatalf("State() = %v, want %v", got, StateSuspended)
	}

	if !s.Resume(sus) {
		t.Fatalf("Resume() = false, want true")
	}
	if s.Resume(sus) {
		t.Fatalf("second Resume() = true, want false")
	}
	s.Resume(self)
	s.Yield()

	if want := []string{"a", "created suspended", "b"}; !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestSuspendReadyThread(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	ran := false
	th := mustGo(t, s, "t", 10, func() { ran = true })
	if !s.Suspend(th) {
		t.Fatalf("Suspend() = false, want true")
	}
	s.Yield()
	if ran {
		t.Fatalf("suspended thread ran")
	}
	s.Resume(th)
	s.Yield()
	if !ran {
		t.Fatalf("resumed thread did not run")
	}
}

func TestSetPriorityPreempts(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	ran := false
	th := mustGo(t, s, "low", 40, func() { ran = true })
	s.SetPriority(s.Current(), bootPriority)
	if ran {
		t.Fatalf("less urgent thread preempted the caller")
	}
	s.SetPriority(th, 10)
	if !ran {
		t.Fatalf("SetPriority() did not switch to the more urgent thread")
	}
	if got := th.Priority(); got != 10 {
		t.Fatalf("Priority() = %d, want 10", got)
	}
}

func TestPriorityClamp(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	hi, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Priority: -5, Suspended: true})
	lo, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Priority: 100, Suspended: true})
	if got := hi.Priority(); got != PriorityHighest {
		t.Fatalf("Priority() = %d, want %d", got, PriorityHighest)
	}
	if got := lo.Priority(); got != PriorityLowest {
		t.Fatalf("Priority() = %d, want %d", got, PriorityLowest)
	}
}

func TestNewThreadErrors(t *testing.T) {
	cpu := hal.NewCoopCPU()
	mem := hal.NewHeapMemory(1024)
	s := New(cpu, mem, Config{})
	s.Bootstrap("boot", bootPriority)

	_, err := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{StackSize: 2048})
	if !errors.Is(err, ErrNoMemory) {
		t.Fatalf("NewThread() error = %v, want %v", err, ErrNoMemory)
	}
	if !errors.Is(err, hal.ErrOutOfMemory) {
		t.Fatalf("NewThread() error = %v, want wrapped %v", err, hal.ErrOutOfMemory)
	}
	if _, err := s.NewThread(nil, nil, ThreadConfig{}); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("NewThread(nil) error = %v, want %v", err, ErrNoEntry)
	}
	if got := s.Debug().Count; got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestWakeupAllPreservesOrder(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	q := s.NewThreadQueue()

	var order []int
	for i := 1; i <= 3; i++ {
		id := i
		mustGo(t, s, "sleeper", 10, func() {
			q.Sleep()
			order = append(order, id)
		})
	}
	s.Yield()
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	q.WakeupAll()
	if !q.Empty() {
		t.Fatalf("Empty() = false after WakeupAll")
	}
	if len(order) != 0 {
		t.Fatalf("WakeupAll switched: %v", order)
	}
	s.Yield()

	if want := []int{1, 2, 3}; !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestWakeupOne(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	q := s.NewThreadQueue()

	if q.WakeupOne() {
		t.Fatalf("WakeupOne() on empty queue = true")
	}
	var woke []int
	for i := 1; i <= 2; i++ {
		id := i
		mustGo(t, s, "sleeper", 10, func() {
			q.Sleep()
			woke = append(woke, id)
		})
	}
	s.Yield()

	if head := q.Head(); head == nil || head.WaitingOn() != q {
		t.Fatalf("Head() = %v, want a thread waiting on q", head)
	}
	if !q.WakeupOne() {
		t.Fatalf("WakeupOne() = false, want true")
	}
	s.Yield()
	if want := []int{1}; !reflect.DeepEqual(woke, want) {
		t.Fatalf("woke = %v, want %v", woke, want)
	}
}

func TestWakeupIgnoresNonWaiting(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})

	th, _ := s.NewThread(func(any) any { return nil }, nil, ThreadConfig{Suspended: true})
	s.Wakeup(th)
	if got := th.State(); got != StateSuspended {
		t.Fatalf("State() = %v, want %v", got, StateSuspended)
	}
}

func TestInterruptWakesIdleThread(t *testing.T) {
	s, cpu, _ := newTestScheduler(t, Config{})
	boot := s.Current()

	line := cpu.NewInterruptLine("timer")
	defer line.Close()

	fired := false
	go line.Raise(func() {
		fired = true
		s.Wakeup(boot)
	})
	for !fired {
		s.Sleep(nil)
	}
	if got := boot.State(); got != StateRunning {
		t.Fatalf("State() = %v, want %v", got, StateRunning)
	}
}

func TestDeadlockIsFatal(t *testing.T) {
	calls := 0
	s, _, _ := newTestScheduler(t, Config{PanicHandler: func(PanicInfo) { calls++ }})

	fe := expectFatal(t, func() { s.Sleep(nil) })
	if fe == nil {
		t.Fatalf("Sleep() without runnable threads did not fail")
	}
	if calls != 1 {
		t.Fatalf("panic handler calls = %d, want 1", calls)
	}
	if !s.InPanicMode() {
		t.Fatalf("InPanicMode() = false, want true")
	}
}

func TestDebugInfo(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{PublishThreads: true})

	mustGo(t, s, "a", 10, func() {})
	mustGo(t, s, "b", 10, func() {})

	info := s.Debug()
	if info.Current != 1 || info.Head != 1 || info.Tail != 3 {
		t.Fatalf("Debug() = %+v, want current 1, head 1, tail 3", info)
	}
	if len(info.Threads) != 3 || info.Threads[1].Name != "a" {
		t.Fatalf("Threads = %+v, want boot, a, b", info.Threads)
	}

	s.Yield()

	info = s.Debug()
	if info.Switches != 3 {
		t.Fatalf("Switches = %d, want 3", info.Switches)
	}
	if info.Current != 1 {
		t.Fatalf("Current = %d, want 1", info.Current)
	}
	for _, ti := range info.Threads[1:] {
		if ti.State != StateExited {
			t.Fatalf("thread %d state = %v, want %v", ti.ID, ti.State, StateExited)
		}
	}
}

func TestBootExitKeepsDeferredCallsParked(t *testing.T) {
	s := New(hal.NewCoopCPU(), hal.NewHeapMemory(0), Config{})
	var deferRan atomic.Bool
	running := make(chan ThreadID)
	errs := make(chan error, 1)

	go func() {
		defer deferRan.Store(true)
		boot := s.Bootstrap("boot", bootPriority)
		if _, err := s.Go("worker", 10, func() {
			running <- s.Current().ID()
			select {}
		}); err != nil {
			errs <- err
			return
		}
		boot.Exit(7)
	}()

	var id ThreadID
	select {
	case id = <-running:
	case err := <-errs:
		t.Fatalf("Go() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if deferRan.Load() {
		t.Fatalf("boot thread ran deferred calls while thread %d held the CPU", id)
	}
	if got := s.Debug().Current; got != id {
		t.Fatalf("Debug().Current = %d, want %d", got, id)
	}
}
