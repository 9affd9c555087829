package executor

import (
	"sync/atomic"
	"time"
)

// YieldNow returns a future that wakes itself once and completes on its
// second poll.
func YieldNow() Future {
	yielded := false
	return FutureFunc(func(w Waker) PollResult {
		if yielded {
			return Ready
		}
		yielded = true
		w.Wake()
		return Pending
	})
}

// After returns a future that completes once d has elapsed since its first
// poll. The deadline goes into the executor's timer queue, so any number of
// sleeping tasks share one alarm per executor.
func After(d time.Duration) Future {
	return &delay{d: d}
}

type delay struct {
	d  time.Duration
	at time.Time
}

func (t *delay) Poll(w Waker) PollResult {
	now := time.Now()
	if t.at.IsZero() {
		t.at = now.Add(t.d)
	}
	if !now.Before(t.at) {
		return Ready
	}
	ScheduleWake(t.at, w)
	return Pending
}

// Never is a future that never completes and never wakes itself.
type Never struct{}

// Poll always returns Pending.
func (Never) Poll(Waker) PollResult { return Pending }

// AtomicWaker stores the waker of at most one task so an event source can
// wake it later. Register and Wake may race from different goroutines.
type AtomicWaker struct {
	task atomic.Pointer[TaskHeader]
}

// Register records w, replacing any previous waker.
func (a *AtomicWaker) Register(w Waker) {
	a.task.Store(w.task)
}

// Wake wakes the registered task, if any.
func (a *AtomicWaker) Wake() {
	if t := a.task.Load(); t != nil {
		WakeTask(TaskRef{header: t})
	}
}

// Signal is a one-bit event: Raise sets it and wakes the waiting task, Take
// consumes it. It is how interrupt handlers and other cores hand events to a
// task.
type Signal struct {
	raised atomic.Bool
	waker  AtomicWaker
}

// Raise sets the signal and wakes the registered task.
func (s *Signal) Raise() {
	s.raised.Store(true)
	s.waker.Wake()
}

// Take registers w and reports whether the signal was raised, clearing it.
func (s *Signal) Take(w Waker) bool {
	s.waker.Register(w)
	return s.raised.Swap(false)
}
