package executor

import (
	"sync/atomic"
	"time"
)

// TaskID identifies a task slot. It is stable while the task lives and is
// reused once the slot is retired.
type TaskID uint32

// PollResult reports the outcome of resuming a task once.
type PollResult uint8

const (
	// Pending means the computation is waiting for a waker.
	Pending PollResult = iota
	// Ready means the computation has finished and its slot may be retired.
	Ready
)

// String returns the string representation of PollResult.
func (r PollResult) String() string {
	switch r {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Future is a suspendable computation. Poll advances it by one step and must
// not block; a computation that returns Pending is responsible for arranging
// a later call to w.Wake.
type Future interface {
	Poll(w Waker) PollResult
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(w Waker) PollResult

// Poll calls f(w).
func (f FutureFunc) Poll(w Waker) PollResult { return f(w) }

// poller is the type-erased resume entry point of a slot.
type poller interface {
	poll(t *TaskHeader) PollResult
}

// TaskHeader is the fixed-layout metadata of one task slot.
type TaskHeader struct {
	id       TaskID
	state    taskState
	next     atomic.Pointer[TaskHeader]
	executor atomic.Pointer[Executor]
	slot     poller

	// Timer queue linkage, owned by the executor's poll loop.
	expiresAt time.Time
	timerNext *TaskHeader
	inTimers  bool
}

// TaskRef is a copyable reference to a task header with the future type erased.
type TaskRef struct {
	header *TaskHeader
}

// ID returns the task identifier.
func (r TaskRef) ID() TaskID {
	if r.header == nil {
		return 0
	}
	return r.header.id
}

// IsValid reports whether the reference points at a task header.
func (r TaskRef) IsValid() bool {
	return r.header != nil
}

// State returns the current queueing state of the task.
func (r TaskRef) State() QueueState {
	if r.header == nil {
		return Free
	}
	return r.header.state.queueState()
}

// Executor returns the executor the task was spawned on, or nil.
func (r TaskRef) Executor() *Executor {
	if r.header == nil {
		return nil
	}
	return r.header.executor.Load()
}

// WakeTask marks the task ready and notifies its executor.
func WakeTask(r TaskRef) {
	t := r.header
	if t == nil {
		return
	}
	if t.state.runEnqueue() {
		if ex := t.executor.Load(); ex != nil {
			ex.enqueue(t)
		}
	}
}

// WakeTaskNoPend marks the task ready without calling the pender. It is meant
// for code that runs inside the executor's own poll loop.
func WakeTaskNoPend(r TaskRef) {
	t := r.header
	if t == nil {
		return
	}
	if t.state.runEnqueue() {
		if ex := t.executor.Load(); ex != nil {
			ex.hooks.TaskReadyBegin(ex.id, uint32(t.id))
			ex.queue.Enqueue(t)
		}
	}
}
