package executor

import "sync/atomic"

// State bits of a task header.
//
// State Machine:
//
//	free (0)                         → spawned|runQueued        [claim]
//	spawned                          → spawned|runQueued        [runEnqueue]
//	spawned|runQueued                → spawned|running          [runDequeue]
//	spawned|running                  → spawned|running|runQueued [runEnqueue while polled]
//	spawned|running[|runQueued]      → spawned[|runQueued]      [finishPoll]
//	any                              → free (0)                 [despawn]
//
// A set runQueued bit means the task is linked in a run queue, or will be
// linked as soon as the poll in progress returns.
const (
	stateSpawned   uint32 = 1 << 0
	stateRunQueued uint32 = 1 << 1
	stateRunning   uint32 = 1 << 2
)

// QueueState is the externally visible queueing state of a task.
type QueueState uint8

const (
	NotQueued QueueState = iota
	Queued
	QueuedWhileRunning
	Running
	Free
)

// String returns the string representation of QueueState.
func (s QueueState) String() string {
	switch s {
	case NotQueued:
		return "not_queued"
	case Queued:
		return "queued"
	case QueuedWhileRunning:
		return "queued_while_running"
	case Running:
		return "running"
	case Free:
		return "free"
	default:
		return "unknown"
	}
}

type taskState struct {
	word atomic.Uint32
}

// claim marks a free slot as spawned and queued. It fails if the slot is taken.
func (s *taskState) claim() bool {
	return s.word.CompareAndSwap(0, stateSpawned|stateRunQueued)
}

// despawn returns the slot to the free set. It reports false if the slot
// was already free.
func (s *taskState) despawn() bool {
	return s.word.Swap(0)&stateSpawned != 0
}

// runEnqueue sets the run-queued bit. It returns true when the caller now owns
// the obligation to push the task onto its run queue.
func (s *taskState) runEnqueue() bool {
	for {
		cur := s.word.Load()
		if cur&stateSpawned == 0 || cur&stateRunQueued != 0 {
			return false
		}
		if s.word.CompareAndSwap(cur, cur|stateRunQueued) {
			// The poll loop pushes it once the current poll returns.
			return cur&stateRunning == 0
		}
	}
}

// runDequeue moves a dequeued task into the running state. It returns false if
// the task was despawned while it sat in the queue.
func (s *taskState) runDequeue() bool {
	for {
		cur := s.word.Load()
		if cur&stateSpawned == 0 {
			return false
		}
		next := (cur &^ stateRunQueued) | stateRunning
		if s.word.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// finishPoll clears the running bit of a task that returned Pending. It
// reports whether a wake arrived during the poll, in which case the caller
// must push the task now.
func (s *taskState) finishPoll() bool {
	for {
		cur := s.word.Load()
		next := cur &^ stateRunning
		if s.word.CompareAndSwap(cur, next) {
			return next&stateRunQueued != 0 && next&stateSpawned != 0
		}
	}
}

func (s *taskState) queueState() QueueState {
	cur := s.word.Load()
	switch {
	case cur&stateSpawned == 0:
		return Free
	case cur&stateRunning != 0 && cur&stateRunQueued != 0:
		return QueuedWhileRunning
	case cur&stateRunning != 0:
		return Running
	case cur&stateRunQueued != 0:
		return Queued
	default:
		return NotQueued
	}
}
