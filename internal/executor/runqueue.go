package executor

import "sync/atomic"

// RunQueue is a lock-free intrusive list of tasks waiting to be polled.
//
// Any number of goroutines may enqueue concurrently. Exactly one poll loop
// drains it, and it always takes the whole list at once, so nodes are never
// popped individually and the head CAS cannot suffer from ABA.
type RunQueue struct {
	head atomic.Pointer[TaskHeader]
}

// Enqueue pushes a task. The caller must have won the run-queued bit of the
// task. It returns true if the queue was empty before the push.
func (q *RunQueue) Enqueue(t *TaskHeader) bool {
	for {
		prev := q.head.Load()
		t.next.Store(prev)
		if q.head.CompareAndSwap(prev, t) {
			return prev == nil
		}
	}
}

// Empty reports whether the queue currently holds no tasks.
func (q *RunQueue) Empty() bool {
	return q.head.Load() == nil
}

// DequeueAll detaches every queued task and calls fn on each, oldest push
// first. Tasks enqueued while fn runs, including re-enqueues of the task being
// visited, land in a fresh list seen by the next call.
func (q *RunQueue) DequeueAll(fn func(t *TaskHeader)) int {
	list := q.head.Swap(nil)
	if list == nil {
		return 0
	}

	// The list was built head-first; reverse it once so pushes run in order.
	var ordered *TaskHeader
	for list != nil {
		next := list.next.Load()
		list.next.Store(ordered)
		ordered = list
		list = next
	}

	n := 0
	for t := ordered; t != nil; {
		// fn may push t again, which rewrites t.next.
		next := t.next.Load()
		t.next.Store(nil)
		fn(t)
		n++
		t = next
	}
	return n
}
