package executor

import "time"

// timerQueue is the intrusive list of an executor's tasks that wait for a
// deadline. Only the executor's poll loop touches it.
type timerQueue struct {
	head *TaskHeader
}

// update links t if it asked for a wake-up and is not linked yet.
func (q *timerQueue) update(t *TaskHeader) {
	if t.expiresAt.IsZero() || t.inTimers {
		return
	}
	t.inTimers = true
	t.timerNext = q.head
	q.head = t
}

// next returns the earliest deadline in the queue.
func (q *timerQueue) next() (time.Time, bool) {
	var at time.Time
	for t := q.head; t != nil; t = t.timerNext {
		if t.expiresAt.IsZero() {
			continue
		}
		if at.IsZero() || t.expiresAt.Before(at) {
			at = t.expiresAt
		}
	}
	return at, !at.IsZero()
}

// dequeueExpired unlinks every task whose deadline is not after now and
// calls fn on it. Tasks that dropped their deadline on their last poll are
// unlinked without a call.
func (q *timerQueue) dequeueExpired(now time.Time, fn func(t *TaskHeader)) {
	link := &q.head
	for t := *link; t != nil; t = *link {
		switch {
		case t.expiresAt.IsZero():
			*link = t.timerNext
			unlinkTimer(t)
		case !t.expiresAt.After(now):
			*link = t.timerNext
			unlinkTimer(t)
			fn(t)
		default:
			link = &t.timerNext
		}
	}
}

// remove unlinks t wherever it sits.
func (q *timerQueue) remove(t *TaskHeader) {
	if !t.inTimers {
		return
	}
	for link := &q.head; *link != nil; link = &(*link).timerNext {
		if *link == t {
			*link = t.timerNext
			unlinkTimer(t)
			return
		}
	}
}

func (q *timerQueue) len() int {
	n := 0
	for t := q.head; t != nil; t = t.timerNext {
		n++
	}
	return n
}

func unlinkTimer(t *TaskHeader) {
	t.timerNext = nil
	t.inTimers = false
	t.expiresAt = time.Time{}
}

// ScheduleWake asks the executor running the task behind w to wake it once
// at has passed. It must be called from inside that task's poll; the request
// lasts for that poll only, and several requests keep the earliest.
func ScheduleWake(at time.Time, w Waker) {
	t := w.task
	if t == nil || at.IsZero() {
		return
	}
	if t.expiresAt.IsZero() || at.Before(t.expiresAt) {
		t.expiresAt = at
	}
}
