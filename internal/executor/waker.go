package executor

// Waker is a copyable capability to request that a task be polled again. It
// carries no ownership; waking a finished task is a no-op.
type Waker struct {
	task *TaskHeader
}

// Wake marks the task ready. It is lock-free, idempotent, and safe to call from
// any goroutine, including from inside the task's own poll.
func (w Waker) Wake() {
	WakeTask(TaskRef{header: w.task})
}

// IsValid reports whether the waker refers to a task.
func (w Waker) IsValid() bool {
	return w.task != nil
}

// TaskFromWaker returns the task a waker refers to.
func TaskFromWaker(w Waker) TaskRef {
	return TaskRef{header: w.task}
}

func wakerFor(t *TaskHeader) Waker {
	return Waker{task: t}
}
