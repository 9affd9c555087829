package trace

import "fmt"

// TaskState is the observed lifecycle state of a task.
type TaskState uint8

const (
	TaskAbsent TaskState = iota
	TaskSpawned
	TaskWaiting
	TaskRunning
	TaskEnded
)

// String returns the string representation of TaskState.
func (s TaskState) String() string {
	switch s {
	case TaskAbsent:
		return "absent"
	case TaskSpawned:
		return "spawned"
	case TaskWaiting:
		return "waiting"
	case TaskRunning:
		return "running"
	case TaskEnded:
		return "end"
	default:
		return "unknown"
	}
}

// ExecutorState is the observed state of an executor.
type ExecutorState uint8

const (
	ExecutorIdle ExecutorState = iota
	ExecutorScheduling
	ExecutorRunningTask
)

// String returns the string representation of ExecutorState.
func (s ExecutorState) String() string {
	switch s {
	case ExecutorIdle:
		return "idle"
	case ExecutorScheduling:
		return "scheduling"
	case ExecutorRunningTask:
		return "running_task"
	default:
		return "unknown"
	}
}

type taskKey struct {
	executor uint32
	task     uint32
}

type taskTrack struct {
	state  TaskState
	queued bool
}

// StateChecker replays hook events and validates the task and executor
// state machines. Events must be fed in emission order.
type StateChecker struct {
	tasks     map[taskKey]*taskTrack
	executors map[uint32]ExecutorState
	events    int
}

// NewStateChecker returns an empty checker.
func NewStateChecker() *StateChecker {
	return &StateChecker{
		tasks:     make(map[taskKey]*taskTrack),
		executors: make(map[uint32]ExecutorState),
	}
}

// Task returns the last observed state of a task.
func (c *StateChecker) Task(executorID, taskID uint32) TaskState {
	if tr := c.tasks[taskKey{executorID, taskID}]; tr != nil {
		return tr.state
	}
	return TaskAbsent
}

// Executor returns the last observed state of an executor.
func (c *StateChecker) Executor(executorID uint32) ExecutorState {
	return c.executors[executorID]
}

// Events returns the number of hook events checked so far.
func (c *StateChecker) Events() int {
	return c.events
}

// CheckAll feeds every event and stops at the first violation.
func (c *StateChecker) CheckAll(events []Event) error {
	for i := range events {
		if err := c.Check(&events[i]); err != nil {
			return err
		}
	}
	return nil
}

// Check feeds one event. Events that are not executor hooks are ignored.
func (c *StateChecker) Check(ev *Event) error {
	key := taskKey{ev.Executor, ev.Task}
	tr := c.tasks[key]
	exState := c.executors[ev.Executor]

	bad := func(state fmt.Stringer) error {
		return fmt.Errorf("seq %d: %s on executor %d task %d in state %s", ev.Seq, ev.Name, ev.Executor, ev.Task, state)
	}

	switch ev.Name {
	case EventTaskNew:
		if tr != nil && tr.state != TaskEnded {
			return bad(tr.state)
		}
		c.tasks[key] = &taskTrack{state: TaskSpawned}
	case EventTaskReady:
		if tr == nil || tr.state == TaskEnded || tr.queued {
			return bad(stateOf(tr))
		}
		tr.state = TaskWaiting
		tr.queued = true
	case EventTaskExecBegin:
		if tr == nil || !tr.queued || tr.state != TaskWaiting {
			return bad(stateOf(tr))
		}
		if exState != ExecutorScheduling {
			return bad(exState)
		}
		tr.state = TaskRunning
		tr.queued = false
		c.executors[ev.Executor] = ExecutorRunningTask
	case EventTaskExecEnd:
		if tr == nil || tr.state != TaskRunning {
			return bad(stateOf(tr))
		}
		if exState != ExecutorRunningTask {
			return bad(exState)
		}
		tr.state = TaskWaiting
		c.executors[ev.Executor] = ExecutorScheduling
	case EventTaskEnd:
		if tr == nil || tr.state != TaskWaiting || tr.queued {
			return bad(stateOf(tr))
		}
		tr.state = TaskEnded
	case EventPollStart:
		if exState == ExecutorRunningTask {
			return bad(exState)
		}
		c.executors[ev.Executor] = ExecutorScheduling
	case EventExecutorIdle:
		if exState != ExecutorScheduling {
			return bad(exState)
		}
		c.executors[ev.Executor] = ExecutorIdle
	default:
		return nil
	}
	c.events++
	return nil
}

func stateOf(tr *taskTrack) TaskState {
	if tr == nil {
		return TaskAbsent
	}
	return tr.state
}
