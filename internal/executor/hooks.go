package executor

// Hooks observes executor and task state transitions. Implementations must be
// safe for concurrent use and must not call back into the executor.
//
// Task machine:     SPAWNED → WAITING → RUNNING → {WAITING | END}
// Executor machine: IDLE → SCHEDULING → RUNNING_TASK → SCHEDULING → IDLE
type Hooks interface {
	PollStart(executorID uint32)
	TaskNew(executorID, taskID uint32)
	TaskEnd(executorID, taskID uint32)
	TaskReadyBegin(executorID, taskID uint32)
	TaskExecBegin(executorID, taskID uint32)
	TaskExecEnd(executorID, taskID uint32)
	ExecutorIdle(executorID uint32)
}

// NopHooks ignores every transition.
type NopHooks struct{}

func (NopHooks) PollStart(uint32)              {}
func (NopHooks) TaskNew(uint32, uint32)        {}
func (NopHooks) TaskEnd(uint32, uint32)        {}
func (NopHooks) TaskReadyBegin(uint32, uint32) {}
func (NopHooks) TaskExecBegin(uint32, uint32)  {}
func (NopHooks) TaskExecEnd(uint32, uint32)    {}
func (NopHooks) ExecutorIdle(uint32)           {}
