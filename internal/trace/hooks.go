package trace

import (
	"time"

	"ember/internal/executor"
)

// Event names emitted by Hooks.
const (
	EventPollStart     = "poll_start"
	EventTaskNew       = "task_new"
	EventTaskReady     = "task_ready"
	EventTaskExecBegin = "task_exec_begin"
	EventTaskExecEnd   = "task_exec_end"
	EventTaskEnd       = "task_end"
	EventExecutorIdle  = "executor_idle"
)

// Hooks forwards executor hook calls to a Tracer, tagging every event with
// the core the executor runs on.
type Hooks struct {
	tracer Tracer
	core   int8
}

var _ executor.Hooks = (*Hooks)(nil)

// NewHooks returns hooks for an executor on core that emit into t. A nil or
// disabled tracer yields executor.NopHooks.
func NewHooks(t Tracer, core int) executor.Hooks {
	if t == nil || !t.Enabled() {
		return executor.NopHooks{}
	}
	return &Hooks{tracer: t, core: coreTag(core)}
}

func (h *Hooks) emit(scope Scope, name string, ex, task uint32) {
	if !h.tracer.Level().ShouldEmit(scope) {
		return
	}
	h.tracer.Emit(&Event{
		Time:     time.Now(),
		Kind:     KindPoint,
		Scope:    scope,
		Core:     h.core,
		Executor: ex,
		Task:     task,
		Name:     name,
	})
}

func (h *Hooks) PollStart(ex uint32)             { h.emit(ScopeExecutor, EventPollStart, ex, 0) }
func (h *Hooks) TaskNew(ex, task uint32)         { h.emit(ScopeTask, EventTaskNew, ex, task) }
func (h *Hooks) TaskEnd(ex, task uint32)         { h.emit(ScopeTask, EventTaskEnd, ex, task) }
func (h *Hooks) TaskReadyBegin(ex, task uint32)  { h.emit(ScopeTask, EventTaskReady, ex, task) }
func (h *Hooks) TaskExecBegin(ex, task uint32)   { h.emit(ScopeTask, EventTaskExecBegin, ex, task) }
func (h *Hooks) TaskExecEnd(ex, task uint32)     { h.emit(ScopeTask, EventTaskExecEnd, ex, task) }
func (h *Hooks) ExecutorIdle(ex uint32)          { h.emit(ScopeExecutor, EventExecutorIdle, ex, 0) }
