// Package executor implements a cooperative task executor with a lock-free run
// queue and fixed-capacity task pools.
//
// An Executor polls the tasks queued on it, one at a time. Tasks are woken
// through a Waker from any goroutine; a wake pushes the task onto the run queue
// and calls the executor's Pender, which must arrange for Poll to be called
// soon. Poll must never be called from inside the Pender.
package executor

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"ember/internal/logging"
)

// Pender notifies the host of an executor that there is work to do. The
// context value is the one passed to New and lets a single Pender serve
// several executors.
type Pender interface {
	Pend(context uintptr)
}

// PendFunc adapts a function to the Pender interface.
type PendFunc func(context uintptr)

// Pend calls f(context).
func (f PendFunc) Pend(context uintptr) { f(context) }

// Executor owns one run queue and one pender.
type Executor struct {
	id      uint32
	queue   RunQueue
	pender  Pender
	context uintptr
	hooks   Hooks
	log     *slog.Logger
	polling atomic.Bool
	stats   counters

	// Owned by Poll.
	timers timerQueue
	alarm  *time.Timer
}

type counters struct {
	polls   atomic.Uint64
	passes  atomic.Uint64
	resumes atomic.Uint64
	spawned atomic.Uint64
	ended   atomic.Uint64
	busy    atomic.Uint64
	idles   atomic.Uint64
	alarms  atomic.Uint64
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Polls   uint64 `json:"polls"`
	Passes  uint64 `json:"passes"`
	Resumes uint64 `json:"resumes"`
	Spawned uint64 `json:"spawned"`
	Ended   uint64 `json:"ended"`
	Busy    uint64 `json:"busy"`
	Idles   uint64 `json:"idles"`
	Alarms  uint64 `json:"alarms"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithHooks installs trace hooks.
func WithHooks(h Hooks) Option {
	return func(e *Executor) {
		if h != nil {
			e.hooks = h
		}
	}
}

// WithLogger installs a logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// New constructs an executor. The pender is called with context whenever a
// task becomes ready.
func New(id uint32, pender Pender, context uintptr, opts ...Option) *Executor {
	if pender == nil {
		panic("executor: nil pender")
	}
	e := &Executor{
		id:      id,
		pender:  pender,
		context: context,
		hooks:   NopHooks{},
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the executor identifier used in trace hooks.
func (e *Executor) ID() uint32 {
	return e.id
}

// Context returns the pender context of the executor.
func (e *Executor) Context() uintptr {
	return e.context
}

// Spawner returns a spawner for this executor.
func (e *Executor) Spawner() Spawner {
	return Spawner{executor: e}
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Polls:   e.stats.polls.Load(),
		Passes:  e.stats.passes.Load(),
		Resumes: e.stats.resumes.Load(),
		Spawned: e.stats.spawned.Load(),
		Ended:   e.stats.ended.Load(),
		Busy:    e.stats.busy.Load(),
		Idles:   e.stats.idles.Load(),
		Alarms:  e.stats.alarms.Load(),
	}
}

// HasWork reports whether tasks are queued.
func (e *Executor) HasWork() bool {
	return !e.queue.Empty()
}

// Poll runs every queued task once, then keeps draining until a pass ends with
// an empty queue. Each pass works on a snapshot of the queue, so wakes that
// arrive during a pass are handled by the next one. Tasks whose deadline has
// passed are queued before every pass, and the executor's alarm is set for
// the earliest deadline left before Poll returns.
//
// Poll must not be called re-entrantly, and in particular not from the pender.
func (e *Executor) Poll() {
	if !e.polling.CompareAndSwap(false, true) {
		e.fatal("poll called re-entrantly")
	}
	defer e.polling.Store(false)

	e.stats.polls.Add(1)
	for {
		e.timers.dequeueExpired(time.Now(), e.wakeExpired)
		e.hooks.PollStart(e.id)
		e.stats.passes.Add(1)
		e.queue.DequeueAll(e.runTask)
		if e.queue.Empty() && e.setAlarm() {
			break
		}
	}
	e.stats.idles.Add(1)
	e.hooks.ExecutorIdle(e.id)
}

// Polling reports whether Poll is running.
func (e *Executor) Polling() bool {
	return e.polling.Load()
}

func (e *Executor) wakeExpired(t *TaskHeader) {
	WakeTaskNoPend(TaskRef{header: t})
}

// setAlarm arms the alarm for the earliest deadline. It reports false when
// that deadline has already passed and another pass is needed.
func (e *Executor) setAlarm() bool {
	at, ok := e.timers.next()
	if !ok {
		if e.alarm != nil {
			e.alarm.Stop()
		}
		return true
	}
	d := time.Until(at)
	if d <= 0 {
		return false
	}
	if e.alarm == nil {
		e.alarm = time.AfterFunc(d, e.fireAlarm)
	} else {
		e.alarm.Reset(d)
	}
	return true
}

func (e *Executor) fireAlarm() {
	e.stats.alarms.Add(1)
	e.pender.Pend(e.context)
}

func (e *Executor) runTask(t *TaskHeader) {
	if !t.state.runDequeue() {
		e.fatal(fmt.Sprintf("task %d dequeued while not owned by any pool", t.id))
	}
	if t.slot == nil {
		e.fatal(fmt.Sprintf("task %d has no storage", t.id))
	}

	e.hooks.TaskExecBegin(e.id, uint32(t.id))
	e.stats.resumes.Add(1)
	t.expiresAt = time.Time{}
	res := t.slot.poll(t)
	e.hooks.TaskExecEnd(e.id, uint32(t.id))

	if res == Ready {
		e.retire(t)
		return
	}
	e.timers.update(t)
	if t.state.finishPoll() {
		// Woken while running: the push was deferred until now.
		e.hooks.TaskReadyBegin(e.id, uint32(t.id))
		e.queue.Enqueue(t)
	}
}

func (e *Executor) retire(t *TaskHeader) {
	e.stats.ended.Add(1)
	e.hooks.TaskEnd(e.id, uint32(t.id))
	e.timers.remove(t)
	t.expiresAt = time.Time{}
	t.executor.Store(nil)
	if !t.state.despawn() {
		e.fatal(fmt.Sprintf("task %d freed twice", t.id))
	}
}

// spawn attaches a claimed task to the executor and queues it.
func (e *Executor) spawn(t *TaskHeader) {
	if !t.executor.CompareAndSwap(nil, e) {
		e.fatal(fmt.Sprintf("task %d spawned twice", t.id))
	}
	e.stats.spawned.Add(1)
	e.log.Debug("task spawned", "executor", e.id, "task", t.id)
	e.hooks.TaskNew(e.id, uint32(t.id))
	e.enqueue(t)
}

func (e *Executor) enqueue(t *TaskHeader) {
	e.hooks.TaskReadyBegin(e.id, uint32(t.id))
	e.queue.Enqueue(t)
	e.pender.Pend(e.context)
}

func (e *Executor) fatal(msg string) {
	msg = fmt.Sprintf("executor %d: %s", e.id, msg)
	e.log.Error(msg)
	panic(msg)
}
