package executor

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBusy is returned when a pool has no free slot for a new task.
var ErrBusy = errors.New("task pool busy")

var nextTaskID atomic.Uint32

// TaskStorage holds one task whose future is F. It may be spawned again once
// the previous occupant has finished.
type TaskStorage[F Future] struct {
	header TaskHeader
	future F
}

// NewTaskStorage returns a single, unspawned task slot.
func NewTaskStorage[F Future]() *TaskStorage[F] {
	s := &TaskStorage[F]{}
	s.init()
	return s
}

func (s *TaskStorage[F]) init() {
	s.header.id = TaskID(nextTaskID.Add(1))
	s.header.slot = s
}

// Spawn claims the slot and builds the future in it. newFuture is only called
// when the claim succeeds. A failed claim returns a poisoned token that makes
// Spawner.Spawn report ErrBusy.
//
// A successful token must be passed to a Spawner; otherwise the slot stays
// claimed forever.
func (s *TaskStorage[F]) Spawn(newFuture func() F) SpawnToken {
	if !s.header.state.claim() {
		return SpawnToken{}
	}
	s.future = newFuture()
	return SpawnToken{task: &s.header}
}

// Ref returns a reference to the slot's header.
func (s *TaskStorage[F]) Ref() TaskRef {
	return TaskRef{header: &s.header}
}

func (s *TaskStorage[F]) poll(t *TaskHeader) PollResult {
	res := s.future.Poll(wakerFor(t))
	if res == Ready {
		var zero F
		s.future = zero
	}
	return res
}

// TaskPool is a fixed number of task slots sharing one future type. The slot
// array is allocated once, when the pool is created.
type TaskPool[F Future] struct {
	slots []TaskStorage[F]
}

// NewTaskPool creates a pool of n unspawned slots.
func NewTaskPool[F Future](n int) *TaskPool[F] {
	if n <= 0 {
		panic(fmt.Sprintf("executor: task pool size must be positive, got %d", n))
	}
	p := &TaskPool[F]{slots: make([]TaskStorage[F], n)}
	for i := range p.slots {
		p.slots[i].init()
	}
	return p
}

// Spawn claims the first free slot. See TaskStorage.Spawn.
func (p *TaskPool[F]) Spawn(newFuture func() F) SpawnToken {
	for i := range p.slots {
		if tok := p.slots[i].Spawn(newFuture); tok.task != nil {
			return tok
		}
	}
	return SpawnToken{}
}

// Cap returns the number of slots.
func (p *TaskPool[F]) Cap() int {
	return len(p.slots)
}

// Live returns the number of claimed slots.
func (p *TaskPool[F]) Live() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].header.state.queueState() != Free {
			n++
		}
	}
	return n
}

// SpawnToken carries a claimed, initialised task to a Spawner.
type SpawnToken struct {
	task *TaskHeader
}

// Failed reports whether the token is poisoned because no slot was free.
func (t SpawnToken) Failed() bool {
	return t.task == nil
}

// Spawner places tasks on one executor. It should be used from the
// executor's own context; use SendSpawner from other goroutines.
type Spawner struct {
	executor *Executor
}

// ForCurrentExecutor returns a spawner for the executor running the task that
// owns w. It panics if the task is not attached to an executor.
func ForCurrentExecutor(w Waker) Spawner {
	if w.task == nil {
		panic("executor: spawner requested from an empty waker")
	}
	ex := w.task.executor.Load()
	if ex == nil {
		panic(fmt.Sprintf("executor: task %d is not attached to an executor", w.task.id))
	}
	return Spawner{executor: ex}
}

// Executor returns the executor the spawner targets.
func (s Spawner) Executor() *Executor {
	return s.executor
}

// Spawn queues the task held by tok. A poisoned token yields ErrBusy.
func (s Spawner) Spawn(tok SpawnToken) (TaskRef, error) {
	return spawnOn(s.executor, tok)
}

// MustSpawn is like Spawn but panics when the pool is busy.
func (s Spawner) MustSpawn(tok SpawnToken) TaskRef {
	ref, err := spawnOn(s.executor, tok)
	if err != nil {
		panic(err)
	}
	return ref
}

// MakeSend converts the spawner into one usable from any goroutine.
func (s Spawner) MakeSend() SendSpawner {
	return SendSpawner{executor: s.executor}
}

// SendSpawner places tasks on an executor from a different core or interrupt
// context than the one running it.
type SendSpawner struct {
	executor *Executor
}

// Spawn queues the task held by tok. A poisoned token yields ErrBusy.
func (s SendSpawner) Spawn(tok SpawnToken) (TaskRef, error) {
	return spawnOn(s.executor, tok)
}

// Executor returns the executor the spawner targets.
func (s SendSpawner) Executor() *Executor {
	return s.executor
}

func spawnOn(ex *Executor, tok SpawnToken) (TaskRef, error) {
	if ex == nil {
		panic("executor: spawn on a zero Spawner")
	}
	if tok.task == nil {
		ex.stats.busy.Add(1)
		return TaskRef{}, fmt.Errorf("spawn on executor %d: %w", ex.id, ErrBusy)
	}
	ex.spawn(tok.task)
	return TaskRef{header: tok.task}, nil
}
