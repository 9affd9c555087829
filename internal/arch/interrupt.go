package arch

import (
	"fmt"
	"sync/atomic"

	"ember/internal/chip"
	"ember/internal/executor"
)

// InterruptExecutor runs an executor from an interrupt handler. Tasks on it
// preempt thread-mode tasks on the same core.
type InterruptExecutor struct {
	core    *chip.Core
	id      uint32
	opts    []executor.Option
	started atomic.Bool
	exec    atomic.Pointer[executor.Executor]
}

// NewInterruptExecutor creates an unstarted interrupt executor on core.
func NewInterruptExecutor(core *chip.Core, id uint32, opts ...executor.Option) *InterruptExecutor {
	return &InterruptExecutor{core: core, id: id, opts: opts}
}

// Start binds the executor to irq, installs its handler, and unmasks the
// line. It must be called exactly once.
func (ie *InterruptExecutor) Start(irq chip.Interrupt) executor.SendSpawner {
	if !ie.started.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("interrupt executor %d: already started", ie.id))
	}
	ex := executor.New(ie.id, NewPlatform(ie.core), uintptr(irq), ie.opts...)
	ie.exec.Store(ex)
	ie.core.NVIC.SetHandler(irq, ie.OnInterrupt)
	ie.core.NVIC.Enable(irq)
	return ex.Spawner().MakeSend()
}

// OnInterrupt polls the executor. It must only run from the executor's own
// interrupt line, after Start.
func (ie *InterruptExecutor) OnInterrupt() {
	ex := ie.exec.Load()
	if ex == nil {
		panic(fmt.Sprintf("interrupt executor %d: interrupt taken before start", ie.id))
	}
	ex.Poll()
}

// Spawner returns a spawner for use from the executor's own interrupt
// context. Other contexts must use the SendSpawner returned by Start.
func (ie *InterruptExecutor) Spawner() executor.Spawner {
	ex := ie.exec.Load()
	if ex == nil {
		panic(fmt.Sprintf("interrupt executor %d: spawner requested before start", ie.id))
	}
	return ex.Spawner()
}

// Executor returns the underlying executor, or nil before Start.
func (ie *InterruptExecutor) Executor() *executor.Executor {
	return ie.exec.Load()
}
