package arch

import (
	"context"

	"ember/internal/chip"
	"ember/internal/executor"
)

// ThreadExecutor runs an executor in a core's thread mode: it polls, then
// sleeps in WFE until the next pend.
type ThreadExecutor struct {
	core *chip.Core
	exec *executor.Executor
}

// NewThreadExecutor creates a thread-mode executor on core.
func NewThreadExecutor(core *chip.Core, id uint32, opts ...executor.Option) *ThreadExecutor {
	return NewThreadExecutorWithPender(core, id, NewPlatform(core), opts...)
}

// NewThreadExecutorWithPender is like NewThreadExecutor but lets the caller
// supply the pender, e.g. a cross-core doorbell. The pender is called with
// ThreadPender and must end up setting the core's event register.
func NewThreadExecutorWithPender(core *chip.Core, id uint32, pender executor.Pender, opts ...executor.Option) *ThreadExecutor {
	return &ThreadExecutor{
		core: core,
		exec: executor.New(id, pender, ThreadPender, opts...),
	}
}

// Executor returns the underlying executor.
func (t *ThreadExecutor) Executor() *executor.Executor {
	return t.exec
}

// Spawner returns a spawner for the executor.
func (t *ThreadExecutor) Spawner() executor.Spawner {
	return t.exec.Spawner()
}

// Run calls init with a spawner, then polls and sleeps until ctx is done.
// On hardware this never returns.
func (t *ThreadExecutor) Run(ctx context.Context, init func(executor.Spawner)) error {
	if init != nil {
		init(t.exec.Spawner())
	}
	for {
		t.core.Enter()
		t.exec.Poll()
		t.core.Leave()
		if err := t.core.Events.Wfe(ctx); err != nil {
			return nil
		}
	}
}
