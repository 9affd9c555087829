package firmware

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"ember/internal/executor"
	"ember/internal/trace"
)

// tickSource counts ticks for one consumer task. Unlike a Signal it never
// collapses two ticks into one.
type tickSource struct {
	n     atomic.Int64
	waker executor.AtomicWaker
}

func (s *tickSource) tick() {
	s.n.Add(1)
	s.waker.Wake()
}

func (s *tickSource) take(w executor.Waker) int64 {
	s.waker.Register(w)
	return s.n.Swap(0)
}

// ticker drives the demo: every period it ticks the blink and counter tasks.
type ticker struct {
	f    *Firmware
	wait executor.Future
}

func (t *ticker) Poll(w executor.Waker) executor.PollResult {
	f := t.f
	for {
		if t.wait == nil {
			t.wait = executor.After(f.opts.Period)
		}
		if t.wait.Poll(w) == executor.Pending {
			return executor.Pending
		}
		t.wait = nil

		n := f.ticks.Add(1)
		f.blink.tick()
		f.step.tick()
		if n == int64(f.opts.Ticks)/2 {
			f.inspectCore1()
		}
		if n >= int64(f.opts.Ticks) {
			f.finish("ticker")
			return executor.Ready
		}
	}
}

// inspectCore1 parks core 1 and reads its counter while it cannot move.
func (f *Firmware) inspectCore1() {
	if err := f.ctl.PauseCore1(f.ctx); err != nil {
		f.log.Warn("pause core 1 failed", "err", err)
		return
	}
	before := f.counted.Load()
	for i := 0; i < 100; i++ {
		runtime.Gosched()
	}
	after := f.counted.Load()
	f.countAtPause.Store(before)
	f.pauseHeld.Store(before == after)
	if err := f.ctl.ResumeCore1(f.ctx); err != nil {
		f.log.Warn("resume core 1 failed", "err", err)
		return
	}
	f.log.Debug("inspected core 1", "count", before, "held", before == after)
}

// blinker runs on the interrupt executor and toggles the LED once per tick.
func (f *Firmware) blinker() executor.Future {
	led := false
	return executor.FutureFunc(func(w executor.Waker) executor.PollResult {
		n := f.blink.take(w)
		if n == 0 {
			return executor.Pending
		}
		led = led != (n%2 == 1)
		if f.blinks.Add(n) >= int64(f.opts.Ticks) {
			f.log.Debug("blink done", "led", led)
			f.finish("blink")
			return executor.Ready
		}
		return executor.Pending
	})
}

// counter runs on core 1 and counts ticks sent from core 0.
func (f *Firmware) counter() executor.Future {
	return executor.FutureFunc(func(w executor.Waker) executor.PollResult {
		n := f.step.take(w)
		if n == 0 {
			return executor.Pending
		}
		if f.counted.Add(n) >= int64(f.opts.Ticks) {
			f.finish("counter")
			return executor.Ready
		}
		return executor.Pending
	})
}

// worker yields once and finishes.
func (f *Firmware) worker() executor.Future {
	y := executor.YieldNow()
	return executor.FutureFunc(func(w executor.Waker) executor.PollResult {
		if y.Poll(w) == executor.Pending {
			return executor.Pending
		}
		f.workers.Add(1)
		return executor.Ready
	})
}

func (f *Firmware) spawnCore0(sp executor.Spawner) {
	tick := executor.NewTaskStorage[*ticker]()
	sp.MustSpawn(tick.Spawn(func() *ticker { return &ticker{f: f} }))

	// One spawn more than the pool holds: the last one is turned away.
	pool := executor.NewTaskPool[executor.Future](f.opts.PoolSize)
	for i := 0; i <= f.opts.PoolSize; i++ {
		_, err := sp.Spawn(pool.Spawn(f.worker))
		switch {
		case errors.Is(err, executor.ErrBusy):
			f.rejected.Add(1)
			f.log.Warn("worker rejected", "worker", i, "err", err)
			trace.Point(f.tracer, trace.ScopeTask, 0, "spawn_rejected", fmt.Sprintf("worker=%d", i))
		case err != nil:
			panic(err)
		}
	}
}

func (f *Firmware) spawnCore1(sp executor.Spawner) {
	count := executor.NewTaskStorage[executor.Future]()
	sp.MustSpawn(count.Spawn(f.counter))
}
