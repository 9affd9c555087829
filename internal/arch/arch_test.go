package arch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"ember/internal/chip"
	"ember/internal/executor"
)

func newChip(t *testing.T) (*chip.Chip, context.Context) {
	t.Helper()
	ch, err := chip.New(chip.DefaultConfig())
	if err != nil {
		t.Fatalf("new chip: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ch, ctx
}

// signalled completes after sig has been raised n times.
func signalled(sig *executor.Signal, n int, polls *atomic.Int64) executor.Future {
	seen := 0
	return executor.FutureFunc(func(w executor.Waker) executor.PollResult {
		polls.Add(1)
		for sig.Take(w) {
			seen++
		}
		if seen >= n {
			return executor.Ready
		}
		return executor.Pending
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestThreadExecutorWakesFromOtherGoroutine(t *testing.T) {
	ch, ctx := newChip(t)
	te := NewThreadExecutor(ch.Core0, 1)

	var sig executor.Signal
	var polls atomic.Int64
	pool := executor.NewTaskPool[executor.Future](1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- te.Run(runCtx, func(sp executor.Spawner) {
			sp.MustSpawn(pool.Spawn(func() executor.Future { return signalled(&sig, 3, &polls) }))
		})
	}()

	for i := 0; i < 3; i++ {
		waitFor(t, "task to park", func() bool { return polls.Load() == int64(i+1) })
		sig.Raise()
	}
	waitFor(t, "task to finish", func() bool { return pool.Live() == 0 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := te.Executor().Stats(); st.Ended != 1 {
		t.Fatalf("ended: want 1, got %d", st.Ended)
	}
}

func TestInterruptExecutorPollsFromHandler(t *testing.T) {
	ch, _ := newChip(t)
	const swi chip.Interrupt = 20
	ie := NewInterruptExecutor(ch.Core0, 2)
	sp := ie.Start(swi)
	if !ch.Core0.NVIC.IsEnabled(swi) {
		t.Fatalf("start did not unmask the interrupt")
	}

	var sig executor.Signal
	var polls atomic.Int64
	pool := executor.NewTaskPool[executor.Future](1)
	if _, err := sp.Spawn(pool.Spawn(func() executor.Future { return signalled(&sig, 1, &polls) })); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, "first poll", func() bool { return polls.Load() == 1 })
	sig.Raise()
	waitFor(t, "task to finish", func() bool { return pool.Live() == 0 })
	if ch.Core0.NVIC.Fired(swi) < 2 {
		t.Fatalf("handler runs: want >= 2, got %d", ch.Core0.NVIC.Fired(swi))
	}
}

func TestInterruptExecutorDoubleStartPanics(t *testing.T) {
	ch, _ := newChip(t)
	ie := NewInterruptExecutor(ch.Core0, 7)
	ie.Start(21)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic on second start")
		}
		if msg := fmt.Sprint(r); msg != "interrupt executor 7: already started" {
			t.Fatalf("panic mismatch: %q", msg)
		}
	}()
	ie.Start(22)
}

func TestOnInterruptBeforeStartPanics(t *testing.T) {
	ch, _ := newChip(t)
	ie := NewInterruptExecutor(ch.Core0, 8)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when the interrupt fires before start")
		}
	}()
	ie.OnInterrupt()
}

func TestPlatformDispatch(t *testing.T) {
	ch, err := chip.New(chip.DefaultConfig())
	if err != nil {
		t.Fatalf("new chip: %v", err)
	}
	p := NewPlatform(ch.Core1)
	p.Pend(ThreadPender)
	if !ch.Core1.Events.Pending() {
		t.Fatalf("thread pender did not SEV")
	}
	p.Pend(9)
	if !ch.Core1.NVIC.IsPending(9) {
		t.Fatalf("interrupt pender did not pend line 9")
	}
	if ch.Core0.Events.Pending() || ch.Core0.NVIC.IsPending(9) {
		t.Fatalf("pender touched the other core")
	}
}
