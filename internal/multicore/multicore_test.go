package multicore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ember/internal/chip"
	"ember/internal/executor"
)

func runChip(t *testing.T) (*chip.Chip, context.Context) {
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

func idle(context.Context) {}

func TestBootCleanRunTakesSixRoundTrips(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch)
	stack := NewStack(1024)

	trips, err := ctl.SpawnCore1(ctx, stack, idle)
	if err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	if trips != 6 {
		t.Fatalf("round trips: want 6, got %d", trips)
	}
	waitFor(t, "core 1 to start", ctl.Started)

	top, _ := stack.Top()
	if got := ch.BootROM.StackPointer.Load(); got != top {
		t.Fatalf("stack pointer: want %#x, got %#x", top, got)
	}
	if got := ch.BootROM.VectorTable.Load(); got != chip.VectorTableAddr {
		t.Fatalf("vector table: want %#x, got %#x", chip.VectorTableAddr, got)
	}
	if _, err := ctl.SpawnCore1(ctx, stack, idle); err == nil {
		t.Fatalf("second spawn succeeded")
	}
}

func TestBootRestartsAfterDroppedEcho(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch, WithEchoTimeout(20*time.Millisecond))
	ch.BootROM.DropEchoes(1)

	trips, err := ctl.SpawnCore1(ctx, NewStack(256), idle)
	if err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	// One lost word, then a full sequence from word 0.
	if trips != 7 {
		t.Fatalf("round trips: want 7, got %d", trips)
	}
	waitFor(t, "core 1 to start", ctl.Started)
}

func TestBootBudgetExceededPanics(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch, WithBootRetries(2), WithEchoTimeout(5*time.Millisecond))
	ch.BootROM.DropEchoes(1 << 20)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic when the retry budget runs out")
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, "after 2 restarts") {
			t.Fatalf("panic mismatch: %q", msg)
		}
	}()
	_, _ = ctl.SpawnCore1(ctx, NewStack(256), idle)
}

func TestBootUnpoweredCorePanicsInsteadOfHanging(t *testing.T) {
	ch, err := chip.New(chip.DefaultConfig())
	if err != nil {
		t.Fatalf("new chip: %v", err)
	}
	// Core 1 never runs, so its FIFO fills after FIFODepth words.
	ctl := New(ch, WithBootRetries(4), WithEchoTimeout(5*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic when core 1 never answers")
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, "after 4 restarts") {
			t.Fatalf("panic mismatch: %q", msg)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("handshake blocked for %v before giving up", elapsed)
		}
	}()
	_, _ = ctl.SpawnCore1(ctx, NewStack(256), idle)
}

func TestStackTop(t *testing.T) {
	top, err := NewStack(16).Top()
	if err != nil || top != chip.SRAMBase+64 {
		t.Fatalf("top: want %#x, got %#x (%v)", chip.SRAMBase+64, top, err)
	}
	if _, err := NewStack(0).Top(); err == nil {
		t.Fatalf("empty stack accepted")
	}
}

// counter counts raises of step and completes after limit of them.
func counter(step *executor.Signal, count *atomic.Int64, limit int64) executor.Future {
	return executor.FutureFunc(func(w executor.Waker) executor.PollResult {
		for step.Take(w) {
			if count.Add(1) == limit {
				return executor.Ready
			}
		}
		return executor.Pending
	})
}

func TestPauseResumeLosesNoTicks(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch)

	const limit = 30
	var (
		step  executor.Signal
		count atomic.Int64
	)
	pool := executor.NewTaskPool[executor.Future](1)
	te := ctl.Core1Executor(1)
	entry := func(ctx context.Context) {
		_ = te.Run(ctx, func(sp executor.Spawner) {
			sp.MustSpawn(pool.Spawn(func() executor.Future { return counter(&step, &count, limit) }))
		})
	}
	if _, err := ctl.SpawnCore1(ctx, NewStack(1024), entry); err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	waitFor(t, "core 1 to start", ctl.Started)

	for i := int64(1); i <= limit; i++ {
		if i%10 == 5 {
			if err := ctl.PauseCore1(ctx); err != nil {
				t.Fatalf("pause: %v", err)
			}
			step.Raise()
			time.Sleep(20 * time.Millisecond)
			if got := count.Load(); got != i-1 {
				t.Fatalf("core 1 ran while paused: count %d, want %d", got, i-1)
			}
			if err := ctl.ResumeCore1(ctx); err != nil {
				t.Fatalf("resume: %v", err)
			}
		} else {
			step.Raise()
		}
		waitFor(t, fmt.Sprintf("tick %d", i), func() bool { return count.Load() == i })
	}
	waitFor(t, "counter task to finish", func() bool { return pool.Live() == 0 })
	if ctl.Paused() {
		t.Fatalf("controller still reports core 1 paused")
	}
}

func TestPauseNestsAndResumeNeedsPause(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch)

	if err := ctl.PauseCore1(ctx); err != nil || ctl.Paused() {
		t.Fatalf("pause before start must be a no-op: err=%v paused=%v", err, ctl.Paused())
	}
	if _, err := ctl.SpawnCore1(ctx, NewStack(256), idle); err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	waitFor(t, "core 1 to start", ctl.Started)

	if err := ctl.ResumeCore1(ctx); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume without pause: want ErrNotPaused, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ctl.PauseCore1(ctx); err != nil {
			t.Fatalf("pause %d: %v", i, err)
		}
	}
	if err := ctl.ResumeCore1(ctx); err != nil || !ctl.Paused() {
		t.Fatalf("inner resume: err=%v paused=%v", err, ctl.Paused())
	}
	if err := ctl.ResumeCore1(ctx); err != nil || ctl.Paused() {
		t.Fatalf("outer resume: err=%v paused=%v", err, ctl.Paused())
	}
}

func TestDoorbellCoalescesWhenFull(t *testing.T) {
	ch, err := chip.New(chip.DefaultConfig())
	if err != nil {
		t.Fatalf("new chip: %v", err)
	}
	bell := New(ch).Doorbell()
	for i := 0; i < 5; i++ {
		bell.Pend(0)
	}
	rung, coalesced := bell.Counts()
	if rung != 2 || coalesced != 3 {
		t.Fatalf("counts: want 2 rung and 3 coalesced, got %d and %d", rung, coalesced)
	}
	if !ch.Core1.Events.Pending() {
		t.Fatalf("doorbell did not set core 1's event register")
	}
}

func TestWakeOnCore1SkipsFIFO(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch)
	bell := ctl.Doorbell()

	var (
		step  executor.Signal
		count atomic.Int64
	)
	pool := executor.NewTaskPool[executor.Future](2)
	te := ctl.Core1Executor(1)
	entry := func(ctx context.Context) {
		_ = te.Run(ctx, func(sp executor.Spawner) {
			sp.MustSpawn(pool.Spawn(func() executor.Future { return counter(&step, &count, 1) }))
			sp.MustSpawn(pool.Spawn(func() executor.Future {
				return executor.FutureFunc(func(executor.Waker) executor.PollResult {
					step.Raise()
					return executor.Ready
				})
			}))
		})
	}
	if _, err := ctl.SpawnCore1(ctx, NewStack(1024), entry); err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	waitFor(t, "both tasks to finish", func() bool { return pool.Live() == 0 })

	// Only the two spawns, made before the first poll, go through the FIFO.
	rung, coalesced := bell.Counts()
	if rung+coalesced != 2 {
		t.Fatalf("fifo pends: want 2, got %d rung and %d coalesced", rung, coalesced)
	}
	if bell.Local() != 1 {
		t.Fatalf("local wakes: want 1, got %d", bell.Local())
	}
}

func TestNotifyReportsBusyPeer(t *testing.T) {
	ch, ctx := runChip(t)
	ctl := New(ch)
	if err := ctl.Notify(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("notify before start: want ErrNotStarted, got %v", err)
	}
	if _, err := ctl.SpawnCore1(ctx, NewStack(256), idle); err != nil {
		t.Fatalf("spawn core 1: %v", err)
	}
	waitFor(t, "core 1 to start", ctl.Started)

	ch.Core1.NVIC.Disable(chip.IrqSIOProc1)
	for i := 0; i < ch.Core0.TX.Depth(); i++ {
		ch.Core0.TX.TryWrite(DoorbellToken)
	}
	if err := ctl.Notify(ctx); !errors.Is(err, ErrPeerBusy) {
		t.Fatalf("notify with a full fifo: want ErrPeerBusy, got %v", err)
	}

	ch.Core1.NVIC.Enable(chip.IrqSIOProc1)
	waitFor(t, "core 1 to drain its fifo", func() bool { return !ch.Core1.RX.HasData() })
	if err := ctl.Notify(ctx); err != nil {
		t.Fatalf("notify after drain: %v", err)
	}
}
