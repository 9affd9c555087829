// Package firmware is the demo program that `ember run` boots on the
// simulated chip. Core 0 runs a thread-mode executor with a ticker and a pool
// of short-lived workers, and an interrupt-mode executor with a blink task.
// Core 1 is started through the boot handshake and runs a counter task that
// the ticker wakes across cores. Halfway through, core 0 pauses core 1 to
// read its counter.
package firmware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ember/internal/arch"
	"ember/internal/chip"
	"ember/internal/executor"
	"ember/internal/logging"
	"ember/internal/multicore"
	"ember/internal/observ"
	"ember/internal/trace"
)

// Executor ids as they appear in traces.
const (
	ThreadExecutorID    uint32 = 0
	InterruptExecutorID uint32 = 1
	Core1ExecutorID     uint32 = 2
)

const (
	core1StackWords = 1024
	checkRingSize   = 1 << 16
)

// Options configure a run.
type Options struct {
	Chip        chip.Config
	PoolSize    int
	SWI         chip.Interrupt
	BootRetries int
	EchoTimeout time.Duration
	Ticks       int
	Period      time.Duration
	// DropEchoes makes core 1's boot ROM swallow that many echoes.
	DropEchoes int
	// Check replays the trace through the state checker after the run.
	Check  bool
	Logger *slog.Logger
	Tracer trace.Tracer
	Timer  *observ.Timer
}

// DefaultOptions returns the options `ember run` uses without a config file.
func DefaultOptions() Options {
	return Options{
		Chip:        chip.DefaultConfig(),
		PoolSize:    4,
		SWI:         26,
		BootRetries: multicore.DefaultBootRetries,
		EchoTimeout: multicore.DefaultEchoTimeout,
		Ticks:       20,
		Period:      10 * time.Millisecond,
	}
}

// ExecutorStats names one executor and its counters.
type ExecutorStats struct {
	Name  string         `json:"name"`
	Core  int            `json:"core"`
	Stats executor.Stats `json:"stats"`
}

// Report summarizes a run.
type Report struct {
	BootRoundTrips int             `json:"boot_round_trips"`
	Ticks          int64           `json:"ticks"`
	Blinks         int64           `json:"blinks"`
	Counted        int64           `json:"counted"`
	CountAtPause   int64           `json:"count_at_pause"`
	PauseHeld      bool            `json:"pause_held"`
	Workers        int64           `json:"workers"`
	Rejected       int64           `json:"rejected"`
	Complete       bool            `json:"complete"`
	CheckedEvents  int             `json:"checked_events,omitempty"`
	Executors      []ExecutorStats `json:"executors"`
	Timings        observ.Report   `json:"timings"`
}

// Firmware is one boot of the demo program.
type Firmware struct {
	opts   Options
	log    *slog.Logger
	tracer trace.Tracer
	check  *trace.RingTracer

	chip   *chip.Chip
	ctl    *multicore.Controller
	thread *arch.ThreadExecutor
	irq    *arch.InterruptExecutor
	core1  *arch.ThreadExecutor

	ctx   context.Context
	blink tickSource
	step  tickSource

	ticks, blinks, counted atomic.Int64
	countAtPause           atomic.Int64
	pauseHeld              atomic.Bool
	workers, rejected      atomic.Int64

	left atomic.Int32
	done chan struct{}
}

// New builds the chip and the executors. Nothing runs until Run.
func New(opts Options) (*Firmware, error) {
	if opts.PoolSize < 1 {
		return nil, fmt.Errorf("firmware: pool size must be positive, got %d", opts.PoolSize)
	}
	if opts.Ticks < 2 {
		return nil, fmt.Errorf("firmware: need at least 2 ticks, got %d", opts.Ticks)
	}
	if opts.Period <= 0 {
		return nil, fmt.Errorf("firmware: tick period must be positive, got %s", opts.Period)
	}
	ch, err := chip.New(opts.Chip)
	if err != nil {
		return nil, err
	}
	if int(opts.SWI) >= opts.Chip.IRQLines || opts.SWI == chip.IrqSIOProc0 || opts.SWI == chip.IrqSIOProc1 {
		return nil, fmt.Errorf("firmware: interrupt %d cannot host an executor", opts.SWI)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	if opts.Timer == nil {
		opts.Timer = observ.NewTimer()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	var check *trace.RingTracer
	if opts.Check {
		check = trace.NewRingTracer(checkRingSize, trace.LevelTask)
		if tracer.Enabled() {
			level := tracer.Level()
			if level < trace.LevelTask {
				level = trace.LevelTask
			}
			tracer = trace.NewMultiTracer(level, tracer, check)
		} else {
			tracer = check
		}
	}

	core0Opts := []executor.Option{
		executor.WithHooks(trace.NewHooks(tracer, 0)),
		executor.WithLogger(log),
	}
	core1Opts := []executor.Option{
		executor.WithHooks(trace.NewHooks(tracer, 1)),
		executor.WithLogger(log),
	}
	ctl := multicore.New(ch,
		multicore.WithBootRetries(opts.BootRetries),
		multicore.WithEchoTimeout(opts.EchoTimeout),
		multicore.WithLogger(log),
		multicore.WithTracer(tracer),
	)
	f := &Firmware{
		opts:   opts,
		log:    log.With("component", "firmware"),
		tracer: tracer,
		check:  check,
		chip:   ch,
		ctl:    ctl,
		thread: arch.NewThreadExecutor(ch.Core0, ThreadExecutorID, core0Opts...),
		irq:    arch.NewInterruptExecutor(ch.Core0, InterruptExecutorID, core0Opts...),
		core1:  ctl.Core1Executor(Core1ExecutorID, core1Opts...),
		done:   make(chan struct{}),
	}
	f.left.Store(3)
	return f, nil
}

// Chip returns the simulated chip.
func (f *Firmware) Chip() *chip.Chip {
	return f.chip
}

// Executors returns the current counters of every executor. It is safe to
// call while Run is in progress.
func (f *Firmware) Executors() []ExecutorStats {
	var irq executor.Stats
	if ex := f.irq.Executor(); ex != nil {
		irq = ex.Stats()
	}
	return []ExecutorStats{
		{Name: "thread", Core: 0, Stats: f.thread.Executor().Stats()},
		{Name: "interrupt", Core: 0, Stats: irq},
		{Name: "core1", Core: 1, Stats: f.core1.Executor().Stats()},
	}
}

// Run boots core 1, starts every executor and waits until all demo tasks
// have finished or ctx is done. A run cut short by ctx is not an error
// unless Check is set.
func (f *Firmware) Run(ctx context.Context) (Report, error) {
	timer := f.opts.Timer
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.ctx = ctx

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.chip.Run(gctx) })

	if f.opts.DropEchoes > 0 {
		f.chip.BootROM.DropEchoes(f.opts.DropEchoes)
	}
	bootPhase := timer.Begin("boot core1")
	trips, err := f.ctl.SpawnCore1(gctx, multicore.NewStack(core1StackWords), func(ctx context.Context) {
		_ = f.core1.Run(ctx, f.spawnCore1)
	})
	timer.End(bootPhase, fmt.Sprintf("%d round trips", trips))
	if err != nil {
		cancel()
		_ = g.Wait()
		return Report{}, err
	}

	runPhase := timer.Begin("run")
	isp := f.irq.Start(f.opts.SWI)
	blinkTask := executor.NewTaskStorage[executor.Future]()
	if _, err := isp.Spawn(blinkTask.Spawn(f.blinker)); err != nil {
		cancel()
		_ = g.Wait()
		return Report{}, fmt.Errorf("spawn blink task: %w", err)
	}
	g.Go(func() error { return f.thread.Run(gctx, f.spawnCore0) })

	complete := false
	select {
	case <-f.done:
		complete = true
	case <-ctx.Done():
	}
	timer.End(runPhase, "")
	cancel()
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{
		BootRoundTrips: trips,
		Ticks:          f.ticks.Load(),
		Blinks:         f.blinks.Load(),
		Counted:        f.counted.Load(),
		CountAtPause:   f.countAtPause.Load(),
		PauseHeld:      f.pauseHeld.Load(),
		Workers:        f.workers.Load(),
		Rejected:       f.rejected.Load(),
		Complete:       complete,
		Executors:      f.Executors(),
		Timings:        timer.Report(),
	}
	f.log.Info("run finished", "complete", complete, "ticks", rep.Ticks, "blinks", rep.Blinks,
		"counted", rep.Counted, "rejected", rep.Rejected)
	if !f.opts.Check {
		return rep, nil
	}
	checked, err := f.verify(rep)
	rep.CheckedEvents = checked
	return rep, err
}

// verify replays the trace and checks the run's invariants.
func (f *Firmware) verify(rep Report) (int, error) {
	var errs []error
	events := f.check.Snapshot()
	if len(events) == checkRingSize {
		errs = append(errs, errors.New("check: trace ring overflowed, events were lost"))
	}
	checker := trace.NewStateChecker()
	if err := checker.CheckAll(events); err != nil {
		errs = append(errs, fmt.Errorf("check: %w", err))
	}

	want := int64(f.opts.Ticks)
	if !rep.Complete {
		errs = append(errs, errors.New("check: run stopped before every task finished"))
	}
	for name, got := range map[string]int64{"ticks": rep.Ticks, "blinks": rep.Blinks, "counted": rep.Counted} {
		if rep.Complete && got != want {
			errs = append(errs, fmt.Errorf("check: %s: want %d, got %d", name, want, got))
		}
	}
	if rep.Rejected != 1 {
		errs = append(errs, fmt.Errorf("check: pool of %d should reject exactly one spawn, rejected %d", f.opts.PoolSize, rep.Rejected))
	}
	if rep.Complete && rep.Workers != int64(f.opts.PoolSize) {
		errs = append(errs, fmt.Errorf("check: workers: want %d, got %d", f.opts.PoolSize, rep.Workers))
	}
	if rep.Complete && !rep.PauseHeld {
		errs = append(errs, errors.New("check: core 1 made progress while paused"))
	}
	return checker.Events(), errors.Join(errs...)
}

func (f *Firmware) finish(task string) {
	f.log.Debug("task finished", "task", task)
	if f.left.Add(-1) == 0 {
		close(f.done)
	}
}
