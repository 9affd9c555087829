package chip

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Interrupt is an interrupt line number.
type Interrupt uint16

// Handler is an interrupt service routine.
type Handler func()

type line struct {
	handler   atomic.Pointer[Handler]
	exclusive atomic.Bool
	enabled   atomic.Bool
	pending   atomic.Bool
	kick      chan struct{}
	fired     atomic.Uint64
}

// NVIC is a nested vectored interrupt controller for one core. Every line is
// served by its own goroutine, so handlers of different lines run
// concurrently while a single line never re-enters its own handler.
type NVIC struct {
	core  *Core
	lines []line
}

func newNVIC(core *Core, n int) *NVIC {
	v := &NVIC{core: core, lines: make([]line, n)}
	for i := range v.lines {
		v.lines[i].kick = make(chan struct{}, 1)
	}
	return v
}

// Lines returns the number of interrupt lines.
func (v *NVIC) Lines() int {
	return len(v.lines)
}

func (v *NVIC) line(irq Interrupt) *line {
	if int(irq) >= len(v.lines) {
		panic(fmt.Sprintf("nvic: interrupt %d out of range (%d lines)", irq, len(v.lines)))
	}
	return &v.lines[irq]
}

// SetHandler installs the handler of a line. The handler runs while the core
// is executing, so a halted core does not service it. A line that is already
// pending and enabled fires once the handler is in place.
func (v *NVIC) SetHandler(irq Interrupt, h Handler) {
	l := v.line(irq)
	l.exclusive.Store(false)
	l.install(h)
}

// SetExclusiveHandler installs a handler that runs even while the core is
// halted. Only the handler that halts and releases the core should use it.
func (v *NVIC) SetExclusiveHandler(irq Interrupt, h Handler) {
	l := v.line(irq)
	l.exclusive.Store(true)
	l.install(h)
}

// Pend sets the pending bit of a line.
func (v *NVIC) Pend(irq Interrupt) {
	l := v.line(irq)
	l.pending.Store(true)
	if l.enabled.Load() {
		l.signal()
	}
}

// Enable unmasks a line. A line that was pended while masked fires now.
func (v *NVIC) Enable(irq Interrupt) {
	l := v.line(irq)
	l.enabled.Store(true)
	if l.pending.Load() {
		l.signal()
	}
}

// Disable masks a line.
func (v *NVIC) Disable(irq Interrupt) {
	v.line(irq).enabled.Store(false)
}

// IsEnabled reports whether a line is unmasked.
func (v *NVIC) IsEnabled(irq Interrupt) bool {
	return v.line(irq).enabled.Load()
}

// IsPending reports whether a line is pending.
func (v *NVIC) IsPending(irq Interrupt) bool {
	return v.line(irq).pending.Load()
}

// Fired returns how many times the handler of a line has run.
func (v *NVIC) Fired(irq Interrupt) uint64 {
	return v.line(irq).fired.Load()
}

// install stores h and fires a pend that arrived while the line had no
// handler.
func (l *line) install(h Handler) {
	l.handler.Store(&h)
	if l.enabled.Load() && l.pending.Load() {
		l.signal()
	}
}

func (l *line) signal() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run dispatches interrupts until ctx is cancelled.
func (v *NVIC) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range v.lines {
		l := &v.lines[i]
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-l.kick:
				}
				v.service(l)
			}
		})
	}
	return g.Wait()
}

func (v *NVIC) service(l *line) {
	// Without a handler the pend stays latched until one is installed.
	h := l.handler.Load()
	if h == nil || !l.enabled.Load() || !l.pending.Swap(false) {
		return
	}
	l.fired.Add(1)
	if l.exclusive.Load() {
		(*h)()
		return
	}
	v.core.Enter()
	defer v.core.Leave()
	(*h)()
}
