package multicore

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"ember/internal/chip"
	"ember/internal/trace"
)

// Doorbell is the pender of executors on core 1. A pend writes DoorbellToken
// into the FIFO toward core 1. When the FIFO is full a word is already in
// flight and core 1 SEVs after every word it takes, so the pend is dropped.
//
// A pend raised while core 1's executor is polling skips the FIFO: core 1
// sees its own SEV before it waits again.
type Doorbell struct {
	fifo   *chip.FIFO
	events *chip.EventRegister
	tracer trace.Tracer
	local  atomic.Pointer[func() bool]

	rung      atomic.Uint64
	coalesced atomic.Uint64
	sev       atomic.Uint64
}

// Pend rings the doorbell. The context is ignored.
func (d *Doorbell) Pend(uintptr) {
	if polling := d.local.Load(); polling != nil && (*polling)() {
		d.events.Sev()
		d.sev.Add(1)
		return
	}
	if d.fifo.TryWrite(DoorbellToken) {
		d.rung.Add(1)
		return
	}
	n := d.coalesced.Add(1)
	trace.Point(d.tracer, trace.ScopeCore, 1, "doorbell_coalesced", fmt.Sprintf("#%d", n))
}

// watch routes pends to a plain SEV while polling reports true.
func (d *Doorbell) watch(polling func() bool) {
	d.local.Store(&polling)
}

// Counts returns how many pends were written and how many were coalesced
// into a word already in flight.
func (d *Doorbell) Counts() (rung, coalesced uint64) {
	return d.rung.Load(), d.coalesced.Load()
}

// Local returns how many pends were served by a SEV on core 1 without
// touching the FIFO.
func (d *Doorbell) Local() uint64 {
	return d.sev.Load()
}

// Notify rings the doorbell and insists on getting a word into the FIFO. It
// gives up with ErrPeerBusy when core 1 does not drain the FIFO within the
// retry budget.
func (c *Controller) Notify(ctx context.Context) error {
	if !c.running.Load() {
		return fmt.Errorf("notify: %w", ErrNotStarted)
	}
	for try := 0; try < c.opts.NotifyTries; try++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.bell.fifo.TryWrite(DoorbellToken) {
			c.bell.rung.Add(1)
			return nil
		}
		runtime.Gosched()
	}
	trace.Point(c.opts.Tracer, trace.ScopeCore, 0, "notify_peer_busy", fmt.Sprintf("tries=%d", c.opts.NotifyTries))
	return fmt.Errorf("notify after %d tries: %w", c.opts.NotifyTries, ErrPeerBusy)
}
