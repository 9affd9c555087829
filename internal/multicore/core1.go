package multicore

import (
	"context"

	"ember/internal/chip"
)

// core1Main wraps entry with the FIFO service core 1 needs before any user
// code runs.
func (c *Controller) core1Main(entry chip.Entry) chip.Entry {
	return func(ctx context.Context) {
		core := c.chip.Core1
		core.NVIC.SetExclusiveHandler(core.FIFOIrq, func() { c.serviceFIFO(ctx) })
		core.NVIC.Enable(core.FIFOIrq)
		c.running.Store(true)
		entry(ctx)
	}
}

// serviceFIFO is core 1's FIFO interrupt handler. It runs even while core 1
// is halted, since it is what halts and releases it.
func (c *Controller) serviceFIFO(ctx context.Context) {
	core := c.chip.Core1
	for {
		word, ok := core.RX.TryRead()
		if !ok {
			return
		}
		if word == PauseToken {
			c.parkCore1(ctx)
		}
		// Every other word is a doorbell.
		core.Events.Sev()
	}
}

// parkCore1 halts core 1 until RESUME arrives. Words other than RESUME that
// arrive while parked are doorbells; the caller SEVs once the core runs again.
func (c *Controller) parkCore1(ctx context.Context) {
	core := c.chip.Core1
	core.Halt()
	if err := core.TX.Write(ctx, PauseToken); err != nil {
		core.Release()
		return
	}
	for {
		word, err := core.RX.Read(ctx)
		if err != nil {
			core.Release()
			return
		}
		if word == ResumeToken {
			break
		}
	}
	core.Release()
	_ = core.TX.Write(ctx, ResumeToken)
}
